package engine

import (
	"fmt"
	"strconv"
	"strings"
)

// ContentFlag selects what goes into a dump and its default file name.
type ContentFlag uint32

const (
	// FlagCore is the base "core" component of the file name.
	FlagCore ContentFlag = 1 << iota
	FlagProcessName
	FlagPID
	FlagThreadName
	FlagTID
	FlagTimestamp
)

// FlagAll is every content flag.
const FlagAll = FlagCore | FlagProcessName | FlagPID | FlagThreadName | FlagTID | FlagTimestamp

// DefaultContentFlags is what a freshly loaded engine uses.
const DefaultContentFlags = FlagCore | FlagPID | FlagProcessName | FlagTimestamp

var contentFlagNames = []bitName[ContentFlag]{
	{FlagCore, "core"},
	{FlagProcessName, "process_name"},
	{FlagPID, "pid"},
	{FlagThreadName, "thread_name"},
	{FlagTID, "tid"},
	{FlagTimestamp, "timestamp"},
}

// Has reports whether all bits of f are set.
func (c ContentFlag) Has(f ContentFlag) bool { return c&f == f }

func (c ContentFlag) String() string { return formatBits(uint64(c), contentFlagNames) }

// ParseContentFlags accepts names joined by "|" or ",", or a number.
func ParseContentFlags(s string) (ContentFlag, error) {
	v, err := parseBits(s, contentFlagNames)
	return ContentFlag(v), err
}

// VMAFilter excludes classes of memory mappings from a dump.
type VMAFilter uint32

const (
	FilterSpecial VMAFilter = 1 << iota
	FilterFile
	FilterShared
	FilterSanitizerShadow
	FilterNonReadable
	FilterSignalContext
	// FilterMinidump keeps only what a minimal dump needs.
	FilterMinidump
)

var vmaFilterNames = []bitName[VMAFilter]{
	{FilterSpecial, "special"},
	{FilterFile, "file"},
	{FilterShared, "shared"},
	{FilterSanitizerShadow, "sanitizer_shadow"},
	{FilterNonReadable, "non_readable"},
	{FilterSignalContext, "signal_context"},
	{FilterMinidump, "minidump"},
}

func (f VMAFilter) Has(x VMAFilter) bool { return f&x == x }

func (f VMAFilter) String() string { return formatBits(uint64(f), vmaFilterNames) }

// ParseVMAFilter accepts names joined by "|" or ",", or a number.
func ParseVMAFilter(s string) (VMAFilter, error) {
	v, err := parseBits(s, vmaFilterNames)
	return VMAFilter(v), err
}

// Mode selects how the engine snapshots memory.
type Mode uint32

const (
	ModePtrace Mode = 1 << iota
	ModeCopy
	ModeCopy2

	ModeMax     = ModeCopy2
	DefaultMode = ModeCopy2
)

// Clamp caps out-of-range modes at ModeMax.
func (m Mode) Clamp() Mode {
	if m > ModeMax {
		return ModeMax
	}
	return m
}

func (m Mode) String() string {
	switch m {
	case ModePtrace:
		return "ptrace"
	case ModeCopy:
		return "copy"
	case ModeCopy2:
		return "copy2"
	case 0:
		return "none"
	}
	return fmt.Sprintf("mode(%d)", uint32(m))
}

// ParseMode parses a mode name. Numbers are accepted and clamped.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ptrace":
		return ModePtrace, nil
	case "copy":
		return ModeCopy, nil
	case "copy2", "":
		return ModeCopy2, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("unknown capture mode %q", s)
	}
	return Mode(n).Clamp(), nil
}

type bitName[T ~uint32] struct {
	bit  T
	name string
}

func formatBits[T ~uint32](v uint64, names []bitName[T]) string {
	if v == 0 {
		return "none"
	}
	var parts []string
	for _, n := range names {
		if v&uint64(n.bit) != 0 {
			parts = append(parts, n.name)
			v &^= uint64(n.bit)
		}
	}
	if v != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", v))
	}
	return strings.Join(parts, "|")
}

func parseBits[T ~uint32](s string, names []bitName[T]) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return 0, nil
	}
	if n, err := strconv.ParseUint(s, 0, 32); err == nil {
		return uint32(n), nil
	}

	var out uint32
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == '|' || r == ',' }) {
		tok = strings.ToLower(strings.TrimSpace(tok))
		found := false
		for _, n := range names {
			if n.name == tok {
				out |= uint32(n.bit)
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown flag %q", tok)
		}
	}
	return out, nil
}
