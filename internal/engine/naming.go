package engine

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// NameInfo carries the process details a default dump name is built from.
type NameInfo struct {
	ProcessName string
	PID         int
	ThreadName  string
	TID         int
	Time        time.Time
}

// DefaultFilename builds "core.<comm>_<pid>_<threadcomm>_<tid>_<unix>" from
// the components selected by flags, joined onto dir when it is set. With no
// flags at all, Core|TID is used.
func DefaultFilename(dir string, flags ContentFlag, info NameInfo) string {
	if flags&FlagAll == 0 {
		flags = FlagCore | FlagTID
	}

	var b strings.Builder
	if flags.Has(FlagCore) {
		b.WriteString("core.")
	}
	if flags.Has(FlagProcessName) {
		b.WriteString(sanitizeName(info.ProcessName))
	}
	if flags.Has(FlagPID) {
		b.WriteString("_")
		b.WriteString(strconv.Itoa(info.PID))
	}
	if flags.Has(FlagThreadName) {
		b.WriteString("_")
		b.WriteString(sanitizeName(info.ThreadName))
	}
	if flags.Has(FlagTID) {
		b.WriteString("_")
		b.WriteString(strconv.Itoa(info.TID))
	}
	if flags.Has(FlagTimestamp) {
		b.WriteString("_")
		b.WriteString(strconv.FormatInt(info.Time.Unix(), 10))
	}

	if dir == "" {
		return b.String()
	}
	return filepath.Join(dir, b.String())
}

// ResolvePath returns where a capture of filename lands. Empty names get the
// default name; relative names are placed under dir.
func ResolvePath(dir, filename string, flags ContentFlag, info NameInfo) string {
	if filename == "" {
		return DefaultFilename(dir, flags, info)
	}
	if dir == "" || filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(dir, filename)
}

// CurrentNameInfo reads names for the current process from /proc.
func CurrentNameInfo(tid int) NameInfo {
	pid := os.Getpid()
	return NameInfo{
		ProcessName: readComm("/proc/self/comm"),
		PID:         pid,
		ThreadName:  readComm(filepath.Join("/proc/self/task", strconv.Itoa(tid), "comm")),
		TID:         tid,
		Time:        time.Now(),
	}
}

func readComm(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

// sanitizeName keeps comm values usable as a path component.
func sanitizeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == ' ' || r == 0 {
			return '-'
		}
		return r
	}, s)
}
