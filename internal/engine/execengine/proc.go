package execengine

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/opencore/internal/engine"
	"github.com/Iron-Ham/opencore/internal/logging"
)

// coredumpFilterPath is the kernel's per-process mapping filter.
var coredumpFilterPath = "/proc/self/coredump_filter"

// coredump_filter bits, see core(5).
const (
	dumpAnonPrivate  = 1 << 0
	dumpAnonShared   = 1 << 1
	dumpFilePrivate  = 1 << 2
	dumpFileShared   = 1 << 3
	dumpELFHeaders   = 1 << 4
	dumpHugePrivate  = 1 << 5
	dumpHugeShared   = 1 << 6
	dumpAllSupported = dumpAnonPrivate | dumpAnonShared | dumpFilePrivate | dumpFileShared |
		dumpELFHeaders | dumpHugePrivate | dumpHugeShared
)

// filterBits maps VMA filters onto coredump_filter. Filters the kernel
// cannot express are ignored.
func filterBits(f engine.VMAFilter) uint64 {
	if f.Has(engine.FilterMinidump) {
		return dumpAnonPrivate | dumpELFHeaders
	}
	bits := uint64(dumpAllSupported)
	if f.Has(engine.FilterFile) {
		bits &^= dumpFilePrivate | dumpFileShared
	}
	if f.Has(engine.FilterShared) {
		bits &^= dumpAnonShared | dumpFileShared | dumpHugeShared
	}
	return bits
}

// applyFilter writes the filter for f and returns a func restoring the
// previous value. Failures are logged and leave the filter untouched.
func applyFilter(f engine.VMAFilter, logger *logging.Logger) func() {
	prev, err := os.ReadFile(coredumpFilterPath)
	if err != nil {
		logger.Debug("coredump filter unavailable", "error", err.Error())
		return func() {}
	}

	want := fmt.Sprintf("%x", filterBits(f))
	if err := os.WriteFile(coredumpFilterPath, []byte(want), 0); err != nil {
		logger.Debug("failed to set coredump filter", "error", err.Error())
		return func() {}
	}
	return func() {
		old := strings.TrimSpace(string(prev))
		if _, err := strconv.ParseUint(old, 16, 64); err != nil {
			return
		}
		if err := os.WriteFile(coredumpFilterPath, []byte(old), 0); err != nil {
			logger.Debug("failed to restore coredump filter", "error", err.Error())
		}
	}
}

// preparePermissions makes the process dumpable and lets any process trace
// it, returning a func restoring the previous state.
func preparePermissions(logger *logging.Logger) func() {
	wasDumpable, err := unix.PrctlRetInt(unix.PR_GET_DUMPABLE, 0, 0, 0, 0)
	if err != nil {
		logger.Debug("PR_GET_DUMPABLE failed", "error", err.Error())
		wasDumpable = -1
	}
	if wasDumpable == 0 {
		if err := unix.Prctl(unix.PR_SET_DUMPABLE, 1, 0, 0, 0); err != nil {
			logger.Warn("PR_SET_DUMPABLE failed", "error", err.Error())
		}
	}

	// ^uintptr(0) is PR_SET_PTRACER_ANY. Without Yama the call fails harmlessly.
	ptracerSet := unix.Prctl(unix.PR_SET_PTRACER, ^uintptr(0), 0, 0, 0) == nil

	return func() {
		if ptracerSet {
			_ = unix.Prctl(unix.PR_SET_PTRACER, 0, 0, 0, 0)
		}
		if wasDumpable == 0 {
			_ = unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0)
		}
	}
}
