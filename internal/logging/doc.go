// Package logging provides structured logging for opencore.
//
// This package wraps Go's log/slog to emit JSON (or, on a terminal, text)
// records. Child loggers carry persistent attributes so every line written
// while servicing a capture can be traced back to its lane, hook and
// request sequence.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer. [RotatingWriter]
// serializes writes and rotation behind a mutex.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/var/log/opencore", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithLane("capture").WithRequest(3).Info("capture started", "tid", tid)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"capture started","lane":"capture","seq":3,"tid":4711}
//
// # Rotation
//
// [NewLoggerWithRotation] writes through a [RotatingWriter]. Once the file
// exceeds MaxSizeMB it is renamed to opencore.log.1 and older backups shift
// up, keeping at most MaxBackups. With Compress set, backups are gzipped in
// the background.
//
// # Testing
//
// [NopLogger] discards everything and is the default wherever a component
// accepts a nil *Logger.
package logging
