package logging

import "log/slog"

// EnableTrace turns on per-lookup trace logs. Off by default; a busy server
// would otherwise log every cache hit.
var EnableTrace = false

// Trace logs a message at DEBUG level, but only if EnableTrace is true.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if EnableTrace {
		logger.Debug(msg, args...)
	}
}
