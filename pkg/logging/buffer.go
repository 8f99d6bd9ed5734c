package logging

import (
	"strings"
	"sync"
)

// LogCaptureWriter is a thread-safe writer that stores the last written line.
type LogCaptureWriter struct {
	mu       sync.RWMutex
	lastLine string
}

// GlobalWarnCapture holds the most recent WARN or ERROR line of the server log.
// It is surfaced on the stats endpoint so operators see quota and key problems
// without tailing the log file.
var GlobalWarnCapture = &LogCaptureWriter{}

// Write implements io.Writer. It updates the lastLine field.
func (w *LogCaptureWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastLine = strings.TrimSpace(string(p))
	return len(p), nil
}

// GetLastLine returns the most recent log line.
func (w *LogCaptureWriter) GetLastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastLine
}

// Reset forgets the captured line.
func (w *LogCaptureWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastLine = ""
}
