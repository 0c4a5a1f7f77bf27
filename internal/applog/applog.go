// Package applog is the one place every component routes log output
// through, so the correlation task's CorrelationFatal (spec §7) and the
// engine's "log and terminate the affected subsystem only" policy share a
// single destination without every call site importing fmt/log ad hoc.
package applog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu      sync.Mutex
	std     = log.New(os.Stderr, "", log.LstdFlags)
	verbose = false
)

// SetOutput redirects all future log lines to w instead of stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// SetVerbose toggles Debugf output. Off by default; the CLI has no flag
// that turns it on.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

func logf(level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	std.Output(3, fmt.Sprintf("%s "+format, append([]any{level}, args...)...))
}

// Debugf logs a diagnostic line, only when verbose mode is enabled.
func Debugf(format string, args ...any) {
	mu.Lock()
	v := verbose
	mu.Unlock()
	if !v {
		return
	}
	logf("[debug]", format, args...)
}

// Infof logs a routine informational line.
func Infof(format string, args ...any) {
	logf("[info]", format, args...)
}

// Warnf logs a recoverable-but-notable condition.
func Warnf(format string, args ...any) {
	logf("[warn]", format, args...)
}

// Errorf logs a failure. It does not exit the process; callers that should
// terminate decide that themselves (§7: "errors... are logged and
// terminate the affected subsystem only", not the process).
func Errorf(format string, args ...any) {
	logf("[error]", format, args...)
}
