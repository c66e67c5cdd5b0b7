// Package debug provides opt-in trace logging for the index and scheduler.
// Output is disabled by default and routed through a single guarded writer so
// it never interleaves with protocol traffic on stdio.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// EnableDebug can be overridden at build time:
// go build -ldflags "-X github.com/standardbeagle/uci/internal/debug.EnableDebug=true"
var EnableDebug = "false"

var (
	mu  sync.Mutex
	out io.Writer
)

func init() {
	if EnableDebug == "true" || os.Getenv("UCI_DEBUG") == "1" {
		out = os.Stderr
	}
}

// SetOutput sets the writer for debug output. Pass nil to disable.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// Enabled reports whether debug output is currently routed anywhere.
func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return out != nil
}

// Logf writes a formatted trace line if debug output is enabled.
func Logf(format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil {
		return
	}
	fmt.Fprintf(out, format, args...)
}

// LogBuild traces build-scheduler activity.
func LogBuild(format string, args ...any) {
	Logf("[build] "+format, args...)
}

// LogLower traces snapshot lowering into the analysis database.
func LogLower(format string, args ...any) {
	Logf("[lower] "+format, args...)
}

// LogWatch traces file-watcher activity.
func LogWatch(format string, args ...any) {
	Logf("[watch] "+format, args...)
}
