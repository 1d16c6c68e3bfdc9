// Package logger provides levelled logging for the Tally engine and CLI.
// Debug, Info and Warn messages are only printed in verbose mode (the
// --verbose flag); Error messages are always printed. Component loggers
// created with With prefix every line with the component name so the
// interleaved output of concurrent workers stays readable.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	mu      sync.RWMutex
	verbose bool
	output  io.Writer = os.Stderr
)

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	write(true, "[DEBUG] ", format, args...)
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	write(true, "[INFO] ", format, args...)
}

// Warn prints a warning message if verbose mode is enabled.
func Warn(format string, args ...any) {
	write(true, "[WARN] ", format, args...)
}

// Error prints an error message regardless of verbose mode.
func Error(format string, args ...any) {
	write(false, "[ERROR] ", format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.Lock()
	defer mu.Unlock()
	if verbose {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// write holds the exclusive lock so concurrent workers never interleave
// partial lines on a shared writer.
func write(gated bool, level, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if gated && !verbose {
		return
	}
	fmt.Fprintf(output, level+format+"\n", args...)
}

// Component is a logger bound to a named engine component.
type Component struct {
	name string
}

// With returns a logger that prefixes messages with the component name.
func With(name string) Component {
	return Component{name: name}
}

// Debug prints a component message if verbose mode is enabled.
func (c Component) Debug(format string, args ...any) {
	write(true, "[DEBUG] "+c.name+": ", format, args...)
}

// Info prints a component message if verbose mode is enabled.
func (c Component) Info(format string, args ...any) {
	write(true, "[INFO] "+c.name+": ", format, args...)
}

// Warn prints a component warning if verbose mode is enabled.
func (c Component) Warn(format string, args ...any) {
	write(true, "[WARN] "+c.name+": ", format, args...)
}

// Error prints a component error regardless of verbose mode.
func (c Component) Error(format string, args ...any) {
	write(false, "[ERROR] "+c.name+": ", format, args...)
}
