// Package monitoring holds the process-wide diagnostic loggers. Library code
// logs through these hooks so the binary decides where output goes.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf receives high-volume traces such as per-packet hex dumps and desync
// drops. It is a no-op until SetDebugLogger installs a sink.
var Debugf func(format string, v ...interface{}) = discard

func discard(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = discard
		return
	}
	Logf = f
}

// SetDebugLogger replaces the debug logger. Passing nil mutes debug output.
func SetDebugLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Debugf = discard
		return
	}
	Debugf = f
}
