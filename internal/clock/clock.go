// Package clock centralises time access so tests can freeze or advance the
// engine's notion of "now" deterministically.
package clock

import "time"

// NowFunc returns the current time. Override in tests for determinism.
var NowFunc = time.Now

// Now is a thin wrapper around NowFunc.
func Now() time.Time { return NowFunc() }
