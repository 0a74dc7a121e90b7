// Package shutdown turns termination signals into context cancellation.
package shutdown

import (
	"context"
	"os"
	"os/signal"
)

// Signals lists the signals Context listens for on this platform.
func Signals() []os.Signal {
	return append([]os.Signal(nil), signals...)
}

// Context is cancelled on the first termination signal. Call stop to
// restore default signal handling; a second signal then kills the process.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
