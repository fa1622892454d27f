package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// ContextUntilInterruptOrKill returns a context that is cancelled when the
// process receives an interrupt (Ctrl+C) or termination signal (SIGTERM).
// Call stop to release the signal handler.
func ContextUntilInterruptOrKill(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
