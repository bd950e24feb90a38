package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/akhilmat/ordermate/cmd"
)

func main() {
	// Interrupts cancel the context so the browser session shuts down
	// cleanly and the persisted profile survives.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
