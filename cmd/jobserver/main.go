// Command jobserver runs job searches on behalf of remote clients and serves
// their progress and results over gRPC and, optionally, HTTP.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		os.Interrupt,
	)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
