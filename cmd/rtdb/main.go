// Command rtdb reads, writes and listens to a remote realtime JSON database from the shell.
//
// Flags can also be set through environment variables prefixed with RTDB (RTDB_ENDPOINT, RTDB_TOKEN, ...)
// or through a YAML config file, in that order of precedence after the flags themselves.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
