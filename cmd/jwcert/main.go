package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/evidenceledger/jwcert/internal/cli"
)

var version = "0.1.0" // default version if not set

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx, version); err != nil {
		os.Exit(1)
	}
}
