package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stefando/mediaupload/internal/logging"
)

var version = "dev"

func main() {
	logger := logging.New(os.Stderr, "info", "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := NewRunner(RunnerOpts{Logger: logger})
	if err := newApp(runner).Run(ctx, os.Args); err != nil {
		stop()
		runner.logger.Fatal("application error", "err", err)
	}
}
