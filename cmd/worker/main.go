// Command worker runs one btcmine worker process: connects to the
// coordinator, searches its assigned nonce range in parallel across
// cores, and reports any found nonce back (spec.md §4.2 / §4.3).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/hashpool/btcmine/internal/config"
	"github.com/hashpool/btcmine/internal/log"
	"github.com/hashpool/btcmine/internal/worker"
)

var logger = log.NewModuleLogger("cmd/worker")

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "worker"
	app.Usage = "distributed proof-of-work mining worker"
	app.Flags = []cli.Flag{}
	app.Action = run
	return app
}

func run(*cli.Context) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("worker starting", "server", cfg.ServerURL)
	worker.NewSession(cfg).Run(ctx)
	return nil
}

func fatalf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	logger.Error(msg)
	return cli.NewExitError(msg, 1)
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
