// Command coordinator runs the btcmine coordinator process: accepts worker
// streams, tracks the chain tip, builds candidate blocks, and submits
// proof-of-work solutions back to the node (spec.md §4.4 / §4.5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/urfave/cli"

	"github.com/hashpool/btcmine/internal/config"
	"github.com/hashpool/btcmine/internal/coordinator"
	"github.com/hashpool/btcmine/internal/log"
	"github.com/hashpool/btcmine/internal/notify"
	"github.com/hashpool/btcmine/internal/rpcclient"
)

var logger = log.NewModuleLogger("cmd/coordinator")

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "coordinator"
	app.Usage = "distributed proof-of-work mining coordinator"
	app.Flags = []cli.Flag{}
	app.Action = run
	return app
}

func run(*cli.Context) error {
	cfg, err := config.LoadCoordinator()
	if err != nil {
		return fatalf("%v", err)
	}

	minerAddr, err := btcutil.DecodeAddress(cfg.MinerPublicKey, &chaincfg.MainNetParams)
	if err != nil {
		return fatalf("invalid MINER_PUBLIC_KEY: %v", err)
	}

	rpc := rpcclient.New(cfg.RPCURL, cfg.RPCUser, cfg.RPCPass)
	notifier := notify.New(cfg.TelegramToken, cfg.TelegramChannel)
	srv := coordinator.NewServer(rpc, notifier, minerAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	go srv.RunTipMonitor(ctx)

	logger.Info("coordinator listening", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		return fatalf("coordinator exited: %v", err)
	}
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
