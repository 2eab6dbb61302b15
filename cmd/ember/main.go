package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/emberchain/ember/pkg/config"
	"github.com/emberchain/ember/pkg/core"
	"github.com/emberchain/ember/pkg/core/mempool"
	"github.com/emberchain/ember/pkg/core/storage"
	"github.com/emberchain/ember/pkg/network/blocksync"
	"github.com/emberchain/ember/pkg/services/metrics"
)

func main() {
	ctl := newApp()
	if err := ctl.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "ember"
	app.Usage = "an ember blockchain node"
	app.Version = config.Version
	app.Commands = []cli.Command{
		{
			Name:   "node",
			Usage:  "start an ember node",
			Action: startServer,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config-path, c",
					Usage: "path to the node configuration file",
					Value: "./config/protocol.yml",
				},
			},
		},
	}
	return app
}

func startServer(ctx *cli.Context) error {
	cfg, err := config.LoadFile(ctx.String("config-path"))
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, err := handleLoggingParams(cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	store, err := storage.NewStore(cfg.ApplicationConfiguration.DBConfiguration)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("can't initialize storage: %w", err), 1)
	}
	chain, err := core.NewBlockchain(store, log)
	if err != nil {
		closeErr := store.Close()
		if closeErr != nil {
			err = fmt.Errorf("%w, failed to close the DB: %s", err, closeErr)
		}
		return cli.NewExitError(fmt.Errorf("can't initialize blockchain: %w", err), 1)
	}

	pool := mempool.New(cfg.ProtocolConfiguration.MemPoolSize)
	serv, err := blocksync.NewService(cfg, chain, pool, log)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("can't initialize sync service: %w", err), 1)
	}

	prometheus := metrics.NewPrometheusService(cfg.ApplicationConfiguration.Prometheus, log)
	go prometheus.Start()
	serv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	serv.Shutdown()
	prometheus.ShutDown()
	if err := store.Close(); err != nil {
		log.Error("failed to close the DB", zap.Error(err))
	}
	return nil
}

// handleLoggingParams builds a logger for the configured log level.
func handleLoggingParams(cfg config.ApplicationConfiguration) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		var err error
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log setting: %w", err)
		}
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Encoding = "console"
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil

	return cc.Build()
}
