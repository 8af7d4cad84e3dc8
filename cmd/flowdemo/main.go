package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"
	"github.com/vaadin/flow-sub072/pkg/config"
	"github.com/vaadin/flow-sub072/pkg/logging"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	configKey   = "config"
	listenKey   = "listen"
	logLevelKey = "log-level"
	devKey      = "dev"
)

func main() {
	cmd := &cli.Command{
		Name:  "flowdemo",
		Usage: "Serve a counter pushed to browsers over websockets",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  configKey,
				Usage: "YAML configuration file",
			},
			&cli.StringFlag{
				Name:  listenKey,
				Usage: "Listen address, overrides the configuration",
			},
			&cli.StringFlag{
				Name:  logLevelKey,
				Usage: "Log level, overrides the configuration",
			},
			&cli.BoolFlag{
				Name:  devKey,
				Usage: "Use the development logger",
			},
		},
		Action: serve,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String(configKey))
	if err != nil {
		return nil, err
	}
	if v := cmd.String(listenKey); v != "" {
		cfg.Listen = v
	}
	if v := cmd.String(logLevelKey); v != "" {
		cfg.Log.Level = v
	}
	if cmd.Bool(devKey) {
		cfg.Log.Development = true
	}
	return cfg, cfg.Validate()
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := newServer(cfg, logger)
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runTicker(ctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serving")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
