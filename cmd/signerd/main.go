// Command signerd serves the remote signer HTTP API backed by a local key.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/specialjp/lighter-ts-sub000/internal/config"
	"github.com/specialjp/lighter-ts-sub000/internal/logging"
	"github.com/specialjp/lighter-ts-sub000/internal/signer"
	"github.com/specialjp/lighter-ts-sub000/internal/signerd"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/signerd.yaml", "config path (.yaml or .toml)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err.Error())
	}
	if cfg.Signer.LocalBundlePath == "" {
		fatal("signerd requires signer.local_bundle_path")
	}
	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		fatal(err.Error())
	}
	defer logCloser.Close()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend := signer.NewLocalSigner(cfg.Signer.LocalBundlePath, cfg.Signer.PrivateKey, logger)
	if err := backend.Initialize(rootCtx); err != nil {
		fatal(err.Error())
	}
	if cfg.Signerd.AuthToken == "" {
		logger.Warn("signerd running without auth token", "event", "signerd_unauthenticated", "listen", cfg.Signerd.Listen)
	}

	srv := &http.Server{
		Addr:              cfg.Signerd.Listen,
		Handler:           signerd.New(backend, signerd.Options{AuthToken: cfg.Signerd.AuthToken, Logger: logger}).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		logger.Info("signerd listening", "event", "signerd_started", "listen", cfg.Signerd.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("signerd stopping", "event", "signerd_stopping")
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		fatal(err.Error())
	}
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, strings.TrimSpace(msg))
	os.Exit(1)
}
