// Command mathblocksd serves the ingestion pipeline over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mathblocks/internal/assembler"
	"mathblocks/internal/config"
	"mathblocks/internal/correction"
	"mathblocks/internal/logger"
	"mathblocks/internal/server"
)

var (
	configFlag = flag.String("config", "", "Path to the configuration file (JSON or YAML)")
	addrFlag   = flag.String("addr", "", "Listen address, overrides listen_addr from the config")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mathblocksd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cm, err := config.NewConfigManager(*configFlag)
	if err != nil {
		return err
	}
	if err := cm.Load(); err != nil {
		return err
	}
	cfg := cm.GetConfig()
	if *addrFlag != "" {
		cfg.ListenAddr = *addrFlag
	}

	if err := logger.Init(&logger.Config{
		LogFilePath:   cfg.LogFile,
		MaxFileSize:   10 * 1024 * 1024,
		MaxBackups:    5,
		Level:         logger.ParseLevel(cfg.LogLevel),
		EnableConsole: true,
	}); err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		corr  *correction.Corrector
		cache *correction.Cache
	)
	if cm.HasCorrector() {
		cache = correction.NewCache(cfg.CorrectionCache)
		if err := cache.Load(); err != nil {
			logger.Warn("ignoring unreadable correction cache", logger.Err(err))
		}
		corr, err = correction.NewOpenAICorrector(ctx, cfg, cache)
		if err != nil {
			return err
		}
	} else {
		logger.Info("no API key configured, /v1/correct is disabled")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.New(assembler.New(cfg), corr).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", logger.Component("server"), logger.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("stopping server", logger.Component("server"))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if cache != nil {
		if err := cache.Save(); err != nil {
			logger.Error("failed to save correction cache", err)
		}
	}
	logger.Info("server stopped", logger.Component("server"))
	return nil
}
