package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/patrickspencer/chatbat/internal/announce"
	"github.com/patrickspencer/chatbat/internal/chat"
	"github.com/patrickspencer/chatbat/internal/config"
	"github.com/patrickspencer/chatbat/internal/logging"
	"github.com/patrickspencer/chatbat/internal/stream"
	"github.com/patrickspencer/chatbat/internal/web"
	"github.com/patrickspencer/chatbat/internal/web/api"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().String("config", "", "path to chatbat.yaml (defaults and CHATBAT_* env when empty)")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	logger.Info().
		Str("data_dir", cfg.DataDir).
		Str("storage", cfg.Storage.Backend).
		Str("journal", cfg.Journal.Backend).
		Int("capacity", cfg.Storage.Capacity).
		Msg("backends opened")

	svc := chat.NewService(b.log, b.journal, logger)

	announcer := announce.New(svc, cfg.Announcements, cfg.Storage.LockTimeout, logger)
	sched := announcer.NewScheduler()
	if err := announcer.Schedule(sched); err != nil {
		return err
	}
	sched.Start(ctx)
	defer sched.Stop()

	getConfigSnapshot := func() *config.Config {
		cp := *cfg
		return &cp
	}

	a := &api.API{
		Chat:    svc,
		Log:     b.log,
		Journal: b.journal,
		Limits: chat.Limits{
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			MaxNameLength:    cfg.Chat.MaxNameLength,
		},
		Stream: stream.Config{
			PollInterval:      cfg.Stream.PollInterval,
			KeepaliveInterval: cfg.Stream.KeepaliveInterval,
		},
		GetConfig: getConfigSnapshot,
		Logger:    logger,
	}
	srv := web.NewServer(cfg.Listen, web.NewRouter(a, logger), logger)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info().Str("listen", cfg.Listen).Msg("chatbat started")

	select {
	case <-sigCh:
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	logger.Info().Msg("chatbat stopped")
	return nil
}
