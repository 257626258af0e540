// Command shotwatch watches the Binance new-listing announcements page and
// sends a Telegram photo whenever its visible content changes.
//
// Usage:
//
//	shotwatch                           # defaults + TELEGRAM_TOKEN/CHAT_ID from env or .env
//	shotwatch -config shotwatch.yaml    # YAML configuration
//	shotwatch -once                     # run a single cycle and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hazyhaar/listingwatch/shotwatch"
)

func main() {
	configPath := flag.String("config", "", "path to shotwatch.yaml config file")
	envFile := flag.String("env-file", ".env", "dotenv file with TELEGRAM_TOKEN and CHAT_ID (ignored if missing)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *envFile, *once); err != nil {
		logger.Error("shotwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, envFile string, once bool) error {
	cfg, err := shotwatch.LoadConfig(configPath, envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
		logger.Warn("shotwatch: telegram credentials missing, notifications will fail")
	}

	w, err := shotwatch.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer w.Close()

	if once {
		out := w.RunCycle(ctx)
		logger.Info("shotwatch: cycle complete", "outcome", string(out))
		return nil
	}

	if cfg.StatusAddr != "" {
		srv := &http.Server{
			Addr:              cfg.StatusAddr,
			Handler:           w.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("shotwatch: status api listening", "addr", cfg.StatusAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("shotwatch: status api", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	w.Run(ctx)
	return nil
}
