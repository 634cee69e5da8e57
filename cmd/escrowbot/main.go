// Command escrowbot runs the Telegram escrow bot. It loads configuration,
// validates it, sets up signal handling, and runs the application until
// interrupted.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/escrowbot/internal/app"
	"github.com/alanyoungcy/escrowbot/internal/config"
	"github.com/alanyoungcy/escrowbot/internal/secret"
)

func main() {
	configPath := flag.String("config", "escrowbot.toml", "path to configuration file (optional)")
	sealToken := flag.Bool("seal-token", false, "read a bot token from stdin, seal it with $ESCROWBOT_TELEGRAM_TOKEN_PASSWORD and print the result")
	flag.Parse()

	if *sealToken {
		if err := runSeal(os.Stdin, os.Stdout, os.Getenv("ESCROWBOT_TELEGRAM_TOKEN_PASSWORD")); err != nil {
			fmt.Fprintf(os.Stderr, "seal-token: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Debug("configuration loaded", slog.Any("config", config.RedactedConfig(cfg)))
	logger.Info("escrow bot starting", slog.String("config", *configPath))

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			application.Close()
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("escrow bot stopped")
}

// runSeal seals the first line of in and writes the sealed document to out.
func runSeal(in io.Reader, out io.Writer, password string) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	sealed, err := secret.Seal(strings.TrimSpace(line), password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", sealed)
	return err
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
