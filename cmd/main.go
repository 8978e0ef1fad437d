package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ardylee-mml/adto3d/config"
	"github.com/ardylee-mml/adto3d/internal/container"
)

var (
	// Глобальные флаги
	verbose bool
	timeout time.Duration

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "adto3d",
	Short: "2D image to 3D model conversion service",
	Long: `adto3d turns a photo of an object into a 3D model.

The image is validated, its main contour is analysed, and a GLB model is
produced either locally (primitive generator or Blender) or by the
Masterpiece X cloud API. Models can be adapted to avatar outfit
categories (clothes, hats, shoes).

Configuration is read from .env.local, .env and the environment.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		logger, err = config.NewLogger(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and, if TELEGRAM_TOKEN is set, the Telegram bot",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Minute, "Timeout for one-shot commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(outfitCmd)
	rootCmd.AddCommand(checkConnectionCmd)
	rootCmd.AddCommand(checkBlenderCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c, err := container.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("failed to close container", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.HTTPServer().Run(gctx)
	})

	if cfg.TelegramToken != "" {
		bot, err := c.Bot()
		if err != nil {
			return err
		}
		g.Go(func() error {
			logger.Info("bot is running")
			return bot.Run(gctx)
		})
	} else {
		logger.Info("TELEGRAM_TOKEN is not set, bot disabled")
	}

	runErr := g.Wait()

	logger.Info("waiting for running conversions", zap.Duration("timeout", cfg.ShutdownTimeout))
	waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := c.ConversionService.Wait(waitCtx); err != nil {
		logger.Warn("cancelled unfinished conversions", zap.Error(err))
	}

	logger.Info("stopped")
	return runErr
}
