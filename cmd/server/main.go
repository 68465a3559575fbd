package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/roundtable/internal/handlers"
	"github.com/MegaGrindStone/roundtable/internal/services"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "roundtable",
		Short: "Web client for moderated travel-planning discussions",
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web interface",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("error getting user config dir: %w", err)
			}
			cfgDir = filepath.Join(cfgDir, "roundtable")
			if err := os.MkdirAll(cfgDir, 0755); err != nil {
				return fmt.Errorf("error creating config directory: %w", err)
			}
			if cfgPath == "" {
				cfgPath = filepath.Join(cfgDir, "config.yaml")
			}

			cfg, err := loadConfig(cfgPath, cfgDir)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, cfg.Log.logger(os.Stderr))
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to the YAML config file")

	return cmd
}

func serve(ctx context.Context, cfg config, logger *slog.Logger) error {
	boltDB, err := services.NewBoltDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer boltDB.Close()

	discussion := services.NewDiscussion(cfg.ServiceURL, nil, cfg.RequestTimeout, logger)

	// Feeds must survive the shutdown of the HTTP server long enough to be released by Main.
	feedCtx, cancelFeeds := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelFeeds()

	m, err := handlers.NewMain(feedCtx, discussion, boltDB, cfg.TypingDelay, logger)
	if err != nil {
		return err
	}
	router, err := m.Routes()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	// The browser event streams never go idle on their own, so they are closed as soon as the
	// server starts shutting down.
	sseDone := make(chan struct{})
	srv.RegisterOnShutdown(func() {
		defer close(sseDone)
		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Server starting",
			slog.String("addr", srv.Addr),
			slog.String("serviceURL", cfg.ServiceURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
		<-sseDone
		return nil
	})

	return g.Wait()
}
