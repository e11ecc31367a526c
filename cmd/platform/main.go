package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medsum/platform/internal/shared/config"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/medsum/platform/internal/shared/telemetry"
	"github.com/medsum/platform/internal/shared/types"
	"github.com/medsum/platform/internal/storage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "platform",
		Short:         "Medical report insights platform",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(aggregateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads config, logging and tracing shared by every command.
func bootstrap(ctx context.Context) (*config.Config, *logger.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to init logger: %w", err)
	}

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Server.Env, log)
	if err != nil {
		log.Sync()
		return nil, nil, nil, fmt.Errorf("failed to init tracing: %w", err)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
		log.Sync()
	}
	return cfg, log, cleanup, nil
}

func serveCmd() *cobra.Command {
	var workers bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and in-process generation workers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, log, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			app, err := newApp(ctx, cfg, log, true)
			if err != nil {
				return err
			}
			defer app.Close()

			if !workers && cfg.Queue.Driver == "memory" {
				log.Warn("workers disabled with the memory queue; triggered documents will not be processed")
			}

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
				Handler:      newRouter(app),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: cfg.Server.WriteTimeout,
				IdleTimeout:  60 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("server listening",
					"addr", srv.Addr,
					"env", cfg.Server.Env,
					"store", cfg.Store.Driver,
					"queue", cfg.Queue.Driver,
					"extraction", cfg.Extraction.Driver,
				)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			if workers {
				g.Go(func() error { return app.Dispatcher.Run(gctx) })
			}
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down server")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("server shutdown error", "error", err)
				}
				return nil
			})

			err = g.Wait()
			log.Info("server stopped")
			return err
		},
	}
	cmd.Flags().BoolVar(&workers, "workers", true, "Run generation workers in this process")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume the shared generation queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, log, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if cfg.Queue.Driver != "redis" {
				return fmt.Errorf("worker needs QUEUE_DRIVER=redis; the memory queue only exists inside serve")
			}

			app, err := newApp(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.Dispatcher.Run(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, log, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			stores, err := storage.Open(ctx, cfg, true, log)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			stores.Close()

			fmt.Printf("Migrations applied (%s).\n", cfg.Store.Driver)
			return nil
		},
	}
}

func generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <document-id>",
		Short: "Run insight generation for one document and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := types.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid document id: %w", err)
			}

			cfg, log, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			app, err := newApp(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer app.Close()

			outcome, err := app.Coordinator.RequestGeneration(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, outcome)
			return nil
		},
	}
}

func aggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate <user-id>",
		Short: "Rebuild the cumulative summary for a user and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			id, err := types.ParseID(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}

			cfg, log, cleanup, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			app, err := newApp(ctx, cfg, log, false)
			if err != nil {
				return err
			}
			defer app.Close()

			html, err := app.Aggregator.Aggregate(ctx, id)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: completed (%d bytes)\n", id, len(html))
			fmt.Fprintln(out, html)
			return nil
		},
	}
}
