// Package main is the evolution-relay entry point
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evolution-relay/internal/adapters/handler"
	"evolution-relay/internal/adapters/messaging"
	"evolution-relay/internal/adapters/repository"
	"evolution-relay/internal/config"
	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "evolution-relay",
		Short:        "WhatsApp relay between the Evolution API and the chat engine",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init()
		},
	}
	root.AddCommand(serveCmd(), workerCmd(), migrateCmd(), numbersCmd())
	return root
}

// loadConfig prints the first banner step shared by every command
func loadConfig() (*config.Config, error) {
	fmt.Println("=== Evolution Relay ===")
	fmt.Println("[0/5] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	fmt.Printf("✓ Config loaded (DB: %s, Redis: %t, AMQP: %t, S3: %t)\n",
		cfg.DB.Driver, cfg.Redis.Enabled(), cfg.AMQP.Enabled(), cfg.S3.Enabled())
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ============================================================================
// serve: HTTP + outbox poller + watchdog
// ============================================================================

func serveCmd() *cobra.Command {
	var skipMigrate, noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the outbox worker and the watchdog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, cfg, bootOptions{inProcessWorker: !noWorker, eventFeed: true})
			if err != nil {
				return err
			}
			defer a.Close()

			if !skipMigrate {
				if err := repository.Migrate(ctx, a.db); err != nil {
					return err
				}
			}

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				a.watchdog.Run(ctx)
			}()
			go func() {
				defer wg.Done()
				a.events.Run(ctx)
			}()
			if !noWorker {
				wg.Add(1)
				go func() {
					defer wg.Done()
					a.worker.Run(ctx, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
				}()
			}

			// ==================================================================
			// Step 5: HTTP server
			// ==================================================================
			fmt.Println("[5/5] Starting HTTP server...")
			srv := &http.Server{
				Addr:    fmt.Sprintf(":%d", cfg.App.Port),
				Handler: handler.NewRouter(a.handlers()),
			}
			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()
			fmt.Printf("\n✅ Relay ready on %s\n", srv.Addr)
			fmt.Printf("[HTTP] Webhook: /api/webhooks/whatsapp/{token}\n")
			fmt.Printf("[HTTP] Chat API: /api/chat/*\n\n")

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if err != nil {
					stop()
					wg.Wait()
					return fmt.Errorf("http server: %w", err)
				}
			}

			slog.Info("Shutting down", "timeout", cfg.App.ShutdownTimeout)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("HTTP shutdown incomplete", "error", err)
			}
			wg.Wait()
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not apply the schema on startup")
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not run the outbox worker in this process")
	return cmd
}

// ============================================================================
// worker: outbox loop only
// ============================================================================

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the outbox delivery loop and the watchdog",
		Long: `Runs the outbox worker without the HTTP API. When AMQP_URL is set, the
worker also consumes outbox.enqueued events to deliver without waiting for a tick.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, cfg, bootOptions{inProcessWorker: true})
			if err != nil {
				return err
			}
			defer a.Close()

			var wg sync.WaitGroup
			if cfg.AMQP.Enabled() {
				consumer, err := messaging.NewNudgeConsumer(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.NudgeQueue, a.worker.Nudge)
				if err != nil {
					return err
				}
				defer consumer.Close()

				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := consumer.Run(ctx); err != nil {
						slog.Error("Outbox nudge consumer stopped", "error", err)
					}
				}()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				a.watchdog.Run(ctx)
			}()

			fmt.Println("\n✅ Outbox worker running")
			a.worker.Run(ctx, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
			wg.Wait()
			return nil
		},
	}
}

// ============================================================================
// migrate
// ============================================================================

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			db, err := connectDB(ctx, cfg.DB, connectRetries, connectRetryDelay)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(ctx, db); err != nil {
				return err
			}
			fmt.Println("✓ Schema applied")
			return nil
		},
	}
}

// ============================================================================
// numbers: provider line registry
// ============================================================================

func numbersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "numbers",
		Short: "Manage the Evolution instances mapped to workspaces",
	}
	cmd.AddCommand(numbersAddCmd(), numbersListCmd())
	return cmd
}

func numbersAddCmd() *cobra.Command {
	var workspaceID, instance, apiKey string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an instance for a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspaceID == "" || instance == "" {
				return errors.New("--workspace and --instance are required")
			}
			return withStore(func(ctx context.Context, store *repository.SQLStore) error {
				number := &domain.WhatsAppNumber{
					WorkspaceID:  workspaceID,
					InstanceName: instance,
					APIKey:       apiKey,
				}
				if err := store.Numbers().Save(ctx, number); err != nil {
					return err
				}
				fmt.Printf("✓ Instance %s mapped to workspace %s (id %s)\n", instance, workspaceID, number.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace", "", "workspace id")
	cmd.Flags().StringVar(&instance, "instance", "", "Evolution instance name")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "instance API key (defaults to EVOLUTION_API_KEY at send time)")
	return cmd
}

func numbersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *repository.SQLStore) error {
				numbers, err := store.Numbers().FindAll(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tWORKSPACE\tINSTANCE\tAPI KEY")
				for _, n := range numbers {
					key := "-"
					if n.APIKey != "" {
						key = "set"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.ID, n.WorkspaceID, n.InstanceName, key)
				}
				return tw.Flush()
			})
		},
	}
}

func withStore(fn func(ctx context.Context, store *repository.SQLStore) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, stop := signalContext()
	defer stop()

	db, err := connectDB(ctx, cfg.DB, connectRetries, connectRetryDelay)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, repository.NewSQLStore(db))
}
