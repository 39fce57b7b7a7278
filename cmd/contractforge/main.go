// Package main implements the contractforge CLI: the workflow
// orchestration engine's HTTP server plus one-shot commands for
// submitting, inspecting, and cancelling workflows directly against the
// coordinator.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chainforge/contractforge/config"
	"github.com/chainforge/contractforge/coordinator"
)

// Build information (set via ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "contractforge",
		Short:   "AI-assisted smart contract generation, audit, and deployment engine",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(
		newServeCommand(&configPath),
		newGenerateCommand(&configPath),
		newStatusCommand(&configPath),
		newCancelCommand(&configPath),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	loader := config.NewLoader(logger)

	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newServeCommand(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP+WebSocket API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}

			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

			app, err := NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}

			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start app: %w", err)
			}
			defer app.Shutdown(10 * time.Second)

			logger.Info("serving", "addr", cfg.HTTP.Addr)
			return app.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func newGenerateCommand(configPath *string) *cobra.Command {
	var (
		network      string
		contractType string
		auditLevel   string
		deployer     string
	)

	cmd := &cobra.Command{
		Use:   "generate [description]",
		Short: "Submit a one-shot contract generation workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			app, err := NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start app: %w", err)
			}
			defer app.Shutdown(10 * time.Second)

			result, err := app.coordinator.Create(ctx, buildRequest(args[0], network, contractType, auditLevel, deployer))
			if err != nil {
				return fmt.Errorf("create workflow: %w", err)
			}

			return printJSON(map[string]any{
				"workflow_id":   result.WorkflowID,
				"warnings":      result.Warnings,
				"features_used": result.FeaturesUsed,
			})
		},
	}
	cmd.Flags().StringVar(&network, "network", "hyperion_testnet", "target network")
	cmd.Flags().StringVar(&contractType, "type", "", "contract type hint")
	cmd.Flags().StringVar(&auditLevel, "audit-level", "standard", "audit depth: basic, standard, or comprehensive")
	cmd.Flags().StringVar(&deployer, "deployer", "", "deployer address")
	return cmd
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Print a workflow's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			app, err := NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start app: %w", err)
			}
			defer app.Shutdown(5 * time.Second)

			wf, err := app.coordinator.Status(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get workflow status: %w", err)
			}
			return printJSON(wf)
		},
	}
}

func newCancelCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [workflow-id]",
		Short: "Request cooperative cancellation of a running workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			app, err := NewApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize app: %w", err)
			}
			ctx := cmd.Context()
			if err := app.Start(ctx); err != nil {
				return fmt.Errorf("start app: %w", err)
			}
			defer app.Shutdown(5 * time.Second)

			if err := app.coordinator.Cancel(ctx, args[0]); err != nil {
				return fmt.Errorf("cancel workflow: %w", err)
			}
			fmt.Printf("cancellation requested for workflow %s\n", args[0])
			return nil
		},
	}
}

func buildRequest(description, network, contractType, auditLevel, deployer string) coordinator.Request {
	return coordinator.Request{
		NLPDescription:  description,
		Network:         network,
		ContractType:    contractType,
		AuditLevel:      auditLevel,
		DeployerAddress: deployer,
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// serveHTTP runs an http.Server bound to addr until ctx is cancelled, then
// shuts it down gracefully.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
