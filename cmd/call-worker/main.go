package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tutorcall-backend/internal/bootstrap"
	"tutorcall-backend/internal/repository/cockroach"
	"tutorcall-backend/internal/worker"
	"tutorcall-backend/pkg/config"
	"tutorcall-backend/pkg/constants"
	"tutorcall-backend/pkg/logger"
	"tutorcall-backend/pkg/metrics"
)

// Version is set via ldflags at build time
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "call-worker",
		Short:         "Background jobs for the call service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newSweepCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "call-worker %s\n", Version)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the CockroachDB schema",
		Long:  "Creates the users, reservations, calls and call_participants tables. Safe to run repeatedly.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Call.Store != config.StoreCockroach {
				return fmt.Errorf("migrate needs CALL_STORE=%s", config.StoreCockroach)
			}

			c, err := bootstrap.New(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := cockroach.Migrate(cmd.Context(), c.DB.Pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func newSweepCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark unanswered calls as missed",
		Long: `Runs the missed-call sweep on CALL_SWEEP_SCHEDULE until interrupted.
Calls still ringing after CALL_RING_TIMEOUT are marked missed and the
receiver gets a missed-call notification.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Call.Store != config.StoreCockroach {
				return fmt.Errorf("sweep needs a shared store, set CALL_STORE=%s", config.StoreCockroach)
			}
			return runSweep(cmd, cfg, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

func runSweep(cmd *cobra.Command, cfg *config.Config, once bool) error {
	ctx := cmd.Context()
	c, err := bootstrap.New(ctx, cfg, metrics.NewMetrics("call-worker"))
	if err != nil {
		return err
	}
	defer c.Close()

	sweeper, err := worker.NewSweeper(c.NewCallService(nil), cfg.Call.SweepSchedule, cfg.Call.RingTimeout)
	if err != nil {
		return err
	}

	if once {
		n, err := sweeper.RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %d calls as missed\n", n)
		return nil
	}

	sweeper.Start()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	sweeper.Stop(stopCtx)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	_ = logger.Sync()
	if err != nil {
		logger.Error("call-worker failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
