package cmd

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/screenvet/screenvet/internal/logger"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single maintenance pass over open sessions and exit",
	Run: func(_ *cobra.Command, _ []string) {
		sweep()
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func sweep() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log2, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		log2.Fatal("getting a config", zap.Error(err))
	}

	app, err := buildApplication(ctx, config, log2)
	if err != nil {
		log2.Fatal("wiring the application", zap.Error(err))
	}
	defer app.Close()

	if err := runSweep(ctx, app, log2); err != nil {
		app.Close()
		log2.Fatal("sweep failed", zap.Error(err))
	}
}

func runSweep(ctx context.Context, app *application, log2 *zap.Logger) error {
	report, err := app.sweeper.Run(ctx)
	if err != nil {
		return fmt.Errorf("sweep pass: %w", err)
	}

	log2.Info("sweep finished",
		zap.Int("followups_sent", report.FollowupsSent),
		zap.Int("closed_unresponsive", report.ClosedUnresponsive),
		zap.Int("promoted", report.Promoted),
		zap.Int("retried", report.Retried),
		zap.Int("finalized", report.Finalized),
		zap.Int("errors", report.Errors),
	)
	return nil
}
