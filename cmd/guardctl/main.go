package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/intelliguard/internal/app"
	"github.com/your-org/intelliguard/internal/config"
	"github.com/your-org/intelliguard/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "Operator CLI for IntelliGuard face enrollment and belongings custody",
	Long: `guardctl works directly against the IntelliGuard face corpus and custody
ledger configured in the config file. It enrolls identities from a camera or a
directory of images, retrains the face model, runs the kiosk identify loop and
records belongings check-in and check-out.`,
	SilenceUsage: true,
}

func main() {
	// Interrupt cancels capture and identify loops cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to config file")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// loadConfig reads the config file. A missing default config falls back to
// defaults and environment overrides; an explicit --config must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg = config.Default()
		err = nil
	}
	if err != nil {
		return nil, err
	}
	observability.SetupLogger(cfg.Logging.Level, "text")
	return cfg, nil
}

func buildApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.Build(cmd.Context(), cfg)
}

func buildLedgerApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return app.BuildLedger(cmd.Context(), cfg)
}
