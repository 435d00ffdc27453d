package cmd

import (
	"context"
	"fmt"

	"github.com/mselser95/parimutuel/internal/app"
	"github.com/mselser95/parimutuel/pkg/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"run"},
	Short:   "Start the market API server",
	Long: `Starts the market API server, which will:
1. Open the configured store (memory, sqlite or postgres)
2. Replay any operation left pending by a previous crash
3. Serve the market API, the event stream on /ws and Prometheus metrics
4. Periodically sweep for pending operations until shutdown

Configuration is read from --config (TOML), then .env, then the environment.`,
	RunE: runServe,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("config", "c", "", "Path to a TOML config file")
	serveCmd.Flags().StringP("port", "p", "", "Override the HTTP port")
}

func runServe(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	// Load config
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.HTTPPort = port
	}

	// Create logger
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting-server",
		zap.String("port", cfg.HTTPPort),
		zap.String("storage", cfg.StorageMode),
		zap.String("lock", cfg.LockMode),
		zap.String("auth", cfg.AuthMode))

	application, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	// Run app
	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
