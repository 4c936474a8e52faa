package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	nodesync "github.com/stacklok/node-sync/internal/app"
	"github.com/stacklok/node-sync/internal/config"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sync loop and the HTTP server",
		Long: `Start the background import of the node ranking and the HTTP server
serving the stored snapshot at /records.

Settings come from built-in defaults, the optional YAML file (--config), the
optional .env file and the environment (DATABASE_URL, POLL_INTERVAL_SECS and
NODE_SYNC_* variables), in increasing order of precedence.`,
		RunE: runServe,
	}

	serveCmd.Flags().String("address", "", "Address to listen on (overrides configuration)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format)")
	serveCmd.Flags().String("env-file", config.DefaultEnvFile, "Path to a dotenv file, ignored when missing")

	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(v.GetString("config"), v.GetString("env-file"))
	if err != nil {
		return err
	}

	opts := []nodesync.Options{nodesync.WithConfig(cfg)}
	if address := v.GetString("address"); address != "" {
		opts = append(opts, nodesync.WithAddress(address))
	}

	slog.Info("Starting node-sync",
		"poll_interval", cfg.GetPollInterval(),
		"fetch_timeout", cfg.GetFetchTimeout(),
	)

	app, err := nodesync.NewApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return app.Run(ctx)
}

func loadConfig(configPath, envFile string) (*config.Config, error) {
	opts := []config.Option{config.WithEnvFile(envFile)}
	if configPath != "" {
		opts = append(opts, config.WithConfigPath(configPath))
	}

	cfg, err := config.LoadConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if configPath != "" {
		slog.Info("Loaded configuration", "path", configPath)
	}
	return cfg, nil
}
