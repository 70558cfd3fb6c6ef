package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"lessonsync/internal/app"
	"lessonsync/internal/config"
)

// ConfigFileEnv names the config file when --config is not given
const ConfigFileEnv = config.EnvPrefix + "CONFIG_FILE"

type serveOptions struct {
	configPath string
	port       int
	host       string
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the lesson synchronization server",
		Long: `Start the HTTP server that accepts WebSocket connections on /ws and
exposes /health and /metrics.

Configuration is read from defaults, then LESSONSYNC_* environment
variables, then the YAML file given by --config. Flags override all three.

Examples:
  lessonsync serve --config lessonsync.yaml
  LESSONSYNC_AUTH_SECRET=s3cret lessonsync serve --port 9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file (default $"+ConfigFileEnv+")")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to listen on (overrides config)")
	cmd.Flags().StringVarP(&opts.host, "host", "H", "", "Host to bind to (overrides config)")

	return cmd
}

// loadConfig applies file > env > defaults precedence, then command-line overrides
func loadConfig(opts serveOptions) (*config.Config, error) {
	path := opts.configPath
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}

	cfg, err := config.LoadConfigWithPrecedence(path)
	if err != nil {
		return nil, err
	}

	if opts.port > 0 {
		cfg.HTTP.Port = opts.port
	}
	if opts.host != "" {
		cfg.HTTP.Host = opts.host
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// run serves until SIGINT/SIGTERM or a server failure, then shuts down gracefully
func run(cfg *config.Config) error {
	application, err := app.NewApplication(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// The hub must outlive the signal so it can broadcast the shutdown notice
	if err := application.Start(context.Background()); err != nil {
		return err
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var serveErr error
	select {
	case serveErr = <-application.Err():
	case <-signalCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return serveErr
}
