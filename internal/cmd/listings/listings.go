// Package listings parses listings service flags and launches the service.
package listings

import (
	"context"
	"flag"

	"github.com/beholdlabs/listings/internal/market/app"
	entrypoint "github.com/beholdlabs/listings/internal/platform/cmd"
)

// Config holds listings command configuration.
type Config struct {
	Port       int    `env:"LISTINGS_PORT" envDefault:"8080"`
	ConfigPath string `env:"LISTINGS_CONFIG_PATH" envDefault:"deploy.yaml"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The listings HTTP server port")
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to the deployment file")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the listings HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	dep, err := app.LoadDeployment(cfg.ConfigPath)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceListings, func(context.Context) error {
		return app.Run(ctx, cfg.Port, dep)
	})
}
