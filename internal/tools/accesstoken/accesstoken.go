// Package accesstoken mints bearer tokens for operators and tests.
package accesstoken

import (
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/beholdlabs/listings/internal/market/api/httpapi"
	"github.com/beholdlabs/listings/internal/platform/config"
)

type toolEnv struct {
	AuthKey string `env:"LISTINGS_AUTH_KEY"`
}

// Config holds configuration for token minting.
type Config struct {
	Key     string
	Address string
	TTL     time.Duration
}

// ParseConfig reads the signing key from the environment and parses flags.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var env toolEnv
	if err := config.ParseEnv(&env); err != nil {
		return Config{}, err
	}
	cfg := Config{Key: env.AuthKey, TTL: time.Hour}
	fs.StringVar(&cfg.Key, "key", cfg.Key, "base64 signing key (default: LISTINGS_AUTH_KEY)")
	fs.StringVar(&cfg.Address, "address", cfg.Address, "caller address to embed as the token subject")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime (default: 1h)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run mints a token and writes it to out.
func Run(cfg Config, out io.Writer, now time.Time) error {
	if out == nil {
		return errors.New("output is required")
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return errors.New("signing key is required")
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.Key))
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}
	if now.IsZero() {
		now = time.Now()
	}
	token, err := httpapi.MintAccessToken(key, cfg.Address, cfg.TTL, now)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
