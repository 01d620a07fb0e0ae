package app

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/beholdlabs/listings/internal/platform/config"
)

// serverEnv holds environment overrides for the listings server.
type serverEnv struct {
	DBPath  string `env:"LISTINGS_DB_PATH"`
	AuthKey string `env:"LISTINGS_AUTH_KEY"`
}

func loadServerEnv() serverEnv {
	var cfg serverEnv
	_ = config.ParseEnv(&cfg)
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join("data", "listings.db")
	}
	return cfg
}

// Deployment describes the deployment file passed via -config. Roles are
// seeded on first boot only; an already-seeded store keeps its roles.
type Deployment struct {
	Registry  EndpointConfig `yaml:"registry"`
	Payout    EndpointConfig `yaml:"payout"`
	Roles     RolesConfig    `yaml:"roles"`
	Purchases PurchaseConfig `yaml:"purchases"`
}

// EndpointConfig points at an external collaborator service.
type EndpointConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// RolesConfig holds the initial role assignments. The payout address starts
// as the item owner until the owner routes it elsewhere.
type RolesConfig struct {
	Owner     string `yaml:"owner"`
	ItemOwner string `yaml:"item_owner"`
}

// PurchaseConfig tunes the per-buyer purchase rate limit.
type PurchaseConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LoadDeployment reads and validates a deployment file.
func LoadDeployment(path string) (Deployment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Deployment{}, fmt.Errorf("read deployment file: %w", err)
	}
	var dep Deployment
	if err := yaml.Unmarshal(data, &dep); err != nil {
		return Deployment{}, fmt.Errorf("parse deployment file: %w", err)
	}
	if err := dep.validate(); err != nil {
		return Deployment{}, err
	}
	return dep, nil
}

func (d Deployment) validate() error {
	if strings.TrimSpace(d.Registry.Endpoint) == "" {
		return fmt.Errorf("deployment registry.endpoint is required")
	}
	if strings.TrimSpace(d.Payout.Endpoint) == "" {
		return fmt.Errorf("deployment payout.endpoint is required")
	}
	if strings.TrimSpace(d.Roles.Owner) == "" {
		return fmt.Errorf("deployment roles.owner is required")
	}
	if strings.TrimSpace(d.Roles.ItemOwner) == "" {
		return fmt.Errorf("deployment roles.item_owner is required")
	}
	return nil
}

// decodeAuthKey decodes the base64 HS256 signing key from the environment.
func decodeAuthKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("LISTINGS_AUTH_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode LISTINGS_AUTH_KEY: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("LISTINGS_AUTH_KEY must decode to at least 32 bytes")
	}
	return key, nil
}
