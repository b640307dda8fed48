// Package config stores the CLI profile: collector credentials and paths
// saved on disk so they need not be exported in every shell.
package config

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	pipeline "github.com/filipexyz/beacon/internal/config"
)

// Profile represents the CLI configuration file.
type Profile struct {
	MeasurementID string `json:"measurement_id,omitempty"`
	APISecret     string `json:"api_secret,omitempty"`
	Endpoint      string `json:"endpoint,omitempty"`
	DebugEndpoint string `json:"debug_endpoint,omitempty"`
	DataDir       string `json:"data_dir,omitempty"`
}

// Dir returns the directory holding the profile and the local database.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".beacon")
}

// DefaultPath returns the default profile path.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.json")
}

// DefaultDataDir returns where the CLI keeps its durable storage.
func DefaultDataDir() string {
	return filepath.Join(Dir(), "data")
}

// Load reads the profile from path or the default location.
func Load(path string) (*Profile, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}

	return &p, nil
}

// Save writes the profile to path or the default location.
func Save(p *Profile, path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Apply fills settings the environment left unset. Environment
// variables win over the profile. Endpoints only replace the defaults.
func (p *Profile) Apply(cfg *pipeline.Config) {
	if cfg.MeasurementID == "" {
		cfg.MeasurementID = p.MeasurementID
	}
	if cfg.APISecret == "" {
		cfg.APISecret = p.APISecret
	}
	if p.Endpoint != "" && cfg.Endpoint == pipeline.DefaultEndpoint {
		cfg.Endpoint = p.Endpoint
	}
	if p.DebugEndpoint != "" && cfg.DebugEndpoint == pipeline.DefaultDebugEndpoint {
		cfg.DebugEndpoint = p.DebugEndpoint
	}
	if cfg.DataDir == "" {
		cfg.DataDir = p.DataDir
	}
}
