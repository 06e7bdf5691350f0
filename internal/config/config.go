// Package config loads the YAML configuration of the docsync commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Source      Endpoint    `yaml:"source"`
		Target      Endpoint    `yaml:"target"`
		Replication Replication `yaml:"replication"`
		Server      Server      `yaml:"server"`

		// History is the path of the pass log. Empty disables it.
		History string `yaml:"history"`
	}

	// Endpoint locates a store: an http(s) URL, "mem:<name>" or a bolt file path.
	Endpoint struct {
		URL   string `yaml:"url"`
		Name  string `yaml:"name"`
		Token string `yaml:"token"`
	}

	Replication struct {
		Bulk        bool          `yaml:"bulk"`
		BatchSize   int           `yaml:"batch_size"`
		Concurrency int           `yaml:"concurrency"`
		Timeout     time.Duration `yaml:"timeout"`
	}

	Server struct {
		Addr        string   `yaml:"addr"`
		Data        string   `yaml:"data"`
		JWTSecret   string   `yaml:"jwt_secret"`
		CORSOrigins []string `yaml:"cors_origins"`
	}
)

func Default() Config {
	return Config{
		Replication: Replication{
			Bulk:        true,
			BatchSize:   100,
			Concurrency: 8,
			Timeout:     30 * time.Second,
		},
		Server: Server{
			Addr: "127.0.0.1:5984",
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults. Unknown keys are an error.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Replication.BatchSize < 1 {
		return fmt.Errorf("replication.batch_size must be positive, got %d", c.Replication.BatchSize)
	}
	if c.Replication.Concurrency < 1 {
		return fmt.Errorf("replication.concurrency must be positive, got %d", c.Replication.Concurrency)
	}
	if c.Replication.Timeout < 0 {
		return fmt.Errorf("replication.timeout must not be negative")
	}
	return nil
}
