// AEEP - Agent-to-Agent Economic Exchange Protocol
// Copyright (C) 2025 X811-project
//
// This file is part of AEEP.
//
// AEEP is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// AEEP is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with AEEP. If not, see <https://www.gnu.org/licenses/>.

// Package config resolves server configuration in three layers: a .env
// file (if present), an optional YAML file, then AEEP_* environment
// variables. Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Relayer configures the on-chain anchoring client. When Mock is set the
// server uses the in-process mock relayer and the remaining fields are
// ignored.
type Relayer struct {
	Mock       bool   `yaml:"mock"`
	RPCURL     string `yaml:"rpc_url"`
	Contract   string `yaml:"contract"`
	PrivateKey string `yaml:"private_key"`
	ChainID    int64  `yaml:"chain_id"`
}

// Batching configures the merkle batch triggers.
type Batching struct {
	SizeThreshold int           `yaml:"size_threshold"`
	TimeThreshold time.Duration `yaml:"time_threshold"`
}

// Config is the full server configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`
	// DatabaseURL is a pgx connection string; empty selects the
	// in-memory store.
	DatabaseURL string `yaml:"database_url"`
	// ServerName labels the server's own DID document.
	ServerName string `yaml:"server_name"`
	// ServerKeySeed is a hex-encoded 32-byte Ed25519 seed for the server
	// identity; empty generates an ephemeral keypair at startup.
	ServerKeySeed string `yaml:"server_key_seed"`

	Relayer  Relayer  `yaml:"relayer"`
	Batching Batching `yaml:"batching"`
}

// Default returns the configuration used when nothing is provided.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		ServerName: "aeep-server",
		Relayer:    Relayer{Mock: true},
		Batching: Batching{
			SizeThreshold: 100,
			TimeThreshold: 5 * time.Minute,
		},
	}
}

// Load resolves the configuration. yamlPath may be empty.
func Load(yamlPath string) (*Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	cfg := Default()
	if yamlPath != "" {
		raw, err := os.ReadFile(yamlPath)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("AEEP_LISTEN_ADDR", &c.ListenAddr)
	setString("AEEP_DATABASE_URL", &c.DatabaseURL)
	setString("AEEP_SERVER_NAME", &c.ServerName)
	setString("AEEP_SERVER_KEY_SEED", &c.ServerKeySeed)
	setString("AEEP_RELAYER_RPC_URL", &c.Relayer.RPCURL)
	setString("AEEP_RELAYER_CONTRACT", &c.Relayer.Contract)
	setString("AEEP_RELAYER_PRIVATE_KEY", &c.Relayer.PrivateKey)

	if v, ok := os.LookupEnv("AEEP_RELAYER_MOCK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: AEEP_RELAYER_MOCK=%q: %w", v, err)
		}
		c.Relayer.Mock = b
	}
	if v, ok := os.LookupEnv("AEEP_RELAYER_CHAIN_ID"); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: AEEP_RELAYER_CHAIN_ID=%q: %w", v, err)
		}
		c.Relayer.ChainID = id
	}
	if v, ok := os.LookupEnv("AEEP_BATCH_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: AEEP_BATCH_SIZE=%q: %w", v, err)
		}
		c.Batching.SizeThreshold = n
	}
	if v, ok := os.LookupEnv("AEEP_BATCH_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: AEEP_BATCH_INTERVAL=%q: %w", v, err)
		}
		c.Batching.TimeThreshold = d
	}
	return nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must not be empty")
	}
	if c.Batching.SizeThreshold <= 0 {
		return fmt.Errorf("config: batching.size_threshold must be positive, got %d", c.Batching.SizeThreshold)
	}
	if c.Batching.TimeThreshold <= 0 {
		return fmt.Errorf("config: batching.time_threshold must be positive, got %s", c.Batching.TimeThreshold)
	}
	if !c.Relayer.Mock {
		if c.Relayer.RPCURL == "" {
			return fmt.Errorf("config: relayer.rpc_url required when relayer.mock is false")
		}
		if c.Relayer.Contract == "" {
			return fmt.Errorf("config: relayer.contract required when relayer.mock is false")
		}
		if c.Relayer.PrivateKey == "" {
			return fmt.Errorf("config: relayer.private_key required when relayer.mock is false")
		}
		if c.Relayer.ChainID == 0 {
			return fmt.Errorf("config: relayer.chain_id required when relayer.mock is false")
		}
	}
	return nil
}
