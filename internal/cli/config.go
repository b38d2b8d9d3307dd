// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-seedvault.
//
// go-seedvault is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-seedvault/internal/config"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/audit"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/salt"
	"github.com/jeremyhahn/go-seedvault/pkg/secmem"
	"github.com/jeremyhahn/go-seedvault/pkg/seedvault"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the server configuration file. Empty searches the
	// default locations.
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables verbose logging
	Verbose bool

	out    io.Writer
	errOut io.Writer
	in     io.Reader
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{OutputFormat: "text"}
}

// printer writes to the command's standard output.
func (c *Config) printer() *Printer {
	return NewPrinter(c.OutputFormat, c.out)
}

func (c *Config) verbosef(format string, args ...any) {
	if c.Verbose {
		fmt.Fprintf(c.errOut, "[VERBOSE] "+format+"\n", args...)
	}
}

// auditRecorder echoes audit events to stderr in verbose mode.
func (c *Config) auditRecorder(cfg *config.Config) audit.Recorder {
	if !cfg.Audit.Enabled || !c.Verbose {
		return audit.Nop{}
	}
	l := logger.NewSlogAdapter(&logger.SlogConfig{Handler: logger.NewHandler(c.errOut, "text", logger.LevelInfo)})
	return audit.NewLogRecorder(l)
}

// load reads the server configuration.
func (c *Config) load() (*config.Config, error) {
	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return nil, err
	}
	c.verbosef("Using %s storage at %s", cfg.Storage.Driver, cfg.Storage.DSN)
	return cfg, nil
}

// openStore opens storage from the server configuration.
func (c *Config) openStore(ctx context.Context) (*storage.Store, *config.Config, error) {
	cfg, err := c.load()
	if err != nil {
		return nil, nil, err
	}
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return store, cfg, nil
}

// openVault builds a vault over the configured storage for administrative
// commands. The returned function releases every resource.
func (c *Config) openVault(ctx context.Context) (*seedvault.Vault, func(), error) {
	store, cfg, err := c.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	salts, err := salt.NewManager(salt.ManagerParams{Store: store})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	guard := secmem.New(secmem.Config{TTL: cfg.Vault.MemoryTTL, SweepInterval: -1})
	vault, err := seedvault.New(seedvault.Params{
		Store:          store,
		Salts:          salts,
		Guard:          guard,
		Audit:          c.auditRecorder(cfg),
		MinCredentials: cfg.Vault.MinCredentials,
		MaxCredentials: cfg.Vault.MaxCredentials,
	})
	if err != nil {
		_ = guard.Close()
		_ = store.Close()
		return nil, nil, err
	}
	return vault, func() {
		_ = guard.Close()
		_ = store.Close()
	}, nil
}
