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

package server

import (
	"fmt"

	"github.com/jeremyhahn/go-seedvault/internal/config"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
)

// Reload applies the parts of cfg that can change without a restart. Only
// the log level is applied; other changes are logged and ignored.
func (s *Server) Reload(cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("failed to reload logging configuration: %w", err)
	}

	if cfg.Logging.Level != s.config.Logging.Level {
		logger.SetLevel(s.level, level)
		s.logger.Info("log level updated",
			logger.String("old_level", s.config.Logging.Level),
			logger.String("new_level", cfg.Logging.Level))
		s.config.Logging.Level = cfg.Logging.Level
	}
	if cfg.Logging.Format != s.config.Logging.Format {
		s.logger.Warn("log format change requires a restart", logger.String("format", cfg.Logging.Format))
	}
	return nil
}

// ReloadFile re-reads the configuration file given to WithConfigPath.
func (s *Server) ReloadFile() error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}
	return s.Reload(cfg)
}
