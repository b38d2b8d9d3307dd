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

package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
)

// TLSConfig contains listener TLS settings.
type TLSConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	CertFile   string `yaml:"cert_file" json:"cert_file" mapstructure:"cert_file"`
	KeyFile    string `yaml:"key_file" json:"key_file" mapstructure:"key_file"`
	MinVersion string `yaml:"min_version" json:"min_version" mapstructure:"min_version"`

	// ClientAuth is none, request, require, verify_if_given or
	// require_and_verify.
	ClientAuth   string `yaml:"client_auth,omitempty" json:"client_auth,omitempty" mapstructure:"client_auth"`
	ClientCAFile string `yaml:"client_ca_file,omitempty" json:"client_ca_file,omitempty" mapstructure:"client_ca_file"`
}

// Validate checks the TLS settings without reading any files.
func (cfg *TLSConfig) Validate() error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return fmt.Errorf("tls: cert_file and key_file are required when TLS is enabled")
	}
	if _, err := parseTLSVersion(cfg.MinVersion); err != nil {
		return err
	}
	auth, err := parseClientAuthType(cfg.ClientAuth)
	if err != nil {
		return err
	}
	if auth >= tls.VerifyClientCertIfGiven && cfg.ClientCAFile == "" {
		return fmt.Errorf("tls: client_ca_file is required for client_auth %q", cfg.ClientAuth)
	}
	return nil
}

// LoadTLSConfig builds a tls.Config. It returns nil when TLS is disabled.
func (cfg *TLSConfig) LoadTLSConfig() (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	minVersion, _ := parseTLSVersion(cfg.MinVersion)
	clientAuth, _ := parseClientAuthType(cfg.ClientAuth)

	// #nosec G402 - MinVersion is never below TLS 1.2
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		ClientAuth:   clientAuth,
	}

	if cfg.ClientCAFile != "" {
		pool, err := loadCertPool(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client CA certificates: %w", err)
		}
		tlsConfig.ClientCAs = pool
	}
	return tlsConfig, nil
}

func parseTLSVersion(version string) (uint16, error) {
	switch strings.ToUpper(strings.ReplaceAll(version, " ", "")) {
	case "", "TLS1.2", "1.2":
		return tls.VersionTLS12, nil
	case "TLS1.3", "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("tls: unsupported min_version %q (TLS1.2 or TLS1.3)", version)
	}
}

func parseClientAuthType(authType string) (tls.ClientAuthType, error) {
	switch strings.ToLower(authType) {
	case "", "none":
		return tls.NoClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "require":
		return tls.RequireAnyClientCert, nil
	case "verify_if_given":
		return tls.VerifyClientCertIfGiven, nil
	case "require_and_verify":
		return tls.RequireAndVerifyClientCert, nil
	default:
		return tls.NoClientCert, fmt.Errorf("tls: unknown client_auth %q", authType)
	}
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	// #nosec G304 - CA file path is provided by the operator
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return pool, nil
}
