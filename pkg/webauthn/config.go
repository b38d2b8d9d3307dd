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

package webauthn

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// DefaultTimeout is the ceremony timeout and challenge lifetime.
const DefaultTimeout = 60 * time.Second

// Config configures the challenge manager.
type Config struct {
	// RPID is the Relying Party identifier, typically the domain name.
	// Example: "vault.example.com"
	RPID string `yaml:"id" json:"id" mapstructure:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	RPDisplayName string `yaml:"display_name" json:"display_name" mapstructure:"display_name"`

	// RPOrigins are the allowed origins for WebAuthn operations.
	// Example: []string{"https://vault.example.com"}
	RPOrigins []string `yaml:"origins" json:"origins" mapstructure:"origins"`

	// Timeout is sent to the client as the ceremony timeout and is also the
	// lifetime of a stored challenge.
	// Default: 60s
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`

	// UserVerification specifies the user verification requirement.
	// Options: "required", "preferred", "discouraged"
	// Default: "required"
	UserVerification string `yaml:"user_verification" json:"user_verification" mapstructure:"user_verification"`

	// AttestationPreference specifies the attestation conveyance preference.
	// Options: "none", "indirect", "direct", "enterprise"
	// Default: "none"
	AttestationPreference string `yaml:"attestation" json:"attestation" mapstructure:"attestation"`

	// ResidentKeyRequirement specifies whether to require resident keys.
	// Options: "required", "preferred", "discouraged"
	// Default: "discouraged"
	ResidentKeyRequirement string `yaml:"resident_key" json:"resident_key" mapstructure:"resident_key"`

	// AuthenticatorAttachment limits the type of authenticators allowed.
	// Options: "platform", "cross-platform", "" (any)
	// Default: "cross-platform"
	AuthenticatorAttachment string `yaml:"authenticator_attachment" json:"authenticator_attachment" mapstructure:"authenticator_attachment"`

	// Debug enables debug logging in go-webauthn.
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`
}

var (
	userVerification = map[string]protocol.UserVerificationRequirement{
		"required":    protocol.VerificationRequired,
		"preferred":   protocol.VerificationPreferred,
		"discouraged": protocol.VerificationDiscouraged,
	}
	attestationPreference = map[string]protocol.ConveyancePreference{
		"none":       protocol.PreferNoAttestation,
		"indirect":   protocol.PreferIndirectAttestation,
		"direct":     protocol.PreferDirectAttestation,
		"enterprise": protocol.PreferEnterpriseAttestation,
	}
	residentKey = map[string]protocol.ResidentKeyRequirement{
		"required":    protocol.ResidentKeyRequirementRequired,
		"preferred":   protocol.ResidentKeyRequirementPreferred,
		"discouraged": protocol.ResidentKeyRequirementDiscouraged,
	}
	attachment = map[string]protocol.AuthenticatorAttachment{
		"platform":       protocol.Platform,
		"cross-platform": protocol.CrossPlatform,
	}
)

// oneOf accepts an empty value or a key of allowed.
func oneOf[T any](name, value string, allowed map[string]T) error {
	if value == "" {
		return nil
	}
	if _, ok := allowed[value]; !ok {
		return fmt.Errorf("invalid %s: %s", name, value)
	}
	return nil
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if len(c.RPOrigins) == 0 {
		return fmt.Errorf("at least one RPOrigin is required")
	}
	for _, o := range c.RPOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid origin: %q", o)
		}
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	return errors.Join(
		oneOf("user verification", c.UserVerification, userVerification),
		oneOf("attestation preference", c.AttestationPreference, attestationPreference),
		oneOf("resident key requirement", c.ResidentKeyRequirement, residentKey),
		oneOf("authenticator attachment", c.AuthenticatorAttachment, attachment),
	)
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.UserVerification == "" {
		c.UserVerification = "required"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "none"
	}
	if c.ResidentKeyRequirement == "" {
		c.ResidentKeyRequirement = "discouraged"
	}
	if c.AuthenticatorAttachment == "" {
		c.AuthenticatorAttachment = "cross-platform"
	}
}

// ToWebAuthnConfig converts the Config to the go-webauthn library's
// configuration. Unset options keep the library defaults.
//
// Timeouts are not enforced by go-webauthn. Challenge expiry is checked
// against the stored challenge row instead.
func (c *Config) ToWebAuthnConfig() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:                  c.RPID,
		RPDisplayName:         c.RPDisplayName,
		RPOrigins:             c.RPOrigins,
		Debug:                 c.Debug,
		AttestationPreference: attestationPreference[c.AttestationPreference],
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			UserVerification:        userVerification[c.UserVerification],
			ResidentKey:             residentKey[c.ResidentKeyRequirement],
			AuthenticatorAttachment: attachment[c.AuthenticatorAttachment],
		},
	}

	if c.Timeout > 0 {
		t := webauthn.TimeoutConfig{Timeout: c.Timeout, TimeoutUVD: c.Timeout}
		cfg.Timeouts = webauthn.TimeoutsConfig{Login: t, Registration: t}
	}
	return cfg
}
