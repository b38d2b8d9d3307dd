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

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-seedvault/pkg/authenticator"
)

// Device is a virtual security key. virtualwebauthn produces the
// attestation and assertion payloads; a software authenticator bound to the
// same credential id answers PRF requests.
type Device struct {
	RP         virtualwebauthn.RelyingParty
	Auth       virtualwebauthn.Authenticator
	Credential virtualwebauthn.Credential

	prf   *authenticator.Software
	noPRF bool
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithoutPRF makes the device behave like a key without PRF or hmac-secret.
func WithoutPRF() DeviceOption {
	return func(d *Device) {
		d.noPRF = true
	}
}

// NewDevice creates a virtual key for the relying party.
func NewDevice(rpID, rpName, origin string, opts ...DeviceOption) (*Device, error) {
	d := &Device{
		RP:         virtualwebauthn.RelyingParty{ID: rpID, Name: rpName, Origin: origin},
		Auth:       virtualwebauthn.NewAuthenticator(),
		Credential: virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2),
	}
	prf, err := authenticator.NewSoftware(authenticator.WithSoftwareCredentialID(d.Credential.ID))
	if err != nil {
		return nil, err
	}
	d.prf = prf
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// ID returns the credential id.
func (d *Device) ID() []byte {
	return d.Credential.ID
}

// SetCounter sets the signature counter reported by the next assertion.
func (d *Device) SetCounter(n uint32) {
	d.Credential.Counter = n
}

// Secret returns the PRF output the device produces for salt.
func (d *Device) Secret(salt []byte) []byte {
	out, _ := d.prf.ExtensionSecret(context.Background(), d.Credential.ID, salt)
	return out
}

// AttestJSON answers registration options with a credential JSON body.
func (d *Device) AttestJSON(options *protocol.CredentialCreation) ([]byte, error) {
	optionsJSON, err := json.Marshal(options.Response)
	if err != nil {
		return nil, err
	}
	parsed, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	if err != nil {
		return nil, fmt.Errorf("parse attestation options: %w", err)
	}
	raw := virtualwebauthn.CreateAttestationResponse(d.RP, d.Auth, d.Credential, *parsed)

	var ccr protocol.CredentialCreationResponse
	if err := json.Unmarshal([]byte(raw), &ccr); err != nil {
		return nil, err
	}
	if !d.noPRF {
		ccr.ClientExtensionResults = d.prf.RegistrationResults()
	}
	d.Auth.AddCredential(d.Credential)
	return json.Marshal(ccr)
}

// Attest answers registration options with a parsed credential.
func (d *Device) Attest(options *protocol.CredentialCreation) (*protocol.ParsedCredentialCreationData, error) {
	body, err := d.AttestJSON(options)
	if err != nil {
		return nil, err
	}
	return protocol.ParseCredentialCreationResponseBytes(body)
}

// AssertJSON answers authentication options with a credential JSON body.
// The counter advances before every assertion, as on a real key.
func (d *Device) AssertJSON(options *protocol.CredentialAssertion) ([]byte, error) {
	optionsJSON, err := json.Marshal(options.Response)
	if err != nil {
		return nil, err
	}
	parsed, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	if err != nil {
		return nil, fmt.Errorf("parse assertion options: %w", err)
	}

	d.Credential.Counter++
	raw := virtualwebauthn.CreateAssertionResponse(d.RP, d.Auth, d.Credential, *parsed)

	var car protocol.CredentialAssertionResponse
	if err := json.Unmarshal([]byte(raw), &car); err != nil {
		return nil, err
	}
	if !d.noPRF {
		results, err := d.prf.ClientExtensionResults(options.Response.Extensions)
		if err != nil {
			return nil, err
		}
		car.ClientExtensionResults = results
	}
	return json.Marshal(car)
}

// Assert answers authentication options with a parsed assertion.
func (d *Device) Assert(options *protocol.CredentialAssertion) (*protocol.ParsedCredentialAssertionData, error) {
	body, err := d.AssertJSON(options)
	if err != nil {
		return nil, err
	}
	return protocol.ParseCredentialRequestResponseBytes(body)
}

// Clock is a manually advanced clock safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
