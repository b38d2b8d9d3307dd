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

package authenticator

import (
	"encoding/base64"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// Client extension identifiers.
const (
	ExtensionPRF              = "prf"
	ExtensionHMACCreateSecret = "hmacCreateSecret"
	ExtensionHMACGetSecret    = "hmacGetSecret"
)

// PRFInput is the pair of salts evaluated for one credential. Second is
// optional and carries a pending salt rotation.
type PRFInput struct {
	First  []byte
	Second []byte
}

// PRFOutput holds the decoded extension results of one assertion.
type PRFOutput struct {
	First  []byte
	Second []byte
}

// Zero clears both outputs.
func (o *PRFOutput) Zero() {
	if o == nil {
		return
	}
	clear(o.First)
	clear(o.Second)
}

// RegistrationExtensions asks the client to enable PRF and hmac-secret for
// the credential being created.
func RegistrationExtensions() protocol.AuthenticationExtensions {
	return protocol.AuthenticationExtensions{
		ExtensionPRF:              map[string]any{},
		ExtensionHMACCreateSecret: true,
	}
}

// AssertionExtensions builds the PRF evalByCredential input keyed by the
// base64url credential id. When exactly one credential is listed the legacy
// hmacGetSecret input is sent as well.
func AssertionExtensions(inputs map[string]PRFInput) protocol.AuthenticationExtensions {
	if len(inputs) == 0 {
		return nil
	}

	byCredential := make(map[string]any, len(inputs))
	for id, in := range inputs {
		byCredential[id] = prfValues(in, "first", "second")
	}

	ext := protocol.AuthenticationExtensions{
		ExtensionPRF: map[string]any{
			"evalByCredential": byCredential,
		},
	}

	if len(inputs) == 1 {
		for _, in := range inputs {
			ext[ExtensionHMACGetSecret] = prfValues(in, "salt1", "salt2")
		}
	}
	return ext
}

func prfValues(in PRFInput, firstKey, secondKey string) map[string]any {
	values := map[string]any{
		firstKey: base64.RawURLEncoding.EncodeToString(in.First),
	}
	if len(in.Second) > 0 {
		values[secondKey] = base64.RawURLEncoding.EncodeToString(in.Second)
	}
	return values
}

// DetectCapability inspects registration client extension results.
func DetectCapability(outputs protocol.AuthenticationExtensionsClientOutputs) types.Capability {
	if prf, ok := outputs[ExtensionPRF].(map[string]any); ok {
		if enabled, ok := prf["enabled"].(bool); ok && enabled {
			return types.CapabilityDeterministicSecret
		}
		// Some clients evaluate at creation time instead of reporting enabled.
		if results, ok := prf["results"].(map[string]any); ok && results["first"] != nil {
			return types.CapabilityDeterministicSecret
		}
	}
	if enabled, ok := outputs[ExtensionHMACCreateSecret].(bool); ok && enabled {
		return types.CapabilityDeterministicSecret
	}
	return types.CapabilitySignatureOnly
}

// ParseSecretOutputs extracts the PRF or hmac-secret results from assertion
// client extension results. It returns nil, nil when neither is present.
func ParseSecretOutputs(outputs protocol.AuthenticationExtensionsClientOutputs) (*PRFOutput, error) {
	if prf, ok := outputs[ExtensionPRF].(map[string]any); ok {
		if results, ok := prf["results"].(map[string]any); ok {
			return decodeOutput(results, "first", "second")
		}
	}
	if hmac, ok := outputs[ExtensionHMACGetSecret].(map[string]any); ok {
		return decodeOutput(hmac, "output1", "output2")
	}
	return nil, nil
}

func decodeOutput(values map[string]any, firstKey, secondKey string) (*PRFOutput, error) {
	first, err := decodeBinary(values[firstKey])
	if err != nil {
		return nil, types.NewValidationError(firstKey, err.Error())
	}
	if len(first) < MinSecretSize {
		return nil, ErrSecretTooShort
	}

	out := &PRFOutput{First: first}
	if raw, ok := values[secondKey]; ok && raw != nil {
		second, err := decodeBinary(raw)
		if err != nil {
			return nil, types.NewValidationError(secondKey, err.Error())
		}
		if len(second) < MinSecretSize {
			return nil, ErrSecretTooShort
		}
		out.Second = second
	}
	return out, nil
}

// decodeBinary accepts the base64url strings produced by JSON-serializing
// clients, falling back to padded and standard alphabets.
func decodeBinary(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected base64 string, got %T", v)
	}
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("invalid base64 value")
}
