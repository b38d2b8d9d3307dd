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

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// ErrInvalidState is returned when a stored ceremony session cannot be decoded.
var ErrInvalidState = errors.New("invalid ceremony state")

// protocolFields describes a go-webauthn failure for debug logging. The
// fields never reach callers.
func protocolFields(err error) []logger.Field {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		return []logger.Field{logger.Error(err)}
	}
	fields := []logger.Field{
		logger.String("type", perr.Type),
		logger.String("details", perr.Details),
	}
	if perr.DevInfo != "" {
		fields = append(fields, logger.String("dev_info", perr.DevInfo))
	}
	if perr.Err != nil {
		fields = append(fields, logger.Error(perr.Err))
	}
	return fields
}

// malformed converts a response decoding failure into a validation error.
func malformed(field string, err error) error {
	var perr *protocol.Error
	if errors.As(err, &perr) && perr.Details != "" {
		return types.NewValidationError(field, perr.Details)
	}
	return types.NewValidationError(field, err.Error())
}

// ParseCredentialCreation decodes a JSON-encoded PublicKeyCredential from a
// registration ceremony. Structural problems return a validation error.
func ParseCredentialCreation(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	if len(data) == 0 {
		return nil, types.NewValidationError("credential", "must not be empty")
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(data)
	if err != nil {
		return nil, malformed("credential", err)
	}
	return parsed, nil
}

// ParseCredentialAssertion decodes a JSON-encoded PublicKeyCredential from
// an authentication ceremony. Structural problems return a validation error.
func ParseCredentialAssertion(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if len(data) == 0 {
		return nil, types.NewValidationError("assertion", "must not be empty")
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes(data)
	if err != nil {
		return nil, malformed("assertion", err)
	}
	return parsed, nil
}
