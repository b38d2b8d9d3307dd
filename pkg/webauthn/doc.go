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

// Package webauthn runs the WebAuthn (FIDO2) ceremonies that gate access
// to the vault.
//
// It wraps the go-webauthn/webauthn library. Ceremony state lives in the
// challenges table, one row per (user, purpose):
//
//  1. Begin upserts the row, so a newer begin invalidates an older one.
//  2. Complete verifies the client response, then consumes the row with a
//     conditional delete. A second completion finds nothing and fails
//     with types.ErrNoActiveChallenge.
//  3. A completion after the row's expiry deletes it and fails with
//     types.ErrExpiredChallenge.
//
// Registration requests the PRF and hmac-secret extensions and records
// the credential's capability. Authentication sends each
// deterministic-secret credential its salts through PRF evalByCredential
// and returns the resulting device secrets in an Assertion once the
// signature has verified.
//
// # Usage
//
//	svc, err := webauthn.NewService(webauthn.ServiceParams{
//	    Config: &webauthn.Config{
//	        RPID:          "vault.example.com",
//	        RPDisplayName: "Seed Vault",
//	        RPOrigins:     []string{"https://vault.example.com"},
//	    },
//	    Store: store,
//	    Salts: saltManager,
//	})
//
//	options, err := svc.BeginAuthentication(ctx, userID)
//	// send options to the browser, receive the credential JSON
//	parsed, err := webauthn.ParseCredentialAssertion(body)
//	assertion, err := svc.CompleteAuthentication(ctx, userID, parsed)
//	defer assertion.Zero()
//
// The http subpackage mounts these operations on a chi router.
package webauthn
