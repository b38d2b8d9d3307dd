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

// Package http exposes the vault over JSON HTTP endpoints.
//
// # Usage
//
// Create a handler from the ceremony service, the vault and a token
// generator, and mount it on a chi router:
//
//	handler := webauthnhttp.NewHandler(svc, vault, jwtGen).WithLogger(log)
//	r.Route("/api/v1", func(r chi.Router) {
//	    webauthnhttp.MountChi(r, handler)
//	})
//
// # Endpoints
//
//	POST   /users                     - Create a user
//	POST   /registration/begin        - Start registration ceremony
//	POST   /registration/finish       - Register a credential
//	POST   /authentication/begin      - Start authentication ceremony
//	POST   /authentication/finish     - Authenticate, returns a bearer token
//	POST   /seed/store                - Store a mnemonic under every credential
//	POST   /seed/retrieve             - Decrypt the seed into a memory handle
//	GET    /memory/{handle}           - Read a held mnemonic (bearer)
//	DELETE /memory/{handle}           - Release a held mnemonic (bearer)
//	POST   /memory/{handle}/extend    - Keep a held mnemonic longer (bearer)
//	POST   /credentials/enroll        - Wrap the seed for another credential
//	GET    /status                    - Seed and credential summary (bearer)
//	PUT    /profile                   - Update the display name (bearer)
//	DELETE /seed                      - Delete the seed (bearer)
//	GET    /credentials               - List credentials (bearer)
//	PATCH  /credentials/{id}          - Rename a credential (bearer)
//	DELETE /credentials/{id}          - Revoke a credential (bearer)
//	POST   /credentials/{id}/primary  - Mark a credential primary (bearer)
//	POST   /credentials/{id}/rotate   - Rotate a credential's salt (bearer)
//
// Routes that take assertions answer the challenge issued by
// /authentication/begin. Credential ids in paths are unpadded base64url.
// /seed/retrieve returns a bearer token with the handle; a handle can only
// be used with a token of the user who retrieved it.
//
// # Response Format
//
// All responses are JSON. Error responses have the format:
//
//	{
//	    "error": "error_code",
//	    "message": "Human-readable message"
//	}
//
// Every signature, counter or decryption failure is reported as
// verification_failed, and every missing, replayed or expired challenge as
// invalid_session.
package http
