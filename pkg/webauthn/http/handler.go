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

package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/secmem"
	"github.com/jeremyhahn/go-seedvault/pkg/seedvault"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
	"github.com/jeremyhahn/go-seedvault/pkg/webauthn"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// TokenService issues and verifies the bearer tokens returned by
// FinishAuthentication. *webauthn.DefaultJWTGenerator implements it.
type TokenService interface {
	webauthn.TokenGenerator
	webauthn.TokenVerifier
}

var _ TokenService = (*webauthn.DefaultJWTGenerator)(nil)

type contextKey struct{}

// Handler provides HTTP handlers for the ceremony, seed and credential
// operations. These handlers are mounted on a chi router with MountChi.
type Handler struct {
	service      *webauthn.Service
	vault        *seedvault.Vault
	tokens       TokenService
	logger       logger.Logger
	maxBodyBytes int64
}

// NewHandler creates a new handler.
func NewHandler(service *webauthn.Service, vault *seedvault.Vault, tokens TokenService) *Handler {
	return &Handler{
		service:      service,
		vault:        vault,
		tokens:       tokens,
		logger:       logger.Discard(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(l logger.Logger) *Handler {
	h.logger = logger.OrDiscard(l)
	return h
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func (h *Handler) WithMaxBodyBytes(n int64) *Handler {
	if n > 0 {
		h.maxBodyBytes = n
	}
	return h
}

// CreateUser handles POST /users
//
// Request body:
//
//	{
//	    "name": "alice",
//	    "display_name": "Alice" // optional
//	}
//
// Response: 201 UserResponse
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.vault.CreateUser(r.Context(), req.Name, req.DisplayName)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, userResponse(u))
}

// BeginRegistration handles POST /registration/begin
//
// Request body: {"user_id": "..."}
// Response: WebAuthn PublicKeyCredentialCreationOptions
func (h *Handler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if !h.decodeUser(w, r, &req, &req.UserID) {
		return
	}
	options, err := h.service.BeginRegistration(r.Context(), req.UserID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, options)
}

// FinishRegistration handles POST /registration/finish
//
// Request body: {"user_id": "...", "credential": PublicKeyCredential}
// Response: 201 CredentialResponse
func (h *Handler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	var req FinishRegistrationRequest
	if !h.decodeUser(w, r, &req, &req.UserID) {
		return
	}
	parsed, err := webauthn.ParseCredentialCreation(req.Credential)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	cred, err := h.service.CompleteRegistration(r.Context(), req.UserID, parsed)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, credentialResponse(cred))
}

// BeginAuthentication handles POST /authentication/begin
//
// The returned options serve every finish route that takes assertions:
// /authentication/finish, /seed/store, /seed/retrieve and
// /credentials/enroll.
//
// Request body: {"user_id": "..."}
// Response: WebAuthn PublicKeyCredentialRequestOptions
func (h *Handler) BeginAuthentication(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if !h.decodeUser(w, r, &req, &req.UserID) {
		return
	}
	options, err := h.service.BeginAuthentication(r.Context(), req.UserID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, options)
}

// FinishAuthentication handles POST /authentication/finish
//
// Request body: {"user_id": "...", "assertion": PublicKeyCredential}
// Response: AuthResponse with a bearer token
func (h *Handler) FinishAuthentication(w http.ResponseWriter, r *http.Request) {
	var req FinishAuthenticationRequest
	if !h.decodeUser(w, r, &req, &req.UserID) {
		return
	}
	parsed, err := webauthn.ParseCredentialAssertion(req.Assertion)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	a, err := h.service.CompleteAuthentication(r.Context(), req.UserID, parsed)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	a.Zero()

	token, err := h.tokens.GenerateToken(r.Context(), a.UserID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, AuthResponse{
		Token:        token,
		UserID:       a.UserID,
		CloneWarning: a.Warning != nil,
	})
}

// StoreSeed handles POST /seed/store
//
// Request body:
//
//	{
//	    "user_id": "...",
//	    "mnemonic": "abandon abandon ... about",
//	    "assertions": [PublicKeyCredential, ...] // one per credential
//	}
//
// Response: 201 StoreSeedResponse
func (h *Handler) StoreSeed(w http.ResponseWriter, r *http.Request) {
	var req StoreSeedRequest
	if !h.decodeUser(w, r, &req, &req.UserID) {
		return
	}
	phrase := []byte(req.Mnemonic)
	defer clear(phrase)

	assertions, err := h.verifySet(r.Context(), req.UserID, req.Assertions...)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer webauthn.ZeroAll(assertions)

	seedID, err := h.vault.StoreSeed(r.Context(), req.UserID, phrase, seedvault.GrantsFrom(assertions)...)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, StoreSeedResponse{SeedID: seedID})
}

// RetrieveSeed handles POST /seed/retrieve
//
// The decrypted seed is held server side; the response names the handle
// to read it from. When the assertion carries a secret for a pending salt
// the rotation is completed as well.
//
// Request body: {"user_id": "...", "assertion": PublicKeyCredential}
// Response: HandleResponse
func (h *Handler) RetrieveSeed(w http.ResponseWriter, r *http.Request) {
	var req RetrieveSeedRequest
	if !h.decodeUser(w, r, &req, &req.UserID) {
		return
	}
	assertions, err := h.verifySet(r.Context(), req.UserID, req.Assertion)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer webauthn.ZeroAll(assertions)
	a := assertions[0]

	handle, err := h.vault.RetrieveSeed(r.Context(), req.UserID, seedvault.GrantFrom(a))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	if a.HasPendingRotation() {
		if err := h.vault.CompleteRotation(r.Context(), req.UserID, a); err != nil {
			h.logger.WithContext(r.Context()).Warn("salt rotation not completed",
				logger.UserID(req.UserID),
				logger.CredentialID(a.CredentialID),
				logger.Error(err))
		}
	}

	expiresAt, err := h.vault.Guard().ExpiresAt(handle)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	token, err := h.tokens.GenerateToken(r.Context(), req.UserID)
	if err != nil {
		h.vault.ReleaseSeed(handle)
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, HandleResponse{Handle: string(handle), ExpiresAt: expiresAt, Token: token})
}

// ownedHandle returns the URL's handle when it is live and was retrieved
// by the token's subject. Any other handle reads as expired.
func (h *Handler) ownedHandle(w http.ResponseWriter, r *http.Request) (secmem.Handle, bool) {
	handle := secmem.Handle(chi.URLParam(r, "handle"))
	owner, err := h.vault.Guard().Owner(handle)
	if err == nil && owner != subject(r) {
		h.logger.WithContext(r.Context()).Warn("memory handle used by another user",
			logger.UserID(subject(r)))
		err = types.ErrExpired
	}
	if err != nil {
		h.handleServiceError(w, r, err)
		return "", false
	}
	return handle, true
}

// ReadMemory handles GET /memory/{handle} (bearer)
//
// Response: MnemonicResponse, or 410 once the handle has expired or been
// released.
func (h *Handler) ReadMemory(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.ownedHandle(w, r)
	if !ok {
		return
	}
	expiresAt, err := h.vault.Guard().ExpiresAt(handle)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	phrase, err := h.vault.ReadSeed(handle)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer clear(phrase)

	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, http.StatusOK, MnemonicResponse{Mnemonic: string(phrase), ExpiresAt: expiresAt})
}

// ReleaseMemory handles DELETE /memory/{handle} (bearer)
//
// Response: 204, or 410 when the handle was no longer held.
func (h *Handler) ReleaseMemory(w http.ResponseWriter, r *http.Request) {
	handle, ok := h.ownedHandle(w, r)
	if !ok {
		return
	}
	if !h.vault.ReleaseSeed(handle) {
		h.handleServiceError(w, r, types.ErrExpired)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExtendMemory handles POST /memory/{handle}/extend (bearer)
//
// Request body (optional): {"seconds": 30}. Without a body the guard's
// default TTL applies.
// Response: HandleResponse
func (h *Handler) ExtendMemory(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	if req.Seconds < 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "seconds must not be negative")
		return
	}

	handle, ok := h.ownedHandle(w, r)
	if !ok {
		return
	}
	if err := h.vault.ExtendSeed(handle, time.Duration(req.Seconds)*time.Second); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	expiresAt, err := h.vault.Guard().ExpiresAt(handle)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, HandleResponse{Handle: string(handle), ExpiresAt: expiresAt})
}

// UpdateProfile handles PUT /profile (bearer)
//
// Request body: {"display_name": "Alice"}
// Response: UserResponse
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.vault.UpdateDisplayName(r.Context(), subject(r), req.DisplayName)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, userResponse(u))
}

// DeleteSeed handles DELETE /seed for the token's subject.
func (h *Handler) DeleteSeed(w http.ResponseWriter, r *http.Request) {
	if err := h.vault.DeleteSeed(r.Context(), subject(r)); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EnrollCredential handles POST /credentials/enroll
//
// Request body:
//
//	{
//	    "user_id": "...",
//	    "unlock": PublicKeyCredential, // a credential that opens the seed
//	    "target": PublicKeyCredential  // the credential to enroll
//	}
//
// Both assertions answer the same authentication challenge.
// Response: 204
func (h *Handler) EnrollCredential(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !h.decodeUser(w, r, &req, &req.UserID) {
		return
	}
	assertions, err := h.verifySet(r.Context(), req.UserID, req.Unlock, req.Target)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	defer webauthn.ZeroAll(assertions)

	err = h.vault.EnrollCredential(r.Context(), req.UserID,
		seedvault.GrantFrom(assertions[0]), seedvault.GrantFrom(assertions[1]))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /status (bearer)
//
// Response: StatusResponse
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.vault.SeedStatus(r.Context(), subject(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse(st))
}

// ListCredentials handles GET /credentials (bearer)
//
// Response: [CredentialResponse, ...]
func (h *Handler) ListCredentials(w http.ResponseWriter, r *http.Request) {
	creds, err := h.vault.ListCredentials(r.Context(), subject(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	out := make([]CredentialResponse, 0, len(creds))
	for _, c := range creds {
		out = append(out, credentialResponse(c))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// RevokeCredential handles DELETE /credentials/{id} (bearer)
//
// Response: 204, or 409 last_credential when the credential is the only
// one able to open the seed.
func (h *Handler) RevokeCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := h.credentialID(w, r)
	if !ok {
		return
	}
	if err := h.vault.RevokeCredential(r.Context(), subject(r), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetPrimary handles POST /credentials/{id}/primary (bearer)
//
// Response: 204
func (h *Handler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	id, ok := h.credentialID(w, r)
	if !ok {
		return
	}
	if err := h.vault.SetPrimary(r.Context(), subject(r), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenameCredential handles PATCH /credentials/{id} (bearer)
//
// Request body: {"nickname": "backup key"}
// Response: 204
func (h *Handler) RenameCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := h.credentialID(w, r)
	if !ok {
		return
	}
	var req RenameRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.vault.RenameCredential(r.Context(), subject(r), id, req.Nickname); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateSalt handles POST /credentials/{id}/rotate (bearer)
//
// The rotation completes on the credential's next /seed/retrieve.
// Response: 202 RotationResponse
func (h *Handler) RotateSalt(w http.ResponseWriter, r *http.Request) {
	id, ok := h.credentialID(w, r)
	if !ok {
		return
	}
	s, err := h.vault.RotateSalt(r.Context(), subject(r), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, RotationResponse{SaltID: s.ID, CreatedAt: s.CreatedAt})
}

// RequireToken is middleware that admits requests carrying a valid
// "Authorization: Bearer" token and records its subject as the user.
func (h *Handler) RequireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "bearer token required")
			return
		}
		userID, err := h.tokens.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			h.logger.WithContext(r.Context()).Debug("bearer token rejected", logger.Error(err))
			h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, userID)))
	})
}

func subject(r *http.Request) string {
	id, _ := r.Context().Value(contextKey{}).(string)
	return id
}

// verifySet parses raw assertions and verifies them as one set. The
// returned assertions are in request order.
func (h *Handler) verifySet(ctx context.Context, userID string, raw ...json.RawMessage) ([]*webauthn.Assertion, error) {
	parsed := make([]*protocol.ParsedCredentialAssertionData, 0, len(raw))
	for _, msg := range raw {
		p, err := webauthn.ParseCredentialAssertion(msg)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
	}
	return h.service.CompleteAuthenticationSet(ctx, userID, parsed...)
}

func (h *Handler) credentialID(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	id, err := types.DecodeID(chi.URLParam(r, "id"))
	if err != nil || len(id) == 0 {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential id")
		return nil, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return false
	}
	return true
}

// decodeUser decodes the body and requires a non-empty user id.
func (h *Handler) decodeUser(w http.ResponseWriter, r *http.Request, v any, userID *string) bool {
	if !h.decode(w, r, v) {
		return false
	}
	if strings.TrimSpace(*userID) == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "user_id is required")
		return false
	}
	return true
}

// handleServiceError maps service errors to HTTP responses. Verification
// failures share one opaque code whatever their cause, and so do missing,
// replayed and expired challenges.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, verr.Error())
	case errors.Is(err, types.ErrAuthenticationFailed):
		h.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")
	case errors.Is(err, types.ErrNoActiveChallenge), errors.Is(err, types.ErrExpiredChallenge):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidSession, "invalid session")
	case errors.Is(err, types.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeUserNotFound, "user not found")
	case errors.Is(err, types.ErrUserAlreadyExists):
		h.writeError(w, http.StatusConflict, ErrorCodeUserExists, "user already exists")
	case errors.Is(err, types.ErrCredentialNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeNoCredentials, "credential not found")
	case errors.Is(err, types.ErrCredentialAlreadyExists):
		h.writeError(w, http.StatusConflict, ErrorCodeCredentialExists, "credential already registered")
	case errors.Is(err, types.ErrLimitExceeded):
		h.writeError(w, http.StatusConflict, ErrorCodeLimitExceeded, "credential limit reached")
	case errors.Is(err, types.ErrLastCredential):
		h.writeError(w, http.StatusConflict, ErrorCodeLastCredential, "credential is required to open the seed")
	case errors.Is(err, types.ErrSeedNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeSeedNotFound, "no seed stored")
	case errors.Is(err, types.ErrWrappedKeyNotFound), errors.Is(err, types.ErrSaltNotFound):
		h.writeError(w, http.StatusNotFound, ErrorCodeNotEnrolled, "credential cannot open the seed")
	case errors.Is(err, types.ErrCapabilityUnavailable):
		h.writeError(w, http.StatusUnprocessableEntity, ErrorCodeCapabilityUnavailable, "authenticator returned no device secret")
	case errors.Is(err, types.ErrExpired):
		h.writeError(w, http.StatusGone, ErrorCodeHandleExpired, "handle expired")
	default:
		h.logger.WithContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			logger.Error(err),
			logger.Int("status", status))
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
