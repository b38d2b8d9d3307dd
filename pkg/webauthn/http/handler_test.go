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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-seedvault/internal/testutil"
	"github.com/jeremyhahn/go-seedvault/pkg/salt"
	"github.com/jeremyhahn/go-seedvault/pkg/secmem"
	"github.com/jeremyhahn/go-seedvault/pkg/seedvault"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
	"github.com/jeremyhahn/go-seedvault/pkg/webauthn"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	clock   *testutil.Clock
	handler *Handler
	router  chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.OpenInMemory(ctx, t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := testutil.NewClock(epoch)
	salts, err := salt.NewManager(salt.ManagerParams{Store: store, Clock: clock.Now})
	require.NoError(t, err)

	svc, err := webauthn.NewService(webauthn.ServiceParams{
		Config: &webauthn.Config{
			RPID:          "example.com",
			RPDisplayName: "Seed Vault",
			RPOrigins:     []string{"https://example.com"},
		},
		Store: store,
		Salts: salts,
		Clock: clock.Now,
	})
	require.NoError(t, err)

	guard := secmem.New(secmem.Config{TTL: time.Minute, SweepInterval: -1, Clock: clock.Now})
	t.Cleanup(func() { _ = guard.Close() })

	vault, err := seedvault.New(seedvault.Params{Store: store, Salts: salts, Guard: guard, Clock: clock.Now})
	require.NoError(t, err)

	tokens, err := webauthn.NewDefaultJWTGenerator(&webauthn.JWTGeneratorConfig{
		Secret: bytes.Repeat([]byte{7}, webauthn.MinSecretLength),
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	h := NewHandler(svc, vault, tokens)
	r := chi.NewRouter()
	MountChi(r, h)
	return &fixture{clock: clock, handler: h, router: r}
}

func (f *fixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func assertError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	assert.Equal(t, status, rr.Code, rr.Body.String())
	resp := decodeBody[ErrorResponse](t, rr)
	assert.Equal(t, code, resp.Error)
}

func (f *fixture) createUser(t *testing.T, name string) string {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/users", CreateUserRequest{Name: name}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[UserResponse](t, rr).ID
}

func (f *fixture) register(t *testing.T, userID string) *testutil.Device {
	t.Helper()
	dev, err := testutil.NewDevice("example.com", "Seed Vault", "https://example.com")
	require.NoError(t, err)

	rr := f.do(t, http.MethodPost, "/registration/begin", BeginRequest{UserID: userID}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	options := decodeBody[protocol.CredentialCreation](t, rr)

	raw, err := dev.AttestJSON(&options)
	require.NoError(t, err)
	rr = f.do(t, http.MethodPost, "/registration/finish", FinishRegistrationRequest{UserID: userID, Credential: raw}, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	cred := decodeBody[CredentialResponse](t, rr)
	require.Equal(t, types.CapabilityDeterministicSecret, cred.Capability)
	require.Equal(t, types.EncodeID(dev.ID()), cred.ID)
	return dev
}

func (f *fixture) beginAuth(t *testing.T, userID string) *protocol.CredentialAssertion {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/authentication/begin", BeginRequest{UserID: userID}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	options := decodeBody[protocol.CredentialAssertion](t, rr)
	return &options
}

func assertJSON(t *testing.T, dev *testutil.Device, options *protocol.CredentialAssertion) json.RawMessage {
	t.Helper()
	raw, err := dev.AssertJSON(options)
	require.NoError(t, err)
	return raw
}

func (f *fixture) login(t *testing.T, userID string, dev *testutil.Device) string {
	t.Helper()
	options := f.beginAuth(t, userID)
	rr := f.do(t, http.MethodPost, "/authentication/finish",
		FinishAuthenticationRequest{UserID: userID, Assertion: assertJSON(t, dev, options)}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeBody[AuthResponse](t, rr)
	require.Equal(t, userID, resp.UserID)
	return resp.Token
}

func (f *fixture) storeSeed(t *testing.T, userID, mnemonic string, devs ...*testutil.Device) *httptest.ResponseRecorder {
	t.Helper()
	options := f.beginAuth(t, userID)
	req := StoreSeedRequest{UserID: userID, Mnemonic: mnemonic}
	for _, d := range devs {
		req.Assertions = append(req.Assertions, assertJSON(t, d, options))
	}
	return f.do(t, http.MethodPost, "/seed/store", req, "")
}

func (f *fixture) retrieve(t *testing.T, userID string, dev *testutil.Device) *httptest.ResponseRecorder {
	t.Helper()
	options := f.beginAuth(t, userID)
	return f.do(t, http.MethodPost, "/seed/retrieve",
		RetrieveSeedRequest{UserID: userID, Assertion: assertJSON(t, dev, options)}, "")
}

func (f *fixture) readMnemonic(t *testing.T, userID string, dev *testutil.Device) string {
	t.Helper()
	rr := f.retrieve(t, userID, dev)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	held := decodeBody[HandleResponse](t, rr)
	require.NotEmpty(t, held.Token)

	rr = f.do(t, http.MethodGet, "/memory/"+held.Handle, nil, held.Token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	f.do(t, http.MethodDelete, "/memory/"+held.Handle, nil, held.Token)
	return decodeBody[MnemonicResponse](t, rr).Mnemonic
}

func TestHandler_CreateUser(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid body",
			body:       "not json",
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "missing name",
			body:       CreateUserRequest{},
			wantStatus: http.StatusBadRequest,
			wantCode:   ErrorCodeInvalidRequest,
		},
		{
			name:       "success",
			body:       CreateUserRequest{Name: "alice", DisplayName: "Alice"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "duplicate",
			body:       CreateUserRequest{Name: "alice"},
			wantStatus: http.StatusConflict,
			wantCode:   ErrorCodeUserExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, "/users", tt.body, "")
			if tt.wantCode != "" {
				assertError(t, rr, tt.wantStatus, tt.wantCode)
				return
			}
			require.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			u := decodeBody[UserResponse](t, rr)
			assert.NotEmpty(t, u.ID)
			assert.Equal(t, "alice", u.Name)
			assert.Equal(t, "Alice", u.DisplayName)
			assert.Equal(t, epoch, u.CreatedAt)
		})
	}
}

func TestHandler_BeginCeremonyErrors(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")

	for _, path := range []string{"/registration/begin", "/authentication/begin"} {
		t.Run(path, func(t *testing.T) {
			assertError(t, f.do(t, http.MethodPost, path, "{", ""), http.StatusBadRequest, ErrorCodeInvalidRequest)
			assertError(t, f.do(t, http.MethodPost, path, BeginRequest{}, ""), http.StatusBadRequest, ErrorCodeInvalidRequest)
			assertError(t, f.do(t, http.MethodPost, path, BeginRequest{UserID: "nobody"}, ""), http.StatusNotFound, ErrorCodeUserNotFound)
		})
	}

	// Authentication needs a registered credential.
	assertError(t, f.do(t, http.MethodPost, "/authentication/begin", BeginRequest{UserID: userID}, ""),
		http.StatusNotFound, ErrorCodeNoCredentials)
}

func TestHandler_FinishRegistration(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")

	rr := f.do(t, http.MethodPost, "/registration/finish",
		FinishRegistrationRequest{UserID: userID, Credential: json.RawMessage(`{"id":"x"}`)}, "")
	assertError(t, rr, http.StatusBadRequest, ErrorCodeInvalidRequest)

	rr = f.do(t, http.MethodPost, "/registration/finish", FinishRegistrationRequest{UserID: userID}, "")
	assertError(t, rr, http.StatusBadRequest, ErrorCodeInvalidRequest)

	dev, err := testutil.NewDevice("example.com", "Seed Vault", "https://example.com")
	require.NoError(t, err)
	rr = f.do(t, http.MethodPost, "/registration/begin", BeginRequest{UserID: userID}, "")
	require.Equal(t, http.StatusOK, rr.Code)
	options := decodeBody[protocol.CredentialCreation](t, rr)
	raw, err := dev.AttestJSON(&options)
	require.NoError(t, err)

	req := FinishRegistrationRequest{UserID: userID, Credential: raw}
	rr = f.do(t, http.MethodPost, "/registration/finish", req, "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	cred := decodeBody[CredentialResponse](t, rr)
	assert.True(t, cred.Primary)

	// The challenge was consumed.
	assertError(t, f.do(t, http.MethodPost, "/registration/finish", req, ""),
		http.StatusBadRequest, ErrorCodeInvalidSession)
}

func TestHandler_RegistrationExpiredChallenge(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")

	dev, err := testutil.NewDevice("example.com", "Seed Vault", "https://example.com")
	require.NoError(t, err)
	rr := f.do(t, http.MethodPost, "/registration/begin", BeginRequest{UserID: userID}, "")
	require.Equal(t, http.StatusOK, rr.Code)
	options := decodeBody[protocol.CredentialCreation](t, rr)
	raw, err := dev.AttestJSON(&options)
	require.NoError(t, err)

	f.clock.Advance(webauthn.DefaultTimeout)
	expired := f.do(t, http.MethodPost, "/registration/finish", FinishRegistrationRequest{UserID: userID, Credential: raw}, "")
	assertError(t, expired, http.StatusBadRequest, ErrorCodeInvalidSession)

	// A late response reads exactly like a missing one.
	missing := f.do(t, http.MethodPost, "/registration/finish", FinishRegistrationRequest{UserID: userID, Credential: raw}, "")
	assert.Equal(t, missing.Body.String(), expired.Body.String())
}

func TestHandler_SeedLifecycle(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	b := f.register(t, userID)

	rr := f.storeSeed(t, userID, "  Abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon ABOUT ", a, b)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotEmpty(t, decodeBody[StoreSeedResponse](t, rr).SeedID)

	// Either credential opens the seed on its own.
	assert.Equal(t, testMnemonic, f.readMnemonic(t, userID, a))
	assert.Equal(t, testMnemonic, f.readMnemonic(t, userID, b))

	rr = f.retrieve(t, userID, b)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	held := decodeBody[HandleResponse](t, rr)
	assert.Equal(t, f.clock.Now().Add(time.Minute), held.ExpiresAt)

	rr = f.do(t, http.MethodGet, "/memory/"+held.Handle, nil, held.Token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	rr = f.do(t, http.MethodDelete, "/memory/"+held.Handle, nil, held.Token)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assertError(t, f.do(t, http.MethodGet, "/memory/"+held.Handle, nil, held.Token), http.StatusGone, ErrorCodeHandleExpired)
	assertError(t, f.do(t, http.MethodDelete, "/memory/"+held.Handle, nil, held.Token), http.StatusGone, ErrorCodeHandleExpired)
}

func TestHandler_MemoryHandleExpires(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	require.Equal(t, http.StatusCreated, f.storeSeed(t, userID, testMnemonic, a).Code)

	rr := f.retrieve(t, userID, a)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	held := decodeBody[HandleResponse](t, rr)

	f.clock.Advance(time.Minute)
	assertError(t, f.do(t, http.MethodGet, "/memory/"+held.Handle, nil, held.Token), http.StatusGone, ErrorCodeHandleExpired)
}

func TestHandler_MemoryRequiresOwner(t *testing.T) {
	f := newFixture(t)
	alice := f.createUser(t, "alice")
	a := f.register(t, alice)
	require.Equal(t, http.StatusCreated, f.storeSeed(t, alice, testMnemonic, a).Code)
	bob := f.createUser(t, "bob")
	bobToken := f.login(t, bob, f.register(t, bob))

	rr := f.retrieve(t, alice, a)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	held := decodeBody[HandleResponse](t, rr)
	path := "/memory/" + held.Handle

	// The handle alone is not enough.
	assertError(t, f.do(t, http.MethodGet, path, nil, ""), http.StatusUnauthorized, ErrorCodeUnauthorized)
	assertError(t, f.do(t, http.MethodPost, path+"/extend", nil, ""), http.StatusUnauthorized, ErrorCodeUnauthorized)
	assertError(t, f.do(t, http.MethodDelete, path, nil, ""), http.StatusUnauthorized, ErrorCodeUnauthorized)

	// Another user's token reads it as gone and cannot release it.
	assertError(t, f.do(t, http.MethodGet, path, nil, bobToken), http.StatusGone, ErrorCodeHandleExpired)
	assertError(t, f.do(t, http.MethodDelete, path, nil, bobToken), http.StatusGone, ErrorCodeHandleExpired)

	rr = f.do(t, http.MethodGet, path, nil, held.Token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, testMnemonic, decodeBody[MnemonicResponse](t, rr).Mnemonic)
}

func TestHandler_ExtendMemory(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	require.Equal(t, http.StatusCreated, f.storeSeed(t, userID, testMnemonic, a).Code)

	rr := f.retrieve(t, userID, a)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	held := decodeBody[HandleResponse](t, rr)
	handle, token := held.Handle, held.Token

	f.clock.Advance(50 * time.Second)
	rr = f.do(t, http.MethodPost, "/memory/"+handle+"/extend", ExtendRequest{Seconds: 30}, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, f.clock.Now().Add(30*time.Second), decodeBody[HandleResponse](t, rr).ExpiresAt)

	rr = f.do(t, http.MethodPost, "/memory/"+handle+"/extend", nil, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, f.clock.Now().Add(time.Minute), decodeBody[HandleResponse](t, rr).ExpiresAt)

	assertError(t, f.do(t, http.MethodPost, "/memory/"+handle+"/extend", ExtendRequest{Seconds: -1}, token),
		http.StatusBadRequest, ErrorCodeInvalidRequest)

	f.clock.Advance(time.Minute)
	assertError(t, f.do(t, http.MethodPost, "/memory/"+handle+"/extend", nil, token), http.StatusGone, ErrorCodeHandleExpired)
}

func TestHandler_UpdateProfile(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	token := f.login(t, userID, f.register(t, userID))

	assertError(t, f.do(t, http.MethodPut, "/profile", ProfileRequest{DisplayName: "Alice"}, ""),
		http.StatusUnauthorized, ErrorCodeUnauthorized)

	rr := f.do(t, http.MethodPut, "/profile", ProfileRequest{DisplayName: " Alice Liddell "}, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	u := decodeBody[UserResponse](t, rr)
	assert.Equal(t, userID, u.ID)
	assert.Equal(t, "Alice Liddell", u.DisplayName)

	assertError(t, f.do(t, http.MethodPut, "/profile", ProfileRequest{DisplayName: strings.Repeat("x", 200)}, token),
		http.StatusBadRequest, ErrorCodeInvalidRequest)
}

func TestHandler_DeleteSeed(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	require.Equal(t, http.StatusCreated, f.storeSeed(t, userID, testMnemonic, a).Code)
	token := f.login(t, userID, a)

	assertError(t, f.do(t, http.MethodDelete, "/seed", nil, ""), http.StatusUnauthorized, ErrorCodeUnauthorized)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/seed", nil, token).Code)
	assertError(t, f.do(t, http.MethodDelete, "/seed", nil, token), http.StatusNotFound, ErrorCodeSeedNotFound)
	assertError(t, f.retrieve(t, userID, a), http.StatusNotFound, ErrorCodeSeedNotFound)
}

func TestHandler_StoreSeedErrors(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	b := f.register(t, userID)

	// Invalid mnemonic.
	assertError(t, f.storeSeed(t, userID, "abandon abandon abandon", a, b), http.StatusBadRequest, ErrorCodeInvalidRequest)

	// Every credential must take part.
	assertError(t, f.storeSeed(t, userID, testMnemonic, a), http.StatusBadRequest, ErrorCodeInvalidRequest)

	// No assertions at all.
	rr := f.do(t, http.MethodPost, "/seed/store", StoreSeedRequest{UserID: userID, Mnemonic: testMnemonic}, "")
	assertError(t, rr, http.StatusBadRequest, ErrorCodeInvalidRequest)

	// Nothing stored.
	assertError(t, f.retrieve(t, userID, a), http.StatusNotFound, ErrorCodeSeedNotFound)
}

func TestHandler_VerificationFailuresAreOpaque(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	require.Equal(t, http.StatusCreated, f.storeSeed(t, userID, testMnemonic, a).Code)

	// An assertion over a replaced challenge.
	stale := f.beginAuth(t, userID)
	staleResp := assertJSON(t, a, stale)
	f.beginAuth(t, userID)

	var bodies []ErrorResponse
	for _, path := range []string{"/authentication/finish", "/seed/retrieve"} {
		rr := f.do(t, http.MethodPost, path, RetrieveSeedRequest{UserID: userID, Assertion: staleResp}, "")
		assertError(t, rr, http.StatusUnauthorized, ErrorCodeVerificationFailed)
		bodies = append(bodies, decodeBody[ErrorResponse](t, rr))
	}

	// A credential the user never registered.
	outsider, err := testutil.NewDevice("example.com", "Seed Vault", "https://example.com")
	require.NoError(t, err)
	options := f.beginAuth(t, userID)
	rr := f.do(t, http.MethodPost, "/seed/retrieve",
		RetrieveSeedRequest{UserID: userID, Assertion: assertJSON(t, outsider, options)}, "")
	assertError(t, rr, http.StatusUnauthorized, ErrorCodeVerificationFailed)
	bodies = append(bodies, decodeBody[ErrorResponse](t, rr))

	for _, b := range bodies[1:] {
		assert.Equal(t, bodies[0], b)
	}

	// The live challenge survived the failures.
	assert.Equal(t, testMnemonic, func() string {
		rr := f.do(t, http.MethodPost, "/seed/retrieve",
			RetrieveSeedRequest{UserID: userID, Assertion: assertJSON(t, a, options)}, "")
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		held := decodeBody[HandleResponse](t, rr)
		rr = f.do(t, http.MethodGet, "/memory/"+held.Handle, nil, held.Token)
		return decodeBody[MnemonicResponse](t, rr).Mnemonic
	}())
}

func TestHandler_BearerRoutes(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	b := f.register(t, userID)
	token := f.login(t, userID, a)

	assertError(t, f.do(t, http.MethodGet, "/credentials", nil, ""), http.StatusUnauthorized, ErrorCodeUnauthorized)
	assertError(t, f.do(t, http.MethodGet, "/credentials", nil, "garbage"), http.StatusUnauthorized, ErrorCodeUnauthorized)

	rr := f.do(t, http.MethodGet, "/credentials", nil, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	creds := decodeBody[[]CredentialResponse](t, rr)
	require.Len(t, creds, 2)
	assert.Equal(t, types.EncodeID(a.ID()), creds[0].ID)
	assert.True(t, creds[0].Primary)
	assert.Equal(t, uint32(1), creds[0].SignCount)
	assert.NotNil(t, creds[0].LastUsedAt)

	bID := types.EncodeID(b.ID())
	rr = f.do(t, http.MethodPatch, "/credentials/"+bID, RenameRequest{Nickname: "  backup  "}, token)
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	rr = f.do(t, http.MethodPost, "/credentials/"+bID+"/primary", nil, token)
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	creds = decodeBody[[]CredentialResponse](t, f.do(t, http.MethodGet, "/credentials", nil, token))
	assert.False(t, creds[0].Primary)
	assert.True(t, creds[1].Primary)
	assert.Equal(t, "backup", creds[1].Nickname)

	assertError(t, f.do(t, http.MethodDelete, "/credentials/!!", nil, token), http.StatusBadRequest, ErrorCodeInvalidRequest)
	assertError(t, f.do(t, http.MethodDelete, "/credentials/"+types.EncodeID([]byte("nope")), nil, token),
		http.StatusNotFound, ErrorCodeNoCredentials)

	rr = f.do(t, http.MethodDelete, "/credentials/"+types.EncodeID(a.ID()), nil, token)
	assert.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
	assertError(t, f.do(t, http.MethodDelete, "/credentials/"+bID, nil, token), http.StatusConflict, ErrorCodeLastCredential)

	// Tokens expire.
	f.clock.Advance(16 * time.Minute)
	assertError(t, f.do(t, http.MethodGet, "/credentials", nil, token), http.StatusUnauthorized, ErrorCodeUnauthorized)
}

func TestHandler_RevokeProtectsSeed(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	require.Equal(t, http.StatusCreated, f.storeSeed(t, userID, testMnemonic, a).Code)
	b := f.register(t, userID)
	token := f.login(t, userID, a)

	// b holds no wrapped key, so a still holds the only one.
	assertError(t, f.do(t, http.MethodDelete, "/credentials/"+types.EncodeID(a.ID()), nil, token),
		http.StatusConflict, ErrorCodeLastCredential)

	rr := f.do(t, http.MethodGet, "/status", nil, token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	st := decodeBody[StatusResponse](t, rr)
	assert.True(t, st.HasSeed)
	assert.Equal(t, 12, st.WordCount)
	assert.Equal(t, 128, st.EntropyBits)
	require.Len(t, st.Credentials, 2)
	assert.True(t, st.Credentials[0].Wrapped)
	assert.False(t, st.Credentials[1].Wrapped)
	assert.Equal(t, types.EncodeID(b.ID()), st.Credentials[1].ID)
}

func TestHandler_EnrollCredential(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	require.Equal(t, http.StatusCreated, f.storeSeed(t, userID, testMnemonic, a).Code)
	b := f.register(t, userID)

	// b cannot open the seed yet.
	assertError(t, f.retrieve(t, userID, b), http.StatusNotFound, ErrorCodeNotEnrolled)

	options := f.beginAuth(t, userID)
	same := assertJSON(t, a, options)
	assertError(t, f.do(t, http.MethodPost, "/credentials/enroll", EnrollRequest{UserID: userID, Unlock: same, Target: same}, ""),
		http.StatusBadRequest, ErrorCodeInvalidRequest)

	options = f.beginAuth(t, userID)
	rr := f.do(t, http.MethodPost, "/credentials/enroll", EnrollRequest{
		UserID: userID,
		Unlock: assertJSON(t, a, options),
		Target: assertJSON(t, b, options),
	}, "")
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	assert.Equal(t, testMnemonic, f.readMnemonic(t, userID, b))
}

func TestHandler_RotateSaltCompletesOnRetrieve(t *testing.T) {
	f := newFixture(t)
	userID := f.createUser(t, "alice")
	a := f.register(t, userID)
	require.Equal(t, http.StatusCreated, f.storeSeed(t, userID, testMnemonic, a).Code)
	token := f.login(t, userID, a)

	rr := f.do(t, http.MethodPost, "/credentials/"+types.EncodeID(a.ID())+"/rotate", nil, token)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.NotEmpty(t, decodeBody[RotationResponse](t, rr).SaltID)

	st := decodeBody[StatusResponse](t, f.do(t, http.MethodGet, "/status", nil, token))
	require.Len(t, st.Credentials, 1)
	assert.True(t, st.Credentials[0].RotationPending)

	assert.Equal(t, testMnemonic, f.readMnemonic(t, userID, a))

	st = decodeBody[StatusResponse](t, f.do(t, http.MethodGet, "/status", nil, token))
	assert.False(t, st.Credentials[0].RotationPending)
	assert.True(t, st.Credentials[0].Wrapped)

	// The rotated salt still opens the seed.
	assert.Equal(t, testMnemonic, f.readMnemonic(t, userID, a))
}

func TestHandler_HandleServiceError(t *testing.T) {
	h := NewHandler(nil, nil, nil)

	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{types.NewValidationError("mnemonic", "bad checksum"), http.StatusBadRequest, ErrorCodeInvalidRequest},
		{types.WrapError("op", types.ErrAuthenticationFailed), http.StatusUnauthorized, ErrorCodeVerificationFailed},
		{types.ErrNoActiveChallenge, http.StatusBadRequest, ErrorCodeInvalidSession},
		{types.WrapError("op", types.ErrExpiredChallenge), http.StatusBadRequest, ErrorCodeInvalidSession},
		{types.ErrUserNotFound, http.StatusNotFound, ErrorCodeUserNotFound},
		{types.ErrUserAlreadyExists, http.StatusConflict, ErrorCodeUserExists},
		{types.ErrCredentialNotFound, http.StatusNotFound, ErrorCodeNoCredentials},
		{types.ErrCredentialAlreadyExists, http.StatusConflict, ErrorCodeCredentialExists},
		{types.ErrLimitExceeded, http.StatusConflict, ErrorCodeLimitExceeded},
		{types.ErrLastCredential, http.StatusConflict, ErrorCodeLastCredential},
		{types.ErrSeedNotFound, http.StatusNotFound, ErrorCodeSeedNotFound},
		{types.ErrWrappedKeyNotFound, http.StatusNotFound, ErrorCodeNotEnrolled},
		{types.ErrSaltNotFound, http.StatusNotFound, ErrorCodeNotEnrolled},
		{fmt.Errorf("grant: %w", types.ErrCapabilityUnavailable), http.StatusUnprocessableEntity, ErrorCodeCapabilityUnavailable},
		{types.ErrExpired, http.StatusGone, ErrorCodeHandleExpired},
		{errors.New("disk on fire"), http.StatusInternalServerError, ErrorCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.wantCode, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.handleServiceError(rr, httptest.NewRequest(http.MethodPost, "/x", nil), tt.err)
			assertError(t, rr, tt.wantStatus, tt.wantCode)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		})
	}

	rr := httptest.NewRecorder()
	h.handleServiceError(rr, httptest.NewRequest(http.MethodPost, "/x", nil), errors.New("secret detail"))
	assert.False(t, strings.Contains(rr.Body.String(), "secret detail"))
}

func TestHandler_MaxBodyBytes(t *testing.T) {
	f := newFixture(t)
	f.handler.WithMaxBodyBytes(16)

	rr := f.do(t, http.MethodPost, "/users", CreateUserRequest{Name: strings.Repeat("a", 32)}, "")
	assertError(t, rr, http.StatusBadRequest, ErrorCodeInvalidRequest)
}

func TestMountChi(t *testing.T) {
	f := newFixture(t)

	routes := f.handler.Routes()
	assert.Len(t, routes, 19)
	seen := map[string]bool{}
	for _, r := range routes {
		key := r.Method + " " + r.Path
		assert.False(t, seen[key], "duplicate route %s", key)
		seen[key] = true
		assert.NotNil(t, r.Handler)
		bearer := strings.HasPrefix(r.Path, "/credentials") && r.Path != "/credentials/enroll" ||
			strings.HasPrefix(r.Path, "/memory/") ||
			r.Path == "/status" || r.Path == "/seed" || r.Path == "/profile"
		assert.Equal(t, bearer, r.Bearer, key)
	}

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope", nil, "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/users", nil, "").Code)
}
