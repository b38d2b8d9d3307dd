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
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-seedvault/internal/testutil"
	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/salt"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"
	testUserID = "u1"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store *storage.Store
	salts *salt.Manager
	svc   *Service
	clock *testutil.Clock
}

func newFixture(t *testing.T, maxCredentials int) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.OpenInMemory(ctx, t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := testutil.NewClock(epoch)
	salts, err := salt.NewManager(salt.ManagerParams{Store: store, Clock: clock.Now})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Config: &Config{
			RPID:          testRPID,
			RPDisplayName: "Seed Vault",
			RPOrigins:     []string{testOrigin},
			Timeout:       time.Minute,
		},
		Store: store,
		Salts: salts,
		Clock: clock.Now,
	})
	require.NoError(t, err)

	require.NoError(t, store.Repositories().Users.Create(ctx, &types.User{
		ID: testUserID, Name: "alice", MaxCredentials: maxCredentials, CreatedAt: epoch,
	}))
	return &fixture{store: store, salts: salts, svc: svc, clock: clock}
}

func (f *fixture) device(t *testing.T, opts ...testutil.DeviceOption) *testutil.Device {
	t.Helper()
	dev, err := testutil.NewDevice(testRPID, "Seed Vault", testOrigin, opts...)
	require.NoError(t, err)
	return dev
}

func (f *fixture) register(t *testing.T, dev *testutil.Device) *types.Credential {
	t.Helper()
	ctx := context.Background()

	options, err := f.svc.BeginRegistration(ctx, testUserID)
	require.NoError(t, err)
	resp, err := dev.Attest(options)
	require.NoError(t, err)
	cred, err := f.svc.CompleteRegistration(ctx, testUserID, resp)
	require.NoError(t, err)
	return cred
}

func (f *fixture) beginLogin(t *testing.T) *protocol.CredentialAssertion {
	t.Helper()
	options, err := f.svc.BeginAuthentication(context.Background(), testUserID)
	require.NoError(t, err)
	return options
}

func assertWith(t *testing.T, dev *testutil.Device, options *protocol.CredentialAssertion) *protocol.ParsedCredentialAssertionData {
	t.Helper()
	resp, err := dev.Assert(options)
	require.NoError(t, err)
	return resp
}

// bindSeed stores a wrapped key for cred so its current salt is referenced.
func (f *fixture) bindSeed(t *testing.T, cred *types.Credential, saltID string) {
	t.Helper()
	ctx := context.Background()
	r := f.store.Repositories()
	require.NoError(t, r.Seeds.Create(ctx, &types.Seed{
		ID: "seed1", UserID: testUserID, Ciphertext: []byte("x"), WordCount: 12, EntropyBits: 128, CreatedAt: epoch,
	}))
	require.NoError(t, r.WrappedKeys.Create(ctx, &types.WrappedKey{
		ID: "wk1", SeedID: "seed1", CredentialID: cred.ID, SaltID: saltID,
		Nonce: []byte("n"), Ciphertext: []byte("c"), Tag: []byte("t"), CreatedAt: epoch,
	}))
}

func TestNewService_RequiresDependencies(t *testing.T) {
	ctx := context.Background()
	store, err := storage.OpenInMemory(ctx, t.Name())
	require.NoError(t, err)
	defer store.Close()
	salts, err := salt.NewManager(salt.ManagerParams{Store: store})
	require.NoError(t, err)
	cfg := &Config{RPID: testRPID, RPDisplayName: "Seed Vault", RPOrigins: []string{testOrigin}}

	tests := []struct {
		name   string
		params ServiceParams
	}{
		{"no config", ServiceParams{Store: store, Salts: salts}},
		{"no store", ServiceParams{Config: cfg, Salts: salts}},
		{"no salts", ServiceParams{Config: cfg, Store: store}},
		{"invalid config", ServiceParams{Config: &Config{RPDisplayName: "x"}, Store: store, Salts: salts}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.params)
			assert.Error(t, err)
		})
	}
}

func TestService_Registration(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	prf := f.device(t)
	first := f.register(t, prf)
	assert.Equal(t, prf.ID(), first.ID)
	assert.Equal(t, types.CapabilityDeterministicSecret, first.Capability)
	assert.True(t, first.Primary)
	assert.Equal(t, epoch, first.CreatedAt)

	salts, err := f.salts.ListFor(ctx, first.ID, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	assert.Len(t, salts, 1)

	plain := f.device(t, testutil.WithoutPRF())
	second := f.register(t, plain)
	assert.Equal(t, types.CapabilitySignatureOnly, second.Capability)
	assert.False(t, second.Primary)

	creds, err := f.store.Repositories().Credentials.ListByUser(ctx, testUserID)
	require.NoError(t, err)
	assert.Len(t, creds, 2)

	_, err = f.store.Repositories().Challenges.Get(ctx, testUserID, types.PurposeRegistration)
	assert.ErrorIs(t, err, types.ErrNoActiveChallenge)
}

func TestService_BeginRegistrationExcludesExisting(t *testing.T) {
	f := newFixture(t, 5)
	dev := f.device(t)
	cred := f.register(t, dev)

	options, err := f.svc.BeginRegistration(context.Background(), testUserID)
	require.NoError(t, err)
	require.Len(t, options.Response.CredentialExcludeList, 1)
	assert.Equal(t, protocol.URLEncodedBase64(cred.ID), options.Response.CredentialExcludeList[0].CredentialID)
	assert.Contains(t, options.Response.Extensions, "prf")
}

func TestService_RegistrationLimit(t *testing.T) {
	f := newFixture(t, 1)
	f.register(t, f.device(t))

	_, err := f.svc.BeginRegistration(context.Background(), testUserID)
	assert.ErrorIs(t, err, types.ErrLimitExceeded)
}

func TestService_UnknownUser(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	_, err := f.svc.BeginRegistration(ctx, "nobody")
	assert.ErrorIs(t, err, types.ErrUserNotFound)

	_, err = f.svc.BeginAuthentication(ctx, testUserID)
	assert.ErrorIs(t, err, types.ErrCredentialNotFound)
}

func TestService_CompleteWithoutChallenge(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	f.register(t, dev)

	options := f.beginLogin(t)
	resp := assertWith(t, dev, options)
	require.NoError(t, f.svc.CancelCeremony(ctx, testUserID, types.PurposeAuthentication))

	_, err := f.svc.CompleteAuthentication(ctx, testUserID, resp)
	assert.ErrorIs(t, err, types.ErrNoActiveChallenge)

	assert.True(t, types.IsValidation(f.svc.CancelCeremony(ctx, testUserID, "bogus")))
}

func TestService_ChallengeSingleUse(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	f.register(t, dev)

	resp := assertWith(t, dev, f.beginLogin(t))

	a, err := f.svc.CompleteAuthentication(ctx, testUserID, resp)
	require.NoError(t, err)
	defer a.Zero()

	_, err = f.svc.CompleteAuthentication(ctx, testUserID, resp)
	assert.ErrorIs(t, err, types.ErrNoActiveChallenge)
}

func TestService_ChallengeExpiry(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	f.register(t, dev)

	// Just inside the window.
	resp := assertWith(t, dev, f.beginLogin(t))
	f.clock.Advance(time.Minute - time.Second)
	a, err := f.svc.CompleteAuthentication(ctx, testUserID, resp)
	require.NoError(t, err)
	a.Zero()

	// At the expiry instant.
	resp = assertWith(t, dev, f.beginLogin(t))
	f.clock.Advance(time.Minute)
	_, err = f.svc.CompleteAuthentication(ctx, testUserID, resp)
	assert.ErrorIs(t, err, types.ErrExpiredChallenge)
	assert.True(t, types.IsChallengeError(err))

	// The expired row was removed.
	_, err = f.svc.CompleteAuthentication(ctx, testUserID, resp)
	assert.ErrorIs(t, err, types.ErrNoActiveChallenge)
}

func TestService_RejectionsAreLogged(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	cred := f.register(t, dev)

	var buf bytes.Buffer
	f.svc.logger = logger.NewSlogAdapter(&logger.SlogConfig{Handler: logger.NewHandler(&buf, "json", logger.LevelInfo)})

	// Replay of a consumed challenge.
	resp := assertWith(t, dev, f.beginLogin(t))
	a, err := f.svc.CompleteAuthentication(ctx, testUserID, resp)
	require.NoError(t, err)
	a.Zero()
	_, err = f.svc.CompleteAuthentication(ctx, testUserID, resp)
	require.ErrorIs(t, err, types.ErrNoActiveChallenge)
	assert.Contains(t, buf.String(), `"msg":"challenge rejected"`)
	assert.Contains(t, buf.String(), `"reason":"missing_or_consumed"`)
	assert.Contains(t, buf.String(), `"purpose":"authentication"`)
	assert.Contains(t, buf.String(), `"user_id":"`+testUserID+`"`)
	assert.Contains(t, buf.String(), cred.EncodedID())

	// Late completion.
	buf.Reset()
	resp = assertWith(t, dev, f.beginLogin(t))
	f.clock.Advance(time.Minute)
	_, err = f.svc.CompleteAuthentication(ctx, testUserID, resp)
	require.ErrorIs(t, err, types.ErrExpiredChallenge)
	assert.Contains(t, buf.String(), `"reason":"expired"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	// Expired registration.
	buf.Reset()
	options, err := f.svc.BeginRegistration(ctx, testUserID)
	require.NoError(t, err)
	attestation, err := f.device(t).Attest(options)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.CompleteRegistration(ctx, testUserID, attestation)
	require.ErrorIs(t, err, types.ErrExpiredChallenge)
	assert.Contains(t, buf.String(), `"purpose":"registration"`)

	// A response signed over a replaced challenge.
	buf.Reset()
	stale := assertWith(t, dev, f.beginLogin(t))
	f.beginLogin(t)
	_, err = f.svc.CompleteAuthentication(ctx, testUserID, stale)
	require.ErrorIs(t, err, types.ErrAuthenticationFailed)
	assert.Contains(t, buf.String(), `"msg":"assertion verification failed"`)
	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), cred.EncodedID())
}

func TestService_RegistrationChallengeExpiry(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	options, err := f.svc.BeginRegistration(ctx, testUserID)
	require.NoError(t, err)
	resp, err := f.device(t).Attest(options)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.CompleteRegistration(ctx, testUserID, resp)
	assert.ErrorIs(t, err, types.ErrExpiredChallenge)

	n, err := f.store.Repositories().Credentials.CountByUser(ctx, testUserID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestService_BeginReplacesChallenge(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	f.register(t, dev)

	stale := assertWith(t, dev, f.beginLogin(t))
	fresh := assertWith(t, dev, f.beginLogin(t))

	_, err := f.svc.CompleteAuthentication(ctx, testUserID, stale)
	assert.ErrorIs(t, err, types.ErrAuthenticationFailed)

	// A failed verification leaves the live challenge in place.
	a, err := f.svc.CompleteAuthentication(ctx, testUserID, fresh)
	require.NoError(t, err)
	a.Zero()
}

func TestService_UnregisteredAuthenticatorFails(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	f.register(t, f.device(t))

	options := f.beginLogin(t)
	stranger := f.device(t)
	resp, err := stranger.Assert(options)
	require.NoError(t, err)

	_, err = f.svc.CompleteAuthentication(ctx, testUserID, resp)
	assert.True(t, types.IsAuthenticationFailed(err))
}

func TestService_DeviceSecret(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	cred := f.register(t, dev)

	res, err := f.salts.Resolve(ctx, cred.ID, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)

	a, err := f.svc.CompleteAuthentication(ctx, testUserID, assertWith(t, dev, f.beginLogin(t)))
	require.NoError(t, err)
	defer a.Zero()

	assert.Equal(t, testUserID, a.UserID)
	assert.Equal(t, cred.ID, a.CredentialID)
	assert.Equal(t, res.Current.ID, a.SaltID)
	assert.True(t, a.HasSecret())
	assert.Equal(t, dev.Secret(res.Current.Value), a.DeviceSecret)
	assert.False(t, a.HasPendingRotation())
	assert.Nil(t, a.Warning)

	stored, err := f.store.Repositories().Credentials.Get(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.SignCount)
	assert.Equal(t, epoch, stored.LastUsedAt)
}

func TestService_PendingRotationSecret(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	cred := f.register(t, dev)

	current, err := f.salts.Resolve(ctx, cred.ID, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)
	f.bindSeed(t, cred, current.Current.ID)

	next, err := f.salts.Rotate(ctx, cred.ID, types.SaltPurposeSeedEncryption)
	require.NoError(t, err)

	options := f.beginLogin(t)
	assert.Contains(t, options.Response.Extensions, "hmacGetSecret")

	a, err := f.svc.CompleteAuthentication(ctx, testUserID, assertWith(t, dev, options))
	require.NoError(t, err)
	defer a.Zero()

	assert.Equal(t, current.Current.ID, a.SaltID)
	assert.Equal(t, dev.Secret(current.Current.Value), a.DeviceSecret)
	require.True(t, a.HasPendingRotation())
	assert.Equal(t, next.ID, a.NextSaltID)
	assert.Equal(t, dev.Secret(next.Value), a.NextDeviceSecret)

	a.Zero()
	assert.Equal(t, make([]byte, len(a.DeviceSecret)), a.DeviceSecret)
}

func TestService_SignatureOnlyAssertion(t *testing.T) {
	f := newFixture(t, 5)
	dev := f.device(t, testutil.WithoutPRF())
	f.register(t, dev)

	options := f.beginLogin(t)
	assert.NotContains(t, options.Response.Extensions, "prf")

	a, err := f.svc.CompleteAuthentication(context.Background(), testUserID, assertWith(t, dev, options))
	require.NoError(t, err)
	assert.Equal(t, types.CapabilitySignatureOnly, a.Capability)
	assert.False(t, a.HasSecret())
	assert.Empty(t, a.SaltID)
}

func TestService_CloneWarning(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	cred := f.register(t, dev)

	dev.SetCounter(4)
	a, err := f.svc.CompleteAuthentication(ctx, testUserID, assertWith(t, dev, f.beginLogin(t)))
	require.NoError(t, err)
	assert.Nil(t, a.Warning)
	assert.Equal(t, uint32(5), a.SignCount)
	a.Zero()

	// Replaying counter 5 is suspicious but not fatal.
	dev.SetCounter(4)
	a, err = f.svc.CompleteAuthentication(ctx, testUserID, assertWith(t, dev, f.beginLogin(t)))
	require.NoError(t, err)
	defer a.Zero()
	require.Error(t, a.Warning)
	assert.ErrorIs(t, a.Warning, types.ErrPossibleCloneDetected)
	assert.True(t, a.HasSecret())
	assert.Equal(t, uint32(5), a.SignCount)

	stored, err := f.store.Repositories().Credentials.Get(ctx, cred.ID)
	require.NoError(t, err)
	assert.True(t, stored.CloneWarning)
	assert.Equal(t, uint32(5), stored.SignCount)
}

func TestService_CompleteAuthenticationSet(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	devA, devB := f.device(t), f.device(t)
	credA := f.register(t, devA)
	credB := f.register(t, devB)

	options := f.beginLogin(t)
	require.Len(t, options.Response.AllowedCredentials, 2)
	respA := assertWith(t, devA, options)
	respB := assertWith(t, devB, options)

	out, err := f.svc.CompleteAuthenticationSet(ctx, testUserID, respA, respB)
	require.NoError(t, err)
	defer ZeroAll(out)
	require.Len(t, out, 2)
	assert.Equal(t, credA.ID, out[0].CredentialID)
	assert.Equal(t, credB.ID, out[1].CredentialID)
	assert.True(t, out[0].HasSecret())
	assert.True(t, out[1].HasSecret())
	assert.NotEqual(t, out[0].DeviceSecret, out[1].DeviceSecret)
}

func TestService_CompleteAuthenticationSetValidation(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	f.register(t, dev)
	resp := assertWith(t, dev, f.beginLogin(t))

	_, err := f.svc.CompleteAuthenticationSet(ctx, testUserID)
	assert.True(t, types.IsValidation(err))

	_, err = f.svc.CompleteAuthenticationSet(ctx, testUserID, resp, nil)
	assert.True(t, types.IsValidation(err))

	_, err = f.svc.CompleteAuthenticationSet(ctx, testUserID, resp, resp)
	assert.True(t, types.IsValidation(err))

	_, err = f.svc.CompleteRegistration(ctx, testUserID, nil)
	assert.True(t, types.IsValidation(err))

	// Rejected input does not touch the challenge.
	a, err := f.svc.CompleteAuthentication(ctx, testUserID, resp)
	require.NoError(t, err)
	a.Zero()
}

func TestService_AllOrNothingSet(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)
	f.register(t, dev)

	options := f.beginLogin(t)
	good := assertWith(t, dev, options)
	bad, err := f.device(t).Assert(options)
	require.NoError(t, err)

	_, err = f.svc.CompleteAuthenticationSet(ctx, testUserID, good, bad)
	assert.ErrorIs(t, err, types.ErrAuthenticationFailed)

	// The counter update from the good response was rolled back.
	creds, err := f.store.Repositories().Credentials.ListByUser(ctx, testUserID)
	require.NoError(t, err)
	assert.Zero(t, creds[0].SignCount)
}

func TestService_PurgeExpired(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	f.register(t, f.device(t))

	f.beginLogin(t)
	_, err := f.svc.BeginRegistration(ctx, testUserID)
	require.NoError(t, err)

	n, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(time.Minute)
	n, err = f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestParseCredential_Errors(t *testing.T) {
	_, err := ParseCredentialCreation(nil)
	assert.True(t, types.IsValidation(err))
	_, err = ParseCredentialCreation([]byte(`{"id":`))
	assert.True(t, types.IsValidation(err))

	_, err = ParseCredentialAssertion(nil)
	assert.True(t, types.IsValidation(err))
	_, err = ParseCredentialAssertion([]byte(`{"type":"public-key"}`))
	assert.True(t, types.IsValidation(err))
}

func TestParseCredential_DeviceJSON(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	dev := f.device(t)

	options, err := f.svc.BeginRegistration(ctx, testUserID)
	require.NoError(t, err)
	body, err := dev.AttestJSON(options)
	require.NoError(t, err)
	parsed, err := ParseCredentialCreation(body)
	require.NoError(t, err)
	cred, err := f.svc.CompleteRegistration(ctx, testUserID, parsed)
	require.NoError(t, err)
	assert.Equal(t, types.CapabilityDeterministicSecret, cred.Capability)

	body, err = dev.AssertJSON(f.beginLogin(t))
	require.NoError(t, err)
	assertion, err := ParseCredentialAssertion(body)
	require.NoError(t, err)
	a, err := f.svc.CompleteAuthentication(ctx, testUserID, assertion)
	require.NoError(t, err)
	defer a.Zero()
	assert.True(t, a.HasSecret())
}
