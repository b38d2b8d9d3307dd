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
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-seedvault/pkg/adapters/logger"
	"github.com/jeremyhahn/go-seedvault/pkg/authenticator"
	"github.com/jeremyhahn/go-seedvault/pkg/metrics"
	"github.com/jeremyhahn/go-seedvault/pkg/storage"
	"github.com/jeremyhahn/go-seedvault/pkg/types"
)

// Service runs WebAuthn registration and authentication ceremonies against
// the challenge, credential and salt tables.
type Service struct {
	webauthn *webauthn.WebAuthn
	config   *Config
	store    *storage.Store
	salts    SaltSource
	logger   logger.Logger
	now      func() time.Time
}

// ServiceParams contains dependencies for creating a WebAuthn service.
type ServiceParams struct {
	// Config is the WebAuthn configuration (required).
	Config *Config

	// Store is the persistence layer (required).
	Store *storage.Store

	// Salts issues the initial salt of a new credential and resolves the
	// PRF inputs of an authentication (required).
	Salts SaltSource

	// Logger defaults to a discarding logger.
	Logger logger.Logger

	// Clock returns the current time. It governs challenge expiry.
	// Defaults to time.Now.
	Clock func() time.Time
}

// NewService creates a new WebAuthn service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if params.Salts == nil {
		return nil, fmt.Errorf("salt source is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	s := &Service{
		webauthn: wa,
		config:   params.Config,
		store:    params.Store,
		salts:    params.Salts,
		logger:   logger.OrDiscard(params.Logger),
		now:      params.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// BeginRegistration starts a registration ceremony for an existing user.
// The user's registered credentials are excluded and the PRF and
// hmac-secret extensions are requested. Any earlier registration challenge
// for the user is replaced.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	var creation *protocol.CredentialCreation
	err := s.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		u, creds, err := loadUser(ctx, r, userID)
		if err != nil {
			return err
		}
		if len(creds) >= credentialLimit(u) {
			return types.ErrLimitExceeded
		}

		options, session, err := s.webauthn.BeginRegistration(&user{u: u, creds: creds},
			webauthn.WithExclusions(descriptors(creds)),
			webauthn.WithExtensions(authenticator.RegistrationExtensions()),
		)
		if err != nil {
			return fmt.Errorf("begin registration: %w", err)
		}

		if err := s.saveChallenge(ctx, r, userID, types.PurposeRegistration, &ceremonyState{Session: *session}); err != nil {
			return err
		}
		creation = options
		return nil
	})
	if err != nil {
		return nil, types.WrapError("webauthn.BeginRegistration", err)
	}
	return creation, nil
}

// CompleteRegistration verifies an attestation against the user's live
// registration challenge, stores the credential and issues its first
// seed_encryption salt, all in one transaction.
//
// A missing challenge returns types.ErrNoActiveChallenge and a late one
// types.ErrExpiredChallenge. Any verification failure returns
// types.ErrAuthenticationFailed.
func (s *Service) CompleteRegistration(ctx context.Context, userID string, resp *protocol.ParsedCredentialCreationData) (*types.Credential, error) {
	cred, err := s.completeRegistration(ctx, userID, resp)
	metrics.RecordCeremony(metrics.CeremonyRegistration, err)
	if err != nil {
		var ids [][]byte
		if resp != nil {
			ids = append(ids, resp.RawID)
		}
		s.logChallengeError(ctx, userID, types.PurposeRegistration, ids, err)
		return nil, types.WrapError("webauthn.CompleteRegistration", err)
	}

	s.logger.WithContext(ctx).Info("credential registered",
		logger.UserID(userID),
		logger.CredentialID(cred.ID),
		logger.String("capability", string(cred.Capability)),
		logger.Bool("primary", cred.Primary))
	return cred, nil
}

func (s *Service) completeRegistration(ctx context.Context, userID string, resp *protocol.ParsedCredentialCreationData) (*types.Credential, error) {
	if resp == nil {
		return nil, types.NewValidationError("credential", "must not be empty")
	}

	var (
		cred    *types.Credential
		expired bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		ch, state, err := s.liveChallenge(ctx, r, userID, types.PurposeRegistration)
		if errors.Is(err, types.ErrExpiredChallenge) {
			expired = true
			return nil
		}
		if err != nil {
			return err
		}

		u, creds, err := loadUser(ctx, r, userID)
		if err != nil {
			return err
		}

		wc, err := s.webauthn.CreateCredential(&user{u: u, creds: creds}, state.Session, resp)
		if err != nil {
			s.logger.WithContext(ctx).Warn("registration verification failed",
				append(protocolFields(err),
					logger.UserID(userID),
					logger.String("purpose", string(types.PurposeRegistration)),
					logger.CredentialID(resp.RawID))...)
			return types.ErrAuthenticationFailed
		}

		if err := r.Challenges.Consume(ctx, userID, types.PurposeRegistration, ch.Challenge); err != nil {
			return err
		}
		if len(creds) >= credentialLimit(u) {
			return types.ErrLimitExceeded
		}

		capability := authenticator.DetectCapability(resp.ClientExtensionResults)
		cred = fromWebAuthn(userID, wc, capability, s.now())
		cred.Primary = len(creds) == 0
		if err := r.Credentials.Create(ctx, cred); err != nil {
			return err
		}

		_, err = s.salts.IssueWith(ctx, r, cred.ID, types.SaltPurposeSeedEncryption)
		return err
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, types.ErrExpiredChallenge
	}
	return cred, nil
}

// BeginAuthentication starts an authentication ceremony listing every
// credential the user has. For deterministic-secret credentials the PRF
// evalByCredential input carries the current salt as first and, while a
// rotation is pending, the newer salt as second.
func (s *Service) BeginAuthentication(ctx context.Context, userID string) (*protocol.CredentialAssertion, error) {
	var assertion *protocol.CredentialAssertion
	err := s.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		u, creds, err := loadUser(ctx, r, userID)
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			return types.ErrCredentialNotFound
		}

		state := &ceremonyState{Salts: make(map[string]saltPair)}
		inputs := make(map[string]authenticator.PRFInput)
		for _, c := range creds {
			if c.Capability != types.CapabilityDeterministicSecret {
				continue
			}
			res, err := s.salts.ResolveWith(ctx, r, c.ID, types.SaltPurposeSeedEncryption)
			if errors.Is(err, types.ErrSaltNotFound) {
				s.logger.WithContext(ctx).Warn("credential has no seed_encryption salt",
					logger.UserID(userID), logger.CredentialID(c.ID))
				continue
			}
			if err != nil {
				return err
			}

			pair := saltPair{Current: res.Current.ID}
			in := authenticator.PRFInput{First: res.Current.Value}
			if res.Pending != nil {
				pair.Pending = res.Pending.ID
				in.Second = res.Pending.Value
			}
			state.Salts[c.EncodedID()] = pair
			inputs[c.EncodedID()] = in
		}

		var opts []webauthn.LoginOption
		if ext := authenticator.AssertionExtensions(inputs); ext != nil {
			opts = append(opts, webauthn.WithAssertionExtensions(ext))
		}

		options, session, err := s.webauthn.BeginLogin(&user{u: u, creds: creds}, opts...)
		if err != nil {
			return fmt.Errorf("begin login: %w", err)
		}
		state.Session = *session

		if err := s.saveChallenge(ctx, r, userID, types.PurposeAuthentication, state); err != nil {
			return err
		}
		assertion = options
		return nil
	})
	if err != nil {
		return nil, types.WrapError("webauthn.BeginAuthentication", err)
	}
	return assertion, nil
}

// CompleteAuthentication verifies one assertion against the user's live
// authentication challenge. See CompleteAuthenticationSet.
func (s *Service) CompleteAuthentication(ctx context.Context, userID string, resp *protocol.ParsedCredentialAssertionData) (*Assertion, error) {
	out, err := s.CompleteAuthenticationSet(ctx, userID, resp)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CompleteAuthenticationSet verifies assertions from one or more distinct
// credentials that answered the same challenge. Every signature is checked
// and every counter recorded before the challenge is consumed, in one
// transaction. Either all assertions are returned or none.
//
// A counter that did not advance sets Assertion.Warning and is logged; the
// ceremony still succeeds. Device secrets are taken from the PRF or
// hmac-secret outputs only after the signature has verified. Callers own
// the returned secrets and must Zero them.
func (s *Service) CompleteAuthenticationSet(ctx context.Context, userID string, resps ...*protocol.ParsedCredentialAssertionData) ([]*Assertion, error) {
	out, err := s.completeAuthentication(ctx, userID, resps)
	metrics.RecordCeremony(metrics.CeremonyAuthentication, err)
	if err != nil {
		ids := make([][]byte, 0, len(resps))
		for _, resp := range resps {
			if resp != nil {
				ids = append(ids, resp.RawID)
			}
		}
		s.logChallengeError(ctx, userID, types.PurposeAuthentication, ids, err)
		return nil, types.WrapError("webauthn.CompleteAuthentication", err)
	}

	log := s.logger.WithContext(ctx)
	for _, a := range out {
		if a.Warning != nil {
			metrics.RecordCloneWarning()
			log.Warn("possible cloned authenticator",
				logger.UserID(userID),
				logger.CredentialID(a.CredentialID),
				logger.Uint32("sign_count", a.SignCount),
				logger.Error(a.Warning))
		}
		log.Debug("assertion verified",
			logger.UserID(userID),
			logger.CredentialID(a.CredentialID),
			logger.Bool("secret", a.HasSecret()),
			logger.Bool("rotation_pending", a.HasPendingRotation()))
	}
	return out, nil
}

func (s *Service) completeAuthentication(ctx context.Context, userID string, resps []*protocol.ParsedCredentialAssertionData) (out []*Assertion, err error) {
	if len(resps) == 0 {
		return nil, types.NewValidationError("assertion", "at least one response is required")
	}
	seen := make(map[string]struct{}, len(resps))
	for _, resp := range resps {
		if resp == nil {
			return nil, types.NewValidationError("assertion", "must not be empty")
		}
		id := string(resp.RawID)
		if _, dup := seen[id]; dup {
			return nil, types.NewValidationError("assertion", "credential answered more than once")
		}
		seen[id] = struct{}{}
	}

	defer func() {
		if err != nil {
			ZeroAll(out)
			out = nil
		}
	}()

	var expired bool
	err = s.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		out = out[:0]

		ch, state, err := s.liveChallenge(ctx, r, userID, types.PurposeAuthentication)
		if errors.Is(err, types.ErrExpiredChallenge) {
			expired = true
			return nil
		}
		if err != nil {
			return err
		}

		u, creds, err := loadUser(ctx, r, userID)
		if err != nil {
			return err
		}
		wu := &user{u: u, creds: creds}
		now := s.now()

		for _, resp := range resps {
			a, err := s.verifyAssertion(ctx, r, wu, state, resp, now)
			if err != nil {
				return err
			}
			out = append(out, a)
		}

		return r.Challenges.Consume(ctx, userID, types.PurposeAuthentication, ch.Challenge)
	})
	if err != nil {
		return out, err
	}
	if expired {
		return out, types.ErrExpiredChallenge
	}
	return out, nil
}

// verifyAssertion checks one response, records the credential use and
// extracts its device secrets.
func (s *Service) verifyAssertion(ctx context.Context, r *storage.Repositories, wu *user, state *ceremonyState, resp *protocol.ParsedCredentialAssertionData, now time.Time) (*Assertion, error) {
	wc, err := s.webauthn.ValidateLogin(wu, state.Session, resp)
	if err != nil {
		s.logger.WithContext(ctx).Warn("assertion verification failed",
			append(protocolFields(err),
				logger.UserID(wu.u.ID),
				logger.String("purpose", string(types.PurposeAuthentication)),
				logger.CredentialID(resp.RawID))...)
		return nil, types.ErrAuthenticationFailed
	}

	idx := storage.IndexOf(wu.creds, wc.ID)
	if idx < 0 {
		s.logger.WithContext(ctx).Warn("assertion for unknown credential",
			logger.UserID(wu.u.ID),
			logger.CredentialID(wc.ID))
		return nil, types.ErrAuthenticationFailed
	}
	stored := wu.creds[idx]

	observed := resp.Response.AuthenticatorData.Counter
	clone := observed <= stored.SignCount && !(observed == 0 && stored.SignCount == 0)
	flags := types.CredentialFlags{
		UserPresent:    wc.Flags.UserPresent,
		UserVerified:   wc.Flags.UserVerified,
		BackupEligible: wc.Flags.BackupEligible,
		BackupState:    wc.Flags.BackupState,
	}
	if err := r.Credentials.RecordUse(ctx, stored.ID, observed, clone, flags, now); err != nil {
		return nil, err
	}

	a := &Assertion{
		UserID:       wu.u.ID,
		CredentialID: stored.ID,
		Capability:   stored.Capability,
		SignCount:    max(observed, stored.SignCount),
	}
	if clone {
		a.Warning = fmt.Errorf("%w: stored counter %d, observed %d",
			types.ErrPossibleCloneDetected, stored.SignCount, observed)
	}

	pair, ok := state.Salts[stored.EncodedID()]
	if !ok || stored.Capability != types.CapabilityDeterministicSecret {
		return a, nil
	}
	a.SaltID = pair.Current

	outputs, err := authenticator.ParseSecretOutputs(resp.ClientExtensionResults)
	if err != nil {
		return nil, types.NewValidationError("clientExtensionResults", err.Error())
	}
	if outputs == nil {
		return a, nil
	}
	a.DeviceSecret = outputs.First
	if pair.Pending != "" && len(outputs.Second) > 0 {
		a.NextSaltID = pair.Pending
		a.NextDeviceSecret = outputs.Second
	} else {
		clear(outputs.Second)
	}
	return a, nil
}

// logChallengeError records a missing, replayed or expired challenge with
// the context the caller never sees.
func (s *Service) logChallengeError(ctx context.Context, userID string, purpose types.Purpose, credentialIDs [][]byte, err error) {
	var reason string
	switch {
	case errors.Is(err, types.ErrExpiredChallenge):
		reason = "expired"
	case errors.Is(err, types.ErrNoActiveChallenge):
		reason = "missing_or_consumed"
	default:
		return
	}
	ids := make([]string, len(credentialIDs))
	for i, id := range credentialIDs {
		ids[i] = types.EncodeID(id)
	}
	s.logger.WithContext(ctx).Warn("challenge rejected",
		logger.UserID(userID),
		logger.String("purpose", string(purpose)),
		logger.String("reason", reason),
		logger.Strings("credential_ids", ids),
		logger.Error(err))
}

// CancelCeremony discards the user's live challenge for purpose.
func (s *Service) CancelCeremony(ctx context.Context, userID string, purpose types.Purpose) error {
	if !purpose.Valid() {
		return types.NewValidationError("purpose", fmt.Sprintf("unknown purpose %q", purpose))
	}
	err := s.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		return r.Challenges.Delete(ctx, userID, purpose)
	})
	return types.WrapError("webauthn.CancelCeremony", err)
}

// PurgeExpired deletes every challenge past its expiry and returns how many
// were removed.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.store.InTx(ctx, func(ctx context.Context, r *storage.Repositories) error {
		var err error
		n, err = r.Challenges.DeleteExpired(ctx, s.now())
		return err
	})
	if err != nil {
		return 0, types.WrapError("webauthn.PurgeExpired", err)
	}
	if n > 0 {
		s.logger.WithContext(ctx).Debug("expired challenges purged", logger.Int64("count", n))
	}
	return n, nil
}

// saveChallenge stores the ceremony state, replacing any earlier challenge
// for (user, purpose). Expiry is governed by the stored row, so the
// library's own expiry is cleared.
func (s *Service) saveChallenge(ctx context.Context, r *storage.Repositories, userID string, purpose types.Purpose, state *ceremonyState) error {
	raw, err := base64.RawURLEncoding.DecodeString(state.Session.Challenge)
	if err != nil {
		return fmt.Errorf("decode challenge: %w", err)
	}
	state.Session.Expires = time.Time{}

	encoded, err := encodeState(state)
	if err != nil {
		return err
	}

	now := s.now()
	return r.Challenges.Upsert(ctx, &types.Challenge{
		UserID:    userID,
		Purpose:   purpose,
		Challenge: raw,
		Session:   encoded,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.Timeout),
	})
}

// liveChallenge loads the challenge for (user, purpose). An expired
// challenge is deleted and types.ErrExpiredChallenge returned; the caller
// must commit so that the deletion sticks.
func (s *Service) liveChallenge(ctx context.Context, r *storage.Repositories, userID string, purpose types.Purpose) (*types.Challenge, *ceremonyState, error) {
	ch, err := r.Challenges.Get(ctx, userID, purpose)
	if err != nil {
		return nil, nil, err
	}
	if ch.Expired(s.now()) {
		if err := r.Challenges.Delete(ctx, userID, purpose); err != nil {
			return nil, nil, err
		}
		return nil, nil, types.ErrExpiredChallenge
	}
	state, err := decodeState(ch.Session)
	if err != nil {
		return nil, nil, err
	}
	return ch, state, nil
}

func loadUser(ctx context.Context, r *storage.Repositories, userID string) (*types.User, []*types.Credential, error) {
	u, err := r.Users.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	creds, err := r.Credentials.ListByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return u, creds, nil
}

func credentialLimit(u *types.User) int {
	if u.MaxCredentials <= 0 {
		return types.DefaultMaxCredentials
	}
	return u.MaxCredentials
}
