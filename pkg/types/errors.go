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

package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every seedvault package.
var (
	// ErrValidation is returned for malformed input, most often a ceremony
	// payload that cannot be decoded.
	ErrValidation = errors.New("validation failed")

	// ErrExpiredChallenge is returned when a ceremony completes after the
	// challenge's recorded expiry.
	ErrExpiredChallenge = errors.New("challenge expired")

	// ErrNoActiveChallenge is returned when no live challenge exists for the
	// (user, purpose) pair, including after the challenge was consumed.
	ErrNoActiveChallenge = errors.New("no active challenge")

	// ErrAuthenticationFailed covers both signature verification failures and
	// AEAD tag mismatches. The two cases are deliberately indistinguishable.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrPossibleCloneDetected is a warning raised when an authenticator
	// reports a signature counter that did not increase.
	ErrPossibleCloneDetected = errors.New("possible cloned authenticator detected")

	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialAlreadyExists is returned when registering a credential id twice.
	ErrCredentialAlreadyExists = errors.New("credential already exists")

	// ErrLastCredential is returned when an operation would remove the last
	// path a user has to their credentials or seed.
	ErrLastCredential = errors.New("cannot remove the last credential")

	// ErrLimitExceeded is returned when a user already holds the maximum
	// number of credentials.
	ErrLimitExceeded = errors.New("credential limit exceeded")

	// ErrExpired is returned when reading a secure memory handle past its expiry.
	ErrExpired = errors.New("secure memory handle expired")

	// ErrUserNotFound is returned when a user cannot be found.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists is returned when creating a user whose name is taken.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrSeedNotFound is returned when the user has no stored seed.
	ErrSeedNotFound = errors.New("seed not found")

	// ErrSaltNotFound is returned when a salt cannot be found.
	ErrSaltNotFound = errors.New("salt not found")

	// ErrWrappedKeyNotFound is returned when no wrapped key exists for a
	// (seed, credential) pair.
	ErrWrappedKeyNotFound = errors.New("wrapped key not found")

	// ErrCapabilityUnavailable is returned when an authenticator cannot
	// produce a device secret over the requested channel.
	ErrCapabilityUnavailable = errors.New("authenticator capability unavailable")
)

// VaultError wraps an error with the operation that produced it.
type VaultError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

// Error returns the error message.
func (e *VaultError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *VaultError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *VaultError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewError creates a new VaultError with the given operation and error.
func NewError(op string, err error) error {
	return &VaultError{
		Op:  op,
		Err: err,
	}
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(op, err)
}

// ValidationError describes a malformed input field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError for the named field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", ErrValidation, e.Field, e.Reason)
}

// Is reports whether the target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// IsValidation returns true if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsAuthenticationFailed returns true if the error indicates a failed
// signature or AEAD check.
func IsAuthenticationFailed(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsUserNotFound returns true if the error indicates a user was not found.
func IsUserNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound)
}

// IsChallengeError returns true for expired or missing challenges.
func IsChallengeError(err error) bool {
	return errors.Is(err, ErrExpiredChallenge) || errors.Is(err, ErrNoActiveChallenge)
}
