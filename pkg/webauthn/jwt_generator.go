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
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest HMAC secret accepted for HS256 tokens.
const MinSecretLength = 32

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// DefaultJWTGenerator issues and verifies session tokens for users that
// completed an authentication ceremony.
type DefaultJWTGenerator struct {
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	issuer    string
	audience  []string
	expiresIn time.Duration
	keyID     string
	now       func() time.Time
}

// JWTGeneratorConfig contains configuration for the JWT generator.
// Exactly one of Secret or PrivateKey must be set.
type JWTGeneratorConfig struct {
	// Secret selects HS256 (at least MinSecretLength bytes).
	Secret []byte

	// PrivateKey selects ES256/ES384/ES512, EdDSA or RS256 by key type.
	PrivateKey crypto.PrivateKey

	// Issuer is the iss claim (default: "go-seedvault")
	Issuer string

	// Audience is the aud claim (default: ["go-seedvault"])
	Audience []string

	// ExpiresIn is the token lifetime (default: 15 minutes)
	ExpiresIn time.Duration

	// KeyID is set as the kid header when not empty
	KeyID string

	// Clock defaults to time.Now
	Clock func() time.Time
}

// NewDefaultJWTGenerator creates a new JWT generator with the given configuration.
func NewDefaultJWTGenerator(config *JWTGeneratorConfig) (*DefaultJWTGenerator, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	g := &DefaultJWTGenerator{
		issuer:    config.Issuer,
		audience:  config.Audience,
		expiresIn: config.ExpiresIn,
		keyID:     config.KeyID,
		now:       config.Clock,
	}
	if g.issuer == "" {
		g.issuer = "go-seedvault"
	}
	if len(g.audience) == 0 {
		g.audience = []string{"go-seedvault"}
	}
	if g.expiresIn == 0 {
		g.expiresIn = 15 * time.Minute
	}
	if g.now == nil {
		g.now = time.Now
	}

	switch {
	case len(config.Secret) > 0 && config.PrivateKey != nil:
		return nil, fmt.Errorf("secret and private key are mutually exclusive")
	case len(config.Secret) > 0:
		if len(config.Secret) < MinSecretLength {
			return nil, fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
		}
		g.method = jwt.SigningMethodHS256
		g.signKey = config.Secret
		g.verifyKey = config.Secret
	case config.PrivateKey != nil:
		method, pub, err := asymmetricMethod(config.PrivateKey)
		if err != nil {
			return nil, err
		}
		g.method = method
		g.signKey = config.PrivateKey
		g.verifyKey = pub
	default:
		return nil, fmt.Errorf("secret or private key is required")
	}
	return g, nil
}

func asymmetricMethod(key crypto.PrivateKey) (jwt.SigningMethod, crypto.PublicKey, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jwt.SigningMethodES256, &k.PublicKey, nil
		case elliptic.P384():
			return jwt.SigningMethodES384, &k.PublicKey, nil
		case elliptic.P521():
			return jwt.SigningMethodES512, &k.PublicKey, nil
		}
		return nil, nil, fmt.Errorf("unsupported ECDSA curve %s", k.Curve.Params().Name)
	case ed25519.PrivateKey:
		return jwt.SigningMethodEdDSA, k.Public(), nil
	case *rsa.PrivateKey:
		return jwt.SigningMethodRS256, &k.PublicKey, nil
	default:
		return nil, nil, fmt.Errorf("unsupported private key type %T", key)
	}
}

// GenerateToken creates a signed token whose subject is userID.
func (g *DefaultJWTGenerator) GenerateToken(_ context.Context, userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is required")
	}
	now := g.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    g.issuer,
		Subject:   userID,
		Audience:  g.audience,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.expiresIn)),
	}

	token := jwt.NewWithClaims(g.method, claims)
	if g.keyID != "" {
		token.Header["kid"] = g.keyID
	}
	signed, err := token.SignedString(g.signKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates signature, issuer, audience and lifetime and
// returns the subject.
func (g *DefaultJWTGenerator) VerifyToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) { return g.verifyKey, nil },
		jwt.WithValidMethods([]string{g.method.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithAudience(g.audience[0]),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

// Algorithm returns the JWS algorithm in use.
func (g *DefaultJWTGenerator) Algorithm() string {
	return g.method.Alg()
}

// ExpiresIn returns the token lifetime.
func (g *DefaultJWTGenerator) ExpiresIn() time.Duration {
	return g.expiresIn
}

var (
	_ TokenGenerator = (*DefaultJWTGenerator)(nil)
	_ TokenVerifier  = (*DefaultJWTGenerator)(nil)
)
