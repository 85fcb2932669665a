// Package auth provides JWT-based authentication for kensa operators.
//
// Tokens are EdDSA (Ed25519) signed. Keys come from PEM files written by
// scripts/genkey, or are generated per process for development.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ashita-ai/kensa/internal/model"
)

// Issuer is the iss and aud of every token this service issues.
const Issuer = "kensa"

// clockSkew is the leeway applied to exp, nbf and iat checks.
const clockSkew = 30 * time.Second

// ErrUnknownRole is returned for a token whose role claim kensa does not grant.
var ErrUnknownRole = errors.New("auth: unknown role")

// Claims extends jwt.RegisteredClaims with operator fields.
type Claims struct {
	jwt.RegisteredClaims
	OperatorID string             `json:"operator_id"`
	Role       model.OperatorRole `json:"role"`
}

// JWTManager issues and validates operator tokens.
type JWTManager struct {
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
	ttl    time.Duration
	parser *jwt.Parser
}

// NewJWTManager loads the key pair at the given paths. With either path
// empty it generates an ephemeral pair, so tokens do not survive a restart.
func NewJWTManager(privateKeyPath, publicKeyPath string, ttl time.Duration) (*JWTManager, error) {
	var (
		priv ed25519.PrivateKey
		pub  ed25519.PublicKey
		err  error
	)
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no JWT key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
	} else if priv, pub, err = LoadKeyPair(privateKeyPath, publicKeyPath); err != nil {
		return nil, err
	}

	return &JWTManager{
		priv: priv,
		pub:  pub,
		ttl:  ttl,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithAudience(Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
			jwt.WithLeeway(clockSkew),
		),
	}, nil
}

// IssueToken signs a token for op and returns it with its expiry.
func (m *JWTManager) IssueToken(op model.Operator) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.ttl)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   op.ID.String(),
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		OperatorID: op.OperatorID,
		Role:       op.Role,
	}).SignedString(m.priv)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken verifies signature, issuer, audience and lifetime, and that
// the subject is an operator UUID carrying a known role.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	var claims Claims
	if _, err := m.parser.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return m.pub, nil
	}); err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("auth: invalid subject (expected UUID): %w", err)
	}
	if model.RoleRank(claims.Role) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}
	return &claims, nil
}
