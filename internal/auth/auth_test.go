package auth_test

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/argon2"

	"github.com/ashita-ai/kensa/internal/auth"
	"github.com/ashita-ai/kensa/internal/model"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestHashAPIKey_PHCFormat(t *testing.T) {
	hash, err := auth.HashAPIKey("ops-key")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$"), hash)
	assert.False(t, auth.NeedsRehash(hash))

	other, err := auth.HashAPIKey("ops-key")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts differ")
}

func TestVerifyAPIKey_RecordedParams(t *testing.T) {
	// A hash minted at a lower cost still verifies, and is flagged for rehash.
	lowCost := lowCostHash(t, "legacy-key")
	ok, err := auth.VerifyAPIKey("legacy-key", lowCost)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, auth.NeedsRehash(lowCost))
}

func TestVerifyAPIKey_BadFormat(t *testing.T) {
	for _, encoded := range []string{
		"",
		"c2FsdA$aGFzaA",
		"$argon2i$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=16$m=1,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=1,t=1,p=1$!!$aGFzaA",
	} {
		_, err := auth.VerifyAPIKey("k", encoded)
		assert.ErrorIs(t, err, auth.ErrHashFormat, encoded)
	}
}

func lowCostHash(t *testing.T, key string) string {
	t.Helper()
	salt := []byte("0123456789abcdef")
	sum := argon2.IDKey([]byte(key), salt, 1, 8*1024, 1, 32)
	return fmt.Sprintf("$argon2id$v=19$m=8192,t=1,p=1$%s$%s",
		base64.RawStdEncoding.EncodeToString(salt), base64.RawStdEncoding.EncodeToString(sum))
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	op := model.Operator{
		ID:         uuid.New(),
		OperatorID: "night-shift",
		Name:       "Night shift",
		Role:       model.RoleOperator,
	}

	token, expiresAt, err := mgr.IssueToken(op)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "night-shift", claims.OperatorID)
	assert.Equal(t, model.RoleOperator, claims.Role)
	assert.Equal(t, op.ID.String(), claims.Subject)
	assert.Equal(t, auth.Issuer, claims.Issuer)
}

func TestValidateToken_OtherKey(t *testing.T) {
	issuer, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.IssueToken(model.Operator{ID: uuid.New(), OperatorID: "x", Role: model.RoleReader})
	require.NoError(t, err)
	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

// managerWithKey writes a key pair to a temp dir and returns a manager
// loaded from it plus the private key for forging tokens.
func managerWithKey(t *testing.T) (*auth.JWTManager, ed25519.PrivateKey) {
	t.Helper()
	privPath, pubPath, err := auth.WriteKeyPair(t.TempDir())
	require.NoError(t, err)
	priv, _, err := auth.LoadKeyPair(privPath, pubPath)
	require.NoError(t, err)
	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)
	return mgr, priv
}

func validClaims() *auth.Claims {
	now := time.Now().UTC()
	return &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   uuid.NewString(),
			Issuer:    auth.Issuer,
			Audience:  jwt.ClaimStrings{auth.Issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		OperatorID: "night-shift",
		Role:       model.RoleOperator,
	}
}

func TestValidateToken_Forged(t *testing.T) {
	mgr, priv := managerWithKey(t)

	tests := []struct {
		name    string
		mutate  func(c *auth.Claims)
		wantErr error
		wantMsg string
	}{
		{"wrong issuer", func(c *auth.Claims) { c.Issuer = "not-kensa" }, jwt.ErrTokenInvalidIssuer, ""},
		{"empty issuer", func(c *auth.Claims) { c.Issuer = "" }, jwt.ErrTokenRequiredClaimMissing, ""},
		{"wrong audience", func(c *auth.Claims) { c.Audience = jwt.ClaimStrings{"other"} }, jwt.ErrTokenInvalidAudience, ""},
		{"no expiry", func(c *auth.Claims) { c.ExpiresAt = nil }, jwt.ErrTokenRequiredClaimMissing, ""},
		{"expired", func(c *auth.Claims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
		}, jwt.ErrTokenExpired, ""},
		{"issued in the future", func(c *auth.Claims) {
			c.IssuedAt = jwt.NewNumericDate(time.Now().Add(10 * time.Minute))
		}, jwt.ErrTokenUsedBeforeIssued, ""},
		{"malformed subject", func(c *auth.Claims) { c.Subject = "not-a-uuid" }, nil, "invalid subject"},
		{"unknown role", func(c *auth.Claims) { c.Role = "superuser" }, auth.ErrUnknownRole, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validClaims()
			tt.mutate(c)
			signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c).SignedString(priv)
			require.NoError(t, err)

			_, err = mgr.ValidateToken(signed)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateToken_WithinSkew(t *testing.T) {
	mgr, priv := managerWithKey(t)
	c := validClaims()
	c.IssuedAt = jwt.NewNumericDate(time.Now().Add(10 * time.Second))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c).SignedString(priv)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, "night-shift", claims.OperatorID)
}

func TestValidateToken_RejectsNoneAlg(t *testing.T) {
	mgr, _ := managerWithKey(t)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestLoadKeyPair_Mismatch(t *testing.T) {
	privA, _, err := auth.WriteKeyPair(t.TempDir())
	require.NoError(t, err)
	_, pubB, err := auth.WriteKeyPair(t.TempDir())
	require.NoError(t, err)

	_, _, err = auth.LoadKeyPair(privA, pubB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")

	_, err = auth.NewJWTManager(privA, pubB, time.Hour)
	assert.Error(t, err)
}

func TestLoadKeyPair_WrongBlock(t *testing.T) {
	privPath, pubPath, err := auth.WriteKeyPair(t.TempDir())
	require.NoError(t, err)

	_, _, err = auth.LoadKeyPair(pubPath, privPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no PRIVATE KEY PEM block")

	bad := filepath.Join(t.TempDir(), "junk.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0o600))
	_, _, err = auth.LoadKeyPair(bad, pubPath)
	assert.Error(t, err)
}
