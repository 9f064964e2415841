package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://sts.windows.net/tenant-1/"
	testAudience = "https://management.azure.com"
)

var (
	testNow = time.Date(2025, 4, 15, 12, 0, 0, 0, time.UTC)

	keyOnce      sync.Once
	primaryKey   *rsa.PrivateKey
	secondaryKey *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if primaryKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if secondaryKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
	})
	return primaryKey, secondaryKey
}

// staticKeys resolves keys from a fixed map and counts lookups.
type staticKeys struct {
	keys    map[string]SigningKey
	lookups atomic.Int32
}

func (s *staticKeys) Key(ctx context.Context, kid string) (SigningKey, error) {
	s.lookups.Add(1)
	k, ok := s.keys[kid]
	if !ok {
		return SigningKey{}, ErrUnknownSigningKey
	}
	return k, nil
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":         testIssuer,
		"aud":         testAudience,
		"sub":         "subject-1",
		"oid":         "object-1",
		"tid":         "tenant-1",
		"name":        "Ada Lovelace",
		"unique_name": "ada@example.com",
		"iat":         testNow.Add(-time.Minute).Unix(),
		"nbf":         testNow.Add(-time.Minute).Unix(),
		"exp":         testNow.Add(time.Hour).Unix(),
	}
}

func signRS256(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	require.NoError(t, err)
	return s
}

func newTestValidator(t *testing.T) (*Validator, *staticKeys) {
	t.Helper()
	primary, _ := testKeys(t)
	keys := &staticKeys{keys: map[string]SigningKey{
		"k1":    {KeyID: "k1", Algorithm: "RS256", PublicKey: &primary.PublicKey},
		"k-512": {KeyID: "k-512", Algorithm: "RS512", PublicKey: &primary.PublicKey},
	}}
	v := NewValidator(keys, ValidatorConfig{
		Issuer:   testIssuer,
		Audience: testAudience,
		Now:      func() time.Time { return testNow },
	})
	return v, keys
}

func TestValidateAcceptsValidToken(t *testing.T) {
	v, _ := newTestValidator(t)
	primary, _ := testKeys(t)
	raw := signRS256(t, primary, "k1", validClaims())

	p, err := v.Validate(context.Background(), raw)
	require.NoError(t, err)

	assert.Equal(t, "subject-1", p.Subject)
	assert.Equal(t, "object-1", p.ID())
	assert.Equal(t, "tenant-1", p.TenantID)
	assert.Equal(t, "Ada Lovelace", p.Name)
	assert.Equal(t, "ada@example.com", p.UniqueName)
	assert.Equal(t, testIssuer, p.Issuer)
	assert.Equal(t, []string{testAudience}, p.Audience)
	assert.True(t, p.ExpiresAt.Equal(testNow.Add(time.Hour)))
	assert.Equal(t, raw, p.Token)
}

func TestValidateFailures(t *testing.T) {
	primary, secondary := testKeys(t)

	with := func(mutate func(jwt.MapClaims)) jwt.MapClaims {
		c := validClaims()
		mutate(c)
		return c
	}

	tests := []struct {
		name  string
		token func(t *testing.T) string
		want  error
	}{
		{
			name:  "empty",
			token: func(t *testing.T) string { return "" },
			want:  ErrMissingToken,
		},
		{
			name:  "garbage",
			token: func(t *testing.T) string { return "not-a-jwt" },
			want:  ErrInvalidSignature,
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "k1", with(func(c jwt.MapClaims) {
					c["exp"] = testNow.Add(-time.Minute).Unix()
				}))
			},
			want: ErrExpiredOrNotYetValid,
		},
		{
			name: "not yet valid",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "k1", with(func(c jwt.MapClaims) {
					c["nbf"] = testNow.Add(time.Hour).Unix()
				}))
			},
			want: ErrExpiredOrNotYetValid,
		},
		{
			name: "no expiry",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "k1", with(func(c jwt.MapClaims) { delete(c, "exp") }))
			},
			want: ErrExpiredOrNotYetValid,
		},
		{
			name: "wrong audience",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "k1", with(func(c jwt.MapClaims) { c["aud"] = "api://other" }))
			},
			want: ErrAudienceMismatch,
		},
		{
			name: "missing audience",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "k1", with(func(c jwt.MapClaims) { delete(c, "aud") }))
			},
			want: ErrAudienceMismatch,
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "k1", with(func(c jwt.MapClaims) {
					c["iss"] = "https://sts.windows.net/other-tenant/"
				}))
			},
			want: ErrIssuerMismatch,
		},
		{
			name: "signed by another key",
			token: func(t *testing.T) string {
				return signRS256(t, secondary, "k1", validClaims())
			},
			want: ErrInvalidSignature,
		},
		{
			name: "unknown key id",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "rotated", validClaims())
			},
			want: ErrUnknownSigningKey,
		},
		{
			name: "no key id",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "", validClaims())
			},
			want: ErrInvalidSignature,
		},
		{
			name: "key published for another algorithm",
			token: func(t *testing.T) string {
				return signRS256(t, primary, "k-512", validClaims())
			},
			want: ErrInvalidSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := newTestValidator(t)
			p, err := v.Validate(context.Background(), tt.token(t))
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestValidateRejectsSymmetricAlgorithmBeforeKeyLookup(t *testing.T) {
	v, keys := newTestValidator(t)

	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims())
	hs.Header["kid"] = "k1"
	raw, err := hs.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	assert.Zero(t, keys.lookups.Load())
}

func TestValidateRejectsNoneAlgorithm(t *testing.T) {
	v, keys := newTestValidator(t)

	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims()).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	assert.Zero(t, keys.lookups.Load())
}

func TestValidateRejectsRS512WhenOnlyRS256Allowed(t *testing.T) {
	v, _ := newTestValidator(t)
	primary, _ := testKeys(t)

	tok := jwt.NewWithClaims(jwt.SigningMethodRS512, validClaims())
	tok.Header["kid"] = "k-512"
	raw, err := tok.SignedString(primary)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), raw)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrMissingToken, "missing_token"},
		{ErrUnsupportedAlgorithm, "unsupported_algorithm"},
		{errors.Join(ErrInvalidSignature, ErrUnknownSigningKey), "unknown_signing_key"},
		{ErrInvalidSignature, "invalid_signature"},
		{ErrExpiredOrNotYetValid, "expired_or_not_yet_valid"},
		{ErrAudienceMismatch, "audience_mismatch"},
		{ErrIssuerMismatch, "issuer_mismatch"},
		{errors.New("x"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Reason(tt.err))
	}
}
