package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal is the authenticated caller. Token is the raw bearer string and
// is forwarded to downstream APIs as the caller's credential.
type Principal struct {
	Subject    string
	ObjectID   string
	TenantID   string
	Name       string
	UniqueName string
	Issuer     string
	Audience   []string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Token      string
}

// ID is a stable identifier for the caller, preferring the directory object id.
func (p *Principal) ID() string {
	if p.ObjectID != "" {
		return p.ObjectID
	}
	return p.Subject
}

// KeyResolver returns the public key for a key id.
type KeyResolver interface {
	Key(ctx context.Context, kid string) (SigningKey, error)
}

// ValidatorConfig holds the expected token properties.
type ValidatorConfig struct {
	Issuer     string
	Audience   string
	Algorithms []string // defaults to RS256
	Leeway     time.Duration
	Now        func() time.Time // for tests
}

// Validator verifies bearer tokens issued by the identity provider.
type Validator struct {
	keys       KeyResolver
	algorithms []string
	parser     *jwt.Parser
}

type tokenClaims struct {
	jwt.RegisteredClaims
	ObjectID   string `json:"oid,omitempty"`
	TenantID   string `json:"tid,omitempty"`
	Name       string `json:"name,omitempty"`
	UniqueName string `json:"unique_name,omitempty"`
	UPN        string `json:"upn,omitempty"`
}

// NewValidator returns a validator that resolves keys through keys.
func NewValidator(keys KeyResolver, cfg ValidatorConfig) *Validator {
	algs := cfg.Algorithms
	if len(algs) == 0 {
		algs = []string{jwt.SigningMethodRS256.Alg()}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(algs),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}

	return &Validator{
		keys:       keys,
		algorithms: slices.Clone(algs),
		parser:     jwt.NewParser(opts...),
	}
}

// Validate checks raw and returns the caller's claims.
func (v *Validator) Validate(ctx context.Context, raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	// The header algorithm is checked before any key lookup so that a token
	// claiming HS256 or none never reaches signature verification.
	unverified, _, err := jwt.NewParser().ParseUnverified(raw, &tokenClaims{})
	if unverified == nil || errors.Is(err, jwt.ErrTokenMalformed) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	alg, _ := unverified.Header["alg"].(string)
	if !slices.Contains(v.algorithms, alg) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	var claims tokenClaims
	_, err = v.parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: token has no kid", ErrUnknownSigningKey)
		}
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		if key.Algorithm != "" && key.Algorithm != t.Method.Alg() {
			return nil, fmt.Errorf("key %q is for %s, token uses %s", kid, key.Algorithm, t.Method.Alg())
		}
		return key.PublicKey, nil
	})
	if err != nil {
		return nil, classify(err, &claims)
	}

	p := &Principal{
		Subject:    claims.Subject,
		ObjectID:   claims.ObjectID,
		TenantID:   claims.TenantID,
		Name:       claims.Name,
		UniqueName: claims.UniqueName,
		Issuer:     claims.Issuer,
		Audience:   []string(claims.Audience),
		Token:      raw,
	}
	if p.UniqueName == "" {
		p.UniqueName = claims.UPN
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	return p, nil
}

// classify maps a parser error onto the package's failure kinds. A missing
// required claim is attributed to the claim that is actually absent.
func classify(err error, claims *tokenClaims) error {
	missing := errors.Is(err, jwt.ErrTokenRequiredClaimMissing)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired),
		errors.Is(err, jwt.ErrTokenNotValidYet),
		errors.Is(err, jwt.ErrTokenUsedBeforeIssued),
		missing && claims.ExpiresAt == nil:
		return fmt.Errorf("%w: %w", ErrExpiredOrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience),
		missing && len(claims.Audience) == 0:
		return fmt.Errorf("%w: %w", ErrAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		missing && claims.Issuer == "":
		return fmt.Errorf("%w: %w", ErrIssuerMismatch, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
}
