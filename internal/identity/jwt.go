package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

// small clock skew between issuer and storefront
const leeway = 30 * time.Second

type TokenConfig struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
}

type claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier turns HS256 bearer tokens into users. Token lifecycle is owned by
// the identity service; the storefront only checks signature, issuer,
// audience and expiry.
type Verifier struct {
	cfg    TokenConfig
	parser *jwt.Parser
}

func NewVerifier(cfg TokenConfig) *Verifier {
	return &Verifier{
		cfg: cfg,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithAudience(cfg.Audience),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(leeway),
		),
	}
}

// Verify returns the token's user. Every failure wraps
// domain.ErrNotAuthenticated.
func (v *Verifier) Verify(raw string) (*domain.User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: missing bearer token", domain.ErrNotAuthenticated)
	}

	var c claims
	_, err := v.parser.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return []byte(v.cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrNotAuthenticated, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", domain.ErrNotAuthenticated)
	}
	return &domain.User{ID: c.Subject, Email: c.Email}, nil
}

// Issuer mints tokens for local development and tests.
type Issuer struct {
	cfg TokenConfig
	now func() time.Time
}

func NewIssuer(cfg TokenConfig) *Issuer {
	return &Issuer{cfg: cfg, now: time.Now}
}

func (i *Issuer) Issue(user domain.User) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, errors.New("user id required")
	}
	ttl := i.cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := i.now()
	expires := now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   user.ID,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString([]byte(i.cfg.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}
