package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/julianstephens/daybook/internal/constants"
	errs "github.com/julianstephens/daybook/internal/errors"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrNoSubject    = errors.New("token has no subject")
	ErrNoSigningKey = errors.New("signing key is required")
)

// Token resolves the identity carried in a bootstrap JWT.
type Token struct {
	raw string
	key []byte
	now func() time.Time
}

// NewToken verifies raw with key when key is set; otherwise the token is
// trusted as-is and only its expiry is checked.
func NewToken(raw string, key []byte) *Token {
	return &Token{raw: strings.TrimSpace(raw), key: key, now: time.Now}
}

// Raw returns the token as given.
func (t *Token) Raw() string {
	return t.raw
}

func (t *Token) Resolve(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, errs.IdentityError("resolve", err)
	}
	subject, err := verify(t.raw, t.key, t.now)
	if err != nil {
		return Identity{}, errs.IdentityError("resolve", err)
	}
	return Identity{ID: subject, Token: t.raw}, nil
}

// Verify returns the subject of a token signed with key.
func Verify(raw string, key []byte) (string, error) {
	if len(key) == 0 {
		return "", ErrNoSigningKey
	}
	return verify(raw, key, time.Now)
}

// Issue signs an HS256 token for subject. A zero ttl never expires.
func Issue(key []byte, subject string, ttl time.Duration) (string, error) {
	return issue(key, subject, ttl, time.Now())
}

func issue(key []byte, subject string, ttl time.Duration, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", ErrNoSigningKey
	}
	if strings.TrimSpace(subject) == "" {
		return "", ErrNoSubject
	}

	claims := jwt.RegisteredClaims{
		Issuer:   constants.AppName,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func verify(raw string, key []byte, now func() time.Time) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims := &jwt.RegisteredClaims{}
	if len(key) > 0 {
		_, err := jwt.ParseWithClaims(raw, claims,
			func(*jwt.Token) (interface{}, error) { return key, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(now),
		)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return "", ErrTokenExpired
			}
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	} else {
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if claims.ExpiresAt != nil && !now().Before(claims.ExpiresAt.Time) {
			return "", ErrTokenExpired
		}
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrNoSubject
	}
	return claims.Subject, nil
}
