package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/thumbgen/thumbgen-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// Sentinel errors distinguishing why verification failed. Signature checks
// inside golang-jwt use constant-time HMAC comparison.
var (
	ErrTokenExpired   = errors.New("session token expired")
	ErrTokenMalformed = errors.New("session token malformed")
	ErrTokenInvalid   = errors.New("session token signature invalid")
)

// MintSessionToken issues a signed JWT embedding the account snapshot with
// the configured TTL.
func MintSessionToken(cfg config.SessionConfig, now time.Time, snapshot AccountSnapshot) (string, error) {
	if cfg.Secret == "" {
		return "", fmt.Errorf("session secret is required")
	}
	if cfg.Issuer == "" {
		return "", fmt.Errorf("session issuer is required")
	}
	if snapshot.AccountID == uuid.Nil {
		return "", fmt.Errorf("account id is required")
	}
	if !snapshot.Plan.IsValid() {
		return "", fmt.Errorf("invalid plan %q", snapshot.Plan)
	}

	claims := SessionClaims{
		AccountID:        snapshot.AccountID,
		Credits:          snapshot.Credits,
		Plan:             snapshot.Plan,
		TotalGenerations: snapshot.TotalGenerations,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL())),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing session token: %w", err)
	}
	return signed, nil
}

// ParseSessionToken validates the JWT string and returns typed claims. The
// returned error wraps one of the package sentinels so callers can map it to
// the right failure mode.
func ParseSessionToken(cfg config.SessionConfig, tokenString string) (*SessionClaims, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("session secret is required")
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.Secret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		return nil, classifyParseError(err)
	}

	return claims, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	default:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
}
