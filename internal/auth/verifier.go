package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is matched by an AuthError whose reason is ReasonMissing.
	ErrMissingToken = errors.New("authentication token is missing")
	// ErrInvalidToken is matched by an AuthError whose reason is ReasonInvalid.
	ErrInvalidToken = errors.New("authentication token is invalid")
)

// Reason classifies an authentication failure.
type Reason string

const (
	ReasonMissing Reason = "missing"
	ReasonInvalid Reason = "invalid"
)

// AuthError is returned by Verify. A connection attempt that produces an
// AuthError must never reach the session registry.
type AuthError struct {
	Reason Reason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("authentication error: %s token", e.Reason)
	}
	return fmt.Sprintf("authentication error: %s token: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an AuthError against ErrMissingToken and
// ErrInvalidToken.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrMissingToken:
		return e.Reason == ReasonMissing
	case ErrInvalidToken:
		return e.Reason == ReasonInvalid
	}
	return false
}

// Config holds the trusted material used to sign and verify tokens.
type Config struct {
	Secret string
	Issuer string
}

// Claims are the custom claims carried by a chat identity token.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 identity tokens.
type Verifier struct {
	secret []byte
	opts   []jwt.ParserOption
}

// NewVerifier creates a Verifier. The secret must not be empty.
func NewVerifier(cfg Config) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Verifier{secret: []byte(cfg.Secret), opts: opts}, nil
}

// Verify validates token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, &AuthError{Reason: ReasonMissing}
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, v.opts...)
	if err != nil {
		return Identity{}, &AuthError{Reason: ReasonInvalid, Err: err}
	}
	if !parsed.Valid {
		return Identity{}, &AuthError{Reason: ReasonInvalid}
	}

	name := strings.TrimSpace(claims.Username)
	if name == "" {
		return Identity{}, &AuthError{Reason: ReasonInvalid, Err: errors.New("username claim is empty")}
	}

	return Identity{Name: name, Role: ParseRole(claims.Role)}, nil
}

// Issuer mints identity tokens. It backs the operator `token` command and
// tests; login and credential checks live outside this service.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewIssuer creates an Issuer sharing the verifier's configuration.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &Issuer{secret: []byte(cfg.Secret), issuer: cfg.Issuer, now: time.Now}, nil
}

// Issue signs a token for id. A zero ttl produces a token without an
// expiry.
func (i *Issuer) Issue(id Identity, ttl time.Duration) (string, error) {
	if strings.TrimSpace(id.Name) == "" {
		return "", errors.New("auth: identity name is required")
	}
	role := id.Role
	if role == "" {
		role = RoleMember
	}

	now := i.now()
	claims := Claims{
		Username: id.Name,
		Role:     string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   i.issuer,
			Subject:  id.Name,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
