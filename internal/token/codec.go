// Package token mints and parses the signed access and refresh tokens.
//
// Both token kinds are HMAC-signed JWTs. The algorithm and secret come from
// configuration only: the parser accepts exactly the configured algorithm,
// whatever the token header claims.
//
// Timestamps are encoded with millisecond precision. A token issued at now
// with lifetime T is accepted while the verifying clock is before now+T,
// with now+T truncated to the millisecond.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-identity-service/internal/model"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

func init() {
	jwt.TimePrecision = time.Millisecond
}

type Config struct {
	Secret     string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Codec struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type accessClaims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// refreshClaims deliberately has no subject. The identity behind a refresh
// token is only known to the session store.
type refreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

func NewCodec(cfg Config) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	return &Codec{
		secret:     []byte(cfg.Secret),
		method:     method,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) IssueAccessToken(username string, role string, now time.Time) (string, error) {
	if username == "" {
		return "", errors.New("access token subject is required")
	}

	claims := accessClaims{
		Role: role,
		Type: typeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}

	return c.sign(claims)
}

func (c *Codec) IssueRefreshToken(now time.Time) (string, error) {
	claims := refreshClaims{
		Type: typeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
		},
	}

	return c.sign(claims)
}

func (c *Codec) DecodeAccessToken(tokenString string, now time.Time) (model.AuthClaims, error) {
	claims := &accessClaims{}
	if err := c.parse(tokenString, claims, now); err != nil {
		return model.AuthClaims{}, err
	}

	if claims.Type != typeAccess || claims.Subject == "" {
		return model.AuthClaims{}, model.ErrTokenInvalid
	}

	return model.AuthClaims{Username: claims.Subject, Role: claims.Role}, nil
}

func (c *Codec) DecodeRefreshToken(tokenString string, now time.Time) error {
	claims := &refreshClaims{}
	if err := c.parse(tokenString, claims, now); err != nil {
		return err
	}

	if claims.Type != typeRefresh || claims.Subject != "" {
		return model.ErrTokenInvalid
	}

	return nil
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// parse verifies signature and expiry against now, the verifier's clock.
// A token is expired once now reaches exp.
func (c *Codec) parse(tokenString string, claims jwt.Claims, now time.Time) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)

	_, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return model.ErrTokenExpired
	}

	return fmt.Errorf("%w: %v", model.ErrTokenInvalid, err)
}
