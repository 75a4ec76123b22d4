// Package auth verifies bearer tokens issued by the external account service.
//
// Tokens are HS256 JWTs whose subject is the user id. Streaming clients that
// cannot set headers may pass the token in the "token" query parameter.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rubiojr/pulse/pkg/core"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Name   string
}

// Verifier checks a raw token and returns the caller identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Claims is the token payload.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies and issues HS256 tokens. The secret can be rotated at
// runtime with SetSecret.
type JWTVerifier struct {
	mu     sync.RWMutex
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

// SetSecret replaces the signing secret. Tokens signed with the old secret
// stop verifying immediately.
func (v *JWTVerifier) SetSecret(secret string) {
	v.mu.Lock()
	v.secret = []byte(secret)
	v.mu.Unlock()
}

func (v *JWTVerifier) key() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.secret
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	key := v.key()
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !core.ValidID(claims.Subject) {
		return Identity{}, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}
	return Identity{UserID: claims.Subject, Name: claims.Name}, nil
}

// Issue signs a token for userID valid for ttl. A zero ttl issues a token
// without expiry.
func (v *JWTVerifier) Issue(userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   v.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key())
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the raw token from the Authorization header, or
// from the "token" query parameter when no header is set.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate verifies the token carried by r.
func Authenticate(ctx context.Context, v Verifier, r *http.Request) (Identity, error) {
	tok := TokenFromRequest(r)
	if tok == "" {
		return Identity{}, ErrMissingToken
	}
	return v.Verify(ctx, tok)
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}
