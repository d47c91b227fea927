package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoIdentity      = errors.New("request carries no identity")
	ErrInvalidIdentity = errors.New("request identity is invalid")
)

// Resolver extracts the acting principal from an incoming request.
type Resolver interface {
	Resolve(r *http.Request) (Principal, error)
}

// QueryResolver trusts explicit userId and role query parameters. Mobile
// clients connect this way because they cannot carry the browser session.
type QueryResolver struct{}

const (
	queryUserID = "userId"
	queryRole   = "role"
)

func (QueryResolver) Resolve(r *http.Request) (Principal, error) {
	q := r.URL.Query()
	raw := q.Get(queryUserID)
	if raw == "" {
		return Principal{}, ErrNoIdentity
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, fmt.Errorf("%w: userId %q", ErrInvalidIdentity, raw)
	}
	role, err := ParseRole(q.Get(queryRole))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return Principal{ID: id, Role: role}, nil
}

// Claims is the session token issued by the account subsystem.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SessionResolver reads an HS256 session token from the session cookie or
// an Authorization bearer header.
type SessionResolver struct {
	secret []byte
	cookie string
}

func NewSessionResolver(secret, cookie string) *SessionResolver {
	if cookie == "" {
		cookie = "session"
	}
	return &SessionResolver{secret: []byte(secret), cookie: cookie}
}

func (s *SessionResolver) Resolve(r *http.Request) (Principal, error) {
	raw := bearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(s.cookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return Principal{}, ErrNoIdentity
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, fmt.Errorf("%w: subject %q", ErrInvalidIdentity, claims.Subject)
	}
	role, err := ParseRole(claims.Role)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return Principal{ID: id, Role: role}, nil
}

// Issue signs a session token for p. The account subsystem owns login; this
// exists for tooling and tests.
func (s *SessionResolver) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: p.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(p.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// ByTransport picks the explicit strategy when the request names a userId
// and falls back to the session otherwise.
type ByTransport struct {
	Explicit Resolver
	Session  Resolver
}

func (b ByTransport) Resolve(r *http.Request) (Principal, error) {
	if b.Explicit != nil && r.URL.Query().Has(queryUserID) {
		return b.Explicit.Resolve(r)
	}
	if b.Session != nil {
		return b.Session.Resolve(r)
	}
	return Principal{}, ErrNoIdentity
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
