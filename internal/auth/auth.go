package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const SessionContextKey ContextKey = "session"

const (
	HeaderName = "X-Session-Token"
	CookieName = "session_token"

	DefaultTTL = 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid session token")

type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies session tokens. A token binds an HTTP client to
// a conversation session.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	// Required rejects requests without a valid token instead of starting
	// a new session.
	Required bool
	// Secure marks the cookie Secure.
	Secure bool
	now    func() time.Time
}

// NewIssuer creates an Issuer. An empty secret is replaced by a random one,
// which invalidates tokens on restart.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if secret == "" {
		log.Warn().Msg("no session secret configured, generating an ephemeral one")
		secret = GenerateSecret()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateSecret returns 32 random bytes, base64 encoded.
func GenerateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Fall back to a predictable secret in case of error
		return "fallback-secret-" + fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// Issue creates a signed token for sessionID.
func (i *Issuer) Issue(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	now := i.now()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   sessionID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Parse validates a token and returns its session id.
func (i *Issuer) Parse(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.SessionID != "" {
		return claims.SessionID, nil
	}
	return "", ErrInvalidToken
}

// SetToken issues a token for sessionID and returns it to the client in
// the X-Session-Token header and an HttpOnly cookie.
func (i *Issuer) SetToken(w http.ResponseWriter, sessionID string) error {
	tok, err := i.Issue(sessionID)
	if err != nil {
		return err
	}
	w.Header().Set(HeaderName, tok)
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		HttpOnly: true,
		Secure:   i.Secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  i.now().Add(i.ttl),
	})
	return nil
}

// tokenFromRequest checks the Authorization header, then X-Session-Token,
// then the cookie.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if h := r.Header.Get(HeaderName); h != "" {
		return h
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// SessionMiddleware puts the session id of a valid token into the request
// context. Missing or invalid tokens pass through with no session unless
// Required is set.
func (i *Issuer) SessionMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := tokenFromRequest(r)
		if tokenString == "" {
			if i.Required {
				http.Error(w, "Session token required", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		sessionID, err := i.Parse(tokenString)
		if err != nil {
			if i.Required {
				http.Error(w, "Invalid session token", http.StatusUnauthorized)
				return
			}
			log.Debug().Err(err).Msg("ignoring invalid session token")
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), SessionContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// RequireSession is SessionMiddleware with Required forced on, for routes
// that must never run anonymously.
func (i *Issuer) RequireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, err := i.Parse(tokenFromRequest(r))
		if err != nil {
			http.Error(w, "Session token required", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), SessionContextKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// SessionFromContext extracts the session id from request context
func SessionFromContext(r *http.Request) string {
	if id, ok := r.Context().Value(SessionContextKey).(string); ok {
		return id
	}
	return ""
}
