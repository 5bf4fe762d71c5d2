package rpc

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// authenticator validates HS256 bearer tokens on the privileged methods. An
// empty secret disables authentication entirely.
type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &authenticator{}
	}
	return &authenticator{secret: []byte(secret)}
}

func (a *authenticator) enabled() bool {
	return len(a.secret) > 0
}

func (a *authenticator) authorize(r *http.Request) error {
	if !a.enabled() {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if raw == header {
		return errors.New("malformed authorization header")
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithLeeway(2*time.Minute))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return errors.New("invalid token")
	}
	return nil
}

// MintToken issues a short-lived HS256 token for the privileged methods; the
// CLI uses it against daemons that have authentication enabled.
func MintToken(secret, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("empty auth secret")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
