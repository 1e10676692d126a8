package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthorized = errors.New("unauthorized")

// Identity is the user a connection acts for.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Authenticator resolves the caller. With a secret it requires an HS256 token carrying
// id and username claims; without one it trusts the userId/username query parameters.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

func (a *Authenticator) Identify(r *http.Request) (Identity, error) {
	if !a.Enabled() {
		q := r.URL.Query()
		id := strings.TrimSpace(q.Get("userId"))
		if id == "" {
			return Identity{}, ErrUnauthorized
		}
		name := strings.TrimSpace(q.Get("username"))
		if name == "" {
			name = id
		}
		return Identity{ID: id, Username: name}, nil
	}

	tokenStr := bearerOrQuery(r)
	if tokenStr == "" {
		return Identity{}, ErrUnauthorized
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Identity{}, ErrUnauthorized
	}
	id, _ := claims["id"].(string)
	username, _ := claims["username"].(string)
	if strings.TrimSpace(id) == "" || strings.TrimSpace(username) == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{ID: id, Username: username}, nil
}

// Issue signs a token for id; ttl <= 0 means no expiry claim.
func (a *Authenticator) Issue(id, username string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("JWT_SECRET not configured")
	}
	claims := jwt.MapClaims{"id": id, "username": username, "iat": time.Now().Unix()}
	if ttl > 0 {
		claims["exp"] = time.Now().Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// bearerOrQuery reads "Authorization: Bearer" first; browsers cannot set headers on a
// websocket handshake, so ?token= is accepted too.
func bearerOrQuery(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
