package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingAuthHeader = errors.New("missing or malformed Authorization header")
	ErrInvalidToken      = errors.New("invalid token")
	ErrInvalidClaims     = errors.New("invalid token claims")
)

type ctxKey int

const requesterKey ctxKey = iota

// Authenticator reads the requester id from an HS256 bearer token. Issuing tokens and
// verifying credentials happen elsewhere.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Middleware rejects requests without a valid token. Browsers cannot set headers on websocket
// upgrades, so an access_token query parameter is accepted as well.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.Verify(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthenticated", Message: err.Error()})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requesterKey, subject)))
	})
}

// Verify validates the request's token and returns its subject.
func (a *Authenticator) Verify(r *http.Request) (string, error) {
	raw := ""
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		raw = strings.TrimPrefix(authz, "Bearer ")
	} else if q := r.URL.Query().Get("access_token"); q != "" {
		raw = q
	}
	if raw == "" {
		return "", ErrMissingAuthHeader
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidClaims
	}
	return subjectFromClaims(claims)
}

func subjectFromClaims(claims jwt.MapClaims) (string, error) {
	sub, ok := claims["sub"]
	if !ok {
		return "", ErrInvalidClaims
	}
	switch v := sub.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return "", ErrInvalidClaims
		}
		return v, nil
	case float64:
		// numeric ids arrive as float64
		return fmt.Sprintf("%d", int64(v)), nil
	default:
		return "", ErrInvalidClaims
	}
}

// Sign issues a token for subject. The service never hands these out; it is used by tests
// and local tooling.
func (a *Authenticator) Sign(subject string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": subject}).SignedString(a.secret)
}

func requesterID(r *http.Request) string {
	id, _ := r.Context().Value(requesterKey).(string)
	return id
}
