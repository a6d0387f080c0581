package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields this service reads from a token; Name only feeds
// audit logs.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

const tokenCookie = "auth_token"

type claimsKeyType struct{}

var claimsKey claimsKeyType

func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse jwt public key %s: %w", path, err)
	}
	return pub, nil
}

// RequireJWT rejects requests without a valid RS256 token signed by pubKey.
func RequireJWT(pubKey *rsa.PublicKey) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				unauthorized(w, "missing token")
				return
			}
			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
				return pubKey, nil
			})
			if err != nil || !token.Valid {
				unauthorized(w, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Subject names the caller for audit logs, or "anonymous" when auth is off.
func Subject(r *http.Request) string {
	claims, ok := r.Context().Value(claimsKey).(*Claims)
	if !ok {
		return "anonymous"
	}
	if claims.Name != "" {
		return claims.Name
	}
	if claims.Subject != "" {
		return claims.Subject
	}
	return "unknown"
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message, "code": http.StatusUnauthorized})
}

// bearerToken reads the Authorization header, then the auth cookie, then the
// access_token query parameter that websocket clients in a browser fall back
// to since they cannot set headers.
func bearerToken(r *http.Request) string {
	if scheme, tok, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(tok)
	}
	if c, err := r.Cookie(tokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
