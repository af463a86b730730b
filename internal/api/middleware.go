/**
 * @description
 * This file contains the identity middleware for the HTTP router. Every
 * ledger endpoint needs to know which account the caller owns; the caller
 * proves identity either with a signed Bearer token (logged-in users) or
 * with the anonymous uid cookie issued by the session endpoint.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Bearer token validation.
 */

package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IdentityContextKey is a custom type for the context key to avoid collisions.
type IdentityContextKey string

const identityKeyContextKey IdentityContextKey = "identityKey"

// UIDCookieName is the anonymous identity cookie set by the session endpoint.
const UIDCookieName = "uid"

// uidCookieMaxAge keeps anonymous identities for a year.
const uidCookieMaxAge = int(365 * 24 * time.Hour / time.Second)

// IdentityMiddleware resolves the caller's identity key from the Bearer
// token or uid cookie and rejects requests that carry neither.
func IdentityMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identityKey, ok := ResolveIdentityKey(r, jwtSecret)
			if !ok {
				http.Error(w, "Missing session. Call /api/v1/session first.", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), identityKeyContextKey, identityKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ResolveIdentityKey extracts the identity key from a request without
// requiring one. The session handler uses this directly so it can mint a
// fresh uid cookie for first-time visitors.
func ResolveIdentityKey(r *http.Request, jwtSecret string) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" && jwtSecret != "" {
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString != authHeader {
			if sub, err := subjectFromToken(tokenString, jwtSecret); err == nil {
				return "user:" + sub, true
			}
		}
		// A malformed Bearer token never falls through to the cookie;
		// that would silently bill the wrong account.
		return "", false
	}

	if cookie, err := r.Cookie(UIDCookieName); err == nil {
		if uid := strings.TrimSpace(cookie.Value); uid != "" {
			return uid, true
		}
	}
	return "", false
}

func subjectFromToken(tokenString, jwtSecret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid token claims")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("subject not found in token")
	}
	return sub, nil
}

// GetIdentityKey retrieves the caller's identity key from the request context.
func GetIdentityKey(ctx context.Context) (string, bool) {
	identityKey, ok := ctx.Value(identityKeyContextKey).(string)
	return identityKey, ok
}
