package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testJWTSecret = "test-secret"

func signedToken(t *testing.T, secret, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestResolveIdentityKey(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *http.Request)
		wantKey string
		wantOK  bool
	}{
		{
			name: "uid cookie",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: UIDCookieName, Value: "cookie-uid-1"})
			},
			wantKey: "cookie-uid-1",
			wantOK:  true,
		},
		{
			name: "bearer token",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signedToken(t, testJWTSecret, "user_42"))
			},
			wantKey: "user:user_42",
			wantOK:  true,
		},
		{
			name: "bearer token wins over cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signedToken(t, testJWTSecret, "user_42"))
				r.AddCookie(&http.Cookie{Name: UIDCookieName, Value: "cookie-uid-1"})
			},
			wantKey: "user:user_42",
			wantOK:  true,
		},
		{
			name: "forged token does not fall back to cookie",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signedToken(t, "wrong-secret", "user_42"))
				r.AddCookie(&http.Cookie{Name: UIDCookieName, Value: "cookie-uid-1"})
			},
			wantOK: false,
		},
		{
			name: "malformed authorization header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Token abc")
			},
			wantOK: false,
		},
		{
			name:   "no identity at all",
			setup:  func(r *http.Request) {},
			wantOK: false,
		},
		{
			name: "blank cookie value",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: UIDCookieName, Value: "   "})
			},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)

			key, ok := ResolveIdentityKey(req, testJWTSecret)
			if ok != tt.wantOK {
				t.Fatalf("ResolveIdentityKey() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && key != tt.wantKey {
				t.Errorf("ResolveIdentityKey() key = %q, want %q", key, tt.wantKey)
			}
		})
	}
}

func TestIdentityMiddleware(t *testing.T) {
	var seenKey string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := GetIdentityKey(r.Context())
		if !ok {
			t.Error("identity key missing from context")
		}
		seenKey = key
		w.WriteHeader(http.StatusOK)
	})
	handler := IdentityMiddleware(testJWTSecret)(next)

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.AddCookie(&http.Cookie{Name: UIDCookieName, Value: "uid-77"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status with cookie = %d, want 200", rec.Code)
	}
	if seenKey != "uid-77" {
		t.Errorf("handler saw identity %q, want uid-77", seenKey)
	}

	anon := httptest.NewRequest(http.MethodPost, "/generate", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, anon)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status without identity = %d, want 401", rec.Code)
	}
}
