package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSessionHandlerRejectsBadBearerWithoutMintingCookie(t *testing.T) {
	h := NewHandlers(nil, testJWTSecret, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "wrong-secret", "user_1"))
	req.AddCookie(&http.Cookie{Name: UIDCookieName, Value: "uid-with-balance"})
	rec := httptest.NewRecorder()

	h.SessionHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	// The existing anonymous identity must survive the failed upgrade.
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == UIDCookieName {
			t.Errorf("uid cookie was rewritten to %q", cookie.Value)
		}
	}
}

func TestSessionHandlerMalformedAuthorizationHeader(t *testing.T) {
	h := NewHandlers(nil, testJWTSecret, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session", nil)
	req.Header.Set("Authorization", "Token not-a-bearer")
	rec := httptest.NewRecorder()

	h.SessionHandler(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
