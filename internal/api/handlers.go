/**
 * @description
 * This file contains the HTTP handlers for the credit-service's API
 * endpoints. Handlers parse incoming requests, call the application
 * service, and translate service results and sentinel errors into HTTP
 * responses. All successful JSON bodies carry "ok": true so the web
 * frontend can branch on a single field.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: Service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/themutherfvcker/credit-service/internal/app"
	"github.com/themutherfvcker/credit-service/internal/domain"
	"github.com/themutherfvcker/credit-service/internal/store"
)

// Handlers holds the application service that handlers will use.
type Handlers struct {
	service      *app.Service
	jwtSecret    string
	secureCookie bool
}

// NewHandlers creates a new instance of Handlers. secureCookie should be
// true whenever the service is reached over HTTPS.
func NewHandlers(service *app.Service, jwtSecret string, secureCookie bool) *Handlers {
	return &Handlers{service: service, jwtSecret: jwtSecret, secureCookie: secureCookie}
}

type sessionResponse struct {
	OK         bool   `json:"ok"`
	Balance    int64  `json:"balance"`
	Plan       string `json:"plan"`
	Subscriber bool   `json:"subscriber"`
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	OK      bool   `json:"ok"`
	Image   string `json:"image"`
	Balance int64  `json:"balance"`
}

type useCreditsRequest struct {
	Amount int64 `json:"amount"`
}

type balanceResponse struct {
	OK      bool  `json:"ok"`
	Balance int64 `json:"balance"`
}

type ledgerResponse struct {
	OK      bool                 `json:"ok"`
	Balance int64                `json:"balance"`
	Entries []domain.LedgerEntry `json:"entries"`
}

type checkoutRequest struct {
	Credits int64 `json:"credits"`
}

type checkoutResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

// SessionHandler establishes (or refreshes) the caller's account. First-time
// anonymous visitors get a uid cookie; everyone gets their current balance.
func (h *Handlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	identityKey, ok := ResolveIdentityKey(r, h.jwtSecret)
	if !ok {
		// A bad Bearer token is a 401, never a fresh anonymous identity:
		// minting one here would overwrite the uid cookie and strand the
		// balance on the cookie's account.
		if r.Header.Get("Authorization") != "" && h.jwtSecret != "" {
			h.writeError(w, http.StatusUnauthorized, "Invalid Authorization token")
			return
		}
		identityKey = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     UIDCookieName,
			Value:    identityKey,
			Path:     "/",
			MaxAge:   uidCookieMaxAge,
			HttpOnly: true,
			Secure:   h.secureCookie,
			SameSite: http.SameSiteLaxMode,
		})
	}

	account, err := h.service.EnsureSession(r.Context(), identityKey)
	if err != nil {
		log.Printf("level=error component=api endpoint=session msg=\"failed to ensure account\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to establish session")
		return
	}

	h.writeJSON(w, http.StatusOK, sessionResponse{
		OK:         true,
		Balance:    account.Balance,
		Plan:       account.Plan,
		Subscriber: account.IsSubscriber(),
	})
}

// GenerateHandler spends one credit and returns the generated image as a
// data URL. An optional Idempotency-Key header makes client retries safe.
func (h *Handlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	identityKey, ok := GetIdentityKey(r.Context())
	if !ok {
		http.Error(w, "Could not get identity from context", http.StatusInternalServerError)
		return
	}

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		h.writeError(w, http.StatusBadRequest, "Prompt is required")
		return
	}

	result, err := h.service.Generate(r.Context(), identityKey, req.Prompt, idempotencyKey(r))
	if err != nil {
		h.writeServiceError(w, "generate", err)
		return
	}

	h.writeJSON(w, http.StatusOK, generateResponse{OK: true, Image: result.ImageURL, Balance: result.Balance})
}

// UseCreditsHandler debits an arbitrary amount without calling the model.
func (h *Handlers) UseCreditsHandler(w http.ResponseWriter, r *http.Request) {
	identityKey, ok := GetIdentityKey(r.Context())
	if !ok {
		http.Error(w, "Could not get identity from context", http.StatusInternalServerError)
		return
	}

	var req useCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	balance, err := h.service.SpendCredits(r.Context(), identityKey, req.Amount, idempotencyKey(r))
	if err != nil {
		h.writeServiceError(w, "use_credits", err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{OK: true, Balance: balance})
}

// LedgerHandler returns the account's recent ledger entries, newest first.
// The limit query parameter is optional and clamped by the store.
func (h *Handlers) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	identityKey, ok := GetIdentityKey(r.Context())
	if !ok {
		http.Error(w, "Could not get identity from context", http.StatusInternalServerError)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = parsed
	}

	account, entries, err := h.service.History(r.Context(), identityKey, limit)
	if err != nil {
		h.writeServiceError(w, "ledger", err)
		return
	}

	h.writeJSON(w, http.StatusOK, ledgerResponse{OK: true, Balance: account.Balance, Entries: entries})
}

// CheckoutHandler creates a payment session for a credit pack purchase.
func (h *Handlers) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	identityKey, ok := GetIdentityKey(r.Context())
	if !ok {
		http.Error(w, "Could not get identity from context", http.StatusInternalServerError)
		return
	}

	var req checkoutRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	url, err := h.service.CreateCreditCheckout(r.Context(), identityKey, req.Credits)
	if err != nil {
		h.writeServiceError(w, "checkout", err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkoutResponse{OK: true, URL: url})
}

// BookCheckoutHandler creates a payment session for the cookbook.
func (h *Handlers) BookCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	identityKey, ok := GetIdentityKey(r.Context())
	if !ok {
		http.Error(w, "Could not get identity from context", http.StatusInternalServerError)
		return
	}

	url, err := h.service.CreateBookCheckout(r.Context(), identityKey)
	if err != nil {
		h.writeServiceError(w, "checkout_book", err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkoutResponse{OK: true, URL: url})
}

// SubscriptionHandler creates a recurring checkout session for the pro plan.
func (h *Handlers) SubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	identityKey, ok := GetIdentityKey(r.Context())
	if !ok {
		http.Error(w, "Could not get identity from context", http.StatusInternalServerError)
		return
	}

	url, err := h.service.CreateSubscriptionCheckout(r.Context(), identityKey)
	if err != nil {
		h.writeServiceError(w, "subscription", err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkoutResponse{OK: true, URL: url})
}

// BillingPortalHandler creates a billing portal session so subscribers can
// manage their plan with the payment provider.
func (h *Handlers) BillingPortalHandler(w http.ResponseWriter, r *http.Request) {
	identityKey, ok := GetIdentityKey(r.Context())
	if !ok {
		http.Error(w, "Could not get identity from context", http.StatusInternalServerError)
		return
	}

	url, err := h.service.CreateBillingPortal(r.Context(), identityKey)
	if err != nil {
		h.writeServiceError(w, "billing_portal", err)
		return
	}

	h.writeJSON(w, http.StatusOK, checkoutResponse{OK: true, URL: url})
}

// idempotencyKey reads the optional Idempotency-Key request header.
func idempotencyKey(r *http.Request) *string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key == "" {
		return nil
	}
	return &key
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	var rateErr *app.RateLimitError

	switch {
	case errors.Is(err, store.ErrInsufficientCredits):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient credits")
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeError(w, http.StatusNotFound, "Account not found. Call /api/v1/session first.")
	case errors.As(err, &rateErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
		h.writeError(w, http.StatusTooManyRequests, "Too many generations. Please slow down.")
	case errors.Is(err, app.ErrNoPaymentCustomer):
		h.writeError(w, http.StatusConflict, "No billing profile on file. Complete a purchase first.")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"request failed\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{"ok": false, "error": message})
}
