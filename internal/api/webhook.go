/**
 * @description
 * This file contains the HTTP handler for payment provider webhooks. The
 * provider delivers events at-least-once, signed with an HMAC-SHA256 over
 * the raw request body. A non-2xx response makes the provider retry, so
 * transient failures return 500 while events we can never apply are
 * acknowledged (or rejected with 400) to stop the retry loop.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex, encoding/base64: Signature validation.
 * - internal/app, internal/domain, internal/store: Event handling.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/themutherfvcker/credit-service/internal/app"
	"github.com/themutherfvcker/credit-service/internal/domain"
	"github.com/themutherfvcker/credit-service/internal/store"
)

// SignatureHeader carries the provider's HMAC over the raw body.
const SignatureHeader = "X-Payment-Signature"

const maxWebhookBodyBytes = 1 << 20

// WebhookHandler handles incoming webhooks from the payment provider.
type WebhookHandler struct {
	service *app.Service
	secret  string
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(service *app.Service, secret string) *WebhookHandler {
	return &WebhookHandler{service: service, secret: secret}
}

// HandlePaymentWebhook validates the signature, parses the event, and
// applies it through the service layer.
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	if !h.isValidSignature(r.Header.Get(SignatureHeader), body) {
		log.Printf("level=warn component=webhook msg=\"invalid signature\" remote_addr=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event domain.PaymentWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=webhook msg=\"malformed event payload\" err=%v", err)
		http.Error(w, "Malformed event payload", http.StatusBadRequest)
		return
	}

	log.Printf("level=info component=webhook event_id=%s event_type=%s", event.ID, event.Type)

	if err := h.service.HandlePaymentEvent(r.Context(), event); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			// The referenced account will never exist here. Retrying cannot
			// fix it, so reject permanently instead of crediting a stranger.
			log.Printf("level=error component=webhook msg=\"event references unknown account\" event_id=%s", event.ID)
			http.Error(w, "Unknown account reference", http.StatusBadRequest)
			return
		}
		log.Printf("level=error component=webhook msg=\"event handling failed\" event_id=%s err=%v", event.ID, err)
		http.Error(w, "Event handling failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"received":true}`))
}

// isValidSignature checks the HMAC-SHA256 of the body against the header,
// accepting hex or base64 encodings since provider SDKs differ.
func (h *WebhookHandler) isValidSignature(signatureHeader string, body []byte) bool {
	if h.secret == "" {
		// No secret configured means local development; accept everything.
		return true
	}
	provided := strings.TrimSpace(signatureHeader)
	provided = strings.TrimPrefix(provided, "sha256=")
	if provided == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(provided); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	if decoded, err := base64.StdEncoding.DecodeString(provided); err == nil && hmac.Equal(decoded, expected) {
		return true
	}
	return false
}
