/**
 * @description
 * This file sets up the HTTP router for the credit-service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware. The webhook route sits outside the identity group
 * because the payment provider authenticates with a signature, not a
 * session.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the browser frontend.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates and returns the router for the credit service.
func NewRouter(h *Handlers, wh *WebhookHandler, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any major browsers
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Session establishment issues the uid cookie, so it cannot sit
		// behind the identity middleware.
		r.Get("/session", h.SessionHandler)
		r.Post("/session", h.SessionHandler)

		// The payment provider signs its own requests.
		r.Post("/webhooks/payments", wh.HandlePaymentWebhook)

		// Everything else requires an established identity.
		r.Group(func(r chi.Router) {
			r.Use(IdentityMiddleware(jwtSecret))

			r.Post("/generate", h.GenerateHandler)
			r.Post("/credits/use", h.UseCreditsHandler)
			r.Get("/ledger", h.LedgerHandler)

			r.Post("/checkout", h.CheckoutHandler)
			r.Post("/checkout/book", h.BookCheckoutHandler)
			r.Post("/subscription", h.SubscriptionHandler)
			r.Post("/billing-portal", h.BillingPortalHandler)
		})
	})

	return r
}
