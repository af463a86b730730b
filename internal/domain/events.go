/**
 * @description
 * This file defines the event payloads that cross the service boundary:
 * incoming webhook events from the payment provider and the internal ledger
 * events published to RabbitMQ after a committed balance mutation.
 */
package domain

import "time"

// Payment provider webhook event types the service reacts to. Anything else
// is acknowledged and ignored.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventInvoicePaid         = "invoice.paid"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// PaymentEventObject is the object embedded in a webhook event. The fields
// are a superset across the event types we handle; unused fields are empty.
type PaymentEventObject struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer,omitempty"`
	Subscription      string            `json:"subscription,omitempty"`
	ClientReferenceID string            `json:"client_reference_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// PaymentWebhookEvent is the envelope delivered by the payment provider.
// Delivery is at-least-once: the same event id may arrive more than once.
type PaymentWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object PaymentEventObject `json:"object"`
	} `json:"data"`
}

// LedgerEvent is published to the events exchange after a balance mutation
// has committed. Publishing is best-effort and never blocks the mutation.
type LedgerEvent struct {
	AccountID   string    `json:"account_id"`
	Delta       int64     `json:"delta"`
	Balance     int64     `json:"balance"`
	Reason      string    `json:"reason"`
	ExternalRef string    `json:"external_ref,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
