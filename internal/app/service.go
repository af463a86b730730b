/**
 * @description
 * This file contains the core business logic for the credit-service. The
 * Service layer owns the credit ledger semantics: account bootstrap with the
 * signup grant, guarded debits for image generation, idempotent credits from
 * payment webhooks, and checkout/billing-portal session creation.
 *
 * @dependencies
 * - internal/store: Repository interface and sentinel errors.
 * - pkg/paymentclient, pkg/imageclient, pkg/rabbitmq: External collaborators.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/themutherfvcker/credit-service/internal/domain"
	"github.com/themutherfvcker/credit-service/internal/store"
	"github.com/themutherfvcker/credit-service/pkg/paymentclient"
	"github.com/themutherfvcker/credit-service/pkg/rabbitmq"
)

const (
	minSpendAmount = 1
	maxSpendAmount = 1000

	ledgerEventsExchange = "creditsvc.events"
)

// PaymentsClient is the subset of the payments API the service uses.
type PaymentsClient interface {
	CreateCheckoutSession(ctx context.Context, params paymentclient.CheckoutSessionParams) (*paymentclient.CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (*paymentclient.PortalSession, error)
}

// ImageClient generates an image for a prompt and returns it as a data URL.
type ImageClient interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// RateLimiter consumes one unit from a fixed-window limit and reports the
// running count plus the seconds until the window resets.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error)
}

// RateLimitError signals that a caller exceeded the per-account generation
// limit. RetryAfterSeconds feeds the Retry-After response header.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry in %ds", e.RetryAfterSeconds)
}

// ErrNoPaymentCustomer is returned when a billing portal session is requested
// for an account without a payment customer reference on file.
var ErrNoPaymentCustomer = errors.New("no payment customer on file")

// ServiceConfig carries the business knobs for the ledger.
type ServiceConfig struct {
	InitialGrantCredits        int64
	GenerationCostCredits      int64
	CreditsPerPack             int64
	PackPriceCents             int64
	PackCurrency               string
	GenerateRateLimitPerMinute int
	AppBaseURL                 string
	SubscriptionPriceID        string
	BookPriceID                string
	BookShippingRateID         string
}

// Service provides the business logic for the credit ledger.
type Service struct {
	repo      store.Repository
	payments  PaymentsClient
	images    ImageClient
	publisher rabbitmq.Publisher
	limiter   RateLimiter
	cfg       ServiceConfig
}

// NewService creates a new credit-service application service.
func NewService(repo store.Repository, payments PaymentsClient, images ImageClient, publisher rabbitmq.Publisher, cfg ServiceConfig) *Service {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:      repo,
		payments:  payments,
		images:    images,
		publisher: publisher,
		cfg:       cfg,
	}
}

// SetRateLimiter attaches the distributed generation rate limiter. Without
// one, generation is unlimited (single-instance and test setups).
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// EnsureSession provisions (or returns) the account bound to an identity
// key, granting the configured signup credits exactly once.
func (s *Service) EnsureSession(ctx context.Context, identityKey string) (*domain.Account, error) {
	return s.repo.EnsureAccount(ctx, identityKey, s.cfg.InitialGrantCredits)
}

// GetAccount resolves the account for an identity key without creating one.
func (s *Service) GetAccount(ctx context.Context, identityKey string) (*domain.Account, error) {
	return s.repo.FindAccountByIdentity(ctx, identityKey)
}

// History returns the most recent ledger entries for an identity's account.
func (s *Service) History(ctx context.Context, identityKey string, limit int) (*domain.Account, []domain.LedgerEntry, error) {
	account, err := s.repo.FindAccountByIdentity(ctx, identityKey)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, account.ID, limit)
	if err != nil {
		return nil, nil, err
	}
	return account, entries, nil
}

// GenerateResult is what a successful paid generation returns.
type GenerateResult struct {
	ImageURL string
	Balance  int64
}

// Generate spends the configured generation cost and calls the image API.
// The debit commits before the model call; if the model then fails the
// credit is refunded best-effort so the caller is not charged for nothing.
func (s *Service) Generate(ctx context.Context, identityKey, prompt string, idempotencyKey *string) (*GenerateResult, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("prompt cannot be empty")
	}

	account, err := s.repo.FindAccountByIdentity(ctx, identityKey)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil && s.cfg.GenerateRateLimitPerMinute > 0 {
		count, retryAfter, limitErr := s.limiter.ConsumeRateLimit(ctx, "generate", account.ID.String(), s.cfg.GenerateRateLimitPerMinute, time.Minute)
		if limitErr != nil {
			// Fail open: a limiter outage should not take generation down.
			log.Printf("level=warn component=ledger msg=\"rate limiter unavailable; allowing request\" err=%v", limitErr)
		} else if count > s.cfg.GenerateRateLimitPerMinute {
			return nil, &RateLimitError{RetryAfterSeconds: retryAfter}
		}
	}

	cost := s.cfg.GenerationCostCredits
	balance, replayed, err := s.repo.Debit(ctx, account.ID, cost, domain.ReasonUsageGenerate, idempotencyKey)
	if err != nil {
		return nil, err
	}

	// A refund under the key's ref means the keyed charge was already given
	// back after a failed attempt. The key is spent either way, so this
	// attempt pays with an unkeyed debit; without that, a retry after a
	// refund would generate at zero net cost.
	var refundRef *string
	charged := !replayed
	if idempotencyKey != nil {
		ref := "refund:" + *idempotencyKey
		refundRef = &ref
	}
	if replayed && refundRef != nil {
		refunded, refErr := s.repo.HasLedgerEntry(ctx, account.ID, *refundRef, domain.ReasonRefundGenerate)
		if refErr != nil {
			return nil, refErr
		}
		if refunded {
			balance, _, err = s.repo.Debit(ctx, account.ID, cost, domain.ReasonUsageGenerate, nil)
			if err != nil {
				return nil, err
			}
			charged = true
			refundRef = nil
		}
	}
	if charged {
		s.publishLedgerEvent(ctx, "ledger.debit", account.ID.String(), -cost, balance, domain.ReasonUsageGenerate, idempotencyKey)
	}

	imageURL, err := s.images.GenerateImage(ctx, prompt)
	if err != nil {
		// Refund only what this attempt charged. A replayed debit charged
		// nothing, and refunding it would give back a generation that the
		// first attempt already delivered.
		if charged {
			s.refundGeneration(ctx, account.ID, cost, refundRef)
		}
		return nil, err
	}

	return &GenerateResult{ImageURL: imageURL, Balance: balance}, nil
}

func (s *Service) refundGeneration(ctx context.Context, accountID uuid.UUID, cost int64, refundRef *string) {
	balance, err := s.repo.Credit(ctx, accountID, cost, domain.ReasonRefundGenerate, refundRef)
	if err != nil {
		log.Printf("level=error component=ledger msg=\"generation refund failed\" account_id=%s err=%v", accountID, err)
		return
	}
	s.publishLedgerEvent(ctx, "ledger.credit", accountID.String(), cost, balance, domain.ReasonRefundGenerate, refundRef)
}

// SpendCredits debits an arbitrary clamped amount from the identity's
// account. This backs the generic /credits/use endpoint.
func (s *Service) SpendCredits(ctx context.Context, identityKey string, amount int64, idempotencyKey *string) (int64, error) {
	account, err := s.repo.FindAccountByIdentity(ctx, identityKey)
	if err != nil {
		return 0, err
	}

	spend := clampSpendAmount(amount)
	balance, replayed, err := s.repo.Debit(ctx, account.ID, spend, domain.ReasonUsageGenerate, idempotencyKey)
	if err != nil {
		return 0, err
	}
	if !replayed {
		s.publishLedgerEvent(ctx, "ledger.debit", account.ID.String(), -spend, balance, domain.ReasonUsageGenerate, idempotencyKey)
	}
	return balance, nil
}

// CreateCreditCheckout creates a checkout session for a credit pack. The
// account's identity key and the credit amount travel in the session
// metadata so the completion webhook can credit the right account.
func (s *Service) CreateCreditCheckout(ctx context.Context, identityKey string, credits int64) (string, error) {
	if _, err := s.repo.FindAccountByIdentity(ctx, identityKey); err != nil {
		return "", err
	}
	if credits <= 0 {
		credits = s.cfg.CreditsPerPack
	}

	amountCents := checkoutAmountCents(credits, s.cfg.CreditsPerPack, s.cfg.PackPriceCents)
	session, err := s.payments.CreateCheckoutSession(ctx, paymentclient.CheckoutSessionParams{
		Mode:       "payment",
		SuccessURL: s.cfg.AppBaseURL + "/?success=1",
		CancelURL:  s.cfg.AppBaseURL + "/?canceled=1",
		LineItems: []paymentclient.LineItem{{
			Name:       fmt.Sprintf("%d AI credits", credits),
			Currency:   s.cfg.PackCurrency,
			UnitAmount: amountCents,
			Quantity:   1,
		}},
		ClientReferenceID: identityKey,
		Metadata: map[string]string{
			"uid":     identityKey,
			"credits": strconv.FormatInt(credits, 10),
		},
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// CreateBookCheckout creates a one-off checkout session for the cookbook.
// No credits are involved; the webhook only attaches the customer record.
func (s *Service) CreateBookCheckout(ctx context.Context, identityKey string) (string, error) {
	if _, err := s.repo.FindAccountByIdentity(ctx, identityKey); err != nil {
		return "", err
	}

	lineItems := []paymentclient.LineItem{{PriceID: s.cfg.BookPriceID, Quantity: 1}}
	if s.cfg.BookPriceID == "" {
		lineItems = []paymentclient.LineItem{{
			Name:       "Sixth Sense Cooking (Hardcover)",
			Currency:   "usd",
			UnitAmount: 2999,
			Quantity:   1,
		}}
	}

	session, err := s.payments.CreateCheckoutSession(ctx, paymentclient.CheckoutSessionParams{
		Mode:              "payment",
		SuccessURL:        s.cfg.AppBaseURL + "/?success=1",
		CancelURL:         s.cfg.AppBaseURL + "/?canceled=1",
		LineItems:         lineItems,
		ClientReferenceID: identityKey,
		Metadata:          map[string]string{"uid": identityKey, "product": "book"},
		ShippingRateID:    s.cfg.BookShippingRateID,
		ShippingCountries: []string{"AU", "US", "GB", "CA", "NZ", "IE", "DE", "FR", "ES", "IT"},
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// CreateSubscriptionCheckout creates a recurring-price checkout session.
func (s *Service) CreateSubscriptionCheckout(ctx context.Context, identityKey string) (string, error) {
	if s.cfg.SubscriptionPriceID == "" {
		return "", errors.New("subscription price is not configured")
	}
	if _, err := s.repo.FindAccountByIdentity(ctx, identityKey); err != nil {
		return "", err
	}

	session, err := s.payments.CreateCheckoutSession(ctx, paymentclient.CheckoutSessionParams{
		Mode:              "subscription",
		SuccessURL:        s.cfg.AppBaseURL + "/success",
		CancelURL:         s.cfg.AppBaseURL + "/cancel",
		LineItems:         []paymentclient.LineItem{{PriceID: s.cfg.SubscriptionPriceID, Quantity: 1}},
		ClientReferenceID: identityKey,
		Metadata:          map[string]string{"uid": identityKey},
	})
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// CreateBillingPortal creates a billing portal session for the account's
// payment customer. Fails with ErrNoPaymentCustomer when none is on file.
func (s *Service) CreateBillingPortal(ctx context.Context, identityKey string) (string, error) {
	account, err := s.repo.FindAccountByIdentity(ctx, identityKey)
	if err != nil {
		return "", err
	}
	if account.PaymentCustomerID == nil || *account.PaymentCustomerID == "" {
		return "", ErrNoPaymentCustomer
	}

	session, err := s.payments.CreateBillingPortalSession(ctx, *account.PaymentCustomerID, s.cfg.AppBaseURL+"/account")
	if err != nil {
		return "", err
	}
	return session.URL, nil
}

// HandlePaymentEvent applies one webhook event from the payment provider.
// Delivery is at-least-once; every path through here is idempotent.
func (s *Service) HandlePaymentEvent(ctx context.Context, event domain.PaymentWebhookEvent) error {
	switch event.Type {
	case domain.EventCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event.Data.Object)
	case domain.EventInvoicePaid:
		return s.setPlanByCustomer(ctx, event.Data.Object.Customer, domain.PlanPro)
	case domain.EventSubscriptionDeleted:
		return s.setPlanByCustomer(ctx, event.Data.Object.Customer, domain.PlanFree)
	default:
		// Unhandled event types are acknowledged and dropped.
		return nil
	}
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, object domain.PaymentEventObject) error {
	identityKey := resolveEventIdentity(object)
	if identityKey == "" {
		log.Printf("level=warn component=ledger msg=\"checkout completed without account reference\" session_id=%s", object.ID)
		return nil
	}

	account, err := s.repo.FindAccountByIdentity(ctx, identityKey)
	if err != nil {
		return err
	}

	credits := parseCreditsMetadata(object.Metadata)
	if credits > 0 {
		ref := object.ID
		balance, err := s.repo.Credit(ctx, account.ID, credits, domain.ReasonPurchaseCheckout, &ref)
		if err != nil {
			return err
		}
		s.publishLedgerEvent(ctx, "ledger.credit", account.ID.String(), credits, balance, domain.ReasonPurchaseCheckout, &ref)
	}

	if object.Customer != "" {
		if err := s.repo.SetPaymentCustomerID(ctx, account.ID, object.Customer); err != nil {
			// The credit is committed; losing the customer attach only
			// degrades billing-portal access, so log and move on.
			log.Printf("level=warn component=ledger msg=\"failed to attach payment customer\" account_id=%s err=%v", account.ID, err)
		}
	}
	return nil
}

func (s *Service) setPlanByCustomer(ctx context.Context, customerID, plan string) error {
	if customerID == "" {
		return nil
	}
	account, err := s.repo.FindAccountByPaymentCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			log.Printf("level=warn component=ledger msg=\"subscription event for unknown customer\" customer_id=%s", customerID)
			return nil
		}
		return err
	}
	return s.repo.UpdatePlan(ctx, account.ID, plan)
}

func (s *Service) publishLedgerEvent(ctx context.Context, routingKey, accountID string, delta, balance int64, reason string, externalRef *string) {
	event := domain.LedgerEvent{
		AccountID:  accountID,
		Delta:      delta,
		Balance:    balance,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
	if externalRef != nil {
		event.ExternalRef = *externalRef
	}
	if err := s.publisher.Publish(ctx, ledgerEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=ledger msg=\"ledger event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}

// clampSpendAmount bounds a client-supplied spend to a sane range, matching
// the checkout UI (1..1000, default 1).
func clampSpendAmount(amount int64) int64 {
	if amount < minSpendAmount {
		return minSpendAmount
	}
	if amount > maxSpendAmount {
		return maxSpendAmount
	}
	return amount
}

// checkoutAmountCents prices a credit amount against the configured pack,
// never below one cent.
func checkoutAmountCents(credits, creditsPerPack, packPriceCents int64) int64 {
	if creditsPerPack <= 0 || packPriceCents <= 0 {
		return 1
	}
	cents := int64(math.Round(float64(credits) / float64(creditsPerPack) * float64(packPriceCents)))
	if cents < 1 {
		cents = 1
	}
	return cents
}

// resolveEventIdentity picks the account reference out of a checkout event,
// preferring explicit metadata over the provider-stored client reference.
func resolveEventIdentity(object domain.PaymentEventObject) string {
	if uid := strings.TrimSpace(object.Metadata["uid"]); uid != "" {
		return uid
	}
	if uid := strings.TrimSpace(object.Metadata["userId"]); uid != "" {
		return uid
	}
	return strings.TrimSpace(object.ClientReferenceID)
}

// parseCreditsMetadata reads the purchased credit amount from session
// metadata; malformed or missing values count as zero.
func parseCreditsMetadata(metadata map[string]string) int64 {
	raw := strings.TrimSpace(metadata["credits"])
	if raw == "" {
		return 0
	}
	credits, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || credits < 0 {
		return 0
	}
	return credits
}
