package normalizer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dailylift/dailylift/internal/domain"
	depositRepo "github.com/dailylift/dailylift/internal/repository/deposit"
	subscriberRepo "github.com/dailylift/dailylift/internal/repository/subscriber"
	"github.com/google/uuid"
)

// Normalizer translates each payment provider's raw notification into the
// closed set of lifecycle events. It never mutates subscriber state; applying
// events is the state machine's job.
type Normalizer struct {
	subscribers subscriberRepo.Repository
	deposits    depositRepo.Repository
	logger      *slog.Logger
	now         func() time.Time
}

func New(subscribers subscriberRepo.Repository, deposits depositRepo.Repository, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		subscribers: subscribers,
		deposits:    deposits,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Handle converts a raw provider payload into zero or one normalized event.
// Malformed or unresolvable payloads yield nil plus ErrMalformedEvent; they are
// logged and dropped, never raised past this boundary as a panic or a fault the
// webhook caller cannot acknowledge. deliveryID is the transport-level delivery
// token; it changes on every redelivery attempt, so it is only a fallback when
// the payload itself carries no provider-assigned event id.
func (n *Normalizer) Handle(ctx context.Context, provider domain.PaymentProvider, payload []byte, deliveryID string) (*domain.NormalizedEvent, error) {
	_ = ctx

	var (
		ev  *domain.NormalizedEvent
		err error
	)
	switch provider {
	case domain.ProviderCard:
		ev, err = n.normalizeCard(payload)
	case domain.ProviderAgreement:
		ev, err = n.normalizeAgreement(payload)
	case domain.ProviderCrypto:
		ev, err = n.normalizeCrypto(payload)
	default:
		err = fmt.Errorf("%w: unknown provider %q", domain.ErrMalformedEvent, provider)
	}
	if err != nil {
		n.logger.Error("dropping provider notification",
			"provider", string(provider), "error", err.Error())
		return nil, err
	}
	if ev == nil {
		// Recognized but irrelevant notification kind.
		return nil, nil
	}

	if ev.EventID == "" {
		// The payload carries no provider-assigned id; the delivery token at
		// least dedups exact resends of the same attempt.
		ev.EventID = deliveryID
	}
	if ev.EventID == "" {
		// No id anywhere; fall back to a payload digest so redeliveries
		// still dedup.
		sum := sha256.Sum256(payload)
		ev.EventID = "hash:" + hex.EncodeToString(sum[:])
	}
	ev.ObservedAt = n.now()
	return ev, nil
}

// cardEnvelope mirrors the card network's webhook shape.
type cardEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"object"`
	} `json:"data"`
}

func (n *Normalizer) normalizeCard(payload []byte) (*domain.NormalizedEvent, error) {
	var env cardEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if env.Data.Object.ID == "" {
		return nil, fmt.Errorf("%w: card payload has no subscription reference", domain.ErrMalformedEvent)
	}

	var kind domain.EventKind
	status := strings.ToLower(env.Data.Object.Status)
	switch env.Type {
	case "customer.subscription.deleted":
		kind = domain.EventCanceled
	case "customer.subscription.updated", "customer.subscription.created":
		switch status {
		case "active", "trialing":
			kind = domain.EventActivated
		case "past_due", "unpaid":
			kind = domain.EventPaymentFailed
		case "canceled":
			kind = domain.EventCanceled
		case "incomplete_expired":
			kind = domain.EventExpired
		default:
			// Intermediate states like "incomplete" carry no lifecycle signal.
			return nil, nil
		}
	default:
		return nil, nil
	}

	sub, err := n.subscribers.GetByBinding(domain.ProviderCard, env.Data.Object.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: no subscriber bound to card ref %q", domain.ErrMalformedEvent, env.Data.Object.ID)
	}

	return &domain.NormalizedEvent{
		SubscriberID: sub.ID,
		Kind:         kind,
		Provider:     domain.ProviderCard,
		EventID:      env.ID,
		TruthStatus:  status,
	}, nil
}

// agreementEnvelope mirrors the billing-agreement provider's webhook shape.
type agreementEnvelope struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                 string `json:"id"`
		BillingAgreementID string `json:"billing_agreement_id"`
		State              string `json:"state"`
	} `json:"resource"`
}

func (n *Normalizer) normalizeAgreement(payload []byte) (*domain.NormalizedEvent, error) {
	var env agreementEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	ref := env.Resource.ID
	var kind domain.EventKind
	switch env.EventType {
	case "BILLING.SUBSCRIPTION.ACTIVATED":
		kind = domain.EventActivated
	case "BILLING.SUBSCRIPTION.CANCELLED":
		kind = domain.EventCanceled
	case "BILLING.SUBSCRIPTION.EXPIRED":
		kind = domain.EventExpired
	case "BILLING.SUBSCRIPTION.PAYMENT.FAILED":
		kind = domain.EventPaymentFailed
		if env.Resource.BillingAgreementID != "" {
			ref = env.Resource.BillingAgreementID
		}
	default:
		return nil, nil
	}
	if ref == "" {
		return nil, fmt.Errorf("%w: agreement payload has no agreement reference", domain.ErrMalformedEvent)
	}

	sub, err := n.subscribers.GetByBinding(domain.ProviderAgreement, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: no subscriber bound to agreement ref %q", domain.ErrMalformedEvent, ref)
	}

	return &domain.NormalizedEvent{
		SubscriberID: sub.ID,
		Kind:         kind,
		Provider:     domain.ProviderAgreement,
		EventID:      env.ID,
		TruthStatus:  strings.ToLower(env.Resource.State),
	}, nil
}

// cryptoEnvelope mirrors the crypto checkout processor's webhook shape. The
// charge id is the correlation path; it is what gets bound when a checkout is
// created, so metadata is not consulted.
type cryptoEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (n *Normalizer) normalizeCrypto(payload []byte) (*domain.NormalizedEvent, error) {
	var env cryptoEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	var kind domain.EventKind
	switch env.Type {
	case "checkout:confirmed", "charge:confirmed":
		kind = domain.EventActivated
	case "charge:failed":
		kind = domain.EventPaymentFailed
	default:
		return nil, nil
	}

	sub, err := n.subscribers.GetByBinding(domain.ProviderCrypto, env.Data.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: no subscriber bound to crypto ref %q", domain.ErrMalformedEvent, env.Data.ID)
	}

	return &domain.NormalizedEvent{
		SubscriberID: sub.ID,
		Kind:         kind,
		Provider:     domain.ProviderCrypto,
		EventID:      env.ID,
		TruthStatus:  env.Type,
	}, nil
}

// VerifyManualDeposit checks an admin-supplied transaction reference against a
// pending manual crypto payment and, on a full match, produces a
// ManuallyVerified event keyed by the admin action id. Any mismatch yields no
// event and a reported error; the state machine never sees unverified data.
func (n *Normalizer) VerifyManualDeposit(ctx context.Context, depositID uint, txHash, currency string, amount float64, adminActionID string) (*domain.NormalizedEvent, error) {
	_ = ctx

	dep, err := n.deposits.GetByID(depositID)
	if err != nil {
		return nil, err
	}
	if dep.Status != domain.DepositPending {
		return nil, fmt.Errorf("%w: deposit %d already reviewed (%s)", domain.ErrMalformedEvent, depositID, dep.Status)
	}
	if strings.TrimSpace(txHash) == "" {
		return nil, fmt.Errorf("%w: transaction reference is required", domain.ErrMalformedEvent)
	}
	if !strings.EqualFold(strings.TrimSpace(currency), dep.Currency) {
		return nil, fmt.Errorf("%w: currency %q does not match expected %q", domain.ErrMalformedEvent, currency, dep.Currency)
	}
	if amount != dep.Amount {
		return nil, fmt.Errorf("%w: amount %.2f does not match expected %.2f", domain.ErrMalformedEvent, amount, dep.Amount)
	}

	if adminActionID == "" {
		adminActionID = uuid.NewString()
	}

	return &domain.NormalizedEvent{
		SubscriberID: dep.SubscriberID,
		Kind:         domain.EventManuallyVerified,
		Provider:     domain.ProviderCrypto,
		EventID:      "manual:" + adminActionID,
		ObservedAt:   n.now(),
		TruthStatus:  "verified",
	}, nil
}
