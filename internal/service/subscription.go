package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dailylift/dailylift/internal/domain"
	depositRepo "github.com/dailylift/dailylift/internal/repository/deposit"
	messageRepo "github.com/dailylift/dailylift/internal/repository/message"
	subscriberRepo "github.com/dailylift/dailylift/internal/repository/subscriber"
	"github.com/dailylift/dailylift/internal/statemachine"
)

// EventApplier is the state machine's single mutator.
type EventApplier interface {
	Apply(ctx context.Context, ev *domain.NormalizedEvent) (statemachine.Outcome, error)
}

// DepositVerifier checks a manual crypto payment before it may activate anyone.
type DepositVerifier interface {
	VerifyManualDeposit(ctx context.Context, depositID uint, txHash, currency string, amount float64, adminActionID string) (*domain.NormalizedEvent, error)
}

type CreateSubscriberInput struct {
	PhoneNumber           string                    `json:"phone_number"`
	Carrier               string                    `json:"carrier"`
	Name                  string                    `json:"name"`
	Email                 string                    `json:"email"`
	TimezoneOffsetMinutes *int                      `json:"timezone_offset_minutes"`
	TimezoneLabel         string                    `json:"timezone_label"`
	DeliveryPreference    domain.DeliveryPreference `json:"delivery_preference"`
	GroupID               *uint                     `json:"group_id"`
}

type Stats struct {
	Subscribers     map[domain.SubscriptionStatus]int64 `json:"subscribers"`
	PendingMessages int64                               `json:"pending_messages"`
	SentMessages    int64                               `json:"sent_messages"`
}

// SubscriptionService owns onboarding, provider binding, manual deposit review
// and the read-only queries exposed to admin surfaces. Status transitions
// always go through the state machine; this service never writes status.
type SubscriptionService struct {
	subscribers subscriberRepo.Repository
	messages    messageRepo.Repository
	deposits    depositRepo.Repository
	verifier    DepositVerifier
	machine     EventApplier
	wallets     map[string]string
	logger      *slog.Logger
	now         func() time.Time
}

func NewSubscriptionService(
	subscribers subscriberRepo.Repository,
	messages messageRepo.Repository,
	deposits depositRepo.Repository,
	verifier DepositVerifier,
	machine EventApplier,
	wallets map[string]string,
	logger *slog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subscribers: subscribers,
		messages:    messages,
		deposits:    deposits,
		verifier:    verifier,
		machine:     machine,
		wallets:     wallets,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateSubscriber onboards a new subscriber in pending state. Phone number
// and carrier are immutable once set.
func (s *SubscriptionService) CreateSubscriber(ctx context.Context, in CreateSubscriberInput) (*domain.Subscriber, error) {
	_ = ctx

	if strings.TrimSpace(in.PhoneNumber) == "" || strings.TrimSpace(in.Carrier) == "" {
		return nil, errors.New("phone_number and carrier are required")
	}
	switch in.DeliveryPreference {
	case "":
		in.DeliveryPreference = domain.PreferScheduled
	case domain.PreferOnDemand, domain.PreferScheduled, domain.PreferScheduledTimezone:
	default:
		return nil, fmt.Errorf("unknown delivery preference: %q", in.DeliveryPreference)
	}

	if _, err := s.subscribers.GetByPhone(in.PhoneNumber); err == nil {
		return nil, fmt.Errorf("subscriber with phone %s already exists", in.PhoneNumber)
	} else if !errors.Is(err, domain.ErrSubscriberNotFound) {
		return nil, err
	}

	sub := &domain.Subscriber{
		PhoneNumber:           strings.TrimSpace(in.PhoneNumber),
		Carrier:               strings.TrimSpace(in.Carrier),
		Name:                  in.Name,
		Email:                 in.Email,
		TimezoneOffsetMinutes: in.TimezoneOffsetMinutes,
		TimezoneLabel:         in.TimezoneLabel,
		DeliveryPreference:    in.DeliveryPreference,
		Status:                domain.StatusPending,
		GroupID:               in.GroupID,
	}
	if err := s.subscribers.Create(sub); err != nil {
		return nil, err
	}
	s.logger.Info("subscriber created", "subscriberId", sub.ID, "carrier", sub.Carrier)
	return sub, nil
}

// BindProvider attaches the single payment provider reference that will own
// this subscriber's billing truth. Switching providers requires reaching a
// terminal state and re-onboarding with a fresh record.
func (s *SubscriptionService) BindProvider(ctx context.Context, subscriberID uint, provider domain.PaymentProvider, ref string) (*domain.Subscriber, error) {
	_ = ctx

	if strings.TrimSpace(ref) == "" {
		return nil, errors.New("provider reference is required")
	}

	sub, err := s.subscribers.GetByID(subscriberID)
	if err != nil {
		return nil, err
	}
	if sub.Status.Terminal() {
		return nil, fmt.Errorf("subscriber %d is %s; re-onboard to resume", subscriberID, sub.Status)
	}
	if !sub.Binding.None() {
		return nil, domain.ErrProviderBound
	}

	sub.Binding = domain.NewProviderBinding(provider, ref)
	if err := s.subscribers.Save(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// RequestDeposit opens a manual crypto payment awaiting admin verification.
func (s *SubscriptionService) RequestDeposit(ctx context.Context, subscriberID uint, currency string, amount float64, txHash string) (*domain.PendingDeposit, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	wallet, ok := s.wallets[currency]
	if !ok || wallet == "" {
		return nil, fmt.Errorf("no wallet address configured for %s (available: %s)",
			currency, strings.Join(s.availableCurrencies(), ", "))
	}
	if amount <= 0 {
		return nil, errors.New("amount must be positive")
	}

	sub, err := s.subscribers.GetByID(subscriberID)
	if err != nil {
		return nil, err
	}
	if sub.Binding.None() {
		if _, err := s.BindProvider(ctx, sub.ID, domain.ProviderCrypto, wallet); err != nil {
			return nil, err
		}
	} else if sub.Binding.Provider != domain.ProviderCrypto {
		return nil, domain.ErrProviderBound
	}

	dep := &domain.PendingDeposit{
		SubscriberID:    sub.ID,
		Currency:        currency,
		Amount:          amount,
		WalletAddress:   wallet,
		TransactionHash: txHash,
	}
	if err := s.deposits.Create(dep); err != nil {
		return nil, err
	}
	return dep, nil
}

// ApproveDeposit verifies an admin-supplied transaction reference against the
// pending deposit and, on a match, drives a ManuallyVerified event through the
// state machine. A mismatch activates nobody.
func (s *SubscriptionService) ApproveDeposit(ctx context.Context, depositID uint, txHash, currency string, amount float64, reviewedBy, adminActionID string) (statemachine.Outcome, error) {
	ev, err := s.verifier.VerifyManualDeposit(ctx, depositID, txHash, currency, amount, adminActionID)
	if err != nil {
		s.logger.Error("manual deposit verification failed",
			"depositId", depositID, "error", err.Error())
		return statemachine.Outcome{}, err
	}

	outcome, err := s.machine.Apply(ctx, ev)
	if err != nil {
		return outcome, err
	}
	if outcome.Result == statemachine.ResultConflict {
		return outcome, outcome.Conflict
	}

	if err := s.deposits.Review(depositID, domain.DepositApproved, txHash, "", reviewedBy, s.now()); err != nil {
		return outcome, err
	}
	return outcome, nil
}

func (s *SubscriptionService) RejectDeposit(ctx context.Context, depositID uint, notes, reviewedBy string) error {
	_ = ctx
	if _, err := s.deposits.GetByID(depositID); err != nil {
		return err
	}
	return s.deposits.Review(depositID, domain.DepositRejected, "", notes, reviewedBy, s.now())
}

// EnqueueOneOff lets an admin schedule a single message directly, bypassing
// the group calculator.
func (s *SubscriptionService) EnqueueOneOff(ctx context.Context, subscriberID uint, body, imageURL string, at time.Time) (*domain.ScheduledMessage, error) {
	_ = ctx

	if strings.TrimSpace(body) == "" {
		return nil, errors.New("message body is required")
	}
	sub, err := s.subscribers.GetByID(subscriberID)
	if err != nil {
		return nil, err
	}

	offset := 0
	if sub.TimezoneOffsetMinutes != nil {
		offset = *sub.TimezoneOffsetMinutes
	}
	msg := &domain.ScheduledMessage{
		SubscriberID:          sub.ID,
		Body:                  body,
		ImageURL:              imageURL,
		ScheduledAt:           at.UTC(),
		TimezoneOffsetMinutes: offset,
		TimezoneLabel:         sub.TimezoneLabel,
	}
	if err := s.messages.Enqueue(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SubscriptionService) Subscriber(ctx context.Context, id uint) (*domain.Subscriber, error) {
	_ = ctx
	return s.subscribers.GetByID(id)
}

func (s *SubscriptionService) Subscribers(ctx context.Context) ([]domain.Subscriber, error) {
	_ = ctx
	return s.subscribers.List()
}

func (s *SubscriptionService) MessagesFor(ctx context.Context, subscriberID uint) ([]domain.ScheduledMessage, error) {
	_ = ctx
	if _, err := s.subscribers.GetByID(subscriberID); err != nil {
		return nil, err
	}
	return s.messages.ListBySubscriber(subscriberID)
}

// FailedMessages is the operator review queue of permanent delivery failures.
func (s *SubscriptionService) FailedMessages(ctx context.Context) ([]domain.ScheduledMessage, error) {
	_ = ctx
	return s.messages.ListFailed()
}

func (s *SubscriptionService) PendingDeposits(ctx context.Context) ([]domain.PendingDeposit, error) {
	_ = ctx
	return s.deposits.ListPending()
}

// Purge hard-deletes a subscriber and everything they own. Admin escape hatch;
// normal cancellation keeps the record for audit.
func (s *SubscriptionService) Purge(ctx context.Context, subscriberID uint) error {
	_ = ctx
	if _, err := s.subscribers.GetByID(subscriberID); err != nil {
		return err
	}
	return s.subscribers.Purge(subscriberID)
}

func (s *SubscriptionService) Stats(ctx context.Context) (Stats, error) {
	_ = ctx

	counts, err := s.subscribers.CountByStatus()
	if err != nil {
		return Stats{}, err
	}
	pending, sent, err := s.messages.Counts()
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Subscribers:     counts,
		PendingMessages: pending,
		SentMessages:    sent,
	}, nil
}

func (s *SubscriptionService) availableCurrencies() []string {
	currencies := make([]string, 0, len(s.wallets))
	for c, addr := range s.wallets {
		if addr != "" {
			currencies = append(currencies, c)
		}
	}
	sort.Strings(currencies)
	return currencies
}
