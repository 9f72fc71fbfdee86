package statemachine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dailylift/dailylift/internal/cache"
	"github.com/dailylift/dailylift/internal/domain"
	eventRepo "github.com/dailylift/dailylift/internal/repository/event"
	subscriberRepo "github.com/dailylift/dailylift/internal/repository/subscriber"
)

// Result classifies what Apply did with an event. Every webhook invocation
// maps to exactly one of these so the calling integration can always
// acknowledge the delivery.
type Result string

const (
	ResultApplied   Result = "applied"
	ResultDuplicate Result = "duplicate"
	ResultConflict  Result = "conflict"
)

// Outcome reports the resulting subscriber state and whether it changed.
type Outcome struct {
	Result   Result
	Status   domain.SubscriptionStatus
	Changed  bool
	Conflict *domain.StateConflictError
}

const dedupCacheTTL = 48 * time.Hour

// Machine is the exclusive mutator of subscriber billing state. Transitions
// for the same subscriber are serialized under a per-subscriber lock so two
// near-simultaneous webhooks cannot interleave into an inconsistent state.
type Machine struct {
	subscribers subscriberRepo.Repository
	events      eventRepo.Repository
	cache       cache.Cache
	logger      *slog.Logger
	now         func() time.Time

	mtx   sync.Mutex
	locks map[uint]*sync.Mutex
}

// New creates a state machine. The cache is optional; when present it serves
// as a fast-path duplicate check in front of the database's unique constraint.
func New(subscribers subscriberRepo.Repository, events eventRepo.Repository, c cache.Cache, logger *slog.Logger) *Machine {
	return &Machine{
		subscribers: subscribers,
		events:      events,
		cache:       c,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		locks:       make(map[uint]*sync.Mutex),
	}
}

// subscriberLock returns the mutex serializing transitions for one subscriber.
// Locks are never released from the map; the set is bounded by the subscriber
// population.
func (m *Machine) subscriberLock(id uint) *sync.Mutex {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Apply is the only mutator of subscription status. It is safe to call
// concurrently for different subscribers. Duplicates and conflicts are
// definite outcomes, not errors; a non-nil error means infrastructure failure.
func (m *Machine) Apply(ctx context.Context, ev *domain.NormalizedEvent) (Outcome, error) {
	if ev == nil {
		return Outcome{}, fmt.Errorf("%w: nil event", domain.ErrMalformedEvent)
	}

	lock := m.subscriberLock(ev.SubscriberID)
	lock.Lock()
	defer lock.Unlock()

	if dup, err := m.seenBefore(ctx, ev); err != nil {
		return Outcome{}, err
	} else if dup {
		return m.duplicateOutcome(ctx, ev)
	}

	sub, err := m.subscribers.GetByID(ev.SubscriberID)
	if err != nil {
		return Outcome{}, err
	}

	next, ok := transition(sub.Status, ev.Kind)
	if !ok {
		conflict := &domain.StateConflictError{
			SubscriberID: sub.ID,
			Current:      sub.Status,
			Event:        ev.Kind,
		}
		// Fail safe: never guess. State is left unchanged and the conflict is
		// surfaced for manual review.
		m.logger.Error("state conflict", "subscriberId", sub.ID,
			"state", string(sub.Status), "event", string(ev.Kind))
		return Outcome{Result: ResultConflict, Status: sub.Status, Conflict: conflict}, nil
	}

	changed := next != sub.Status
	sub.Status = next
	if next == domain.StatusActive && !sub.Binding.None() {
		// Activation confirms the provider binding as billing truth.
		sub.Binding.Confirmed = true
	}

	// The dedup record and the transition commit together: if either write
	// fails, neither lands, and the provider's retry is applied cleanly
	// instead of being answered as a duplicate of a transition that never
	// happened.
	applied, err := m.subscribers.SaveWithEvent(sub, &domain.ProcessedEvent{
		Provider:     ev.Provider,
		EventID:      ev.EventID,
		SubscriberID: ev.SubscriberID,
		Kind:         ev.Kind,
	})
	if err != nil {
		return Outcome{}, err
	}
	if !applied {
		// Another process recorded the event between our read and the write.
		return m.duplicateOutcome(ctx, ev)
	}

	m.cacheProcessed(ctx, ev)

	m.logger.Info("applied subscription event",
		"subscriberId", sub.ID,
		"event", string(ev.Kind),
		"status", string(next))
	return Outcome{Result: ResultApplied, Status: next, Changed: changed}, nil
}

// Status is the read path used by the delivery engine to re-check a
// subscriber immediately before dispatch.
func (m *Machine) Status(ctx context.Context, subscriberID uint) (domain.SubscriptionStatus, error) {
	_ = ctx
	sub, err := m.subscribers.GetByID(subscriberID)
	if err != nil {
		return "", err
	}
	return sub.Status, nil
}

// seenBefore reports whether the event was already applied. Read-only: the
// authoritative record is written inside the transition's transaction, and the
// cache is populated only after that transaction commits.
func (m *Machine) seenBefore(ctx context.Context, ev *domain.NormalizedEvent) (bool, error) {
	if m.cache != nil {
		if val, err := m.cache.Get(ctx, dedupKey(ev)); err == nil && val != "" {
			return true, nil
		}
		// Cache miss or cache failure falls through to the database check.
	}
	return m.events.Seen(ev.Provider, ev.EventID)
}

func (m *Machine) duplicateOutcome(ctx context.Context, ev *domain.NormalizedEvent) (Outcome, error) {
	status, err := m.Status(ctx, ev.SubscriberID)
	if err != nil {
		return Outcome{}, err
	}
	m.logger.Info("ignoring redelivered provider event",
		"subscriberId", ev.SubscriberID,
		"provider", string(ev.Provider),
		"eventId", ev.EventID)
	return Outcome{Result: ResultDuplicate, Status: status}, nil
}

// cacheProcessed marks the event id processed for the redelivery fast path.
// Best effort; the committed database row already guards correctness.
func (m *Machine) cacheProcessed(ctx context.Context, ev *domain.NormalizedEvent) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(ctx, dedupKey(ev), m.now().Format(time.RFC3339), dedupCacheTTL); err != nil {
		m.logger.Error("failed to cache processed event",
			"eventId", ev.EventID, "error", err.Error())
	}
}

func dedupKey(ev *domain.NormalizedEvent) string {
	return fmt.Sprintf("evt:%s:%s", ev.Provider, ev.EventID)
}

// transition implements the lifecycle table. pending is initial; canceled and
// expired are terminal and a terminal subscriber is never resurrected in
// place. Any pair outside the table reports false.
func transition(cur domain.SubscriptionStatus, kind domain.EventKind) (domain.SubscriptionStatus, bool) {
	switch kind {
	case domain.EventActivated:
		if cur == domain.StatusPending || cur == domain.StatusPastDue {
			return domain.StatusActive, true
		}
	case domain.EventManuallyVerified:
		if cur == domain.StatusPending {
			return domain.StatusActive, true
		}
	case domain.EventPaymentFailed:
		switch cur {
		case domain.StatusActive:
			return domain.StatusPastDue, true
		case domain.StatusPastDue:
			// Repeated failure exhausts the grace period.
			return domain.StatusExpired, true
		}
	case domain.EventCanceled:
		if cur == domain.StatusActive || cur == domain.StatusPastDue {
			return domain.StatusCanceled, true
		}
	case domain.EventExpired:
		if !cur.Terminal() {
			return domain.StatusExpired, true
		}
	}
	return cur, false
}
