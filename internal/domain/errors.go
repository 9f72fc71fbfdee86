package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvent covers unparseable, unauthenticated or unresolvable
	// webhook payloads. Such payloads are dropped and logged, never applied.
	ErrMalformedEvent = errors.New("malformed provider event")

	// ErrDuplicateEvent marks an idempotent no-op. Callers acknowledge the
	// webhook normally; this is not a failure condition.
	ErrDuplicateEvent = errors.New("duplicate provider event")

	// ErrDispatchFailure is a transient delivery failure, retried on the next
	// poll cycle up to the configured maximum attempts.
	ErrDispatchFailure = errors.New("message dispatch failed")

	// ErrPermanentDeliveryFailure marks a message that exhausted its retries.
	ErrPermanentDeliveryFailure = errors.New("message delivery permanently failed")

	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrGroupNotFound      = errors.New("service group not found")
	ErrDepositNotFound    = errors.New("deposit not found")

	// ErrProviderBound rejects binding a second payment provider while the
	// current binding has not reached a terminal state.
	ErrProviderBound = errors.New("subscriber already has an active provider binding")

	// ErrSentImmutable rejects changes to a message already marked sent.
	ErrSentImmutable = errors.New("sent message is immutable")
)

// StateConflictError reports a normalized event that is inapplicable to the
// subscriber's current state. The state is left unchanged and the conflict is
// logged for manual review; it never guesses a transition.
type StateConflictError struct {
	SubscriberID uint
	Current      SubscriptionStatus
	Event        EventKind
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("event %q is not applicable to subscriber %d in state %q", e.Event, e.SubscriberID, e.Current)
}

// MissingTimezoneWarning reports a timezone-matched subscriber without stored
// offset data. The calculator falls back to the raw UTC interpretation and the
// operator is told, never silently.
type MissingTimezoneWarning struct {
	SubscriberID uint
}

func (e *MissingTimezoneWarning) Error() string {
	return fmt.Sprintf("subscriber %d requests timezone matching but has no stored offset; falling back to UTC", e.SubscriberID)
}
