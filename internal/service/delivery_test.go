package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailylift/dailylift/internal/domain"
)

// memMessages is an in-memory stand-in for the message repository, mirroring
// its claim and mark semantics.
type memMessages struct {
	mu     sync.Mutex
	nextID uint
	msgs   map[uint]*domain.ScheduledMessage
}

func newMemMessages() *memMessages {
	return &memMessages{msgs: make(map[uint]*domain.ScheduledMessage)}
}

func (m *memMessages) Enqueue(msg *domain.ScheduledMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	msg.ScheduledAt = msg.ScheduledAt.UTC()
	msg.Status = int(domain.MessagePending)
	msg.Sent = false
	cp := *msg
	m.msgs[msg.ID] = &cp
	return nil
}

func (m *memMessages) EnqueueBatch(msgs []domain.ScheduledMessage) error {
	for i := range msgs {
		if err := m.Enqueue(&msgs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memMessages) FetchAndLockDue(asOf time.Time, limit int) ([]domain.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []domain.ScheduledMessage
	for _, msg := range m.msgs {
		if !msg.Sent && msg.Status == int(domain.MessagePending) && !msg.ScheduledAt.After(asOf) {
			due = append(due, *msg)
		}
	}
	for i := 0; i < len(due); i++ {
		for j := i + 1; j < len(due); j++ {
			if due[j].ScheduledAt.Before(due[i].ScheduledAt) {
				due[i], due[j] = due[j], due[i]
			}
		}
	}
	if len(due) > limit {
		due = due[:limit]
	}
	for _, msg := range due {
		m.msgs[msg.ID].Status = int(domain.MessageProcessing)
	}
	return due, nil
}

func (m *memMessages) MarkSent(id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.msgs[id]
	if msg == nil || msg.Sent {
		return nil
	}
	at = at.UTC()
	msg.Sent = true
	msg.Status = int(domain.MessageSent)
	msg.SentAt = &at
	return nil
}

func (m *memMessages) MarkSkipped(id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.msgs[id]
	if msg == nil || msg.Sent {
		return nil
	}
	at = at.UTC()
	msg.Sent = true
	msg.Status = int(domain.MessageSkipped)
	msg.SentAt = &at
	return nil
}

func (m *memMessages) Release(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.msgs[id]
	if msg == nil || msg.Sent {
		return nil
	}
	msg.Status = int(domain.MessagePending)
	msg.Attempts++
	return nil
}

func (m *memMessages) MarkFailed(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.msgs[id]
	if msg == nil || msg.Sent {
		return nil
	}
	msg.Status = int(domain.MessageFailed)
	msg.Attempts++
	return nil
}

func (m *memMessages) RecoverInFlight() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var recovered int64
	for _, msg := range m.msgs {
		if !msg.Sent && msg.Status == int(domain.MessageProcessing) {
			msg.Status = int(domain.MessagePending)
			recovered++
		}
	}
	return recovered, nil
}

func (m *memMessages) ListBySubscriber(subscriberID uint) ([]domain.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledMessage
	for _, msg := range m.msgs {
		if msg.SubscriberID == subscriberID {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memMessages) ListFailed() ([]domain.ScheduledMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ScheduledMessage
	for _, msg := range m.msgs {
		if msg.Status == int(domain.MessageFailed) {
			out = append(out, *msg)
		}
	}
	return out, nil
}

func (m *memMessages) Counts() (pending int64, sent int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		if msg.Sent {
			sent++
		} else {
			pending++
		}
	}
	return pending, sent, nil
}

func (m *memMessages) get(id uint) domain.ScheduledMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.msgs[id]
}

type memSubscribers struct {
	mu   sync.Mutex
	subs map[uint]*domain.Subscriber
}

func newMemSubscribers(subs ...*domain.Subscriber) *memSubscribers {
	m := &memSubscribers{subs: make(map[uint]*domain.Subscriber)}
	for _, sub := range subs {
		cp := *sub
		m.subs[sub.ID] = &cp
	}
	return m
}

func (m *memSubscribers) Create(sub *domain.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = uint(len(m.subs) + 1)
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *memSubscribers) GetByID(id uint) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, domain.ErrSubscriberNotFound
	}
	cp := *sub
	return &cp, nil
}

func (m *memSubscribers) GetByPhone(phone string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.PhoneNumber == phone {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, domain.ErrSubscriberNotFound
}

func (m *memSubscribers) GetByBinding(provider domain.PaymentProvider, ref string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subs {
		if sub.Binding.Provider == provider && sub.Binding.Ref() == ref {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, domain.ErrSubscriberNotFound
}

func (m *memSubscribers) ListByGroupAndStatus(uint, domain.SubscriptionStatus) ([]domain.Subscriber, error) {
	return nil, nil
}

func (m *memSubscribers) List() ([]domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscriber
	for _, sub := range m.subs {
		out = append(out, *sub)
	}
	return out, nil
}

func (m *memSubscribers) Save(sub *domain.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *memSubscribers) SaveWithEvent(sub *domain.Subscriber, _ *domain.ProcessedEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return true, nil
}

func (m *memSubscribers) Purge(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, id)
	return nil
}

func (m *memSubscribers) CountByStatus() (map[domain.SubscriptionStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[domain.SubscriptionStatus]int64)
	for _, sub := range m.subs {
		counts[sub.Status]++
	}
	return counts, nil
}

// stubStates reports a fixed status per subscriber.
type stubStates struct {
	statuses map[uint]domain.SubscriptionStatus
}

func (s *stubStates) Status(_ context.Context, subscriberID uint) (domain.SubscriptionStatus, error) {
	status, ok := s.statuses[subscriberID]
	if !ok {
		return "", domain.ErrSubscriberNotFound
	}
	return status, nil
}

// scriptedDispatcher returns the configured error on every send and counts calls.
type scriptedDispatcher struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (d *scriptedDispatcher) Send(context.Context, *domain.Subscriber, *domain.ScheduledMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.err
}

func (d *scriptedDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func intPtr(v int) *int { return &v }

func newTestEngine(t *testing.T, messages *memMessages, subscribers *memSubscribers, states *stubStates, dispatcher Dispatcher) DeliveryEngine {
	t.Helper()

	engine, err := NewDeliveryEngine(
		messages, subscribers, states, dispatcher, nil, testLogger(),
		intPtr(1), 10, time.Hour, 3,
	)
	require.NoError(t, err)
	return engine
}

func dueMessage(t *testing.T, messages *memMessages, subscriberID uint) uint {
	t.Helper()

	msg := &domain.ScheduledMessage{
		SubscriberID: subscriberID,
		Body:         "hello",
		ScheduledAt:  time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, messages.Enqueue(msg))
	return msg.ID
}

func TestRunOnce_DispatchesOnceAndOnlyOnce(t *testing.T) {
	messages := newMemMessages()
	subscribers := newMemSubscribers(&domain.Subscriber{ID: 1, PhoneNumber: "15550001", Carrier: "tmomail.net", Status: domain.StatusActive})
	states := &stubStates{statuses: map[uint]domain.SubscriptionStatus{1: domain.StatusActive}}
	dispatcher := &scriptedDispatcher{}
	engine := newTestEngine(t, messages, subscribers, states, dispatcher)

	id := dueMessage(t, messages, 1)

	engine.RunOnce(context.Background())

	got := messages.get(id)
	assert.True(t, got.Sent)
	assert.Equal(t, int(domain.MessageSent), got.Status)
	require.NotNil(t, got.SentAt)
	assert.Equal(t, 1, dispatcher.callCount())

	// A sent message is never claimed or dispatched again.
	engine.RunOnce(context.Background())
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestRunOnce_SkipsInactiveSubscriberWithoutDispatching(t *testing.T) {
	for _, status := range []domain.SubscriptionStatus{
		domain.StatusPending, domain.StatusPastDue, domain.StatusCanceled, domain.StatusExpired,
	} {
		messages := newMemMessages()
		subscribers := newMemSubscribers(&domain.Subscriber{ID: 1, Status: status})
		states := &stubStates{statuses: map[uint]domain.SubscriptionStatus{1: status}}
		dispatcher := &scriptedDispatcher{}
		engine := newTestEngine(t, messages, subscribers, states, dispatcher)

		id := dueMessage(t, messages, 1)
		engine.RunOnce(context.Background())

		got := messages.get(id)
		assert.True(t, got.Sent, "status %s", status)
		assert.Equal(t, int(domain.MessageSkipped), got.Status, "status %s", status)
		assert.Equal(t, 0, dispatcher.callCount(), "status %s", status)
	}
}

func TestRunOnce_TransientFailureRetriesThenFailsPermanently(t *testing.T) {
	messages := newMemMessages()
	subscribers := newMemSubscribers(&domain.Subscriber{ID: 1, Status: domain.StatusActive})
	states := &stubStates{statuses: map[uint]domain.SubscriptionStatus{1: domain.StatusActive}}
	dispatcher := &scriptedDispatcher{err: domain.ErrDispatchFailure}
	engine := newTestEngine(t, messages, subscribers, states, dispatcher)

	id := dueMessage(t, messages, 1)

	// First two cycles release the message back to the pending pool.
	engine.RunOnce(context.Background())
	got := messages.get(id)
	assert.Equal(t, int(domain.MessagePending), got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.False(t, got.Sent)

	engine.RunOnce(context.Background())
	got = messages.get(id)
	assert.Equal(t, int(domain.MessagePending), got.Status)
	assert.Equal(t, 2, got.Attempts)

	// The third cycle exhausts the allowed attempts.
	engine.RunOnce(context.Background())
	got = messages.get(id)
	assert.Equal(t, int(domain.MessageFailed), got.Status)
	assert.False(t, got.Sent)

	failed, err := messages.ListFailed()
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	// Nothing more to do; the message never becomes due again.
	engine.RunOnce(context.Background())
	assert.Equal(t, int(domain.MessageFailed), messages.get(id).Status)
}

func TestRunOnce_GatewayRejectionFailsImmediately(t *testing.T) {
	messages := newMemMessages()
	subscribers := newMemSubscribers(&domain.Subscriber{ID: 1, Status: domain.StatusActive})
	states := &stubStates{statuses: map[uint]domain.SubscriptionStatus{1: domain.StatusActive}}
	dispatcher := &scriptedDispatcher{err: ErrRejected}
	engine := newTestEngine(t, messages, subscribers, states, dispatcher)

	id := dueMessage(t, messages, 1)
	engine.RunOnce(context.Background())

	got := messages.get(id)
	assert.Equal(t, int(domain.MessageFailed), got.Status)
	assert.False(t, got.Sent)
	assert.Equal(t, 1, dispatcher.callCount())
}

func TestStartRecoversInFlightMessages(t *testing.T) {
	messages := newMemMessages()
	subscribers := newMemSubscribers(&domain.Subscriber{ID: 1, Status: domain.StatusActive})
	states := &stubStates{statuses: map[uint]domain.SubscriptionStatus{1: domain.StatusActive}}
	dispatcher := &scriptedDispatcher{}
	engine := newTestEngine(t, messages, subscribers, states, dispatcher)

	// A message stranded in processing by a crashed run.
	id := dueMessage(t, messages, 1)
	claimed, err := messages.FetchAndLockDue(time.Now().UTC(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	engine.Start()
	defer engine.Stop()

	// The initial cycle requeues and delivers the stranded message.
	require.Eventually(t, func() bool {
		return messages.get(id).Sent
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int(domain.MessageSent), messages.get(id).Status)
}

func TestStopBlocksUntilCycleCompletes(t *testing.T) {
	messages := newMemMessages()
	subscribers := newMemSubscribers(&domain.Subscriber{ID: 1, Status: domain.StatusActive})
	states := &stubStates{statuses: map[uint]domain.SubscriptionStatus{1: domain.StatusActive}}
	dispatcher := &scriptedDispatcher{}
	engine := newTestEngine(t, messages, subscribers, states, dispatcher)

	id := dueMessage(t, messages, 1)

	engine.Start()
	require.Eventually(t, func() bool {
		return dispatcher.callCount() > 0
	}, 5*time.Second, 10*time.Millisecond)

	engine.Stop()

	// After Stop returns the in-flight cycle, including its mark-sent write,
	// has completed.
	assert.True(t, messages.get(id).Sent)

	// Stop is idempotent.
	engine.Stop()
}
