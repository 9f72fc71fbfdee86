package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aniladanir/retry"
	"github.com/dailylift/dailylift/internal/cache"
	"github.com/dailylift/dailylift/internal/domain"
	messageRepo "github.com/dailylift/dailylift/internal/repository/message"
	subscriberRepo "github.com/dailylift/dailylift/internal/repository/subscriber"
)

// Dispatcher is the external SMS-dispatch collaborator. It owns carrier
// address formation and transport choice; the engine only sees success or
// failure.
type Dispatcher interface {
	Send(ctx context.Context, sub *domain.Subscriber, msg *domain.ScheduledMessage) error
}

// ErrRejected marks a dispatch the gateway refused outright. Retrying cannot
// help; the message goes straight to permanent failure.
var ErrRejected = errors.New("dispatch rejected by gateway")

// StatusReader is the state machine's read path, consulted per message at
// dispatch time.
type StatusReader interface {
	Status(ctx context.Context, subscriberID uint) (domain.SubscriptionStatus, error)
}

type DeliveryEngine interface {
	Start()
	Stop()
	// RunOnce executes a single poll cycle. The ticker loop calls it; tests
	// drive it directly instead of waiting on real timers.
	RunOnce(ctx context.Context)
}

type engine struct {
	messages    messageRepo.Repository
	subscribers subscriberRepo.Repository
	states      StatusReader
	dispatcher  Dispatcher
	cache       cache.Cache
	retrier     *retry.Retrier
	logger      *slog.Logger

	batchSize    int
	pollInterval time.Duration
	maxAttempts  int
	now          func() time.Time

	mtx       sync.Mutex
	isRunning bool
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewDeliveryEngine builds the recurring poller. maxRetryOnFail bounds the
// in-cycle dispatch retries; maxAttempts bounds cross-cycle retries per
// message before it is marked permanently failed.
func NewDeliveryEngine(
	messages messageRepo.Repository,
	subscribers subscriberRepo.Repository,
	states StatusReader,
	dispatcher Dispatcher,
	c cache.Cache,
	logger *slog.Logger,
	maxRetryOnFail *int,
	batchSize int,
	pollInterval time.Duration,
	maxAttempts int,
) (DeliveryEngine, error) {
	retrierOpts := make([]retry.Option, 0)
	if maxRetryOnFail != nil {
		retrierOpts = append(retrierOpts, retry.WithMaxAttemps(*maxRetryOnFail))
	}
	retrier, err := retry.New(retrierOpts...)
	if err != nil {
		return nil, fmt.Errorf("encountered error when initializing retrier: %w", err)
	}

	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &engine{
		messages:     messages,
		subscribers:  subscribers,
		states:       states,
		dispatcher:   dispatcher,
		cache:        c,
		retrier:      retrier,
		logger:       logger,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start launches the poller. Messages stranded in processing by an earlier
// crash are requeued before the first scan so a restart never loses work.
func (e *engine) Start() {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if e.isRunning {
		return
	}
	e.isRunning = true
	e.stopChan = make(chan struct{})
	e.doneChan = make(chan struct{})

	if recovered, err := e.messages.RecoverInFlight(); err != nil {
		e.logger.Error("failed to recover in-flight messages", "error", err.Error())
	} else if recovered > 0 {
		e.logger.Info("requeued in-flight messages from previous run", "count", recovered)
	}

	ticker := time.NewTicker(e.pollInterval)
	go func(t *time.Ticker) {
		processCtx, processCtxCancel := context.WithCancel(context.Background())
		defer processCtxCancel()
		defer close(e.doneChan)

		// initial run
		e.RunOnce(processCtx)

		for {
			select {
			case <-t.C:
				e.RunOnce(processCtx)
			case <-e.stopChan:
				t.Stop()
				return
			}
		}
	}(ticker)
}

// Stop halts the poller and blocks until the in-flight cycle, including its
// mark-sent writes, has completed. A message must never be sent without being
// recorded as sent, or a restart would duplicate it.
func (e *engine) Stop() {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if !e.isRunning {
		return
	}

	close(e.stopChan)
	<-e.doneChan
	e.isRunning = false
}

// RunOnce claims due messages and dispatches them. Failures are isolated per
// message; one subscriber's failure never aborts the batch.
func (e *engine) RunOnce(ctx context.Context) {
	msgs, err := e.messages.FetchAndLockDue(e.now(), e.batchSize)
	if err != nil {
		e.logger.Error("failed to fetch due messages", "error", err.Error())
		return
	}
	if len(msgs) == 0 {
		return
	}

	// Due messages for the same subscriber keep their target-instant order;
	// the fetch is due-ascending and each subscriber's messages are handled
	// sequentially within one worker.
	bySubscriber := make(map[uint][]domain.ScheduledMessage)
	order := make([]uint, 0, len(msgs))
	for _, msg := range msgs {
		if _, seen := bySubscriber[msg.SubscriberID]; !seen {
			order = append(order, msg.SubscriberID)
		}
		bySubscriber[msg.SubscriberID] = append(bySubscriber[msg.SubscriberID], msg)
	}

	wg := new(sync.WaitGroup)
	for _, subscriberID := range order {
		batch := bySubscriber[subscriberID]
		wg.Go(func() {
			for i := range batch {
				e.deliver(ctx, &batch[i])
			}
		})
	}
	wg.Wait()
}

func (e *engine) deliver(ctx context.Context, msg *domain.ScheduledMessage) {
	msgLogger := e.logger.With(slog.Uint64("dbMessageId", uint64(msg.ID)))

	status, err := e.states.Status(ctx, msg.SubscriberID)
	if err != nil {
		msgLogger.Error("failed to read subscriber status", "error", err.Error())
		e.release(msg, msgLogger)
		return
	}
	if status != domain.StatusActive {
		// The subscriber went inactive between enqueue and dispatch. Marked
		// sent-without-delivery, never retried.
		if err := e.messages.MarkSkipped(msg.ID, e.now()); err != nil {
			msgLogger.Error("failed to mark message skipped", "error", err.Error())
			return
		}
		msgLogger.Info("skipped message for inactive subscriber",
			"subscriberId", msg.SubscriberID, "status", string(status))
		return
	}

	sub, err := e.subscribers.GetByID(msg.SubscriberID)
	if err != nil {
		msgLogger.Error("failed to load subscriber", "error", err.Error())
		e.release(msg, msgLogger)
		return
	}

	var sendErr error
	retryFunc := func(attempt int) (terminate bool) {
		retryLogger := msgLogger.With(slog.Int("attempt", attempt))

		sendErr = e.dispatcher.Send(ctx, sub, msg)
		if sendErr == nil {
			return true
		}
		if errors.Is(sendErr, ErrRejected) {
			retryLogger.Error("gateway rejected message", "error", sendErr.Error())
			return true
		}
		retryLogger.Error("failed to dispatch message", "error", sendErr.Error())
		return false
	}

	retrySuccess := <-e.retrier.Retry(ctx, retryFunc, true)

	if retrySuccess && sendErr == nil {
		sentAt := e.now()
		// Mark sent only after the dispatch call returned success; crashing
		// between the two is the one duplication window the carrier absorbs.
		if err := e.messages.MarkSent(msg.ID, sentAt); err != nil {
			msgLogger.Error("failed to mark message sent", "error", err.Error())
			return
		}
		msgLogger.Info("message is successfully sent", "subscriberId", sub.ID)
		e.cacheReceipt(ctx, msg.ID, sentAt, msgLogger)
		return
	}

	if errors.Is(sendErr, ErrRejected) || msg.Attempts+1 >= e.maxAttempts {
		if err := e.messages.MarkFailed(msg.ID); err != nil {
			msgLogger.Error("failed to mark message failed", "error", err.Error())
			return
		}
		msgLogger.Error("message delivery permanently failed",
			"subscriberId", msg.SubscriberID,
			"attempts", msg.Attempts+1,
			"error", domain.ErrPermanentDeliveryFailure.Error())
		return
	}

	e.release(msg, msgLogger)
}

// release returns the message to the pending pool so the next poll retries it.
func (e *engine) release(msg *domain.ScheduledMessage, logger *slog.Logger) {
	if err := e.messages.Release(msg.ID); err != nil {
		logger.Error("failed to release message for retry", "error", err.Error())
	}
}

// cacheReceipt writes the dispatch receipt to cache for quick admin lookup.
func (e *engine) cacheReceipt(ctx context.Context, msgID uint, sentAt time.Time, logger *slog.Logger) {
	if e.cache == nil {
		return
	}

	key := fmt.Sprintf("sent_msg:%d", msgID)
	value := map[string]any{
		"messageId": msgID,
		"sentAt":    sentAt,
	}
	jsonVal, _ := json.Marshal(value)
	// Expire after 24 hours to keep memory clean
	if err := e.cache.Set(ctx, key, string(jsonVal), 24*time.Hour); err != nil {
		logger.Error("failed to cache dispatch receipt", "error", err.Error())
	}
}
