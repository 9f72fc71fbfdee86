package repository

import (
	"time"

	"github.com/dailylift/dailylift/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	Enqueue(msg *domain.ScheduledMessage) error
	EnqueueBatch(msgs []domain.ScheduledMessage) error
	// FetchAndLockDue claims up to limit unsent messages whose target instant
	// is <= asOf, earliest-due first, and flips them to processing so no other
	// poller run can claim them.
	FetchAndLockDue(asOf time.Time, limit int) ([]domain.ScheduledMessage, error)
	// MarkSent is atomic and idempotent: the first call sets sent_at, later
	// calls are no-ops and the sent flag is never reverted.
	MarkSent(id uint, at time.Time) error
	// MarkSkipped records sent-without-delivery for subscribers that went
	// inactive between enqueue and dispatch.
	MarkSkipped(id uint, at time.Time) error
	// Release returns a claimed message to the pending pool after a transient
	// dispatch failure, counting the attempt.
	Release(id uint) error
	MarkFailed(id uint) error
	// RecoverInFlight returns messages stranded in processing by a crash to
	// the pending pool. Called once at engine start.
	RecoverInFlight() (int64, error)
	ListBySubscriber(subscriberID uint) ([]domain.ScheduledMessage, error)
	ListFailed() ([]domain.ScheduledMessage, error)
	Counts() (pending int64, sent int64, err error)
}

type repo struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) Repository {
	return &repo{db: db}
}

func (r *repo) Enqueue(msg *domain.ScheduledMessage) error {
	msg.ScheduledAt = msg.ScheduledAt.UTC()
	msg.Status = int(domain.MessagePending)
	msg.Sent = false
	return r.db.Create(msg).Error
}

func (r *repo) EnqueueBatch(msgs []domain.ScheduledMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	for i := range msgs {
		msgs[i].ScheduledAt = msgs[i].ScheduledAt.UTC()
		msgs[i].Status = int(domain.MessagePending)
		msgs[i].Sent = false
	}
	return r.db.Create(&msgs).Error
}

// FetchAndLockDue selects due pending messages by locking selected rows and
// marks them processing inside one transaction, so no other process can claim
// the same records until the transaction completes.
func (r *repo) FetchAndLockDue(asOf time.Time, limit int) ([]domain.ScheduledMessage, error) {
	var messages []domain.ScheduledMessage
	err := r.db.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("sent = ? AND status = ? AND scheduled_at <= ?",
			false, int(domain.MessagePending), asOf.UTC()).
			Order("scheduled_at asc").
			Limit(limit)
		// Row locking is a postgres concern; the sqlite dialect used in tests
		// has no SKIP LOCKED.
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&messages).Error; err != nil {
			return err
		}
		if len(messages) == 0 {
			return nil
		}

		ids := make([]uint, 0, len(messages))
		for _, m := range messages {
			ids = append(ids, m.ID)
		}
		return tx.Model(&domain.ScheduledMessage{}).
			Where("id IN ?", ids).
			Update("status", int(domain.MessageProcessing)).Error
	})

	return messages, err
}

func (r *repo) MarkSent(id uint, at time.Time) error {
	at = at.UTC()
	return r.db.Model(&domain.ScheduledMessage{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]any{
			"sent":    true,
			"status":  int(domain.MessageSent),
			"sent_at": &at,
		}).Error
}

func (r *repo) MarkSkipped(id uint, at time.Time) error {
	at = at.UTC()
	return r.db.Model(&domain.ScheduledMessage{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]any{
			"sent":    true,
			"status":  int(domain.MessageSkipped),
			"sent_at": &at,
		}).Error
}

func (r *repo) Release(id uint) error {
	return r.db.Model(&domain.ScheduledMessage{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]any{
			"status":   int(domain.MessagePending),
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

func (r *repo) MarkFailed(id uint) error {
	return r.db.Model(&domain.ScheduledMessage{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]any{
			"status":   int(domain.MessageFailed),
			"attempts": gorm.Expr("attempts + 1"),
		}).Error
}

func (r *repo) RecoverInFlight() (int64, error) {
	tx := r.db.Model(&domain.ScheduledMessage{}).
		Where("sent = ? AND status = ?", false, int(domain.MessageProcessing)).
		Update("status", int(domain.MessagePending))
	return tx.RowsAffected, tx.Error
}

func (r *repo) ListBySubscriber(subscriberID uint) ([]domain.ScheduledMessage, error) {
	var messages []domain.ScheduledMessage
	err := r.db.Where("subscriber_id = ?", subscriberID).
		Order("scheduled_at asc").Find(&messages).Error
	return messages, err
}

func (r *repo) ListFailed() ([]domain.ScheduledMessage, error) {
	var messages []domain.ScheduledMessage
	err := r.db.Where("status = ?", int(domain.MessageFailed)).
		Order("scheduled_at asc").Find(&messages).Error
	return messages, err
}

func (r *repo) Counts() (pending int64, sent int64, err error) {
	if err = r.db.Model(&domain.ScheduledMessage{}).
		Where("sent = ?", false).Count(&pending).Error; err != nil {
		return
	}
	err = r.db.Model(&domain.ScheduledMessage{}).
		Where("sent = ?", true).Count(&sent).Error
	return
}
