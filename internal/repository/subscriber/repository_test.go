package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dailylift/dailylift/internal/domain"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Subscriber{},
		&domain.ScheduledMessage{},
		&domain.PendingDeposit{},
		&domain.ProcessedEvent{},
	))
	return db
}

func TestSaveWithEvent(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriberRepository(db)

	sub := &domain.Subscriber{
		PhoneNumber: "15550001",
		Carrier:     "tmomail.net",
		Status:      domain.StatusActive,
	}
	require.NoError(t, repo.Create(sub))

	sub.Status = domain.StatusPastDue
	applied, err := repo.SaveWithEvent(sub, &domain.ProcessedEvent{
		Provider: domain.ProviderCard, EventID: "evt_pf_1", SubscriberID: sub.ID, Kind: domain.EventPaymentFailed,
	})
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPastDue, got.Status)

	// The same event id again must not touch the subscriber.
	dup := *got
	dup.Status = domain.StatusExpired
	applied, err = repo.SaveWithEvent(&dup, &domain.ProcessedEvent{
		Provider: domain.ProviderCard, EventID: "evt_pf_1", SubscriberID: sub.ID, Kind: domain.EventPaymentFailed,
	})
	require.NoError(t, err)
	assert.False(t, applied)

	got, err = repo.GetByID(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPastDue, got.Status)

	var events int64
	require.NoError(t, db.Model(&domain.ProcessedEvent{}).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestGetByBinding(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriberRepository(db)

	require.NoError(t, repo.Create(&domain.Subscriber{
		PhoneNumber: "15550001",
		Carrier:     "tmomail.net",
		Binding:     domain.NewProviderBinding(domain.ProviderCard, "sub_123"),
	}))
	require.NoError(t, repo.Create(&domain.Subscriber{
		PhoneNumber: "15550002",
		Carrier:     "vtext.com",
		Binding:     domain.NewProviderBinding(domain.ProviderAgreement, "I-AGREE1"),
	}))

	sub, err := repo.GetByBinding(domain.ProviderCard, "sub_123")
	require.NoError(t, err)
	assert.Equal(t, "15550001", sub.PhoneNumber)

	sub, err = repo.GetByBinding(domain.ProviderAgreement, "I-AGREE1")
	require.NoError(t, err)
	assert.Equal(t, "15550002", sub.PhoneNumber)

	// A card ref never resolves through another provider's column.
	_, err = repo.GetByBinding(domain.ProviderCrypto, "sub_123")
	assert.ErrorIs(t, err, domain.ErrSubscriberNotFound)

	_, err = repo.GetByBinding(domain.ProviderCard, "sub_unknown")
	assert.ErrorIs(t, err, domain.ErrSubscriberNotFound)
}

func TestPurge_CascadesOwnedRecords(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriberRepository(db)

	sub := &domain.Subscriber{PhoneNumber: "15550001", Carrier: "tmomail.net"}
	require.NoError(t, repo.Create(sub))
	keep := &domain.Subscriber{PhoneNumber: "15550002", Carrier: "vtext.com"}
	require.NoError(t, repo.Create(keep))

	require.NoError(t, db.Create(&domain.ScheduledMessage{
		SubscriberID: sub.ID, Body: "hello", ScheduledAt: time.Now().UTC(),
	}).Error)
	require.NoError(t, db.Create(&domain.ScheduledMessage{
		SubscriberID: keep.ID, Body: "hello", ScheduledAt: time.Now().UTC(),
	}).Error)
	require.NoError(t, db.Create(&domain.PendingDeposit{
		SubscriberID: sub.ID, Currency: "BTC", Amount: 0.005, WalletAddress: "bc1q",
	}).Error)

	require.NoError(t, repo.Purge(sub.ID))

	_, err := repo.GetByID(sub.ID)
	assert.ErrorIs(t, err, domain.ErrSubscriberNotFound)

	var msgCount, depCount int64
	require.NoError(t, db.Model(&domain.ScheduledMessage{}).Where("subscriber_id = ?", sub.ID).Count(&msgCount).Error)
	require.NoError(t, db.Model(&domain.PendingDeposit{}).Where("subscriber_id = ?", sub.ID).Count(&depCount).Error)
	assert.Zero(t, msgCount)
	assert.Zero(t, depCount)

	// The other subscriber's records are untouched.
	_, err = repo.GetByID(keep.ID)
	require.NoError(t, err)
	require.NoError(t, db.Model(&domain.ScheduledMessage{}).Where("subscriber_id = ?", keep.ID).Count(&msgCount).Error)
	assert.Equal(t, int64(1), msgCount)
}

func TestCountByStatus(t *testing.T) {
	db := newTestDB(t)
	repo := NewSubscriberRepository(db)

	for i, status := range []domain.SubscriptionStatus{
		domain.StatusActive, domain.StatusActive, domain.StatusPending, domain.StatusCanceled,
	} {
		require.NoError(t, repo.Create(&domain.Subscriber{
			PhoneNumber: fmt.Sprintf("1555000%d", i),
			Carrier:     "tmomail.net",
			Status:      status,
		}))
	}

	counts, err := repo.CountByStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[domain.StatusActive])
	assert.Equal(t, int64(1), counts[domain.StatusPending])
	assert.Equal(t, int64(1), counts[domain.StatusCanceled])
	assert.Zero(t, counts[domain.StatusExpired])
}
