package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailylift/dailylift/internal/domain"
	groupRepo "github.com/dailylift/dailylift/internal/repository/group"
	messageRepo "github.com/dailylift/dailylift/internal/repository/message"
	subscriberRepo "github.com/dailylift/dailylift/internal/repository/subscriber"
)

// Result summarizes one broadcast scheduling run. Fallbacks counts timezone-
// matched subscribers scheduled at raw UTC because they have no stored offset;
// each one is also reported as a warning so operators know data is missing.
type Result struct {
	Scheduled       int    `json:"scheduled"`
	TimezoneMatched int    `json:"timezone_matched"`
	Unmatched       int    `json:"unmatched"`
	Fallbacks       int    `json:"fallbacks"`
	Slot            string `json:"slot"`
	Date            string `json:"date"`
}

// Calculator computes the UTC instant each eligible subscriber should receive
// a group slot's message and enqueues the resulting records.
type Calculator struct {
	groups      groupRepo.Repository
	subscribers subscriberRepo.Repository
	messages    messageRepo.Repository
	logger      *slog.Logger
}

func NewCalculator(groups groupRepo.Repository, subscribers subscriberRepo.Repository, messages messageRepo.Repository, logger *slog.Logger) *Calculator {
	return &Calculator{
		groups:      groups,
		subscribers: subscribers,
		messages:    messages,
		logger:      logger,
	}
}

// ComputeSchedule enqueues the named slot's message for every active
// subscriber of the group on the given calendar date. On-demand subscribers
// are excluded from broadcasts entirely.
func (c *Calculator) ComputeSchedule(ctx context.Context, groupID uint, slotName string, date time.Time, overrideBody string) (Result, error) {
	_ = ctx

	group, err := c.groups.GetByID(groupID)
	if err != nil {
		return Result{}, err
	}
	slot, ok := group.Slot(slotName)
	if !ok {
		return Result{}, fmt.Errorf("group %q has no slot named %q", group.Name, slotName)
	}

	subs, err := c.subscribers.ListByGroupAndStatus(groupID, domain.StatusActive)
	if err != nil {
		return Result{}, err
	}

	body := overrideBody
	if body == "" {
		body = slot.Template
	}
	if body == "" {
		body = fmt.Sprintf("Good %s from %s!", slot.Name, group.Name)
	}

	res := Result{Slot: slotName, Date: date.UTC().Format("2006-01-02")}
	batch := make([]domain.ScheduledMessage, 0, len(subs))
	for _, sub := range subs {
		if sub.DeliveryPreference == domain.PreferOnDemand {
			continue
		}

		target, matched, fellBack := TargetInstant(slot, date, sub.DeliveryPreference, sub.TimezoneOffsetMinutes)
		if matched {
			res.TimezoneMatched++
		} else {
			res.Unmatched++
		}
		if fellBack {
			res.Fallbacks++
			warn := &domain.MissingTimezoneWarning{SubscriberID: sub.ID}
			c.logger.Warn("timezone data missing, scheduling at raw UTC",
				"subscriberId", sub.ID, "slot", slotName, "warning", warn.Error())
		}

		offset := 0
		if sub.TimezoneOffsetMinutes != nil {
			offset = *sub.TimezoneOffsetMinutes
		}
		batch = append(batch, domain.ScheduledMessage{
			SubscriberID:          sub.ID,
			Body:                  body,
			ScheduledAt:           target,
			TimezoneOffsetMinutes: offset,
			TimezoneLabel:         sub.TimezoneLabel,
		})
		res.Scheduled++
	}

	if err := c.messages.EnqueueBatch(batch); err != nil {
		return Result{}, err
	}
	return res, nil
}

// ComputeDailySchedule runs ComputeSchedule for every slot the group defines.
func (c *Calculator) ComputeDailySchedule(ctx context.Context, groupID uint, date time.Time) (map[string]Result, error) {
	group, err := c.groups.GetByID(groupID)
	if err != nil {
		return nil, err
	}

	results := make(map[string]Result, len(group.Slots))
	for _, slot := range group.Slots {
		res, err := c.ComputeSchedule(ctx, groupID, slot.Name, date, "")
		if err != nil {
			return results, err
		}
		results[slot.Name] = res
	}
	return results, nil
}

// TargetInstant resolves a slot's clock time on the given date to an absolute
// UTC instant for one subscriber. For timezone-matched subscribers the slot is
// local time at their stored offset, so UTC is the local wall time minus the
// offset; an evening slot in a far-west offset landing past midnight UTC the
// next day is expected and correct. Returns whether timezone matching was in
// effect and whether it fell back to UTC for lack of offset data.
func TargetInstant(slot domain.GroupSlot, date time.Time, pref domain.DeliveryPreference, offsetMinutes *int) (target time.Time, matched bool, fellBack bool) {
	date = date.UTC()
	base := time.Date(date.Year(), date.Month(), date.Day(), slot.Hour, slot.Minute, 0, 0, time.UTC)

	if pref != domain.PreferScheduledTimezone {
		return base, false, false
	}
	if offsetMinutes == nil {
		return base, false, true
	}
	return base.Add(-time.Duration(*offsetMinutes) * time.Minute), true, false
}
