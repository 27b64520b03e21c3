// Package pipeline runs the background jobs around the settlement engine:
// relaying committed events to the read side and archiving old events to
// cold storage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/nftmarket/internal/domain"
)

// archiveLockKey serialises archive runs across replicas.
const archiveLockKey = "archive:events"

// Archiver moves events older than the retention window to cold storage.
type Archiver struct {
	blob      domain.Archiver
	locks     domain.LockManager
	retention time.Duration
	lockTTL   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. locks may be nil for single-replica
// deployments.
func NewArchiver(blob domain.Archiver, locks domain.LockManager, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:      blob,
		locks:     locks,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		lockTTL:   30 * time.Minute,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive run. It returns nil without doing anything
// when another replica holds the archive lock.
func (a *Archiver) Run(ctx context.Context) error {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, a.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.Info("archive run skipped, lock held elsewhere")
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.Info("starting archive run", slog.Time("cutoff", cutoff))

	n, err := a.blob.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive events before %v: %w", cutoff, err)
	}
	a.logger.Info("archive run complete", slog.Int64("events_archived", n))
	return nil
}

// RunCron runs the archiver on a five-field cron schedule until ctx is
// cancelled. Failed runs are logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(a.now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: cron %q: %w", cronExpr, err)
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

type cronField struct {
	wildcard bool
	step     int
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return f.step <= 1 || val%f.step == 0
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField accepts "*", "*/n" and comma-separated values.
func parseCronField(field string) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil || step <= 0 {
			return cronField{}, fmt.Errorf("invalid cron step %q", field)
		}
		return cronField{wildcard: true, step: step}, nil
	}

	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type schedule struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronField
}

func (s schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dayOfWeek.matches(int(t.Weekday()))
}

// next returns the first matching minute strictly after the given time,
// searching at most a year ahead.
func (s schedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, errors.New("no matching time within one year")
}

func parseCron(expr string) (schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return schedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	var parsed [5]cronField
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	for i, f := range fields {
		cf, err := parseCronField(f)
		if err != nil {
			return schedule{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return schedule{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}
