// Package scheduler runs the periodic contract jobs: expiring contracts
// past their end date and announcing upcoming key dates.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/conrisk/internal/bus"
	"github.com/opensource-finance/conrisk/internal/domain"
)

const dateLayout = "2006-01-02"

// Scheduler owns a cron runner with second-level specs.
type Scheduler struct {
	cron *cron.Cron
	repo domain.Repository
	bus  domain.EventBus
	cfg  domain.SchedulerConfig
	now  func() time.Time
}

// New registers the jobs. Invalid cron specs are rejected here rather than at run time.
func New(repo domain.Repository, b domain.EventBus, cfg domain.SchedulerConfig) (*Scheduler, error) {
	if cfg.ExpireSpec == "" {
		cfg.ExpireSpec = "0 0 2 * * *"
	}
	if cfg.ReminderSpec == "" {
		cfg.ReminderSpec = "0 0 8 * * *"
	}
	if cfg.ReminderDays <= 0 {
		cfg.ReminderDays = 7
	}

	s := &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		repo: repo,
		bus:  b,
		cfg:  cfg,
		now:  time.Now,
	}

	if _, err := s.cron.AddFunc(cfg.ExpireSpec, s.runExpire); err != nil {
		return nil, fmt.Errorf("invalid expire spec %q: %w", cfg.ExpireSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.ReminderSpec, s.runReminders); err != nil {
		return nil, fmt.Errorf("invalid reminder spec %q: %w", cfg.ReminderSpec, err)
	}

	return s, nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started",
		"expire_spec", s.cfg.ExpireSpec,
		"reminder_spec", s.cfg.ReminderSpec,
		"reminder_days", s.cfg.ReminderDays,
	)
}

// Stop halts the cron loop and waits for running jobs, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExpireContracts marks active contracts whose end date has passed as expired.
func (s *Scheduler) ExpireContracts(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.repo.ExpireContracts(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire contracts: %w", err)
	}

	if n > 0 && s.bus != nil {
		ev := &domain.ContractsExpiredEvent{Count: n, Date: now.Format(dateLayout)}
		if err := bus.PublishJSON(ctx, s.bus, domain.GlobalTenant, domain.TopicContractExpired, ev); err != nil {
			slog.Error("failed to publish expiry", "error", err)
		}
	}
	return n, nil
}

// SendReminders publishes one reminder per key date within the reminder window,
// on the owning organization's subject.
func (s *Scheduler) SendReminders(ctx context.Context) (int, error) {
	today := truncateDay(s.now())
	until := today.AddDate(0, 0, s.cfg.ReminderDays)

	dates, err := s.repo.ListUpcomingKeyDates(ctx, domain.AllTenants, today, until)
	if err != nil {
		return 0, fmt.Errorf("failed to list upcoming key dates: %w", err)
	}
	if s.bus == nil {
		return 0, nil
	}

	sent := 0
	for _, d := range dates {
		ev := &domain.KeyDateReminderEvent{UpcomingKeyDate: *d, DaysLeft: daysUntil(today, d.Date)}
		if err := bus.PublishJSON(ctx, s.bus, d.OrganizationID, domain.TopicKeyDateReminder, ev); err != nil {
			slog.Error("failed to publish reminder",
				"key_date_id", d.ID,
				"tenant_id", d.OrganizationID,
				"error", err,
			)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Scheduler) runExpire() {
	n, err := s.ExpireContracts(context.Background())
	if err != nil {
		slog.Error("expire job failed", "error", err)
		return
	}
	slog.Info("expire job finished", "expired", n)
}

func (s *Scheduler) runReminders() {
	n, err := s.SendReminders(context.Background())
	if err != nil {
		slog.Error("reminder job failed", "error", err)
		return
	}
	slog.Info("reminder job finished", "sent", n)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func daysUntil(today time.Time, date string) int {
	t, err := time.ParseInLocation(dateLayout, date, today.Location())
	if err != nil {
		return 0
	}
	return int(math.Round(t.Sub(today).Hours() / 24))
}
