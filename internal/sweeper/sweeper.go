// Package sweeper runs the periodic maintenance jobs: draft activation,
// overdue notices, grace-period auto-failure, deadline reminders and
// refund settlement.
package sweeper

import (
	"context"
	"errors"
	"log"
	"time"

	"stakeline/internal/engine"
)

// Sweeper drives the background jobs against the engine. Each job is a single
// pass over a candidate query; per-item failures are logged and counted, never
// fatal to the pass.
type Sweeper struct {
	Engine engine.Engine
	Logger *log.Logger
}

func New(e engine.Engine) *Sweeper {
	return &Sweeper{Engine: e}
}

// Counts reports how many items each job touched in one pass.
type Counts struct {
	Activated  int
	Noticed    int
	AutoFailed int
	Reminded   int
	Refunded   int
}

// Sweep runs every job once at the given instant.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) Counts {
	var c Counts
	c.Activated = s.ActivateDrafts(ctx, now)
	c.Noticed = s.NotifyOverdue(ctx, now)
	c.AutoFailed = s.AutoFailOverdue(ctx, now)
	c.Reminded = s.SendReminders(ctx, now)
	c.Refunded = s.SettleRefunds(ctx)
	return c
}

// ActivateDrafts flips drafts whose window has opened to active. A draft
// someone activated between query and transition just reports an invalid
// transition, which is not an error here.
func (s *Sweeper) ActivateDrafts(ctx context.Context, now time.Time) int {
	drafts, err := s.Engine.Repo.QueryDraftReady(ctx, now)
	if err != nil {
		s.logf("sweep: query drafts: %v", err)
		return 0
	}
	n := 0
	for _, c := range drafts {
		_, err := s.Engine.Activate(ctx, c.ID, engine.SystemActor)
		if err != nil {
			var ite engine.InvalidTransitionError
			if errors.As(err, &ite) {
				continue
			}
			s.logf("sweep: activate %s: %v", c.ID, err)
			continue
		}
		n++
	}
	return n
}

// NotifyOverdue sends a notice for each active commitment whose deadline has
// passed without evidence. Notices recur every pass until the commitment
// resolves; the grace-period job is what finally fails it.
func (s *Sweeper) NotifyOverdue(ctx context.Context, now time.Time) int {
	overdue, err := s.Engine.Repo.QueryOverdueActive(ctx, now)
	if err != nil {
		s.logf("sweep: query overdue: %v", err)
		return 0
	}
	n := 0
	for _, c := range overdue {
		if c.EvidenceSubmitted {
			continue
		}
		if err := s.Engine.Notifier.Notify(ctx, c.UserID, engine.NotifyOverdue, map[string]any{
			"commitment_id": c.ID,
			"title":         c.Title,
			"end_time":      c.EndTime,
		}); err != nil {
			s.logf("sweep: overdue notice for %s: %v", c.ID, err)
			continue
		}
		n++
	}
	return n
}

// AutoFailOverdue fails active commitments whose deadline plus the grace
// period has elapsed with no evidence submitted. The engine re-checks the
// guard inside its transaction, so a racing evidence submission wins.
func (s *Sweeper) AutoFailOverdue(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.Engine.Config.GracePeriod())
	candidates, err := s.Engine.Repo.QueryAutoFailCandidates(ctx, cutoff)
	if err != nil {
		s.logf("sweep: query auto-fail candidates: %v", err)
		return 0
	}
	n := 0
	for _, c := range candidates {
		_, failed, err := s.Engine.AutoFailIfOverdue(ctx, c.ID)
		if err != nil {
			var ite engine.InvalidTransitionError
			if errors.As(err, &ite) {
				continue
			}
			s.logf("sweep: auto-fail %s: %v", c.ID, err)
			continue
		}
		if failed {
			n++
		}
	}
	return n
}

// SendReminders notifies owners of commitments due within the reminder
// window. The reminders table keys on (commitment, deadline) so each deadline
// is reminded at most once even across restarts.
func (s *Sweeper) SendReminders(ctx context.Context, now time.Time) int {
	window := s.Engine.Config.ReminderWindow()
	due, err := s.Engine.Repo.QueryDueSoon(ctx, now, window)
	if err != nil {
		s.logf("sweep: query due soon: %v", err)
		return 0
	}
	n := 0
	for _, c := range due {
		end, err := time.Parse(time.RFC3339, c.EndTime)
		if err != nil {
			s.logf("sweep: bad end_time on %s: %v", c.ID, err)
			continue
		}
		sent, err := s.Engine.Repo.MarkReminderSent(ctx, c.ID, end, now)
		if err != nil {
			s.logf("sweep: mark reminder %s: %v", c.ID, err)
			continue
		}
		if !sent {
			continue
		}
		if err := s.Engine.Notifier.Notify(ctx, c.UserID, engine.NotifyDeadlineReminder, map[string]any{
			"commitment_id": c.ID,
			"title":         c.Title,
			"end_time":      c.EndTime,
		}); err != nil {
			// The marker row is already written, so this window will not
			// retry on its own. Log it with the window key for replay.
			s.logf("sweep: reminder for %s window %s undelivered: %v", c.ID, c.EndTime, err)
		}
		n++
	}
	return n
}

// SettleRefunds processes refunds on approved complaints that have not been
// settled yet.
func (s *Sweeper) SettleRefunds(ctx context.Context) int {
	pending, err := s.Engine.Repo.QueryPendingRefunds(ctx)
	if err != nil {
		s.logf("sweep: query pending refunds: %v", err)
		return 0
	}
	n := 0
	for _, c := range pending {
		if _, err := s.Engine.ProcessRefund(ctx, c.ID, engine.SystemActor); err != nil {
			var ite engine.InvalidTransitionError
			if errors.As(err, &ite) {
				continue
			}
			s.logf("sweep: refund %s: %v", c.ID, err)
			continue
		}
		n++
	}
	return n
}

// Run loops each job on its configured cadence until the context ends.
func (s *Sweeper) Run(ctx context.Context) {
	cfg := s.Engine.Config
	go s.loop(ctx, cfg.Sweep.ActivateInterval, func(now time.Time) { s.ActivateDrafts(ctx, now) })
	go s.loop(ctx, cfg.Sweep.OverdueInterval, func(now time.Time) { s.NotifyOverdue(ctx, now) })
	go s.loop(ctx, cfg.Sweep.AutoFailInterval, func(now time.Time) { s.AutoFailOverdue(ctx, now) })
	go s.loop(ctx, cfg.Sweep.ReminderInterval, func(now time.Time) { s.SendReminders(ctx, now) })
	go s.loop(ctx, cfg.Sweep.RefundInterval, func(now time.Time) { s.SettleRefunds(ctx) })
	<-ctx.Done()
}

func (s *Sweeper) loop(ctx context.Context, interval time.Duration, job func(now time.Time)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job(s.Engine.Now())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
