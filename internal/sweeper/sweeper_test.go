package sweeper_test

import (
	"context"
	"testing"
	"time"

	"stakeline/internal/config"
	"stakeline/internal/db"
	"stakeline/internal/domain"
	"stakeline/internal/engine"
	"stakeline/internal/migrate"
	"stakeline/internal/sweeper"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type captureNotifier struct {
	kinds []string
}

func (n *captureNotifier) Notify(_ context.Context, _ string, kind string, _ map[string]any) error {
	n.kinds = append(n.kinds, kind)
	return nil
}

func (n *captureNotifier) count(kind string) int {
	c := 0
	for _, k := range n.kinds {
		if k == kind {
			c++
		}
	}
	return c
}

func newTestSweeper(t *testing.T) (*sweeper.Sweeper, *testClock, *captureNotifier, context.Context) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &testClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	notifier := &captureNotifier{}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return clock.now }
	eng.Notifier = notifier
	return sweeper.New(eng), clock, notifier, context.Background()
}

func TestActivateDrafts(t *testing.T) {
	s, clock, _, ctx := newTestSweeper(t)
	e := s.Engine

	ready, err := e.Create(ctx, engine.CreateOptions{
		UserID: "alice", Title: "ready", EndTime: clock.now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Create(ctx, engine.CreateOptions{
		UserID: "alice", Title: "future",
		StartTime: clock.now.Add(6 * time.Hour),
		EndTime:   clock.now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)
	if n := s.ActivateDrafts(ctx, clock.now); n != 1 {
		t.Fatalf("activated %d, want 1", n)
	}
	c, err := e.Repo.GetCommitment(ctx, ready.ID)
	if err != nil || c.Status != domain.StatusActive {
		t.Fatalf("draft not activated: %v %s", err, c.Status)
	}

	// Second pass has nothing left to do.
	if n := s.ActivateDrafts(ctx, clock.now); n != 0 {
		t.Fatalf("second pass activated %d", n)
	}

	// The future draft activates once its window opens.
	clock.Advance(7 * time.Hour)
	if n := s.ActivateDrafts(ctx, clock.now); n != 1 {
		t.Fatalf("future draft not picked up")
	}
}

func TestAutoFailRespectsGracePeriod(t *testing.T) {
	s, clock, notifier, ctx := newTestSweeper(t)
	e := s.Engine

	c, err := e.Create(ctx, engine.CreateOptions{
		UserID: "alice", Title: "overdue", EndTime: clock.now.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Activate(ctx, c.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	// Past the deadline but inside the 24h grace period: notice only.
	clock.Advance(2 * time.Hour)
	if n := s.AutoFailOverdue(ctx, clock.now); n != 0 {
		t.Fatalf("failed %d inside grace period", n)
	}
	if n := s.NotifyOverdue(ctx, clock.now); n != 1 {
		t.Fatalf("overdue notices: %d", n)
	}
	if notifier.count(engine.NotifyOverdue) != 1 {
		t.Fatalf("overdue notification missing")
	}

	// Past deadline + grace: auto-fail.
	clock.Advance(24 * time.Hour)
	if n := s.AutoFailOverdue(ctx, clock.now); n != 1 {
		t.Fatalf("auto-failed %d, want 1", n)
	}
	got, _ := e.Repo.GetCommitment(ctx, c.ID)
	if got.Status != domain.StatusFailed {
		t.Fatalf("status %s", got.Status)
	}
	if notifier.count(engine.NotifyFailed) != 1 {
		t.Fatalf("failure notification missing")
	}
}

func TestAutoFailSkipsSubmittedEvidence(t *testing.T) {
	s, clock, _, ctx := newTestSweeper(t)
	e := s.Engine

	c, err := e.Create(ctx, engine.CreateOptions{
		UserID: "alice", Title: "covered", EndTime: clock.now.Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Activate(ctx, c.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SubmitEvidence(ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidenceSelfVerification, ActorID: "alice",
	}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(26 * time.Hour)
	if n := s.AutoFailOverdue(ctx, clock.now); n != 0 {
		t.Fatalf("auto-failed a commitment with evidence: %d", n)
	}
	got, _ := e.Repo.GetCommitment(ctx, c.ID)
	if got.Status != domain.StatusActive {
		t.Fatalf("status %s", got.Status)
	}
}

func TestRemindersAreDeduplicated(t *testing.T) {
	s, clock, notifier, ctx := newTestSweeper(t)
	e := s.Engine

	c, err := e.Create(ctx, engine.CreateOptions{
		UserID: "alice", Title: "due soon", EndTime: clock.now.Add(12 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Activate(ctx, c.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	if n := s.SendReminders(ctx, clock.now); n != 1 {
		t.Fatalf("reminders sent: %d, want 1", n)
	}
	// Same deadline, same commitment: the reminders table suppresses repeats.
	if n := s.SendReminders(ctx, clock.now.Add(time.Hour)); n != 0 {
		t.Fatalf("duplicate reminder sent: %d", n)
	}
	if notifier.count(engine.NotifyDeadlineReminder) != 1 {
		t.Fatalf("reminder notifications: %d", notifier.count(engine.NotifyDeadlineReminder))
	}
}

func TestSettleRefunds(t *testing.T) {
	s, clock, notifier, ctx := newTestSweeper(t)
	e := s.Engine

	c, err := e.Create(ctx, engine.CreateOptions{
		UserID: "alice", Title: "staked", EndTime: clock.now.Add(time.Hour),
		StakeType: domain.StakeMoney, StakeAmount: "250", Currency: "USD",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Activate(ctx, c.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := e.MarkFailed(ctx, c.ID, "alice", "power cut"); err != nil {
		t.Fatal(err)
	}
	complaint, err := e.FileComplaint(ctx, engine.FileComplaintOptions{
		UserID: "alice", CommitmentID: c.ID,
		ReasonCategory: "technical_issue",
		Description:    "the whole neighborhood lost power for two days",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.ApproveComplaint(ctx, complaint.ID, "mod-1", "", nil); err != nil {
		t.Fatal(err)
	}

	if n := s.SettleRefunds(ctx); n != 1 {
		t.Fatalf("refunds settled: %d, want 1", n)
	}
	got, _ := e.Repo.GetComplaint(ctx, complaint.ID)
	if !got.RefundProcessed {
		t.Fatalf("refund not processed")
	}
	if notifier.count(engine.NotifyRefundProcessed) != 1 {
		t.Fatalf("refund notification missing")
	}
	// Nothing left on the next pass.
	if n := s.SettleRefunds(ctx); n != 0 {
		t.Fatalf("refund settled twice")
	}
}

func TestSweepRunsAllJobs(t *testing.T) {
	s, clock, _, ctx := newTestSweeper(t)
	e := s.Engine

	if _, err := e.Create(ctx, engine.CreateOptions{
		UserID: "alice", Title: "draft", EndTime: clock.now.Add(48 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(time.Minute)
	counts := s.Sweep(ctx, clock.now)
	if counts.Activated != 1 {
		t.Fatalf("activated: %d", counts.Activated)
	}
	if counts.AutoFailed != 0 || counts.Refunded != 0 {
		t.Fatalf("unexpected work: %+v", counts)
	}
}
