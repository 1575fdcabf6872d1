package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"stakeline/internal/config"
	"stakeline/internal/db"
	"stakeline/internal/domain"
	"stakeline/internal/engine"
	"stakeline/internal/migrate"
	"stakeline/internal/repo"
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

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Clock    *testClock
	Notified *captureNotifier
}

func newTestEnv(t *testing.T) testEnv {
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
	clock := &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	notifier := &captureNotifier{}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return clock.now }
	eng.Notifier = notifier
	return testEnv{Engine: eng, Ctx: context.Background(), Clock: clock, Notified: notifier}
}

func (env testEnv) create(t *testing.T, opts engine.CreateOptions) domain.Commitment {
	t.Helper()
	if opts.UserID == "" {
		opts.UserID = "alice"
	}
	if opts.Title == "" {
		opts.Title = "Run every day"
	}
	if opts.EndTime.IsZero() {
		opts.EndTime = env.Clock.now.Add(24 * time.Hour)
	}
	c, err := env.Engine.Create(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create commitment: %v", err)
	}
	return c
}

func (env testEnv) createActive(t *testing.T, opts engine.CreateOptions) domain.Commitment {
	t.Helper()
	c := env.create(t, opts)
	c, err := env.Engine.Activate(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	return c
}

func TestCreateAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, engine.CreateOptions{})
	if c.Status != domain.StatusDraft {
		t.Fatalf("expected draft, got %s", c.Status)
	}
	if c.Frequency != domain.FrequencyOneTime || c.StakeType != domain.StakeSocial {
		t.Fatalf("defaults not applied: %s %s", c.Frequency, c.StakeType)
	}
	if c.Currency != "INR" || c.Leniency != "normal" {
		t.Fatalf("defaults not applied: %s %s", c.Currency, c.Leniency)
	}
	if !c.EvidenceRequired || c.EvidenceType != domain.EvidenceSelfVerification {
		t.Fatalf("evidence defaults not applied")
	}
	if c.StartTime != "2025-01-01T00:00:00Z" {
		t.Fatalf("start not defaulted to now: %s", c.StartTime)
	}
}

func TestCreateStakeValidation(t *testing.T) {
	env := newTestEnv(t)
	var ve engine.ValidationError

	_, err := env.Engine.Create(env.Ctx, engine.CreateOptions{
		UserID: "alice", Title: "t", EndTime: env.Clock.now.Add(time.Hour),
		StakeType: domain.StakeMoney,
	})
	if !errors.As(err, &ve) || ve.Field != "stake_amount" {
		t.Fatalf("expected stake_amount validation error, got %v", err)
	}

	_, err = env.Engine.Create(env.Ctx, engine.CreateOptions{
		UserID: "alice", Title: "t", EndTime: env.Clock.now.Add(time.Hour),
		StakeType: domain.StakeMoney, StakeAmount: "-5",
	})
	if !errors.As(err, &ve) || ve.Field != "stake_amount" {
		t.Fatalf("expected positive-amount error, got %v", err)
	}

	_, err = env.Engine.Create(env.Ctx, engine.CreateOptions{
		UserID: "alice", Title: "t", EndTime: env.Clock.now.Add(time.Hour),
		StakeType: domain.StakePoints, StakeAmount: "10",
	})
	if !errors.As(err, &ve) || ve.Field != "stake_amount" {
		t.Fatalf("expected amount-forbidden error, got %v", err)
	}

	_, err = env.Engine.Create(env.Ctx, engine.CreateOptions{
		UserID: "alice", Title: "t", EndTime: env.Clock.now.Add(time.Hour),
		StakeType: domain.StakeMoney, StakeAmount: "100", Currency: "JPY",
	})
	if !errors.As(err, &ve) || ve.Field != "currency" {
		t.Fatalf("expected currency error, got %v", err)
	}

	c, err := env.Engine.Create(env.Ctx, engine.CreateOptions{
		UserID: "alice", Title: "t", EndTime: env.Clock.now.Add(time.Hour),
		StakeType: domain.StakeMoney, StakeAmount: "100", Currency: "USD",
	})
	if err != nil {
		t.Fatalf("valid money stake rejected: %v", err)
	}
	if c.StakeAmount == nil || *c.StakeAmount != "100" {
		t.Fatalf("stake amount not stored")
	}
}

func TestSelfVerifiedLifecycle(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{})
	if c.Status != domain.StatusActive || c.ActivatedAt == nil {
		t.Fatalf("activate: got %s", c.Status)
	}

	c, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidenceSelfVerification, EvidenceText: "done it", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	// Self-verified evidence never enters review.
	if c.Status != domain.StatusActive {
		t.Fatalf("expected active after self evidence, got %s", c.Status)
	}
	if !c.EvidenceSubmitted {
		t.Fatalf("evidence_submitted not set")
	}

	c, _, err = env.Engine.MarkCompleted(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if c.Status != domain.StatusCompleted || c.CompletedAt == nil {
		t.Fatalf("expected completed, got %s", c.Status)
	}
	if len(env.Notified.kinds) == 0 || env.Notified.kinds[len(env.Notified.kinds)-1] != engine.NotifyCompleted {
		t.Fatalf("completion notification missing: %v", env.Notified.kinds)
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{})
	c, _, err := env.Engine.MarkCompleted(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	var ite engine.InvalidTransitionError
	if _, err := env.Engine.Activate(env.Ctx, c.ID, "alice"); !errors.As(err, &ite) {
		t.Fatalf("activate after completed: %v", err)
	}
	if _, err := env.Engine.Pause(env.Ctx, c.ID, "alice"); !errors.As(err, &ite) {
		t.Fatalf("pause after completed: %v", err)
	}
	if _, _, err := env.Engine.MarkFailed(env.Ctx, c.ID, "alice", ""); !errors.As(err, &ite) {
		t.Fatalf("fail after completed: %v", err)
	}
	if _, err := env.Engine.Cancel(env.Ctx, c.ID, "alice"); !errors.As(err, &ite) {
		t.Fatalf("cancel after completed: %v", err)
	}
}

func TestMarkFailedTwice(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{})
	c, _, err := env.Engine.MarkFailed(env.Ctx, c.ID, "alice", "gave up")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if c.Status != domain.StatusFailed || c.FailureReason != "gave up" {
		t.Fatalf("unexpected state: %s %q", c.Status, c.FailureReason)
	}
	var ite engine.InvalidTransitionError
	if _, _, err := env.Engine.MarkFailed(env.Ctx, c.ID, "alice", "again"); !errors.As(err, &ite) {
		t.Fatalf("second fail should be invalid transition, got %v", err)
	}
}

func TestActivateRejectsPastDeadline(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, engine.CreateOptions{EndTime: env.Clock.now.Add(time.Hour)})
	env.Clock.Advance(2 * time.Hour)
	var ve engine.ValidationError
	if _, err := env.Engine.Activate(env.Ctx, c.ID, "alice"); !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestManualEvidenceEntersReview(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{EvidenceType: domain.EvidencePhoto})

	// Completing active with unreviewed photo evidence is blocked.
	var ite engine.InvalidTransitionError
	if _, _, err := env.Engine.MarkCompleted(env.Ctx, c.ID, "alice"); !errors.As(err, &ite) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	c, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidencePhoto, EvidenceFile: "proof.jpg", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	if c.Status != domain.StatusUnderReview {
		t.Fatalf("expected under_review, got %s", c.Status)
	}
	v, err := env.Engine.Repo.GetVerificationByCommitment(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("verification not armed: %v", err)
	}
	if v.Status != domain.VerificationPending {
		t.Fatalf("expected pending verification, got %s", v.Status)
	}
}

func TestOptionalEvidenceStillNeedsReview(t *testing.T) {
	env := newTestEnv(t)
	optional := false
	c := env.createActive(t, engine.CreateOptions{
		EvidenceType: domain.EvidencePhoto, EvidenceRequired: &optional,
	})

	// Photo-verified commitments go through review even when evidence is
	// optional; only self_verification completes straight from active.
	var ite engine.InvalidTransitionError
	if _, _, err := env.Engine.MarkCompleted(env.Ctx, c.ID, "alice"); !errors.As(err, &ite) {
		t.Fatalf("expected invalid transition, got %v", err)
	}

	c, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidencePhoto, EvidenceFile: "proof.jpg", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("submit evidence: %v", err)
	}
	if c.Status != domain.StatusUnderReview {
		t.Fatalf("expected under_review, got %s", c.Status)
	}
}

func TestEvidenceFileExtension(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{})
	var ve engine.ValidationError
	_, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidencePhoto, EvidenceFile: "proof.exe", ActorID: "alice",
	})
	if !errors.As(err, &ve) || ve.Field != "evidence_file" {
		t.Fatalf("expected extension rejection, got %v", err)
	}
}

func TestEvidenceAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{EndTime: env.Clock.now.Add(time.Hour)})
	env.Clock.Advance(2 * time.Hour)
	var ve engine.ValidationError
	_, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidenceSelfVerification, ActorID: "alice",
	})
	if !errors.As(err, &ve) {
		t.Fatalf("expected deadline rejection, got %v", err)
	}
}

func TestApproveEvidenceCompletesParent(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{EvidenceType: domain.EvidenceManual})
	c, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidenceManual, EvidenceText: "see attached", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	v, err := env.Engine.Repo.GetVerificationByCommitment(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get verification: %v", err)
	}

	v, err = env.Engine.ApproveEvidence(env.Ctx, v.ID, "mod-1", "looks good")
	if err != nil {
		t.Fatalf("approve evidence: %v", err)
	}
	if v.Status != domain.VerificationApproved || v.VerifiedBy == nil || *v.VerifiedBy != "mod-1" {
		t.Fatalf("verification not approved: %+v", v)
	}
	c, err = env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get commitment: %v", err)
	}
	if c.Status != domain.StatusCompleted {
		t.Fatalf("parent not completed: %s", c.Status)
	}

	// Review decisions are one-shot.
	var ite engine.InvalidTransitionError
	if _, err := env.Engine.ApproveEvidence(env.Ctx, v.ID, "mod-2", ""); !errors.As(err, &ite) {
		t.Fatalf("second approve should fail, got %v", err)
	}
}

func TestRejectEvidenceFailsParent(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{EvidenceType: domain.EvidencePhoto})
	c, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidencePhoto, EvidenceFile: "blurry.png", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	v, err := env.Engine.Repo.GetVerificationByCommitment(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get verification: %v", err)
	}

	v, err = env.Engine.RejectEvidence(env.Ctx, v.ID, "mod-1", "photo is unreadable")
	if err != nil {
		t.Fatalf("reject evidence: %v", err)
	}
	if v.Status != domain.VerificationRejected {
		t.Fatalf("verification not rejected: %s", v.Status)
	}
	c, _ = env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if c.Status != domain.StatusFailed {
		t.Fatalf("parent not failed: %s", c.Status)
	}
	if c.FailureReason != "evidence rejected: photo is unreadable" {
		t.Fatalf("failure reason: %q", c.FailureReason)
	}
}

func TestRequestMoreInfoLeavesParent(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{EvidenceType: domain.EvidencePhoto})
	c, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidencePhoto, EvidenceFile: "p.jpg", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	v, _ := env.Engine.Repo.GetVerificationByCommitment(env.Ctx, c.ID)
	v, err = env.Engine.RequestMoreInfo(env.Ctx, v.ID, "mod-1", "need a wider shot")
	if err != nil {
		t.Fatalf("request info: %v", err)
	}
	if v.Status != domain.VerificationNeedsMoreInfo {
		t.Fatalf("verification status: %s", v.Status)
	}
	c, _ = env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if c.Status != domain.StatusUnderReview {
		t.Fatalf("parent should stay under_review: %s", c.Status)
	}

	// Resubmission re-arms the same verification back to pending.
	c, err = env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c.ID, EvidenceType: domain.EvidencePhoto, EvidenceFile: "wider.jpg", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	v2, _ := env.Engine.Repo.GetVerificationByCommitment(env.Ctx, c.ID)
	if v2.ID != v.ID || v2.Status != domain.VerificationPending {
		t.Fatalf("verification not re-armed: %+v", v2)
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{})
	c, err := env.Engine.Pause(env.Ctx, c.ID, "alice")
	if err != nil || c.Status != domain.StatusPaused {
		t.Fatalf("pause: %v %s", err, c.Status)
	}
	c, err = env.Engine.Resume(env.Ctx, c.ID, "alice")
	if err != nil || c.Status != domain.StatusActive {
		t.Fatalf("resume: %v %s", err, c.Status)
	}

	// With evidence submitted, resume targets under_review.
	c2 := env.createActive(t, engine.CreateOptions{Title: "second", EvidenceType: domain.EvidencePhoto})
	c2, err = env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c2.ID, EvidenceType: domain.EvidencePhoto, EvidenceFile: "p.jpg", ActorID: "alice",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	c2, err = env.Engine.Pause(env.Ctx, c2.ID, "alice")
	if err != nil {
		t.Fatalf("pause under_review: %v", err)
	}
	c2, err = env.Engine.Resume(env.Ctx, c2.ID, "alice")
	if err != nil || c2.Status != domain.StatusUnderReview {
		t.Fatalf("resume with evidence: %v %s", err, c2.Status)
	}
}

func TestResumeOverdueBlocked(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{EndTime: env.Clock.now.Add(time.Hour)})
	c, err := env.Engine.Pause(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	env.Clock.Advance(2 * time.Hour)
	var ve engine.ValidationError
	if _, err := env.Engine.Resume(env.Ctx, c.ID, "alice"); !errors.As(err, &ve) {
		t.Fatalf("expected overdue rejection, got %v", err)
	}
}

func TestRecurrenceSpawnsSuccessorOnce(t *testing.T) {
	env := newTestEnv(t)
	start := env.Clock.now
	c := env.createActive(t, engine.CreateOptions{
		Frequency: domain.FrequencyDaily,
		StartTime: start,
		EndTime:   start.Add(24 * time.Hour),
	})

	c, successor, err := env.Engine.MarkCompleted(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if successor == nil {
		t.Fatalf("no successor spawned")
	}
	if c.SuccessorID == nil || *c.SuccessorID != successor.ID {
		t.Fatalf("successor link missing")
	}
	if successor.Status != domain.StatusActive || successor.ActivatedAt == nil {
		t.Fatalf("successor should start active: %s", successor.Status)
	}
	if successor.StartTime != start.Add(24*time.Hour).Format(time.RFC3339) {
		t.Fatalf("successor window wrong: %s", successor.StartTime)
	}
	if successor.EvidenceSubmitted || successor.CompletedAt != nil {
		t.Fatalf("successor inherited progress state")
	}

	// Failing the spawned occurrence spawns the next one too.
	next, nextSpawn, err := env.Engine.MarkFailed(env.Ctx, successor.ID, "alice", "missed")
	if err != nil {
		t.Fatalf("fail successor: %v", err)
	}
	if nextSpawn == nil || next.SuccessorID == nil {
		t.Fatalf("failure did not spawn next occurrence")
	}
}

func TestOneTimeNeverSpawns(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{})
	c, successor, err := env.Engine.MarkCompleted(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if successor != nil || c.SuccessorID != nil {
		t.Fatalf("one_time commitment spawned a successor")
	}
}

func TestComplaintLifecycle(t *testing.T) {
	env := newTestEnv(t)
	stake := "500"
	c := env.create(t, engine.CreateOptions{
		StakeType: domain.StakeMoney, StakeAmount: stake, Currency: "INR",
	})
	c, err := env.Engine.Activate(env.Ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	// Complaints only apply to failed commitments.
	var ite engine.InvalidTransitionError
	_, err = env.Engine.FileComplaint(env.Ctx, engine.FileComplaintOptions{
		UserID: "alice", CommitmentID: c.ID, Description: "this is definitely long enough",
	})
	if !errors.As(err, &ite) {
		t.Fatalf("complaint on active commitment: %v", err)
	}

	c, _, err = env.Engine.MarkFailed(env.Ctx, c.ID, "alice", "server outage")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}

	var ve engine.ValidationError
	_, err = env.Engine.FileComplaint(env.Ctx, engine.FileComplaintOptions{
		UserID: "alice", CommitmentID: c.ID, Description: "too short",
	})
	if !errors.As(err, &ve) || ve.Field != "description" {
		t.Fatalf("short description accepted: %v", err)
	}

	complaint, err := env.Engine.FileComplaint(env.Ctx, engine.FileComplaintOptions{
		UserID:         "alice",
		CommitmentID:   c.ID,
		ReasonCategory: "technical_issue",
		Description:    "the tracker app crashed right before the deadline",
	})
	if err != nil {
		t.Fatalf("file complaint: %v", err)
	}
	if complaint.Status != domain.ComplaintPending {
		t.Fatalf("complaint status: %s", complaint.Status)
	}
	c, _ = env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if !c.ComplaintFlag {
		t.Fatalf("complaint flag not set on commitment")
	}

	// One open complaint per user per commitment.
	var ce engine.ConflictError
	_, err = env.Engine.FileComplaint(env.Ctx, engine.FileComplaintOptions{
		UserID: "alice", CommitmentID: c.ID, Description: "filing this one more time just in case",
	})
	if !errors.As(err, &ce) {
		t.Fatalf("duplicate open complaint: %v", err)
	}

	complaint, err = env.Engine.ApproveComplaint(env.Ctx, complaint.ID, "mod-1", "verified the outage", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if complaint.RefundAmount == nil || *complaint.RefundAmount != stake {
		t.Fatalf("refund should default to full stake: %v", complaint.RefundAmount)
	}
	c, _ = env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if c.Status != domain.StatusAppealed {
		t.Fatalf("parent should be appealed: %s", c.Status)
	}

	// Double approval is rejected and the parent stays appealed.
	if _, err := env.Engine.ApproveComplaint(env.Ctx, complaint.ID, "mod-2", "", nil); !errors.As(err, &ite) {
		t.Fatalf("second approve: %v", err)
	}

	complaint, err = env.Engine.ProcessRefund(env.Ctx, complaint.ID, "mod-1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if !complaint.RefundProcessed || complaint.RefundProcessedAt == nil {
		t.Fatalf("refund not marked processed")
	}
	if _, err := env.Engine.ProcessRefund(env.Ctx, complaint.ID, "mod-1"); !errors.As(err, &ite) {
		t.Fatalf("second refund: %v", err)
	}
}

func TestRejectComplaintLeavesParentFailed(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{})
	c, _, err := env.Engine.MarkFailed(env.Ctx, c.ID, "alice", "")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	complaint, err := env.Engine.FileComplaint(env.Ctx, engine.FileComplaintOptions{
		UserID: "alice", CommitmentID: c.ID, Description: "I was in hospital for the whole week",
		ReasonCategory: "illness",
	})
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	complaint, err = env.Engine.RejectComplaint(env.Ctx, complaint.ID, "mod-1", "no documentation provided")
	if err != nil || complaint.Status != domain.ComplaintRejected {
		t.Fatalf("reject: %v %s", err, complaint.Status)
	}
	c, _ = env.Engine.Repo.GetCommitment(env.Ctx, c.ID)
	if c.Status != domain.StatusFailed {
		t.Fatalf("parent should stay failed: %s", c.Status)
	}

	// A rejected complaint no longer blocks a new one.
	if _, err := env.Engine.FileComplaint(env.Ctx, engine.FileComplaintOptions{
		UserID: "alice", CommitmentID: c.ID, Description: "found the discharge papers, attaching them",
	}); err != nil {
		t.Fatalf("refile after rejection: %v", err)
	}
}

func TestAutoFailIfOverdue(t *testing.T) {
	env := newTestEnv(t)
	c := env.createActive(t, engine.CreateOptions{EndTime: env.Clock.now.Add(time.Hour)})

	// Guard unmet while the deadline is in the future.
	_, failed, err := env.Engine.AutoFailIfOverdue(env.Ctx, c.ID)
	if err != nil || failed {
		t.Fatalf("premature auto-fail: %v %v", err, failed)
	}

	env.Clock.Advance(2 * time.Hour)
	c, failed, err = env.Engine.AutoFailIfOverdue(env.Ctx, c.ID)
	if err != nil || !failed {
		t.Fatalf("auto-fail: %v %v", err, failed)
	}
	if c.Status != domain.StatusFailed || c.FailureReason == "" {
		t.Fatalf("unexpected state: %s %q", c.Status, c.FailureReason)
	}

	// Submitted evidence shields from auto-failure.
	c2 := env.createActive(t, engine.CreateOptions{Title: "covered", EndTime: env.Clock.now.Add(time.Hour)})
	if _, err := env.Engine.SubmitEvidence(env.Ctx, engine.SubmitEvidenceOptions{
		ID: c2.ID, EvidenceType: domain.EvidenceSelfVerification, ActorID: "alice",
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	env.Clock.Advance(2 * time.Hour)
	_, failed, err = env.Engine.AutoFailIfOverdue(env.Ctx, c2.ID)
	if err != nil || failed {
		t.Fatalf("evidence-covered commitment auto-failed: %v %v", err, failed)
	}
}

func TestListCommitmentsFilters(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, engine.CreateOptions{UserID: "alice", Title: "a"})
	env.createActive(t, engine.CreateOptions{UserID: "alice", Title: "b"})
	env.create(t, engine.CreateOptions{UserID: "bob", Title: "c"})

	items, err := env.Engine.Repo.ListCommitments(env.Ctx, repo.CommitmentFilters{UserID: "alice"})
	if err != nil || len(items) != 2 {
		t.Fatalf("user filter: %v %d", err, len(items))
	}
	items, err = env.Engine.Repo.ListCommitments(env.Ctx, repo.CommitmentFilters{Status: domain.StatusActive})
	if err != nil || len(items) != 1 {
		t.Fatalf("status filter: %v %d", err, len(items))
	}
}
