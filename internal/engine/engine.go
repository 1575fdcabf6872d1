package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"stakeline/internal/config"
	"stakeline/internal/domain"
	"stakeline/internal/events"
	"stakeline/internal/repo"
)

// SystemActor is recorded on transitions the sweeper performs without a user.
const SystemActor = "system"

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Notifier Notifier
	Now      func() time.Time
	Logger   *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Notifier: LogNotifier{},
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// CreateOptions are the terms of a new commitment.
type CreateOptions struct {
	UserID      string
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	Frequency   string
	StakeType   string
	StakeAmount string
	Currency    string
	Leniency    string

	EvidenceRequired *bool
	EvidenceType     string

	ActorID string
}

// Create validates the terms and persists a draft commitment.
func (e Engine) Create(ctx context.Context, opts CreateOptions) (domain.Commitment, error) {
	if opts.UserID == "" {
		return domain.Commitment{}, ValidationError{Field: "user_id", Reason: "is required"}
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Commitment{}, ValidationError{Field: "title", Reason: "is required"}
	}
	if opts.EndTime.IsZero() {
		return domain.Commitment{}, ValidationError{Field: "end_time", Reason: "is required"}
	}
	if opts.StartTime.IsZero() {
		opts.StartTime = e.now()
	}
	if !opts.EndTime.After(opts.StartTime) {
		return domain.Commitment{}, ValidationError{Field: "end_time", Reason: "must be after start_time"}
	}
	if opts.Frequency == "" {
		opts.Frequency = domain.FrequencyOneTime
	}
	if !domain.ValidFrequency(opts.Frequency) {
		return domain.Commitment{}, ValidationError{Field: "frequency", Reason: fmt.Sprintf("unknown frequency %q", opts.Frequency)}
	}
	if opts.StakeType == "" {
		opts.StakeType = domain.StakeSocial
	}
	if !domain.ValidStakeType(opts.StakeType) {
		return domain.Commitment{}, ValidationError{Field: "stake_type", Reason: fmt.Sprintf("unknown stake type %q", opts.StakeType)}
	}
	var stakeAmount *string
	if opts.StakeType == domain.StakeMoney {
		if opts.StakeAmount == "" {
			return domain.Commitment{}, ValidationError{Field: "stake_amount", Reason: "is required for money stakes"}
		}
		amt, err := parseAmount(opts.StakeAmount)
		if err != nil {
			return domain.Commitment{}, ValidationError{Field: "stake_amount", Reason: err.Error()}
		}
		if amt <= 0 {
			return domain.Commitment{}, ValidationError{Field: "stake_amount", Reason: "must be positive"}
		}
		stakeAmount = &opts.StakeAmount
	} else if opts.StakeAmount != "" {
		return domain.Commitment{}, ValidationError{Field: "stake_amount", Reason: "only allowed for money stakes"}
	}
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if !e.cfg().ValidCurrency(opts.Currency) {
		return domain.Commitment{}, ValidationError{Field: "currency", Reason: fmt.Sprintf("unsupported currency %q", opts.Currency)}
	}
	if opts.Leniency == "" {
		opts.Leniency = "normal"
	}
	if !domain.ValidLeniency(opts.Leniency) {
		return domain.Commitment{}, ValidationError{Field: "leniency", Reason: fmt.Sprintf("unknown leniency %q", opts.Leniency)}
	}
	if opts.EvidenceType == "" {
		opts.EvidenceType = domain.EvidenceSelfVerification
	}
	if !domain.ValidEvidenceType(opts.EvidenceType) {
		return domain.Commitment{}, ValidationError{Field: "evidence_type", Reason: fmt.Sprintf("unknown evidence type %q", opts.EvidenceType)}
	}
	evidenceRequired := true
	if opts.EvidenceRequired != nil {
		evidenceRequired = *opts.EvidenceRequired
	}

	now := e.now().UTC()
	c := domain.Commitment{
		ID:               uuid.New().String(),
		UserID:           opts.UserID,
		Title:            opts.Title,
		Description:      opts.Description,
		StartTime:        opts.StartTime.UTC().Format(time.RFC3339),
		EndTime:          opts.EndTime.UTC().Format(time.RFC3339),
		Frequency:        opts.Frequency,
		StakeType:        opts.StakeType,
		StakeAmount:      stakeAmount,
		Currency:         opts.Currency,
		Leniency:         opts.Leniency,
		EvidenceRequired: evidenceRequired,
		EvidenceType:     opts.EvidenceType,
		Status:           domain.StatusDraft,
		CreatedAt:        now.Format(time.RFC3339),
		UpdatedAt:        now.Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCommitment(ctx, tx, c); err != nil {
		return domain.Commitment{}, fmt.Errorf("insert commitment: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "commitment.created", "commitment", c.ID, actorOr(opts.ActorID, opts.UserID), events.EventPayload{
		"title": c.Title, "status": c.Status, "stake_type": c.StakeType,
	}); err != nil {
		return domain.Commitment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Commitment{}, err
	}
	return c, nil
}

// Activate moves a draft commitment into the active window.
func (e Engine) Activate(ctx context.Context, id, actorID string) (domain.Commitment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, id)
	if err != nil {
		return c, err
	}
	if err := ensureTransition(opActivate, c.Status); err != nil {
		return c, err
	}
	now := e.now()
	end, err := parseTime(c.EndTime)
	if err != nil {
		return c, err
	}
	if !end.After(now) {
		return c, ValidationError{Field: "end_time", Reason: "deadline is in the past"}
	}
	c.Status = domain.StatusActive
	ts := now.UTC().Format(time.RFC3339)
	c.ActivatedAt = &ts
	c.UpdatedAt = ts
	if err := e.Repo.UpdateCommitment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "commitment.activated", "commitment", c.ID, actorID, nil); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// SubmitEvidenceOptions carries the evidence payload.
type SubmitEvidenceOptions struct {
	ID           string
	EvidenceType string
	EvidenceFile string
	EvidenceText string
	ActorID      string
}

// SubmitEvidence records evidence against an active or paused commitment, or
// resubmits against one already under review. Self-verified evidence leaves
// the status in place; everything else moves the commitment to under_review
// and arms a pending verification.
func (e Engine) SubmitEvidence(ctx context.Context, opts SubmitEvidenceOptions) (domain.Commitment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, opts.ID)
	if err != nil {
		return c, err
	}
	if err := ensureTransition(opSubmitEvidence, c.Status); err != nil {
		return c, err
	}
	if c.EvidenceRequired && opts.EvidenceType == "" {
		return c, ValidationError{Field: "evidence_type", Reason: "is required for this commitment"}
	}
	if opts.EvidenceType != "" && !domain.ValidEvidenceType(opts.EvidenceType) {
		return c, ValidationError{Field: "evidence_type", Reason: fmt.Sprintf("unknown evidence type %q", opts.EvidenceType)}
	}
	now := e.now()
	end, err := parseTime(c.EndTime)
	if err != nil {
		return c, err
	}
	if now.After(end) {
		return c, ValidationError{Field: "end_time", Reason: "cannot submit evidence after deadline"}
	}
	if opts.EvidenceFile != "" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(opts.EvidenceFile)), ".")
		if !e.cfg().ValidExtension(ext) {
			return c, ValidationError{Field: "evidence_file", Reason: fmt.Sprintf("extension %q not allowed", ext)}
		}
		c.EvidenceFile = &opts.EvidenceFile
	}
	if opts.EvidenceType != "" {
		c.EvidenceType = opts.EvidenceType
	}
	if opts.EvidenceText != "" {
		c.EvidenceText = opts.EvidenceText
	}
	ts := now.UTC().Format(time.RFC3339)
	c.EvidenceSubmitted = true
	c.EvidenceSubmittedAt = &ts
	c.UpdatedAt = ts

	if c.EvidenceType != domain.EvidenceSelfVerification {
		c.Status = domain.StatusUnderReview
		if err := e.armVerification(ctx, tx, c.ID, ts); err != nil {
			return c, err
		}
	}
	if err := e.Repo.UpdateCommitment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, "commitment.evidence_submitted", "commitment", c.ID, opts.ActorID, events.EventPayload{
		"evidence_type": c.EvidenceType, "status": c.Status,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// armVerification creates the verification lazily, or resets an existing one
// back to pending on resubmission.
func (e Engine) armVerification(ctx context.Context, tx *sql.Tx, commitmentID, ts string) error {
	v, err := e.Repo.GetVerificationByCommitmentTx(ctx, tx, commitmentID)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.InsertVerification(ctx, tx, domain.EvidenceVerification{
			ID:           uuid.New().String(),
			CommitmentID: commitmentID,
			Status:       domain.VerificationPending,
			CreatedAt:    ts,
		})
	}
	if err != nil {
		return err
	}
	v.Status = domain.VerificationPending
	v.VerifiedBy = nil
	v.VerifiedAt = nil
	return e.Repo.UpdateVerification(ctx, tx, v)
}

// MarkCompleted completes a commitment. Commitments requiring admin-reviewed
// evidence may only complete from under_review; self-verified ones complete
// directly from active.
func (e Engine) MarkCompleted(ctx context.Context, id, actorID string) (domain.Commitment, *domain.Commitment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, id)
	if err != nil {
		return c, nil, err
	}
	c, successor, err := e.completeLocked(ctx, tx, c, actorID)
	if err != nil {
		return c, nil, err
	}
	if err := tx.Commit(); err != nil {
		return c, nil, err
	}
	e.notify(c.UserID, NotifyCompleted, map[string]any{"commitment_id": c.ID, "title": c.Title})
	return c, successor, nil
}

// completeLocked applies the completed transition inside the caller's
// transaction so sub-workflow callbacks commit atomically with their parent.
func (e Engine) completeLocked(ctx context.Context, tx *sql.Tx, c domain.Commitment, actorID string) (domain.Commitment, *domain.Commitment, error) {
	if err := ensureTransition(opComplete, c.Status); err != nil {
		return c, nil, err
	}
	if c.Status == domain.StatusActive && c.EvidenceType != domain.EvidenceSelfVerification {
		return c, nil, InvalidTransitionError{Op: opComplete, Status: c.Status, Hint: "evidence must be verified first"}
	}
	ts := e.now().UTC().Format(time.RFC3339)
	c.Status = domain.StatusCompleted
	c.CompletedAt = &ts
	c.UpdatedAt = ts
	successor, err := e.spawnSuccessorLocked(ctx, tx, &c, actorID)
	if err != nil {
		return c, nil, err
	}
	if err := e.Repo.UpdateCommitment(ctx, tx, c); err != nil {
		return c, nil, err
	}
	if err := e.Events.Append(ctx, tx, "commitment.completed", "commitment", c.ID, actorID, nil); err != nil {
		return c, nil, err
	}
	return c, successor, nil
}

// MarkFailed fails a commitment with an optional reason.
func (e Engine) MarkFailed(ctx context.Context, id, actorID, reason string) (domain.Commitment, *domain.Commitment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, nil, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, id)
	if err != nil {
		return c, nil, err
	}
	c, successor, err := e.failLocked(ctx, tx, c, actorID, reason)
	if err != nil {
		return c, nil, err
	}
	if err := tx.Commit(); err != nil {
		return c, nil, err
	}
	e.notify(c.UserID, NotifyFailed, map[string]any{"commitment_id": c.ID, "title": c.Title, "reason": reason})
	return c, successor, nil
}

func (e Engine) failLocked(ctx context.Context, tx *sql.Tx, c domain.Commitment, actorID, reason string) (domain.Commitment, *domain.Commitment, error) {
	if err := ensureTransition(opFail, c.Status); err != nil {
		return c, nil, err
	}
	ts := e.now().UTC().Format(time.RFC3339)
	c.Status = domain.StatusFailed
	c.FailureReason = reason
	c.CompletedAt = &ts
	c.UpdatedAt = ts
	successor, err := e.spawnSuccessorLocked(ctx, tx, &c, actorID)
	if err != nil {
		return c, nil, err
	}
	if err := e.Repo.UpdateCommitment(ctx, tx, c); err != nil {
		return c, nil, err
	}
	if err := e.Events.Append(ctx, tx, "commitment.failed", "commitment", c.ID, actorID, events.EventPayload{"reason": reason}); err != nil {
		return c, nil, err
	}
	return c, successor, nil
}

// spawnSuccessorLocked creates the next occurrence of a recurring commitment
// exactly once: the successor_id marker is written in the same transaction as
// the terminal transition, so a retried transition cannot double-spawn.
func (e Engine) spawnSuccessorLocked(ctx context.Context, tx *sql.Tx, c *domain.Commitment, actorID string) (*domain.Commitment, error) {
	if !c.Recurring() || c.SuccessorID != nil {
		return nil, nil
	}
	start, err := parseTime(c.StartTime)
	if err != nil {
		return nil, err
	}
	end, err := parseTime(c.EndTime)
	if err != nil {
		return nil, err
	}
	nextStart, nextEnd, ok := NextWindow(start, end, c.Frequency)
	if !ok {
		return nil, nil
	}
	ts := e.now().UTC().Format(time.RFC3339)
	successor := domain.Commitment{
		ID:               uuid.New().String(),
		UserID:           c.UserID,
		Title:            c.Title,
		Description:      c.Description,
		StartTime:        nextStart.UTC().Format(time.RFC3339),
		EndTime:          nextEnd.UTC().Format(time.RFC3339),
		Frequency:        c.Frequency,
		StakeType:        c.StakeType,
		StakeAmount:      c.StakeAmount,
		Currency:         c.Currency,
		Leniency:         c.Leniency,
		EvidenceRequired: c.EvidenceRequired,
		EvidenceType:     c.EvidenceType,
		// A recurrence is a continuation, not a fresh draft.
		Status:      domain.StatusActive,
		ActivatedAt: &ts,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if err := e.Repo.InsertCommitment(ctx, tx, successor); err != nil {
		return nil, fmt.Errorf("insert successor: %w", err)
	}
	c.SuccessorID = &successor.ID
	if err := e.Events.Append(ctx, tx, "commitment.spawned", "commitment", successor.ID, actorID, events.EventPayload{
		"predecessor_id": c.ID, "frequency": c.Frequency,
	}); err != nil {
		return nil, err
	}
	return &successor, nil
}

// Pause suspends an active or under_review commitment.
func (e Engine) Pause(ctx context.Context, id, actorID string) (domain.Commitment, error) {
	return e.simpleTransition(ctx, id, actorID, opPause, "commitment.paused", func(c *domain.Commitment, _ time.Time) error {
		c.Status = domain.StatusPaused
		return nil
	})
}

// Resume returns a paused commitment to active, or to under_review when
// evidence was already submitted. Overdue commitments cannot be resumed.
func (e Engine) Resume(ctx context.Context, id, actorID string) (domain.Commitment, error) {
	return e.simpleTransition(ctx, id, actorID, opResume, "commitment.resumed", func(c *domain.Commitment, now time.Time) error {
		end, err := parseTime(c.EndTime)
		if err != nil {
			return err
		}
		if now.After(end) {
			return ValidationError{Field: "end_time", Reason: "cannot resume overdue commitment"}
		}
		if c.EvidenceSubmitted {
			c.Status = domain.StatusUnderReview
		} else {
			c.Status = domain.StatusActive
		}
		return nil
	})
}

// Cancel voids a commitment that has not yet resolved.
func (e Engine) Cancel(ctx context.Context, id, actorID string) (domain.Commitment, error) {
	return e.simpleTransition(ctx, id, actorID, opCancel, "commitment.cancelled", func(c *domain.Commitment, _ time.Time) error {
		c.Status = domain.StatusCancelled
		return nil
	})
}

func (e Engine) simpleTransition(ctx context.Context, id, actorID, op, eventType string, apply func(*domain.Commitment, time.Time) error) (domain.Commitment, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, id)
	if err != nil {
		return c, err
	}
	if err := ensureTransition(op, c.Status); err != nil {
		return c, err
	}
	now := e.now()
	if err := apply(&c, now); err != nil {
		return c, err
	}
	c.UpdatedAt = now.UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateCommitment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, eventType, "commitment", c.ID, actorID, events.EventPayload{"status": c.Status}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// AutoFailIfOverdue fails an active commitment whose deadline has passed with
// no evidence submitted. Sweeper-only. The bool reports whether the commitment
// was failed; an unsatisfied guard is not an error.
func (e Engine) AutoFailIfOverdue(ctx context.Context, id string) (domain.Commitment, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Commitment{}, false, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, id)
	if err != nil {
		return c, false, err
	}
	if c.Status != domain.StatusActive {
		return c, false, InvalidTransitionError{Op: opFail, Status: c.Status}
	}
	end, err := parseTime(c.EndTime)
	if err != nil {
		return c, false, err
	}
	if !e.now().After(end) || c.EvidenceSubmitted {
		return c, false, nil
	}
	reason := fmt.Sprintf("deadline passed on %s with no evidence submitted", c.EndTime)
	c, _, err = e.failLocked(ctx, tx, c, SystemActor, reason)
	if err != nil {
		return c, false, err
	}
	if err := tx.Commit(); err != nil {
		return c, false, err
	}
	e.notify(c.UserID, NotifyFailed, map[string]any{"commitment_id": c.ID, "title": c.Title, "reason": reason})
	return c, true, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseAmount(s string) (float64, error) {
	amt, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("must be a decimal amount")
	}
	return amt, nil
}

func actorOr(actorID, fallback string) string {
	if actorID != "" {
		return actorID
	}
	return fallback
}
