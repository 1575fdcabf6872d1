package engine

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"stakeline/internal/domain"
	"stakeline/internal/events"
)

// FileComplaintOptions describe an appeal against a failed commitment.
type FileComplaintOptions struct {
	UserID         string
	CommitmentID   string
	ReasonCategory string
	Description    string
	EvidenceFile   string
}

// FileComplaint opens an appeal. Only failed commitments can be appealed, and
// a user may have at most one open complaint per commitment.
func (e Engine) FileComplaint(ctx context.Context, opts FileComplaintOptions) (domain.Complaint, error) {
	if opts.UserID == "" {
		return domain.Complaint{}, ValidationError{Field: "user_id", Reason: "is required"}
	}
	if opts.ReasonCategory == "" {
		opts.ReasonCategory = "other"
	}
	if !domain.ValidReasonCategory(opts.ReasonCategory) {
		return domain.Complaint{}, ValidationError{Field: "reason_category", Reason: fmt.Sprintf("unknown reason %q", opts.ReasonCategory)}
	}
	minChars := e.cfg().Policies.MinComplaintChars
	if len(strings.TrimSpace(opts.Description)) < minChars {
		return domain.Complaint{}, ValidationError{Field: "description", Reason: fmt.Sprintf("must be at least %d characters", minChars)}
	}
	if opts.EvidenceFile != "" {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(opts.EvidenceFile)), ".")
		if !e.cfg().ValidExtension(ext) {
			return domain.Complaint{}, ValidationError{Field: "evidence_file", Reason: fmt.Sprintf("extension %q not allowed", ext)}
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Complaint{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommitmentTx(ctx, tx, opts.CommitmentID)
	if err != nil {
		return domain.Complaint{}, err
	}
	if err := ensureTransition(opFileComplaint, c.Status); err != nil {
		return domain.Complaint{}, err
	}
	open, err := e.Repo.OpenComplaintExists(ctx, tx, opts.UserID, c.ID)
	if err != nil {
		return domain.Complaint{}, err
	}
	if open {
		return domain.Complaint{}, ConflictError{Reason: "an open complaint already exists for this commitment"}
	}

	ts := e.now().UTC().Format(time.RFC3339)
	complaint := domain.Complaint{
		ID:             uuid.New().String(),
		CommitmentID:   c.ID,
		UserID:         opts.UserID,
		ReasonCategory: opts.ReasonCategory,
		Description:    opts.Description,
		Status:         domain.ComplaintPending,
		CreatedAt:      ts,
	}
	if opts.EvidenceFile != "" {
		complaint.EvidenceFile = &opts.EvidenceFile
	}
	if err := e.Repo.InsertComplaint(ctx, tx, complaint); err != nil {
		return domain.Complaint{}, fmt.Errorf("insert complaint: %w", err)
	}
	if !c.ComplaintFlag {
		c.ComplaintFlag = true
		c.UpdatedAt = ts
		if err := e.Repo.UpdateCommitment(ctx, tx, c); err != nil {
			return domain.Complaint{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "complaint.filed", "complaint", complaint.ID, opts.UserID, events.EventPayload{
		"commitment_id": c.ID, "reason": complaint.ReasonCategory,
	}); err != nil {
		return domain.Complaint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Complaint{}, err
	}
	e.notify(opts.UserID, NotifyComplaintSubmitted, map[string]any{"complaint_id": complaint.ID, "commitment_id": c.ID})
	return complaint, nil
}

// ApproveComplaint grants an appeal. The refund defaults to the commitment's
// full stake, and a failed parent moves to appealed exactly once — the
// complaint's own status check makes a second approval error instead of
// re-transitioning the parent.
func (e Engine) ApproveComplaint(ctx context.Context, id, reviewerID, notes string, refundAmount *string) (domain.Complaint, error) {
	if refundAmount != nil {
		amt, err := parseAmount(*refundAmount)
		if err != nil {
			return domain.Complaint{}, ValidationError{Field: "refund_amount", Reason: err.Error()}
		}
		if amt < 0 {
			return domain.Complaint{}, ValidationError{Field: "refund_amount", Reason: "must not be negative"}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Complaint{}, err
	}
	defer tx.Rollback()

	complaint, err := e.Repo.GetComplaintTx(ctx, tx, id)
	if err != nil {
		return complaint, err
	}
	if !complaint.Open() {
		return complaint, InvalidTransitionError{Op: "approve_complaint", Status: complaint.Status}
	}
	parent, err := e.Repo.GetCommitmentTx(ctx, tx, complaint.CommitmentID)
	if err != nil {
		return complaint, err
	}

	ts := e.now().UTC().Format(time.RFC3339)
	complaint.Status = domain.ComplaintApproved
	complaint.ReviewedBy = &reviewerID
	complaint.ReviewNotes = notes
	complaint.ReviewedAt = &ts
	if refundAmount != nil {
		complaint.RefundAmount = refundAmount
	} else if parent.StakeAmount != nil {
		complaint.RefundAmount = parent.StakeAmount
	}
	if err := e.Repo.UpdateComplaint(ctx, tx, complaint); err != nil {
		return complaint, err
	}
	if parent.Status == domain.StatusFailed {
		parent.Status = domain.StatusAppealed
		parent.UpdatedAt = ts
		if err := e.Repo.UpdateCommitment(ctx, tx, parent); err != nil {
			return complaint, err
		}
		if err := e.Events.Append(ctx, tx, "commitment.appealed", "commitment", parent.ID, reviewerID, nil); err != nil {
			return complaint, err
		}
	}
	if err := e.Events.Append(ctx, tx, "complaint.approved", "complaint", complaint.ID, reviewerID, events.EventPayload{
		"refund_amount": complaint.RefundAmount,
	}); err != nil {
		return complaint, err
	}
	if err := tx.Commit(); err != nil {
		return complaint, err
	}
	e.notify(complaint.UserID, NotifyComplaintApproved, map[string]any{"complaint_id": complaint.ID, "refund_amount": complaint.RefundAmount})
	return complaint, nil
}

// RejectComplaint denies an appeal without touching the parent commitment.
func (e Engine) RejectComplaint(ctx context.Context, id, reviewerID, notes string) (domain.Complaint, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Complaint{}, err
	}
	defer tx.Rollback()

	complaint, err := e.Repo.GetComplaintTx(ctx, tx, id)
	if err != nil {
		return complaint, err
	}
	if !complaint.Open() {
		return complaint, InvalidTransitionError{Op: "reject_complaint", Status: complaint.Status}
	}
	ts := e.now().UTC().Format(time.RFC3339)
	complaint.Status = domain.ComplaintRejected
	complaint.ReviewedBy = &reviewerID
	complaint.ReviewNotes = notes
	complaint.ReviewedAt = &ts
	if err := e.Repo.UpdateComplaint(ctx, tx, complaint); err != nil {
		return complaint, err
	}
	if err := e.Events.Append(ctx, tx, "complaint.rejected", "complaint", complaint.ID, reviewerID, nil); err != nil {
		return complaint, err
	}
	if err := tx.Commit(); err != nil {
		return complaint, err
	}
	e.notify(complaint.UserID, NotifyComplaintRejected, map[string]any{"complaint_id": complaint.ID})
	return complaint, nil
}

// ProcessRefund marks an approved complaint's refund as settled. Bookkeeping
// only; the payment gateway integration sits behind this flag.
func (e Engine) ProcessRefund(ctx context.Context, id, actorID string) (domain.Complaint, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Complaint{}, err
	}
	defer tx.Rollback()

	complaint, err := e.Repo.GetComplaintTx(ctx, tx, id)
	if err != nil {
		return complaint, err
	}
	if complaint.Status != domain.ComplaintApproved {
		return complaint, InvalidTransitionError{Op: "process_refund", Status: complaint.Status}
	}
	if complaint.RefundProcessed {
		return complaint, InvalidTransitionError{Op: "process_refund", Status: complaint.Status, Hint: "refund already processed"}
	}
	ts := e.now().UTC().Format(time.RFC3339)
	complaint.RefundProcessed = true
	complaint.RefundProcessedAt = &ts
	if err := e.Repo.UpdateComplaint(ctx, tx, complaint); err != nil {
		return complaint, err
	}
	if err := e.Events.Append(ctx, tx, "complaint.refund_processed", "complaint", complaint.ID, actorID, events.EventPayload{
		"refund_amount": complaint.RefundAmount,
	}); err != nil {
		return complaint, err
	}
	if err := tx.Commit(); err != nil {
		return complaint, err
	}
	e.notify(complaint.UserID, NotifyRefundProcessed, map[string]any{"complaint_id": complaint.ID, "refund_amount": complaint.RefundAmount})
	return complaint, nil
}

// ApproveEvidence accepts reviewed evidence and completes the parent in the
// same transaction. If the parent cannot complete, nothing is written.
func (e Engine) ApproveEvidence(ctx context.Context, verificationID, reviewerID, notes string) (domain.EvidenceVerification, error) {
	var userID, commitmentID, title string
	v, err := e.reviewVerification(ctx, verificationID, func(ctx context.Context, tx *sql.Tx, v *domain.EvidenceVerification) error {
		parent, err := e.Repo.GetCommitmentTx(ctx, tx, v.CommitmentID)
		if err != nil {
			return err
		}
		parent, _, err = e.completeLocked(ctx, tx, parent, reviewerID)
		if err != nil {
			return err
		}
		userID, commitmentID, title = parent.UserID, parent.ID, parent.Title
		v.Status = domain.VerificationApproved
		return nil
	}, reviewerID, notes, "verification.approved")
	if err != nil {
		return v, err
	}
	e.notify(userID, NotifyCompleted, map[string]any{"commitment_id": commitmentID, "title": title})
	return v, nil
}

// RejectEvidence declines reviewed evidence and fails the parent atomically.
func (e Engine) RejectEvidence(ctx context.Context, verificationID, reviewerID, notes string) (domain.EvidenceVerification, error) {
	var userID, commitmentID, title, reason string
	v, err := e.reviewVerification(ctx, verificationID, func(ctx context.Context, tx *sql.Tx, v *domain.EvidenceVerification) error {
		parent, err := e.Repo.GetCommitmentTx(ctx, tx, v.CommitmentID)
		if err != nil {
			return err
		}
		reason = "evidence rejected: " + notes
		parent, _, err = e.failLocked(ctx, tx, parent, reviewerID, reason)
		if err != nil {
			return err
		}
		userID, commitmentID, title = parent.UserID, parent.ID, parent.Title
		v.Status = domain.VerificationRejected
		return nil
	}, reviewerID, notes, "verification.rejected")
	if err != nil {
		return v, err
	}
	e.notify(userID, NotifyFailed, map[string]any{"commitment_id": commitmentID, "title": title, "reason": reason})
	return v, nil
}

// RequestMoreInfo parks the verification until the user resubmits evidence,
// which re-arms it to pending. The parent commitment is untouched.
func (e Engine) RequestMoreInfo(ctx context.Context, verificationID, reviewerID, notes string) (domain.EvidenceVerification, error) {
	return e.reviewVerification(ctx, verificationID, func(_ context.Context, _ *sql.Tx, v *domain.EvidenceVerification) error {
		v.Status = domain.VerificationNeedsMoreInfo
		return nil
	}, reviewerID, notes, "verification.more_info_requested")
}

// reviewVerification loads a pending verification, applies the decision and
// writes both records in one transaction.
func (e Engine) reviewVerification(ctx context.Context, id string, decide func(context.Context, *sql.Tx, *domain.EvidenceVerification) error, reviewerID, notes, eventType string) (domain.EvidenceVerification, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EvidenceVerification{}, err
	}
	defer tx.Rollback()

	v, err := e.Repo.GetVerificationTx(ctx, tx, id)
	if err != nil {
		return v, err
	}
	if v.Status != domain.VerificationPending {
		return v, InvalidTransitionError{Op: "review_evidence", Status: v.Status}
	}
	if err := decide(ctx, tx, &v); err != nil {
		return v, err
	}
	ts := e.now().UTC().Format(time.RFC3339)
	v.VerifiedBy = &reviewerID
	v.Notes = notes
	v.VerifiedAt = &ts
	if err := e.Repo.UpdateVerification(ctx, tx, v); err != nil {
		return v, err
	}
	if err := e.Events.Append(ctx, tx, eventType, "verification", v.ID, reviewerID, events.EventPayload{
		"commitment_id": v.CommitmentID,
	}); err != nil {
		return v, err
	}
	if err := tx.Commit(); err != nil {
		return v, err
	}
	return v, nil
}
