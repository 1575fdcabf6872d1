package engine

import "stakeline/internal/domain"

// Operation names as they appear in errors and the event log.
const (
	opActivate       = "activate"
	opSubmitEvidence = "submit_evidence"
	opComplete       = "mark_completed"
	opFail           = "mark_failed"
	opPause          = "pause"
	opResume         = "resume"
	opCancel         = "cancel"
	opFileComplaint  = "file_complaint"
)

// transitions is the single declaration of every legal move: operation to the
// set of statuses it may start from. Guards beyond the source status (deadline
// checks, evidence type) live in the operations themselves.
var transitions = map[string]map[string]bool{
	opActivate: {
		domain.StatusDraft: true,
	},
	// under_review allows a resubmission after a reviewer asked for more
	// info; it re-arms the pending verification.
	opSubmitEvidence: {
		domain.StatusActive:      true,
		domain.StatusPaused:      true,
		domain.StatusUnderReview: true,
	},
	opComplete: {
		domain.StatusActive:      true,
		domain.StatusUnderReview: true,
	},
	// Everything except completed, cancelled and failed itself. Two racing
	// mark_failed calls must yield exactly one success.
	opFail: {
		domain.StatusDraft:       true,
		domain.StatusActive:      true,
		domain.StatusPaused:      true,
		domain.StatusUnderReview: true,
		domain.StatusAppealed:    true,
	},
	opPause: {
		domain.StatusActive:      true,
		domain.StatusUnderReview: true,
	},
	opResume: {
		domain.StatusPaused: true,
	},
	opCancel: {
		domain.StatusDraft:       true,
		domain.StatusActive:      true,
		domain.StatusPaused:      true,
		domain.StatusUnderReview: true,
		domain.StatusAppealed:    true,
	},
	opFileComplaint: {
		domain.StatusFailed: true,
	},
}

func ensureTransition(op, status string) error {
	if !transitions[op][status] {
		return InvalidTransitionError{Op: op, Status: status}
	}
	return nil
}
