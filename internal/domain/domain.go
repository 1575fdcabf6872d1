package domain

// Commitment statuses.
const (
	StatusDraft       = "draft"
	StatusActive      = "active"
	StatusPaused      = "paused"
	StatusUnderReview = "under_review"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusCancelled   = "cancelled"
	StatusAppealed    = "appealed"
)

// Stake types.
const (
	StakeSocial = "social"
	StakePoints = "points"
	StakeMoney  = "money"
)

// Evidence types.
const (
	EvidenceSelfVerification = "self_verification"
	EvidencePhoto            = "photo"
	EvidenceTimelapseVideo   = "timelapse_video"
	EvidenceManual           = "manual"
)

// Recurrence frequencies.
const (
	FrequencyOneTime = "one_time"
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

// Verification statuses.
const (
	VerificationPending       = "pending"
	VerificationApproved      = "approved"
	VerificationRejected      = "rejected"
	VerificationNeedsMoreInfo = "needs_more_info"
)

// Complaint statuses.
const (
	ComplaintPending     = "pending"
	ComplaintUnderReview = "under_review"
	ComplaintApproved    = "approved"
	ComplaintRejected    = "rejected"
)

type Commitment struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	StartTime string `json:"start_time" format:"date-time"`
	EndTime   string `json:"end_time" format:"date-time"`
	Frequency string `json:"frequency" enum:"one_time,daily,weekly,monthly"`

	StakeType   string  `json:"stake_type" enum:"social,points,money"`
	StakeAmount *string `json:"stake_amount,omitempty"`
	Currency    string  `json:"currency"`
	Leniency    string  `json:"leniency" enum:"lenient,normal,hard"`

	EvidenceRequired    bool    `json:"evidence_required"`
	EvidenceType        string  `json:"evidence_type" enum:"self_verification,photo,timelapse_video,manual"`
	EvidenceFile        *string `json:"evidence_file,omitempty"`
	EvidenceText        string  `json:"evidence_text,omitempty"`
	EvidenceSubmitted   bool    `json:"evidence_submitted"`
	EvidenceSubmittedAt *string `json:"evidence_submitted_at,omitempty" format:"date-time"`

	Status        string  `json:"status" enum:"draft,active,paused,under_review,completed,failed,cancelled,appealed"`
	FailureReason string  `json:"failure_reason,omitempty"`
	ComplaintFlag bool    `json:"complaint_flag"`
	SuccessorID   *string `json:"successor_id,omitempty"`

	ActivatedAt *string `json:"activated_at,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// Terminal reports whether no further transition is ever legal. Failed is not
// terminal here: the complaint sub-workflow can still move it to appealed.
func (c Commitment) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusCancelled
}

func (c Commitment) Recurring() bool {
	return c.Frequency != FrequencyOneTime && c.Frequency != ""
}

type EvidenceVerification struct {
	ID           string  `json:"id"`
	CommitmentID string  `json:"commitment_id"`
	Status       string  `json:"status" enum:"pending,approved,rejected,needs_more_info"`
	VerifiedBy   *string `json:"verified_by,omitempty"`
	Notes        string  `json:"notes,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	VerifiedAt   *string `json:"verified_at,omitempty" format:"date-time"`
}

type Complaint struct {
	ID             string  `json:"id"`
	CommitmentID   string  `json:"commitment_id"`
	UserID         string  `json:"user_id"`
	ReasonCategory string  `json:"reason_category" enum:"technical_issue,emergency,illness,evidence_issue,deadline_dispute,other"`
	Description    string  `json:"description"`
	EvidenceFile   *string `json:"evidence_file,omitempty"`

	Status      string  `json:"status" enum:"pending,under_review,approved,rejected"`
	ReviewedBy  *string `json:"reviewed_by,omitempty"`
	ReviewNotes string  `json:"review_notes,omitempty"`
	ReviewedAt  *string `json:"reviewed_at,omitempty" format:"date-time"`

	RefundAmount      *string `json:"refund_amount,omitempty"`
	RefundProcessed   bool    `json:"refund_processed"`
	RefundProcessedAt *string `json:"refund_processed_at,omitempty" format:"date-time"`

	CreatedAt string `json:"created_at" format:"date-time"`
}

// Open reports whether the complaint still awaits a review decision.
func (c Complaint) Open() bool {
	return c.Status == ComplaintPending || c.Status == ComplaintUnderReview
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// ValidReasonCategory reports whether r is a known complaint reason.
func ValidReasonCategory(r string) bool {
	switch r {
	case "technical_issue", "emergency", "illness", "evidence_issue", "deadline_dispute", "other":
		return true
	}
	return false
}

// ValidFrequency reports whether f is a supported recurrence.
func ValidFrequency(f string) bool {
	switch f {
	case FrequencyOneTime, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// ValidEvidenceType reports whether t is a known evidence type.
func ValidEvidenceType(t string) bool {
	switch t {
	case EvidenceSelfVerification, EvidencePhoto, EvidenceTimelapseVideo, EvidenceManual:
		return true
	}
	return false
}

// ValidStakeType reports whether t is a known stake type.
func ValidStakeType(t string) bool {
	switch t {
	case StakeSocial, StakePoints, StakeMoney:
		return true
	}
	return false
}

// ValidLeniency reports whether l is a known leniency level.
func ValidLeniency(l string) bool {
	switch l {
	case "lenient", "normal", "hard":
		return true
	}
	return false
}
