package server

// Request payloads. Responses reuse the domain structs, which carry the
// schema tags.

type CreateCommitmentRequest struct {
	Title            string  `json:"title"`
	Description      *string `json:"description,omitempty"`
	StartTime        *string `json:"start_time,omitempty" format:"date-time"`
	EndTime          string  `json:"end_time" format:"date-time"`
	Frequency        string  `json:"frequency,omitempty" enum:"one_time,daily,weekly,monthly"`
	StakeType        string  `json:"stake_type,omitempty" enum:"social,points,money"`
	StakeAmount      *string `json:"stake_amount,omitempty"`
	Currency         string  `json:"currency,omitempty"`
	Leniency         string  `json:"leniency,omitempty" enum:"lenient,normal,hard"`
	EvidenceRequired *bool   `json:"evidence_required,omitempty"`
	EvidenceType     string  `json:"evidence_type,omitempty" enum:"self_verification,photo,timelapse_video,manual"`
}

type SubmitEvidenceRequest struct {
	EvidenceType string `json:"evidence_type,omitempty" enum:"self_verification,photo,timelapse_video,manual"`
	EvidenceFile string `json:"evidence_file,omitempty"`
	EvidenceText string `json:"evidence_text,omitempty"`
}

type FailCommitmentRequest struct {
	Reason string `json:"reason,omitempty"`
}

type FileComplaintRequest struct {
	ReasonCategory string `json:"reason_category,omitempty" enum:"technical_issue,emergency,illness,evidence_issue,deadline_dispute,other"`
	Description    string `json:"description"`
	EvidenceFile   string `json:"evidence_file,omitempty"`
}

type ReviewComplaintRequest struct {
	Notes        string  `json:"notes,omitempty"`
	RefundAmount *string `json:"refund_amount,omitempty"`
}

type ReviewEvidenceRequest struct {
	Notes string `json:"notes,omitempty"`
}
