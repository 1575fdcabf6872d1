package stakelinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stakeline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Commitment represents the API commitment model (partial).
type Commitment struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Title         string  `json:"title"`
	Status        string  `json:"status"`
	StakeType     string  `json:"stake_type"`
	StakeAmount   *string `json:"stake_amount,omitempty"`
	Currency      string  `json:"currency"`
	StartTime     string  `json:"start_time"`
	EndTime       string  `json:"end_time"`
	Frequency     string  `json:"frequency"`
	FailureReason string  `json:"failure_reason,omitempty"`
	SuccessorID   *string `json:"successor_id,omitempty"`
}

// Complaint represents an appeal against a failed commitment.
type Complaint struct {
	ID             string  `json:"id"`
	CommitmentID   string  `json:"commitment_id"`
	UserID         string  `json:"user_id"`
	ReasonCategory string  `json:"reason_category"`
	Status         string  `json:"status"`
	RefundAmount   *string `json:"refund_amount,omitempty"`
}

// Verification represents an evidence review record.
type Verification struct {
	ID           string `json:"id"`
	CommitmentID string `json:"commitment_id"`
	Status       string `json:"status"`
	Notes        string `json:"notes,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateCommitmentOptions mirror the create endpoint's body.
type CreateCommitmentOptions struct {
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	StartTime    *string `json:"start_time,omitempty"`
	EndTime      string  `json:"end_time"`
	Frequency    string  `json:"frequency,omitempty"`
	StakeType    string  `json:"stake_type,omitempty"`
	StakeAmount  *string `json:"stake_amount,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	Leniency     string  `json:"leniency,omitempty"`
	EvidenceType string  `json:"evidence_type,omitempty"`
}

// CreateCommitment creates a draft commitment.
func (c *Client) CreateCommitment(ctx context.Context, opts CreateCommitmentOptions) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodPost, "v0/commitments", opts, &resp)
	return resp, err
}

// GetCommitment fetches a commitment by id.
func (c *Client) GetCommitment(ctx context.Context, id string) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodGet, c.commitmentPath(id, ""), nil, &resp)
	return resp, err
}

// Activate moves a draft commitment to active.
func (c *Client) Activate(ctx context.Context, id string) (Commitment, error) {
	return c.transition(ctx, id, "activate")
}

// Complete marks a commitment completed.
func (c *Client) Complete(ctx context.Context, id string) (Commitment, error) {
	return c.transition(ctx, id, "complete")
}

// Pause pauses an active commitment.
func (c *Client) Pause(ctx context.Context, id string) (Commitment, error) {
	return c.transition(ctx, id, "pause")
}

// Resume resumes a paused commitment.
func (c *Client) Resume(ctx context.Context, id string) (Commitment, error) {
	return c.transition(ctx, id, "resume")
}

// Cancel cancels a commitment.
func (c *Client) Cancel(ctx context.Context, id string) (Commitment, error) {
	return c.transition(ctx, id, "cancel")
}

// Fail marks a commitment failed with an optional reason.
func (c *Client) Fail(ctx context.Context, id, reason string) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodPost, c.commitmentPath(id, "fail"), map[string]any{"reason": reason}, &resp)
	return resp, err
}

// SubmitEvidence attaches evidence to a commitment.
func (c *Client) SubmitEvidence(ctx context.Context, id, evidenceType, file, text string) (Commitment, error) {
	body := map[string]any{
		"evidence_type": evidenceType,
		"evidence_file": file,
		"evidence_text": text,
	}
	var resp Commitment
	err := c.do(ctx, http.MethodPost, c.commitmentPath(id, "evidence"), body, &resp)
	return resp, err
}

// FileComplaint appeals a failed commitment.
func (c *Client) FileComplaint(ctx context.Context, commitmentID, reason, description string) (Complaint, error) {
	body := map[string]any{
		"reason_category": reason,
		"description":     description,
	}
	var resp Complaint
	err := c.do(ctx, http.MethodPost, c.commitmentPath(commitmentID, "complaints"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, id, action string) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodPost, c.commitmentPath(id, action), nil, &resp)
	return resp, err
}

func (c *Client) commitmentPath(id, suffix string) string {
	p := fmt.Sprintf("v0/commitments/%s", url.PathEscape(id))
	if suffix != "" {
		p += "/" + suffix
	}
	return p
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
