package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stakeline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}

const commitmentCols = `id,user_id,title,description,start_time,end_time,frequency,stake_type,stake_amount,currency,leniency,
evidence_required,evidence_type,evidence_file,evidence_text,evidence_submitted,evidence_submitted_at,
status,failure_reason,complaint_flag,successor_id,activated_at,completed_at,created_at,updated_at`

func scanCommitment(sc scanner) (domain.Commitment, error) {
	var c domain.Commitment
	var description, stakeAmount, evidenceFile, evidenceText, evidenceSubmittedAt sql.NullString
	var failureReason, successorID, activatedAt, completedAt sql.NullString
	var evidenceRequired, evidenceSubmitted, complaintFlag int
	err := sc.Scan(&c.ID, &c.UserID, &c.Title, &description, &c.StartTime, &c.EndTime, &c.Frequency,
		&c.StakeType, &stakeAmount, &c.Currency, &c.Leniency,
		&evidenceRequired, &c.EvidenceType, &evidenceFile, &evidenceText, &evidenceSubmitted, &evidenceSubmittedAt,
		&c.Status, &failureReason, &complaintFlag, &successorID, &activatedAt, &completedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Description = description.String
	if stakeAmount.Valid {
		c.StakeAmount = &stakeAmount.String
	}
	if evidenceFile.Valid {
		c.EvidenceFile = &evidenceFile.String
	}
	c.EvidenceText = evidenceText.String
	if evidenceSubmittedAt.Valid {
		c.EvidenceSubmittedAt = &evidenceSubmittedAt.String
	}
	c.FailureReason = failureReason.String
	if successorID.Valid {
		c.SuccessorID = &successorID.String
	}
	if activatedAt.Valid {
		c.ActivatedAt = &activatedAt.String
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.String
	}
	c.EvidenceRequired = evidenceRequired != 0
	c.EvidenceSubmitted = evidenceSubmitted != 0
	c.ComplaintFlag = complaintFlag != 0
	return c, nil
}

func (r Repo) InsertCommitment(ctx context.Context, tx *sql.Tx, c domain.Commitment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO commitments(`+strings.ReplaceAll(commitmentCols, "\n", "")+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.UserID, c.Title, nullable(c.Description), c.StartTime, c.EndTime, c.Frequency,
		c.StakeType, nullableStringPtr(c.StakeAmount), c.Currency, c.Leniency,
		boolInt(c.EvidenceRequired), c.EvidenceType, nullableStringPtr(c.EvidenceFile), nullable(c.EvidenceText),
		boolInt(c.EvidenceSubmitted), nullableStringPtr(c.EvidenceSubmittedAt),
		c.Status, nullable(c.FailureReason), boolInt(c.ComplaintFlag), nullableStringPtr(c.SuccessorID),
		nullableStringPtr(c.ActivatedAt), nullableStringPtr(c.CompletedAt), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) UpdateCommitment(ctx context.Context, tx *sql.Tx, c domain.Commitment) error {
	res, err := tx.ExecContext(ctx, `UPDATE commitments SET title=?, description=?, start_time=?, end_time=?, frequency=?,
stake_type=?, stake_amount=?, currency=?, leniency=?,
evidence_required=?, evidence_type=?, evidence_file=?, evidence_text=?, evidence_submitted=?, evidence_submitted_at=?,
status=?, failure_reason=?, complaint_flag=?, successor_id=?, activated_at=?, completed_at=?, updated_at=?
WHERE id=?`,
		c.Title, nullable(c.Description), c.StartTime, c.EndTime, c.Frequency,
		c.StakeType, nullableStringPtr(c.StakeAmount), c.Currency, c.Leniency,
		boolInt(c.EvidenceRequired), c.EvidenceType, nullableStringPtr(c.EvidenceFile), nullable(c.EvidenceText),
		boolInt(c.EvidenceSubmitted), nullableStringPtr(c.EvidenceSubmittedAt),
		c.Status, nullable(c.FailureReason), boolInt(c.ComplaintFlag), nullableStringPtr(c.SuccessorID),
		nullableStringPtr(c.ActivatedAt), nullableStringPtr(c.CompletedAt), c.UpdatedAt, c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetCommitment(ctx context.Context, id string) (domain.Commitment, error) {
	return scanCommitment(r.DB.QueryRowContext(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE id=?`, id))
}

func (r Repo) GetCommitmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Commitment, error) {
	return scanCommitment(tx.QueryRowContext(ctx, `SELECT `+commitmentCols+` FROM commitments WHERE id=?`, id))
}

type CommitmentFilters struct {
	UserID string
	Status string
	Limit  int
}

func (r Repo) ListCommitments(ctx context.Context, f CommitmentFilters) ([]domain.Commitment, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + commitmentCols + ` FROM commitments ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryCommitments(ctx, query, args...)
}

// QueryDraftReady returns draft commitments whose window has opened and not
// yet closed at the given instant.
func (r Repo) QueryDraftReady(ctx context.Context, now time.Time) ([]domain.Commitment, error) {
	ts := now.UTC().Format(time.RFC3339)
	return r.queryCommitments(ctx,
		`SELECT `+commitmentCols+` FROM commitments WHERE status='draft' AND start_time<=? AND end_time>? ORDER BY start_time ASC`,
		ts, ts)
}

// QueryOverdueActive returns active commitments past deadline, regardless of
// submitted evidence. Used by the overdue-notice sweep.
func (r Repo) QueryOverdueActive(ctx context.Context, now time.Time) ([]domain.Commitment, error) {
	ts := now.UTC().Format(time.RFC3339)
	return r.queryCommitments(ctx,
		`SELECT `+commitmentCols+` FROM commitments WHERE status='active' AND end_time<? ORDER BY end_time ASC`, ts)
}

// QueryAutoFailCandidates returns active commitments whose deadline passed
// before the cutoff (deadline + grace already elapsed) with no evidence.
func (r Repo) QueryAutoFailCandidates(ctx context.Context, cutoff time.Time) ([]domain.Commitment, error) {
	ts := cutoff.UTC().Format(time.RFC3339)
	return r.queryCommitments(ctx,
		`SELECT `+commitmentCols+` FROM commitments WHERE status='active' AND end_time<? AND evidence_submitted=0 ORDER BY end_time ASC`, ts)
}

// QueryDueSoon returns active commitments without evidence whose deadline
// falls inside [now, now+window].
func (r Repo) QueryDueSoon(ctx context.Context, now time.Time, window time.Duration) ([]domain.Commitment, error) {
	from := now.UTC().Format(time.RFC3339)
	to := now.Add(window).UTC().Format(time.RFC3339)
	return r.queryCommitments(ctx,
		`SELECT `+commitmentCols+` FROM commitments WHERE status='active' AND evidence_submitted=0 AND end_time>=? AND end_time<=? ORDER BY end_time ASC`,
		from, to)
}

func (r Repo) queryCommitments(ctx context.Context, query string, args ...any) ([]domain.Commitment, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Commitment
	for rows.Next() {
		c, err := scanCommitment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// MarkReminderSent records a reminder marker for (commitment, window end) and
// reports whether this call inserted it. A false return means an earlier sweep
// already covered this window crossing.
func (r Repo) MarkReminderSent(ctx context.Context, commitmentID string, windowEnd, now time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO reminders(commitment_id,window_end,sent_at) VALUES (?,?,?)`,
		commitmentID, windowEnd.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LatestEvents returns the newest events, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx,
		`SELECT id,ts,type,entity_kind,entity_id,actor_id,payload_json FROM events WHERE id>? ORDER BY id ASC LIMIT ?`,
		cursor, limit)
}

// LatestEventID returns the highest event ID, or 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var entityID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.EntityID = entityID.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
