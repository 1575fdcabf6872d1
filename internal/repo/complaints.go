package repo

import (
	"context"
	"database/sql"
	"strings"

	"stakeline/internal/domain"
)

const complaintCols = `id,commitment_id,user_id,reason_category,description,evidence_file,status,
reviewed_by,review_notes,reviewed_at,refund_amount,refund_processed,refund_processed_at,created_at`

func scanComplaint(sc scanner) (domain.Complaint, error) {
	var c domain.Complaint
	var evidenceFile, reviewedBy, reviewNotes, reviewedAt, refundAmount, refundProcessedAt sql.NullString
	var refundProcessed int
	err := sc.Scan(&c.ID, &c.CommitmentID, &c.UserID, &c.ReasonCategory, &c.Description, &evidenceFile, &c.Status,
		&reviewedBy, &reviewNotes, &reviewedAt, &refundAmount, &refundProcessed, &refundProcessedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if evidenceFile.Valid {
		c.EvidenceFile = &evidenceFile.String
	}
	if reviewedBy.Valid {
		c.ReviewedBy = &reviewedBy.String
	}
	c.ReviewNotes = reviewNotes.String
	if reviewedAt.Valid {
		c.ReviewedAt = &reviewedAt.String
	}
	if refundAmount.Valid {
		c.RefundAmount = &refundAmount.String
	}
	c.RefundProcessed = refundProcessed != 0
	if refundProcessedAt.Valid {
		c.RefundProcessedAt = &refundProcessedAt.String
	}
	return c, nil
}

func (r Repo) InsertComplaint(ctx context.Context, tx *sql.Tx, c domain.Complaint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO complaints(`+strings.ReplaceAll(complaintCols, "\n", "")+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.CommitmentID, c.UserID, c.ReasonCategory, c.Description, nullableStringPtr(c.EvidenceFile), c.Status,
		nullableStringPtr(c.ReviewedBy), nullable(c.ReviewNotes), nullableStringPtr(c.ReviewedAt),
		nullableStringPtr(c.RefundAmount), boolInt(c.RefundProcessed), nullableStringPtr(c.RefundProcessedAt), c.CreatedAt)
	return err
}

func (r Repo) UpdateComplaint(ctx context.Context, tx *sql.Tx, c domain.Complaint) error {
	res, err := tx.ExecContext(ctx, `UPDATE complaints SET status=?, reviewed_by=?, review_notes=?, reviewed_at=?,
refund_amount=?, refund_processed=?, refund_processed_at=? WHERE id=?`,
		c.Status, nullableStringPtr(c.ReviewedBy), nullable(c.ReviewNotes), nullableStringPtr(c.ReviewedAt),
		nullableStringPtr(c.RefundAmount), boolInt(c.RefundProcessed), nullableStringPtr(c.RefundProcessedAt), c.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetComplaint(ctx context.Context, id string) (domain.Complaint, error) {
	return scanComplaint(r.DB.QueryRowContext(ctx, `SELECT `+complaintCols+` FROM complaints WHERE id=?`, id))
}

func (r Repo) GetComplaintTx(ctx context.Context, tx *sql.Tx, id string) (domain.Complaint, error) {
	return scanComplaint(tx.QueryRowContext(ctx, `SELECT `+complaintCols+` FROM complaints WHERE id=?`, id))
}

// OpenComplaintExists reports whether the user already has a pending or
// under_review complaint for the commitment.
func (r Repo) OpenComplaintExists(ctx context.Context, tx *sql.Tx, userID, commitmentID string) (bool, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT 1 FROM complaints WHERE user_id=? AND commitment_id=? AND status IN ('pending','under_review') LIMIT 1`,
		userID, commitmentID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

type ComplaintFilters struct {
	UserID       string
	CommitmentID string
	Status       string
	Limit        int
}

func (r Repo) ListComplaints(ctx context.Context, f ComplaintFilters) ([]domain.Complaint, error) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.CommitmentID != "" {
		clauses = append(clauses, "commitment_id=?")
		args = append(args, f.CommitmentID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + complaintCols + ` FROM complaints ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryComplaints(ctx, query, args...)
}

// QueryPendingRefunds returns approved complaints whose refund has not been
// processed yet.
func (r Repo) QueryPendingRefunds(ctx context.Context) ([]domain.Complaint, error) {
	return r.queryComplaints(ctx,
		`SELECT `+complaintCols+` FROM complaints WHERE status='approved' AND refund_processed=0 ORDER BY created_at ASC`)
}

func (r Repo) queryComplaints(ctx context.Context, query string, args ...any) ([]domain.Complaint, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Complaint
	for rows.Next() {
		c, err := scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
