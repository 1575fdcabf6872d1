package repo

import (
	"context"
	"database/sql"
	"strings"

	"stakeline/internal/domain"
)

const verificationCols = `id,commitment_id,status,verified_by,notes,created_at,verified_at`

func scanVerification(sc scanner) (domain.EvidenceVerification, error) {
	var v domain.EvidenceVerification
	var verifiedBy, notes, verifiedAt sql.NullString
	err := sc.Scan(&v.ID, &v.CommitmentID, &v.Status, &verifiedBy, &notes, &v.CreatedAt, &verifiedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if verifiedBy.Valid {
		v.VerifiedBy = &verifiedBy.String
	}
	v.Notes = notes.String
	if verifiedAt.Valid {
		v.VerifiedAt = &verifiedAt.String
	}
	return v, nil
}

func (r Repo) InsertVerification(ctx context.Context, tx *sql.Tx, v domain.EvidenceVerification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evidence_verifications(`+verificationCols+`) VALUES (?,?,?,?,?,?,?)`,
		v.ID, v.CommitmentID, v.Status, nullableStringPtr(v.VerifiedBy), nullable(v.Notes), v.CreatedAt, nullableStringPtr(v.VerifiedAt))
	return err
}

func (r Repo) UpdateVerification(ctx context.Context, tx *sql.Tx, v domain.EvidenceVerification) error {
	res, err := tx.ExecContext(ctx, `UPDATE evidence_verifications SET status=?, verified_by=?, notes=?, verified_at=? WHERE id=?`,
		v.Status, nullableStringPtr(v.VerifiedBy), nullable(v.Notes), nullableStringPtr(v.VerifiedAt), v.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetVerification(ctx context.Context, id string) (domain.EvidenceVerification, error) {
	return scanVerification(r.DB.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM evidence_verifications WHERE id=?`, id))
}

func (r Repo) GetVerificationTx(ctx context.Context, tx *sql.Tx, id string) (domain.EvidenceVerification, error) {
	return scanVerification(tx.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM evidence_verifications WHERE id=?`, id))
}

func (r Repo) GetVerificationByCommitmentTx(ctx context.Context, tx *sql.Tx, commitmentID string) (domain.EvidenceVerification, error) {
	return scanVerification(tx.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM evidence_verifications WHERE commitment_id=?`, commitmentID))
}

func (r Repo) GetVerificationByCommitment(ctx context.Context, commitmentID string) (domain.EvidenceVerification, error) {
	return scanVerification(r.DB.QueryRowContext(ctx, `SELECT `+verificationCols+` FROM evidence_verifications WHERE commitment_id=?`, commitmentID))
}

type VerificationFilters struct {
	Status string
	Limit  int
}

func (r Repo) ListVerifications(ctx context.Context, f VerificationFilters) ([]domain.EvidenceVerification, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + verificationCols + ` FROM evidence_verifications ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EvidenceVerification
	for rows.Next() {
		v, err := scanVerification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
