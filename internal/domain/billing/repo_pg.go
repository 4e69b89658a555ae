package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serenity/billing/internal/platform/clearinghouse"
	"github.com/serenity/billing/internal/platform/db"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// =========== Submission Repository ===========

type submissionRepoPG struct{ pool *pgxpool.Pool }

func NewSubmissionRepoPG(pool *pgxpool.Pool) SubmissionRepository {
	return &submissionRepoPG{pool: pool}
}

const subCols = `id, external_id, control_number, status, claim_ids, claim_count,
	total_charge, content, ack_errors, submitted_at, last_checked_at,
	acknowledged_at, updated_at`

func scanSubmission(row pgx.Row) (*SubmissionRecord, error) {
	var s SubmissionRecord
	var status string
	err := row.Scan(&s.ID, &s.ExternalID, &s.ControlNumber, &status, &s.ClaimIDs, &s.ClaimCount,
		&s.TotalCharge, &s.Content, &s.AckErrors, &s.SubmittedAt, &s.LastCheckedAt,
		&s.AcknowledgedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Status = clearinghouse.SubmissionStatus(status)
	return &s, nil
}

func (r *submissionRepoPG) Create(ctx context.Context, s *SubmissionRecord) error {
	s.ID = uuid.New()
	s.UpdatedAt = time.Now().UTC()
	if s.AckErrors == nil {
		s.AckErrors = []string{}
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO claim_submissions (id, external_id, control_number, status, claim_ids,
			claim_count, total_charge, content, ack_errors, submitted_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.ExternalID, s.ControlNumber, string(s.Status), s.ClaimIDs,
		s.ClaimCount, s.TotalCharge, s.Content, s.AckErrors, s.SubmittedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert submission %s: %w", s.ExternalID, err)
	}
	return nil
}

func (r *submissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SubmissionRecord, error) {
	return scanSubmission(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+subCols+` FROM claim_submissions WHERE id = $1`, id))
}

func (r *submissionRepoPG) GetByExternalID(ctx context.Context, externalID string) (*SubmissionRecord, error) {
	return scanSubmission(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+subCols+` FROM claim_submissions WHERE external_id = $1`, externalID))
}

func (r *submissionRepoPG) UpdateAcknowledgment(ctx context.Context, s *SubmissionRecord) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE claim_submissions SET status=$2, ack_errors=$3, last_checked_at=$4,
			acknowledged_at=$5, updated_at=NOW()
		WHERE id = $1`,
		s.ID, string(s.Status), s.AckErrors, s.LastCheckedAt, s.AcknowledgedAt)
	if err != nil {
		return fmt.Errorf("update submission %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (r *submissionRepoPG) List(ctx context.Context, status string, limit, offset int) ([]*SubmissionRecord, int, error) {
	conn := db.Conn(ctx, r.pool)
	where, args := "", []interface{}{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM claim_submissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM claim_submissions%s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`,
		subCols, where, len(args)+1, len(args)+2)
	rows, err := conn.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var items []*SubmissionRecord
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *submissionRepoPG) ListAwaitingAcknowledgment(ctx context.Context, limit int) ([]*SubmissionRecord, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+subCols+` FROM claim_submissions
		WHERE status IN ($1, $2)
		ORDER BY last_checked_at ASC NULLS FIRST, submitted_at ASC
		LIMIT $3`,
		string(clearinghouse.StatusSubmitted), string(clearinghouse.StatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending submissions: %w", err)
	}
	defer rows.Close()

	var items []*SubmissionRecord
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *submissionRepoPG) CountByStatus(ctx context.Context) (map[string]StatusCount, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(claim_count), 0)
		FROM claim_submissions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count submissions by status: %w", err)
	}
	defer rows.Close()

	out := map[string]StatusCount{}
	for rows.Next() {
		var status string
		var c StatusCount
		if err := rows.Scan(&status, &c.Submissions, &c.Claims); err != nil {
			return nil, err
		}
		out[status] = c
	}
	return out, rows.Err()
}

func (r *submissionRepoPG) NextControlNumber(ctx context.Context) (int, error) {
	var n int64
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT nextval('x12_control_number')`).Scan(&n); err != nil {
		return 0, fmt.Errorf("next control number: %w", err)
	}
	return int(n), nil
}

// =========== Remittance Repository ===========

type remittanceRepoPG struct{ pool *pgxpool.Pool }

func NewRemittanceRepoPG(pool *pgxpool.Pool) RemittanceRepository {
	return &remittanceRepoPG{pool: pool}
}

const remitCols = `id, external_id, payer_id, payer_name, check_number, payment_amount,
	paid_total, payment_date, claim_count, balanced, content, data, received_at`

func scanRemittance(row pgx.Row) (*RemittanceRecord, error) {
	var r RemittanceRecord
	err := row.Scan(&r.ID, &r.ExternalID, &r.PayerID, &r.PayerName, &r.CheckNumber, &r.PaymentAmount,
		&r.PaidTotal, &r.PaymentDate, &r.ClaimCount, &r.Balanced, &r.Content, &r.Data, &r.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRemittanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *remittanceRepoPG) Create(ctx context.Context, rec *RemittanceRecord) error {
	rec.ID = uuid.New()
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO remittances (id, external_id, payer_id, payer_name, check_number,
			payment_amount, paid_total, payment_date, claim_count, balanced, content, data, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.ID, rec.ExternalID, rec.PayerID, rec.PayerName, rec.CheckNumber,
		rec.PaymentAmount, rec.PaidTotal, rec.PaymentDate, rec.ClaimCount, rec.Balanced,
		rec.Content, rec.Data, rec.ReceivedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("insert remittance %v: %w", derefString(rec.ExternalID), ErrDuplicateRemittance)
	}
	if err != nil {
		return fmt.Errorf("insert remittance: %w", err)
	}
	return nil
}

func (r *remittanceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RemittanceRecord, error) {
	return scanRemittance(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+remitCols+` FROM remittances WHERE id = $1`, id))
}

func (r *remittanceRepoPG) GetByExternalID(ctx context.Context, externalID string) (*RemittanceRecord, error) {
	return scanRemittance(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+remitCols+` FROM remittances WHERE external_id = $1`, externalID))
}

func (r *remittanceRepoPG) List(ctx context.Context, limit, offset int) ([]*RemittanceRecord, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM remittances`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count remittances: %w", err)
	}

	rows, err := conn.Query(ctx,
		`SELECT `+remitCols+` FROM remittances ORDER BY received_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list remittances: %w", err)
	}
	defer rows.Close()

	var items []*RemittanceRecord
	for rows.Next() {
		rec, err := scanRemittance(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rec)
	}
	return items, total, rows.Err()
}

func (r *remittanceRepoPG) Totals(ctx context.Context) (RemittanceTotals, error) {
	var t RemittanceTotals
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT balanced), COALESCE(SUM(payment_amount), 0)::float8
		FROM remittances`).Scan(&t.Count, &t.Unbalanced, &t.Paid)
	if err != nil {
		return t, fmt.Errorf("remittance totals: %w", err)
	}
	return t, nil
}
