package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// ---------------- USERS ----------------

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	ensureID(&u.ID)
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)`,
		u.ID.Hex(), u.Name, u.Email, u.Role)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	row := s.q.QueryRowContext(ctx, `SELECT id, name, email, role FROM users WHERE id = ?`, id.Hex())
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsersByRole(ctx context.Context, role string) ([]models.User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id, name, email, role FROM users WHERE role = ? ORDER BY name`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func scanUser(r rowScanner) (*models.User, error) {
	var u models.User
	var id string
	if err := r.Scan(&id, &u.Name, &u.Email, &u.Role); err != nil {
		return nil, err
	}
	oid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	u.ID = oid
	return &u, nil
}

// ---------------- PAYMENT METHODS ----------------

func (s *SQLiteStore) CreatePaymentMethod(ctx context.Context, pm *models.PaymentMethod) error {
	ensureID(&pm.ID)
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO payment_methods (id, code, name) VALUES (?, ?, ?)`,
		pm.ID.Hex(), pm.Code, pm.Name)
	if err != nil {
		return fmt.Errorf("failed to create payment method: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetPaymentMethod(ctx context.Context, id primitive.ObjectID) (*models.PaymentMethod, error) {
	return s.getPaymentMethod(ctx, `SELECT id, code, name FROM payment_methods WHERE id = ?`, id.Hex())
}

func (s *SQLiteStore) GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error) {
	return s.getPaymentMethod(ctx, `SELECT id, code, name FROM payment_methods WHERE code = ?`, code)
}

func (s *SQLiteStore) getPaymentMethod(ctx context.Context, query string, arg any) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	var id string
	err := s.q.QueryRowContext(ctx, query, arg).Scan(&id, &pm.Code, &pm.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment method: %w", err)
	}
	if pm.ID, err = parseID(id); err != nil {
		return nil, err
	}
	return &pm, nil
}

// ---------------- CASES ----------------

const caseColumns = `id, title_en, title_ar, description_en, description_ar, target_amount,
	current_amount, status, batch_id, created_by, created_at, updated_at`

func (s *SQLiteStore) CreateCase(ctx context.Context, c *models.Case) error {
	ensureID(&c.ID)
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO cases (`+caseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.Hex(), c.Title.EN, c.Title.AR, c.Description.EN, c.Description.AR,
		c.TargetAmount.String(), c.CurrentAmount.String(), string(c.Status),
		nullID(c.BatchID), nullID(c.CreatedBy), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, id primitive.ObjectID) (*models.Case, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM cases WHERE id = ?`, id.Hex())
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListCaseIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM cases ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	var ids []primitive.ObjectID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan case id: %w", err)
		}
		id, err := parseID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) UpdateCaseCurrentAmount(ctx context.Context, id primitive.ObjectID, amount decimal.Decimal, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE cases SET current_amount = ?, updated_at = ? WHERE id = ?`,
		amount.String(), at.UTC(), id.Hex())
	if err != nil {
		return fmt.Errorf("failed to update case amount: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CountCasesByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE batch_id = ?`, batchID.Hex()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteCasesByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM cases WHERE batch_id = ?`, batchID.Hex())
	if err != nil {
		return 0, fmt.Errorf("failed to delete batch cases: %w", err)
	}
	return rowsAffected(res)
}

func scanCase(r rowScanner) (*models.Case, error) {
	var (
		c                       models.Case
		id, target, current     string
		status                  string
		titleAR, descEN, descAR sql.NullString
		batchID, createdBy      sql.NullString
	)
	if err := r.Scan(&id, &c.Title.EN, &titleAR, &descEN, &descAR, &target, &current,
		&status, &batchID, &createdBy, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.ID, err = parseID(id); err != nil {
		return nil, err
	}
	if c.TargetAmount, err = parseAmount(target); err != nil {
		return nil, err
	}
	if c.CurrentAmount, err = parseAmount(current); err != nil {
		return nil, err
	}
	if c.BatchID, err = parseNullID(batchID); err != nil {
		return nil, err
	}
	if c.CreatedBy, err = parseNullID(createdBy); err != nil {
		return nil, err
	}
	c.Title.AR = titleAR.String
	c.Description.EN = descEN.String
	c.Description.AR = descAR.String
	c.Status = models.CaseStatus(status)
	return &c, nil
}

// ---------------- CONTRIBUTIONS ----------------

const contributionColumns = `id, case_id, donor_id, amount, payment_method_id, status, notes,
	revision_of, batch_id, created_at, updated_at`

func (s *SQLiteStore) CreateContribution(ctx context.Context, c *models.Contribution) error {
	ensureID(&c.ID)
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO contributions (`+contributionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID.Hex(), c.CaseID.Hex(), nullID(c.DonorID), c.Amount.String(), c.PaymentMethodID.Hex(),
		string(c.Status), c.Notes, nullID(c.RevisionOf), nullID(c.BatchID), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create contribution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetContribution(ctx context.Context, id primitive.ObjectID) (*models.Contribution, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, id.Hex())
	c, err := scanContribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) ListContributionsByCase(ctx context.Context, caseID primitive.ObjectID) ([]models.Contribution, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE case_id = ? ORDER BY created_at`, caseID.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	defer rows.Close()

	var out []models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountContributionsByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM contributions WHERE batch_id = ?`, batchID.Hex()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count contributions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteContributionsByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error) {
	var deleted int64
	err := s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		q := tx.(*SQLiteStore).q
		scope := `SELECT id FROM contributions
			WHERE batch_id = ?1 OR case_id IN (SELECT id FROM cases WHERE batch_id = ?1)`

		if _, err := q.ExecContext(ctx, `DELETE FROM approvals WHERE contribution_id IN (`+scope+`)`, batchID.Hex()); err != nil {
			return fmt.Errorf("failed to delete batch approvals: %w", err)
		}
		res, err := q.ExecContext(ctx, `DELETE FROM contributions WHERE id IN (`+scope+`)`, batchID.Hex())
		if err != nil {
			return fmt.Errorf("failed to delete batch contributions: %w", err)
		}
		deleted, err = rowsAffected(res)
		return err
	})
	return deleted, err
}

func scanContribution(r rowScanner) (*models.Contribution, error) {
	var (
		c                            models.Contribution
		id, caseID, amount, pmID     string
		status                       string
		donorID, revisionOf, batchID sql.NullString
		notes                        sql.NullString
	)
	if err := r.Scan(&id, &caseID, &donorID, &amount, &pmID, &status, &notes,
		&revisionOf, &batchID, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if c.ID, err = parseID(id); err != nil {
		return nil, err
	}
	if c.CaseID, err = parseID(caseID); err != nil {
		return nil, err
	}
	if c.PaymentMethodID, err = parseID(pmID); err != nil {
		return nil, err
	}
	if c.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if c.DonorID, err = parseNullID(donorID); err != nil {
		return nil, err
	}
	if c.RevisionOf, err = parseNullID(revisionOf); err != nil {
		return nil, err
	}
	if c.BatchID, err = parseNullID(batchID); err != nil {
		return nil, err
	}
	c.Status = models.ApprovalState(status)
	c.Notes = notes.String
	return &c, nil
}

// ---------------- APPROVALS ----------------

const approvalColumns = `id, contribution_id, status, admin_id, rejection_reason, admin_comment,
	donor_reply, donor_reply_at, proof_ref, resubmission_count, created_at, updated_at`

func (s *SQLiteStore) GetApproval(ctx context.Context, contributionID primitive.ObjectID) (*models.Approval, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approvals WHERE contribution_id = ?`, contributionID.Hex())

	var (
		a                                models.Approval
		id, cid, status                  string
		adminID                          sql.NullString
		reason, comment, reply, proofRef sql.NullString
		replyAt                          sql.NullTime
	)
	err := row.Scan(&id, &cid, &status, &adminID, &reason, &comment, &reply, &replyAt,
		&proofRef, &a.ResubmissionCount, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}

	if a.ID, err = parseID(id); err != nil {
		return nil, err
	}
	if a.ContributionID, err = parseID(cid); err != nil {
		return nil, err
	}
	if a.AdminID, err = parseNullID(adminID); err != nil {
		return nil, err
	}
	if replyAt.Valid {
		t := replyAt.Time
		a.DonorReplyAt = &t
	}
	a.Status = models.ApprovalState(status)
	a.RejectionReason = reason.String
	a.AdminComment = comment.String
	a.DonorReply = reply.String
	a.ProofRef = proofRef.String
	return &a, nil
}

func (s *SQLiteStore) SaveApproval(ctx context.Context, a *models.Approval) error {
	ensureID(&a.ID)
	return s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		q := tx.(*SQLiteStore).q

		res, err := q.ExecContext(ctx,
			`UPDATE contributions SET status = ?, updated_at = ? WHERE id = ?`,
			string(a.Status), a.UpdatedAt.UTC(), a.ContributionID.Hex())
		if err != nil {
			return fmt.Errorf("failed to mirror contribution status: %w", err)
		}
		n, err := rowsAffected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}

		_, err = q.ExecContext(ctx,
			`INSERT INTO approvals (`+approvalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(contribution_id) DO UPDATE SET
				status = excluded.status,
				admin_id = excluded.admin_id,
				rejection_reason = excluded.rejection_reason,
				admin_comment = excluded.admin_comment,
				donor_reply = excluded.donor_reply,
				donor_reply_at = excluded.donor_reply_at,
				proof_ref = excluded.proof_ref,
				resubmission_count = excluded.resubmission_count,
				updated_at = excluded.updated_at`,
			a.ID.Hex(), a.ContributionID.Hex(), string(a.Status), nullID(a.AdminID),
			a.RejectionReason, a.AdminComment, a.DonorReply, nullTime(a.DonorReplyAt),
			a.ProofRef, a.ResubmissionCount, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to save approval: %w", err)
		}
		return nil
	})
}
