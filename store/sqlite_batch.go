package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
)

// ---------------- BATCHES ----------------

const batchColumns = `id, name, status, source_ref, total_items, processed_items, successful_items,
	failed_items, errors, created_by, created_at, updated_at, processed_at`

func (s *SQLiteStore) CreateBatch(ctx context.Context, b *models.BatchUpload, items []models.BatchItem) error {
	ensureID(&b.ID)
	errs, err := json.Marshal(b.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode batch errors: %w", err)
	}

	return s.WithTx(ctx, func(ctx context.Context, tx Store) error {
		q := tx.(*SQLiteStore).q
		_, err := q.ExecContext(ctx,
			`INSERT INTO batch_uploads (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID.Hex(), b.Name, string(b.Status), b.SourceRef, b.TotalItems, b.ProcessedItems,
			b.SuccessfulItems, b.FailedItems, string(errs), nullID(b.CreatedBy),
			b.CreatedAt.UTC(), b.UpdatedAt.UTC(), nullTime(b.ProcessedAt))
		if err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}

		for i := range items {
			item := &items[i]
			ensureID(&item.ID)
			item.BatchID = b.ID
			_, err := q.ExecContext(ctx,
				`INSERT INTO batch_items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID.Hex(), item.BatchID.Hex(), item.RowNumber, item.Nickname, nullID(item.UserID),
				item.Amount.String(), item.CaseKey, item.CaseTitle, item.CaseMonth, string(item.Status),
				nullID(item.CaseID), nullID(item.ContributionID), item.Error,
				item.CreatedAt.UTC(), item.UpdatedAt.UTC())
			if err != nil {
				return fmt.Errorf("failed to create batch item %d: %w", item.RowNumber, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id primitive.ObjectID) (*models.BatchUpload, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batch_uploads WHERE id = ?`, id.Hex())

	var (
		b               models.BatchUpload
		rawID, status   string
		sourceRef, errs sql.NullString
		createdBy       sql.NullString
		processedAt     sql.NullTime
	)
	err := row.Scan(&rawID, &b.Name, &status, &sourceRef, &b.TotalItems, &b.ProcessedItems,
		&b.SuccessfulItems, &b.FailedItems, &errs, &createdBy, &b.CreatedAt, &b.UpdatedAt, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}

	if b.ID, err = parseID(rawID); err != nil {
		return nil, err
	}
	if b.CreatedBy, err = parseNullID(createdBy); err != nil {
		return nil, err
	}
	if errs.Valid && errs.String != "" && errs.String != "null" {
		if err := json.Unmarshal([]byte(errs.String), &b.Errors); err != nil {
			return nil, fmt.Errorf("failed to decode batch errors: %w", err)
		}
	}
	if processedAt.Valid {
		t := processedAt.Time
		b.ProcessedAt = &t
	}
	b.Status = models.BatchStatus(status)
	b.SourceRef = sourceRef.String
	return &b, nil
}

func (s *SQLiteStore) UpdateBatch(ctx context.Context, b *models.BatchUpload) error {
	errs, err := json.Marshal(b.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode batch errors: %w", err)
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE batch_uploads SET name = ?, status = ?, source_ref = ?, total_items = ?, processed_items = ?,
			successful_items = ?, failed_items = ?, errors = ?, updated_at = ?, processed_at = ?
		WHERE id = ?`,
		b.Name, string(b.Status), b.SourceRef, b.TotalItems, b.ProcessedItems, b.SuccessfulItems,
		b.FailedItems, string(errs), b.UpdatedAt.UTC(), nullTime(b.ProcessedAt), b.ID.Hex())
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
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

func (s *SQLiteStore) TransitionBatchStatus(ctx context.Context, id primitive.ObjectID, from []models.BatchStatus, to models.BatchStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := []any{string(to), at.UTC(), id.Hex()}
	for _, st := range from {
		args = append(args, string(st))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	res, err := s.q.ExecContext(ctx,
		`UPDATE batch_uploads SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update batch status: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) DeleteBatch(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM batch_uploads WHERE id = ?`, id.Hex())
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
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

// ---------------- BATCH ITEMS ----------------

const itemColumns = `id, batch_id, row_no, nickname, user_id, amount, case_key, case_title, case_month,
	status, case_id, contribution_id, error, created_at, updated_at`

func (s *SQLiteStore) ListBatchItems(ctx context.Context, batchID primitive.ObjectID) ([]models.BatchItem, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM batch_items WHERE batch_id = ? ORDER BY row_no`, batchID.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list batch items: %w", err)
	}
	defer rows.Close()

	var items []models.BatchItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) UpdateBatchItem(ctx context.Context, item *models.BatchItem) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE batch_items SET user_id = ?, status = ?, case_id = ?, contribution_id = ?, error = ?, updated_at = ?
		WHERE id = ?`,
		nullID(item.UserID), string(item.Status), nullID(item.CaseID), nullID(item.ContributionID),
		item.Error, item.UpdatedAt.UTC(), item.ID.Hex())
	if err != nil {
		return fmt.Errorf("failed to update batch item: %w", err)
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

func (s *SQLiteStore) SetNicknameMapping(ctx context.Context, batchID primitive.ObjectID, nickname string, userID *primitive.ObjectID, at time.Time) (int64, error) {
	status := models.ItemPending
	if userID != nil {
		status = models.ItemMapped
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE batch_items SET user_id = ?, status = ?, updated_at = ? WHERE batch_id = ? AND nickname = ?`,
		nullID(userID), string(status), at.UTC(), batchID.Hex(), nickname)
	if err != nil {
		return 0, fmt.Errorf("failed to map nickname: %w", err)
	}
	return rowsAffected(res)
}

func (s *SQLiteStore) ResetBatchItems(ctx context.Context, batchID primitive.ObjectID, at time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE batch_items SET user_id = NULL, case_id = NULL, contribution_id = NULL, error = '',
			status = ?, updated_at = ?
		WHERE batch_id = ?`,
		string(models.ItemPending), at.UTC(), batchID.Hex())
	if err != nil {
		return 0, fmt.Errorf("failed to reset batch items: %w", err)
	}
	return rowsAffected(res)
}

func scanItem(r rowScanner) (*models.BatchItem, error) {
	var (
		item                           models.BatchItem
		id, batchID, amount, status    string
		title, month, itemErr          sql.NullString
		userID, caseID, contributionID sql.NullString
	)
	if err := r.Scan(&id, &batchID, &item.RowNumber, &item.Nickname, &userID, &amount, &item.CaseKey,
		&title, &month, &status, &caseID, &contributionID, &itemErr, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if item.ID, err = parseID(id); err != nil {
		return nil, err
	}
	if item.BatchID, err = parseID(batchID); err != nil {
		return nil, err
	}
	if item.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	if item.UserID, err = parseNullID(userID); err != nil {
		return nil, err
	}
	if item.CaseID, err = parseNullID(caseID); err != nil {
		return nil, err
	}
	if item.ContributionID, err = parseNullID(contributionID); err != nil {
		return nil, err
	}
	item.CaseTitle = title.String
	item.CaseMonth = month.String
	item.Error = itemErr.String
	item.Status = models.ItemStatus(status)
	return &item, nil
}

// ---------------- NOTIFICATIONS ----------------

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	ensureID(&n.ID)
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, kind, title, message, contribution_id, case_id, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID.Hex(), n.UserID.Hex(), n.Kind, n.Title, n.Message, nullID(n.ContributionID),
		nullID(n.CaseID), n.Read, n.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, userID primitive.ObjectID, unreadOnly bool) ([]models.Notification, error) {
	query := `SELECT id, user_id, kind, title, message, contribution_id, case_id, is_read, created_at
		FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.q.QueryContext(ctx, query, userID.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var (
			n                      models.Notification
			id, uid                string
			contributionID, caseID sql.NullString
		)
		if err := rows.Scan(&id, &uid, &n.Kind, &n.Title, &n.Message, &contributionID, &caseID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if n.ID, err = parseID(id); err != nil {
			return nil, err
		}
		if n.UserID, err = parseID(uid); err != nil {
			return nil, err
		}
		if n.ContributionID, err = parseNullID(contributionID); err != nil {
			return nil, err
		}
		if n.CaseID, err = parseNullID(caseID); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id, userID primitive.ObjectID) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id.Hex(), userID.Hex())
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
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
