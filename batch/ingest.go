package batch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/phillip/case-funding-ledger/apperrors"
	"github.com/phillip/case-funding-ledger/authz"
	"github.com/phillip/case-funding-ledger/models"
)

const maxImportBytes = 10 << 20

var columnAliases = map[string]string{
	"nickname":    "nickname",
	"donor":       "nickname",
	"amount":      "amount",
	"case_key":    "case_key",
	"case_number": "case_key",
	"case_title":  "case_title",
	"title":       "case_title",
	"month":       "month",
}

// ParseCSV reads import rows. The header row names the columns; nickname,
// amount and case_key are required, case_title and month are optional and
// unknown columns are ignored. Row numbers start at 1 with the first data
// row.
func ParseCSV(r io.Reader) ([]models.BatchItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.Validation("import file is empty")
	}
	if err != nil {
		return nil, apperrors.Validation("invalid CSV header: %v", err)
	}

	cols := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if canonical, ok := columnAliases[name]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}
	for _, required := range []string{"nickname", "amount", "case_key"} {
		if _, ok := cols[required]; !ok {
			return nil, apperrors.Validation("missing required column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var items []models.BatchItem
	row := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.Validation("invalid CSV: %v", err)
		}
		if blank(rec) {
			continue
		}
		row++

		item := models.BatchItem{
			RowNumber: row,
			Nickname:  field(rec, "nickname"),
			CaseKey:   field(rec, "case_key"),
			CaseTitle: field(rec, "case_title"),
			CaseMonth: field(rec, "month"),
			Status:    models.ItemPending,
		}
		if item.Nickname == "" {
			return nil, apperrors.Validation("row %d: nickname is required", row)
		}
		if item.CaseKey == "" {
			return nil, apperrors.Validation("row %d: case key is required", row)
		}
		raw := strings.ReplaceAll(field(rec, "amount"), ",", "")
		amount, err := decimal.NewFromString(raw)
		if err != nil || !amount.IsPositive() {
			return nil, apperrors.Validation("row %d: invalid amount %q", row, field(rec, "amount"))
		}
		item.Amount = amount
		items = append(items, item)
	}

	if len(items) == 0 {
		return nil, apperrors.Validation("import file has no rows")
	}
	return items, nil
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// Ingest stores a new pending batch built from a CSV import.
func (p *Pipeline) Ingest(ctx context.Context, auth authz.Context, name string, src io.Reader) (*models.BatchUpload, []models.BatchItem, error) {
	if !auth.IsAdmin() {
		return nil, nil, apperrors.Forbidden("only administrators can upload batches")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, apperrors.Validation("batch name is required")
	}

	data, err := io.ReadAll(io.LimitReader(src, maxImportBytes+1))
	if err != nil {
		return nil, nil, apperrors.Internal(err, "failed to read import file")
	}
	if len(data) > maxImportBytes {
		return nil, nil, apperrors.Validation("import file exceeds %d bytes", maxImportBytes)
	}

	items, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, nil, err
	}

	now := p.now().UTC()
	b := &models.BatchUpload{
		Name:       name,
		Status:     models.BatchPending,
		TotalItems: len(items),
		CreatedBy:  auth.AdminID(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := range items {
		items[i].CreatedAt = now
		items[i].UpdatedAt = now
	}

	if p.cfg.Archiver != nil {
		ref, err := p.cfg.Archiver.Archive(ctx, fmt.Sprintf("%s-%d.csv", name, now.Unix()), data)
		if err != nil {
			p.logger.Warn("failed to archive batch source", "batch", name, "error", err)
		} else {
			b.SourceRef = ref
		}
	}

	if err := p.store.CreateBatch(ctx, b, items); err != nil {
		return nil, nil, apperrors.Internal(err, "failed to store batch")
	}
	p.logger.Info("batch ingested", "batch_id", b.ID.Hex(), "items", len(items))
	return b, items, nil
}
