package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/apperrors"
	"github.com/phillip/case-funding-ledger/authz"
	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/store"
)

const errItemNotMapped = "item not mapped to a user"

var startable = []models.BatchStatus{models.BatchPending, models.BatchFailed}

type ProcessResult struct {
	BatchID      primitive.ObjectID `json:"batch_id"`
	Status       models.BatchStatus `json:"status"`
	Processed    int                `json:"processed"`
	Successful   int                `json:"successful"`
	Failed       int                `json:"failed"`
	CasesCreated int                `json:"cases_created"`
	Errors       []models.ItemError `json:"errors"`
}

type group struct {
	key   string
	items []*models.BatchItem
}

// groupItems groups items by case key in order of first appearance. Items
// keep their row order within a group.
func groupItems(items []models.BatchItem) []*group {
	var groups []*group
	byKey := map[string]*group{}
	for i := range items {
		item := &items[i]
		g, ok := byKey[item.CaseKey]
		if !ok {
			g = &group{key: item.CaseKey}
			byKey[item.CaseKey] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}
	return groups
}

// Process creates a case per case key and a pending contribution per item.
// It works from item state alone: items that already have a contribution are
// skipped and cases recorded on items are reused, so a failed batch can be
// processed again without duplicating anything.
func (p *Pipeline) Process(ctx context.Context, auth authz.Context, batchID primitive.ObjectID) (*ProcessResult, error) {
	if !auth.IsAdmin() {
		return nil, apperrors.Forbidden("only administrators can process batches")
	}
	b, err := p.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BatchProcessing || b.Status == models.BatchCompleted {
		return nil, apperrors.Validation("batch is already %s", b.Status)
	}

	pm, err := p.store.GetPaymentMethodByCode(ctx, p.cfg.DefaultPaymentMethod)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Configuration("default payment method %q is not configured", p.cfg.DefaultPaymentMethod)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load default payment method")
	}

	prev := b.Status
	// Claim the batch before reading its items so that concurrent calls
	// cannot both work from the same item state.
	started := p.now().UTC()
	ok, err := p.store.TransitionBatchStatus(ctx, batchID, startable, models.BatchProcessing, started)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to mark batch processing")
	}
	if !ok {
		return nil, apperrors.Validation("batch is already being processed")
	}
	b.Status = models.BatchProcessing
	b.UpdatedAt = started

	items, err := p.store.ListBatchItems(ctx, batchID)
	if err != nil {
		p.release(ctx, b, prev)
		return nil, apperrors.Internal(err, "failed to load batch items")
	}

	unmapped := 0
	for i := range items {
		if !items[i].Done() && items[i].UserID == nil {
			unmapped++
		}
	}
	if unmapped > 0 {
		p.release(ctx, b, models.BatchPending)
		return nil, apperrors.Validation("%d item(s) are not mapped to a user", unmapped)
	}

	run := &processRun{
		pipeline: p,
		batch:    b,
		pm:       pm,
		total:    len(items),
		lastBeat: started,
		result:   &ProcessResult{BatchID: batchID, Errors: []models.ItemError{}},
	}
	for _, g := range groupItems(items) {
		if !run.alive(ctx) {
			break
		}
		run.processGroup(ctx, g)
	}
	if run.lost {
		p.logger.Warn("batch run abandoned, the batch left processing while it ran",
			"batch_id", batchID.Hex(), "items_done", run.done)
		return nil, apperrors.Validation("batch stopped being processed before the run finished")
	}

	res := run.result
	for i := range items {
		if items[i].Done() {
			res.Successful++
		} else {
			res.Failed++
		}
	}
	res.Processed = res.Successful + res.Failed
	res.Status = models.BatchFailed
	if res.Successful > 0 {
		res.Status = models.BatchCompleted
	}

	now := p.now().UTC()
	b.Status = res.Status
	b.ProcessedItems = res.Processed
	b.SuccessfulItems = res.Successful
	b.FailedItems = res.Failed
	b.Errors = res.Errors
	b.ProcessedAt = &now
	b.UpdatedAt = now
	if err := p.store.UpdateBatch(ctx, b); err != nil {
		return nil, apperrors.Internal(err, "failed to store batch result")
	}

	p.logger.Info("batch processed",
		"batch_id", batchID.Hex(),
		"status", res.Status,
		"successful", res.Successful,
		"failed", res.Failed,
		"cases_created", res.CasesCreated)
	return res, nil
}

// release hands a batch this call claimed back with the given status.
func (p *Pipeline) release(ctx context.Context, b *models.BatchUpload, status models.BatchStatus) {
	now := p.now().UTC()
	ok, err := p.store.TransitionBatchStatus(ctx, b.ID, []models.BatchStatus{models.BatchProcessing}, status, now)
	if err != nil || !ok {
		p.logger.Warn("failed to release batch", "batch_id", b.ID.Hex(), "status", status, "error", err)
		return
	}
	b.Status = status
	b.UpdatedAt = now
}

type processRun struct {
	pipeline *Pipeline
	batch    *models.BatchUpload
	pm       *models.PaymentMethod
	total    int
	done     int
	lastBeat time.Time
	lost     bool
	result   *ProcessResult
}

// alive renews the processing lease when a heartbeat is due. It reports
// false once the batch has left processing, for example after a repair, and
// the run must then stop touching it.
func (r *processRun) alive(ctx context.Context) bool {
	if r.lost {
		return false
	}
	p := r.pipeline
	now := p.now().UTC()
	if now.Sub(r.lastBeat) < p.heartbeat {
		return true
	}
	ok, err := p.store.TransitionBatchStatus(ctx, r.batch.ID,
		[]models.BatchStatus{models.BatchProcessing}, models.BatchProcessing, now)
	if err != nil {
		p.logger.Warn("failed to renew batch lease", "batch_id", r.batch.ID.Hex(), "error", err)
		return true
	}
	if !ok {
		r.lost = true
		return false
	}
	r.lastBeat = now
	r.batch.UpdatedAt = now
	return true
}

func (r *processRun) processGroup(ctx context.Context, g *group) {
	p := r.pipeline

	caseID, err := r.ensureCase(ctx, g)
	if err != nil {
		p.logger.Warn("batch group failed", "batch_id", r.batch.ID.Hex(), "case_key", g.key, "error", err)
		for _, item := range g.items {
			if !item.Done() {
				r.fail(ctx, item, fmt.Sprintf("failed to create case: %v", err))
			} else {
				r.step()
			}
		}
		return
	}

	provisional := decimal.Zero
	for _, item := range g.items {
		if item.Done() {
			provisional = provisional.Add(item.Amount)
			r.step()
			continue
		}
		if item.UserID == nil {
			r.fail(ctx, item, errItemNotMapped)
			continue
		}
		if !r.alive(ctx) {
			break
		}
		if err := r.createContribution(ctx, item, caseID); err != nil {
			r.fail(ctx, item, describe(err))
			continue
		}
		provisional = provisional.Add(item.Amount)
		r.step()
	}

	if r.lost {
		return
	}
	if err := p.ledger.Aggregator().SetProvisional(ctx, caseID, provisional); err != nil {
		p.logger.Warn("failed to set provisional case total",
			"batch_id", r.batch.ID.Hex(), "case_id", caseID.Hex(), "error", err)
	}
}

// ensureCase returns the case the group's items point at, creating it when
// none of them has one yet. Every item ends up referencing the case.
func (r *processRun) ensureCase(ctx context.Context, g *group) (primitive.ObjectID, error) {
	p := r.pipeline
	now := p.now().UTC()

	var caseID primitive.ObjectID
	for _, item := range g.items {
		if item.CaseID == nil {
			continue
		}
		if _, err := p.store.GetCase(ctx, *item.CaseID); err == nil {
			caseID = *item.CaseID
			break
		} else if !errors.Is(err, store.ErrNotFound) {
			return primitive.NilObjectID, err
		}
	}

	if caseID.IsZero() {
		first := g.items[0]
		title := first.CaseTitle
		if title == "" {
			title = "Case " + g.key
		}
		target := decimal.Zero
		for _, item := range g.items {
			target = target.Add(item.Amount)
		}
		batchID := r.batch.ID
		c := &models.Case{
			Title:         models.LocalizedText{EN: title},
			TargetAmount:  target,
			CurrentAmount: decimal.Zero,
			Status:        models.CasePublished,
			BatchID:       &batchID,
			CreatedBy:     r.batch.CreatedBy,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if month := strings.TrimSpace(first.CaseMonth); month != "" {
			c.Description = models.LocalizedText{EN: "Month: " + month}
		}
		if err := p.store.CreateCase(ctx, c); err != nil {
			return primitive.NilObjectID, err
		}
		caseID = c.ID
		r.result.CasesCreated++
	}

	for _, item := range g.items {
		if item.CaseID != nil && *item.CaseID == caseID {
			continue
		}
		id := caseID
		item.CaseID = &id
		if !item.Done() {
			item.Status = models.ItemCaseCreated
			item.Error = ""
		}
		item.UpdatedAt = now
		if err := p.store.UpdateBatchItem(ctx, item); err != nil {
			return primitive.NilObjectID, err
		}
	}
	return caseID, nil
}

func (r *processRun) createContribution(ctx context.Context, item *models.BatchItem, caseID primitive.ObjectID) error {
	p := r.pipeline
	batchID := r.batch.ID
	userID := *item.UserID
	contribution := &models.Contribution{
		CaseID:          caseID,
		DonorID:         &userID,
		Amount:          item.Amount,
		PaymentMethodID: r.pm.ID,
		Notes:           fmt.Sprintf("Imported from batch %q row %d", r.batch.Name, item.RowNumber),
		BatchID:         &batchID,
	}

	updated := *item
	err := p.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		if err := p.ledger.CreatePending(ctx, tx, contribution); err != nil {
			return err
		}
		id := contribution.ID
		updated.ContributionID = &id
		updated.Status = models.ItemContributionCreated
		updated.Error = ""
		updated.UpdatedAt = p.now().UTC()
		return tx.UpdateBatchItem(ctx, &updated)
	})
	if err != nil {
		return err
	}
	*item = updated
	return nil
}

func describe(err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		if appErr.Err != nil {
			return appErr.Message + ": " + appErr.Err.Error()
		}
		return appErr.Message
	}
	return err.Error()
}

func (r *processRun) fail(ctx context.Context, item *models.BatchItem, msg string) {
	p := r.pipeline
	item.Status = models.ItemFailed
	item.Error = msg
	item.UpdatedAt = p.now().UTC()
	if err := p.store.UpdateBatchItem(ctx, item); err != nil {
		p.logger.Warn("failed to record item failure", "item_id", item.ID.Hex(), "error", err)
	}
	r.result.Errors = append(r.result.Errors, models.ItemError{ItemID: item.ID, RowNumber: item.RowNumber, Error: msg})
	r.step()
}

func (r *processRun) step() {
	r.done++
	if fn := r.pipeline.cfg.Progress; fn != nil {
		fn(r.done, r.total)
	}
}
