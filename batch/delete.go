package batch

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/apperrors"
	"github.com/phillip/case-funding-ledger/authz"
	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/store"
)

type DeleteResult struct {
	DeletedCases         int64 `json:"deleted_cases"`
	DeletedContributions int64 `json:"deleted_contributions"`
	ResetItems           int64 `json:"reset_items"`
}

// Delete removes everything a batch produced and the batch itself. The items
// stay behind, reset to pending, so the import data is not lost. All steps
// run in one store transaction.
func (p *Pipeline) Delete(ctx context.Context, auth authz.Context, batchID primitive.ObjectID) (*DeleteResult, error) {
	if !auth.IsAdmin() {
		return nil, apperrors.Forbidden("only administrators can delete batches")
	}
	b, err := p.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.BatchProcessing {
		return nil, apperrors.Validation("batch is being processed, repair it before deleting")
	}

	res := &DeleteResult{}
	now := p.now().UTC()
	err = p.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		if res.DeletedContributions, err = tx.DeleteContributionsByBatch(ctx, batchID); err != nil {
			return apperrors.Internal(err, "failed to delete batch contributions")
		}
		if res.DeletedCases, err = tx.DeleteCasesByBatch(ctx, batchID); err != nil {
			return apperrors.Internal(err, "failed to delete batch cases")
		}
		if res.ResetItems, err = tx.ResetBatchItems(ctx, batchID, now); err != nil {
			return apperrors.Internal(err, "failed to reset batch items")
		}
		if err := tx.DeleteBatch(ctx, batchID); err != nil {
			return apperrors.Internal(err, "failed to delete batch")
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to delete batch")
	}

	p.logger.Info("batch deleted",
		"batch_id", batchID.Hex(),
		"cases", res.DeletedCases,
		"contributions", res.DeletedContributions,
		"items", res.ResetItems)
	return res, nil
}
