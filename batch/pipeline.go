// Package batch turns bulk contribution imports into cases and pending
// contributions, and undoes them again.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/apperrors"
	"github.com/phillip/case-funding-ledger/authz"
	"github.com/phillip/case-funding-ledger/ledger"
	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/store"
)

const (
	DefaultPaymentMethodCode = "cash"
	// DefaultStaleAfter is how long a processing batch may go without a
	// heartbeat before Repair treats its run as dead.
	DefaultStaleAfter = 15 * time.Minute
)

// Archiver keeps a copy of an uploaded import file and returns a reference
// to it.
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte) (string, error)
}

type Config struct {
	// DefaultPaymentMethod is the payment method code imported
	// contributions are recorded with.
	DefaultPaymentMethod string
	Archiver             Archiver
	// StaleAfter is the processing lease. A running Process refreshes the
	// batch's updated_at well within it.
	StaleAfter           time.Duration
	// Progress is called after every item Process handles.
	Progress             func(done, total int)
}

type Pipeline struct {
	store     store.Store
	ledger    *ledger.Service
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	heartbeat time.Duration
}

func NewPipeline(s store.Store, l *ledger.Service, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.DefaultPaymentMethod == "" {
		cfg.DefaultPaymentMethod = DefaultPaymentMethodCode
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     s,
		ledger:    l,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		heartbeat: cfg.StaleAfter / 3,
	}
}

// SetProgress replaces the progress callback.
func (p *Pipeline) SetProgress(fn func(done, total int)) {
	p.cfg.Progress = fn
}

// Get returns a batch with its items in row order.
func (p *Pipeline) Get(ctx context.Context, auth authz.Context, batchID primitive.ObjectID) (*models.BatchUpload, []models.BatchItem, error) {
	if !auth.IsAdmin() {
		return nil, nil, apperrors.Forbidden("only administrators can view batch uploads")
	}
	b, err := p.loadBatch(ctx, batchID)
	if err != nil {
		return nil, nil, err
	}
	items, err := p.store.ListBatchItems(ctx, batchID)
	if err != nil {
		return nil, nil, apperrors.Internal(err, "failed to load batch items")
	}
	return b, items, nil
}

// Repair moves a batch left in processing by an interrupted call to failed,
// from where Process can resume it. A batch whose lease is still fresh may
// belong to a live run and is refused.
func (p *Pipeline) Repair(ctx context.Context, auth authz.Context, batchID primitive.ObjectID) (*models.BatchUpload, error) {
	if !auth.IsAdmin() {
		return nil, apperrors.Forbidden("only administrators can repair batch uploads")
	}
	b, err := p.loadBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BatchProcessing {
		return nil, apperrors.Validation("only a batch stuck in processing can be repaired, this one is %s", b.Status)
	}
	now := p.now().UTC()
	if idle := now.Sub(b.UpdatedAt); idle < p.cfg.StaleAfter {
		return nil, apperrors.Validation("batch was active %s ago and may still be processing, retry after %s",
			idle.Truncate(time.Second), p.cfg.StaleAfter)
	}

	ok, err := p.store.TransitionBatchStatus(ctx, batchID,
		[]models.BatchStatus{models.BatchProcessing}, models.BatchFailed, now)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to repair batch")
	}
	if !ok {
		return nil, apperrors.Validation("batch changed while being repaired")
	}
	b.Status = models.BatchFailed
	b.UpdatedAt = now
	p.logger.Info("batch repaired", "batch_id", batchID.Hex())
	return b, nil
}

func (p *Pipeline) loadBatch(ctx context.Context, batchID primitive.ObjectID) (*models.BatchUpload, error) {
	b, err := p.store.GetBatch(ctx, batchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound("batch %s not found", batchID.Hex())
	}
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load batch")
	}
	return b, nil
}

func asAppError(err error, msg string) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(err, "%s", msg)
}
