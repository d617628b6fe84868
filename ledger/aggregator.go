package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/lock"
	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/store"
)

type Strategy string

const (
	// StrategyRecompute re-derives the total from the approved
	// contributions whenever a transition moves money.
	StrategyRecompute Strategy = "recompute"
	// StrategyDelta applies the transition delta to the stored total.
	StrategyDelta Strategy = "delta"
)

// ParseStrategy maps a configured strategy name to a Strategy, rejecting unknown names.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyRecompute, nil
	case StrategyRecompute, StrategyDelta:
		return st, nil
	}
	return "", fmt.Errorf("unknown aggregation strategy %q", s)
}

// Delta returns the change a transition applies to a case total. changed is
// false for transitions that leave the total alone.
func Delta(amount decimal.Decimal, previous, next models.ApprovalState) (delta decimal.Decimal, changed bool) {
	switch {
	case next == models.ApprovalApproved && previous != models.ApprovalApproved:
		return amount, true
	case previous == models.ApprovalApproved && next == models.ApprovalRejected:
		return amount.Neg(), true
	}
	return decimal.Zero, false
}

// Aggregator maintains Case.CurrentAmount. Every read-modify-write of a case
// total runs under the case lock.
type Aggregator struct {
	store    store.Store
	locker   lock.Locker
	strategy Strategy
	logger   *slog.Logger
	now      func() time.Time
}

func NewAggregator(s store.Store, l lock.Locker, strategy Strategy, logger *slog.Logger) *Aggregator {
	if l == nil {
		l = lock.NewKeyedMutex()
	}
	if strategy == "" {
		strategy = StrategyRecompute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, locker: l, strategy: strategy, logger: logger, now: time.Now}
}

func (a *Aggregator) Strategy() Strategy { return a.strategy }

// Reconcile applies the effect of one contribution moving from previous to
// next. Transitions that do not move money perform no write.
func (a *Aggregator) Reconcile(ctx context.Context, caseID primitive.ObjectID, amount decimal.Decimal, previous, next models.ApprovalState) error {
	delta, changed := Delta(amount, previous, next)
	if !changed {
		return nil
	}

	return a.withCase(ctx, caseID, func() error {
		if a.strategy == StrategyRecompute {
			_, err := a.recomputeLocked(ctx, caseID)
			return err
		}

		c, err := a.store.GetCase(ctx, caseID)
		if err != nil {
			return fmt.Errorf("failed to load case %s: %w", caseID.Hex(), err)
		}
		total := c.CurrentAmount.Add(delta)
		if total.IsNegative() {
			total = decimal.Zero
		}
		if err := a.store.UpdateCaseCurrentAmount(ctx, caseID, total, a.now().UTC()); err != nil {
			return fmt.Errorf("failed to update case %s: %w", caseID.Hex(), err)
		}
		a.logger.Debug("case total adjusted", "case_id", caseID.Hex(), "delta", delta.String(), "total", total.String())
		return nil
	})
}

// Recompute sets the case total to the sum of its approved contributions and
// returns it. Running it twice gives the same result.
func (a *Aggregator) Recompute(ctx context.Context, caseID primitive.ObjectID) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := a.withCase(ctx, caseID, func() error {
		var err error
		total, err = a.recomputeLocked(ctx, caseID)
		return err
	})
	return total, err
}

// SetProvisional overwrites the case total with an estimate that is not
// gated on approval. Batch imports use it until each contribution is
// reviewed.
func (a *Aggregator) SetProvisional(ctx context.Context, caseID primitive.ObjectID, amount decimal.Decimal) error {
	return a.withCase(ctx, caseID, func() error {
		if err := a.store.UpdateCaseCurrentAmount(ctx, caseID, amount, a.now().UTC()); err != nil {
			return fmt.Errorf("failed to set provisional total of case %s: %w", caseID.Hex(), err)
		}
		return nil
	})
}

func (a *Aggregator) recomputeLocked(ctx context.Context, caseID primitive.ObjectID) (decimal.Decimal, error) {
	contributions, err := a.store.ListContributionsByCase(ctx, caseID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to list contributions of case %s: %w", caseID.Hex(), err)
	}
	total := store.SumApproved(contributions)
	if err := a.store.UpdateCaseCurrentAmount(ctx, caseID, total, a.now().UTC()); err != nil {
		return decimal.Zero, fmt.Errorf("failed to update case %s: %w", caseID.Hex(), err)
	}
	a.logger.Debug("case total recomputed", "case_id", caseID.Hex(), "total", total.String())
	return total, nil
}

func (a *Aggregator) withCase(ctx context.Context, caseID primitive.ObjectID, fn func() error) error {
	unlock, err := a.locker.Lock(ctx, "case:"+caseID.Hex())
	if err != nil {
		return fmt.Errorf("failed to lock case %s: %w", caseID.Hex(), err)
	}
	defer unlock()
	return fn()
}
