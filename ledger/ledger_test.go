package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/apperrors"
	"github.com/phillip/case-funding-ledger/authz"
	"github.com/phillip/case-funding-ledger/lock"
	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/notify"
	"github.com/phillip/case-funding-ledger/store"
	"github.com/phillip/case-funding-ledger/store/storetest"
)

type recordingNotifier struct {
	mu            sync.Mutex
	approvals     []notify.Notice
	rejections    []notify.Notice
	resubmissions [][]models.User
	err           error
}

func (r *recordingNotifier) NotifyApproval(_ context.Context, n notify.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvals = append(r.approvals, n)
	return r.err
}

func (r *recordingNotifier) NotifyRejection(_ context.Context, n notify.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections = append(r.rejections, n)
	return r.err
}

func (r *recordingNotifier) NotifyResubmission(_ context.Context, admins []models.User, _ notify.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resubmissions = append(r.resubmissions, admins)
	return r.err
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("lock backend unavailable")
}

type fixture struct {
	store    *store.SQLiteStore
	svc      *Service
	notifier *recordingNotifier
	admin    authz.Context
	donor    authz.Context
	donorID  primitive.ObjectID
	pm       *models.PaymentMethod
}

func newFixture(t *testing.T, strategy Strategy) *fixture {
	t.Helper()
	s := storetest.NewSQLite(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	n := &recordingNotifier{}
	agg := NewAggregator(s, lock.NewKeyedMutex(), strategy, logger)

	admin := storetest.User(t, s, "admin", models.RoleAdmin)
	donor := storetest.User(t, s, "donor", models.RoleDonor)
	return &fixture{
		store:    s,
		svc:      NewService(s, agg, n, logger),
		notifier: n,
		admin:    authz.Admin(admin.ID),
		donor:    authz.Donor(donor.ID),
		donorID:  donor.ID,
		pm:       storetest.PaymentMethod(t, s, "cash"),
	}
}

func (f *fixture) contribution(t *testing.T, c *models.Case, amount string) *models.Contribution {
	t.Helper()
	return storetest.Contribution(t, f.store, c.ID, &f.donorID, f.pm.ID, amount)
}

func (f *fixture) currentAmount(t *testing.T, caseID primitive.ObjectID) string {
	t.Helper()
	c, err := f.store.GetCase(context.Background(), caseID)
	require.NoError(t, err)
	return c.CurrentAmount.String()
}

func (f *fixture) assertInvariant(t *testing.T, caseID primitive.ObjectID) {
	t.Helper()
	ctx := context.Background()
	contributions, err := f.store.ListContributionsByCase(ctx, caseID)
	require.NoError(t, err)

	want := decimal.Zero
	for _, c := range contributions {
		a, err := f.store.GetApproval(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, a.Status, c.Status, "contribution status mirrors its approval")
		if a.Status == models.ApprovalApproved {
			want = want.Add(c.Amount)
		}
	}
	assert.Equal(t, want.String(), f.currentAmount(t, caseID))
}

var strategies = []Strategy{StrategyRecompute, StrategyDelta}

func TestApproveThenRejectAdjustsCaseTotal(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			f := newFixture(t, strategy)
			ctx := context.Background()
			c := storetest.Case(t, f.store, "Surgery", "500")
			contrib := f.contribution(t, c, "100")

			out, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "approved"})
			require.NoError(t, err)
			assert.False(t, out.Degraded())
			assert.Equal(t, models.ApprovalPending, out.Previous)
			assert.Equal(t, "100", f.currentAmount(t, c.ID))

			out, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "bounced"})
			require.NoError(t, err)
			assert.Equal(t, models.ApprovalApproved, out.Previous)
			assert.Equal(t, "0", f.currentAmount(t, c.ID))

			approval, err := f.store.GetApproval(ctx, contrib.ID)
			require.NoError(t, err)
			assert.Equal(t, "bounced", approval.RejectionReason)
			require.NotNil(t, approval.AdminID)
			assert.Equal(t, f.admin.CallerID, *approval.AdminID)

			assert.Len(t, f.notifier.approvals, 1)
			require.Len(t, f.notifier.rejections, 1)
			assert.Equal(t, "Surgery", f.notifier.rejections[0].CaseTitle)
		})
	}
}

func TestRejectThenResubmit(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "School fees", "50")
	contrib := f.contribution(t, c, "50")

	_, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "approved"})
	require.NoError(t, err)
	assert.Equal(t, "50", f.currentAmount(t, c.ID))

	out, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "wrong account"})
	require.NoError(t, err)
	assert.Equal(t, "0", f.currentAmount(t, c.ID))
	assert.Equal(t, 0, out.Approval.ResubmissionCount, "rejecting does not count as a resubmission")

	out, err = f.svc.Resubmit(ctx, f.donor, contrib.ID, "fixed proof")
	require.NoError(t, err)
	assert.False(t, out.Degraded())
	assert.Equal(t, models.ApprovalRejected, out.Previous)
	assert.Equal(t, models.ApprovalPending, out.Approval.Status)
	assert.Equal(t, 1, out.Approval.ResubmissionCount)
	assert.Equal(t, "fixed proof", out.Approval.DonorReply)
	assert.NotNil(t, out.Approval.DonorReplyAt)
	assert.Equal(t, "0", f.currentAmount(t, c.ID))

	mirrored, err := f.store.GetContribution(ctx, contrib.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, mirrored.Status)

	require.Len(t, f.notifier.resubmissions, 1)
	require.Len(t, f.notifier.resubmissions[0], 1)
	assert.Equal(t, f.admin.CallerID, f.notifier.resubmissions[0][0].ID)
}

func TestRepeatedDecisionDoesNotDoubleCount(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			f := newFixture(t, strategy)
			ctx := context.Background()
			c := storetest.Case(t, f.store, "Roof", "1000")
			contrib := f.contribution(t, c, "100")

			for i := 0; i < 3; i++ {
				_, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "approved"})
				require.NoError(t, err)
				assert.Equal(t, "100", f.currentAmount(t, c.ID))
			}
			assert.Len(t, f.notifier.approvals, 1, "only entering approved notifies")

			for i := 0; i < 2; i++ {
				_, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "dup"})
				require.NoError(t, err)
				assert.Equal(t, "0", f.currentAmount(t, c.ID))
			}
		})
	}
}

func TestResubmissionCountIsMonotonic(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Rent", "300")
	contrib := f.contribution(t, c, "75")

	last := 0
	for cycle := 1; cycle <= 3; cycle++ {
		_, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "unclear"})
		require.NoError(t, err)
		a, err := f.store.GetApproval(ctx, contrib.ID)
		require.NoError(t, err)
		assert.Equal(t, last, a.ResubmissionCount)

		out, err := f.svc.Resubmit(ctx, f.donor, contrib.ID, fmt.Sprintf("attempt %d", cycle))
		require.NoError(t, err)
		assert.Equal(t, last+1, out.Approval.ResubmissionCount)
		last = out.Approval.ResubmissionCount
	}
	assert.Equal(t, 3, last)
}

func TestInvariantHoldsAcrossMixedDecisions(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			f := newFixture(t, strategy)
			ctx := context.Background()
			c := storetest.Case(t, f.store, "Clinic", "10000")
			a := f.contribution(t, c, "10.10")
			b := f.contribution(t, c, "20.20")
			d := f.contribution(t, c, "0.70")

			steps := []struct {
				id     primitive.ObjectID
				status string
			}{
				{a.ID, "approved"},
				{b.ID, "rejected"},
				{d.ID, "approved"},
				{a.ID, "rejected"},
				{b.ID, "approved"},
				{a.ID, "acknowledged"},
				{a.ID, "approved"},
				{d.ID, "approved"},
			}
			for _, step := range steps {
				_, err := f.svc.SubmitDecision(ctx, f.admin, step.id, Decision{Status: step.status, RejectionReason: "check"})
				require.NoError(t, err, "%s -> %s", step.id.Hex(), step.status)
				f.assertInvariant(t, c.ID)
			}
			assert.Equal(t, "31", f.currentAmount(t, c.ID))
		})
	}
}

func TestConcurrentApprovalsOnOneCase(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(string(strategy), func(t *testing.T) {
			f := newFixture(t, strategy)
			ctx := context.Background()
			c := storetest.Case(t, f.store, "Well", "10000")

			var ids []primitive.ObjectID
			for i := 0; i < 8; i++ {
				ids = append(ids, f.contribution(t, c, "12.5").ID)
			}

			var wg sync.WaitGroup
			for _, id := range ids {
				wg.Add(1)
				go func(id primitive.ObjectID) {
					defer wg.Done()
					_, err := f.svc.SubmitDecision(ctx, f.admin, id, Decision{Status: "approved"})
					assert.NoError(t, err)
				}(id)
			}
			wg.Wait()

			assert.Equal(t, "100", f.currentAmount(t, c.ID))
			f.assertInvariant(t, c.ID)
		})
	}
}

func TestDeltaStrategyFloorsAtZero(t *testing.T) {
	f := newFixture(t, StrategyDelta)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Food", "500")
	contrib := f.contribution(t, c, "100")

	_, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "approved"})
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateCaseCurrentAmount(ctx, c.ID, decimal.NewFromInt(40), time.Now()))

	_, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "void"})
	require.NoError(t, err)
	assert.Equal(t, "0", f.currentAmount(t, c.ID))
}

func TestSubmitDecisionValidation(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Case", "100")
	contrib := f.contribution(t, c, "10")

	_, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "paid"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "  "})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.SubmitDecision(ctx, f.admin, primitive.NewObjectID(), Decision{Status: "approved"})
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	_, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "approved"})
	require.NoError(t, err)

	_, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "acknowledged"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation), "approved contributions cannot be acknowledged")
	_, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "pending"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "no"})
	require.NoError(t, err)
	_, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "pending"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.Contains(t, apperrors.Message(err), "resubmission")

	a, err := f.store.GetApproval(ctx, contrib.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, a.Status, "failed decisions leave no partial writes")
}

func TestSubmitDecisionAuthorization(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Case", "100")
	contrib := f.contribution(t, c, "10")
	stranger := authz.Donor(primitive.NewObjectID())

	_, err := f.svc.SubmitDecision(ctx, f.donor, contrib.ID, Decision{Status: "approved"})
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))
	_, err = f.svc.SubmitDecision(ctx, authz.Context{}, contrib.ID, Decision{Status: "approved"})
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	_, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "blurry"})
	require.NoError(t, err)

	_, err = f.svc.SubmitDecision(ctx, stranger, contrib.ID, Decision{Status: "acknowledged"})
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	out, err := f.svc.SubmitDecision(ctx, f.donor, contrib.ID, Decision{Status: "acknowledged", DonorReply: "seen"})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalAcknowledged, out.Approval.Status)
	assert.Equal(t, "seen", out.Approval.DonorReply)
	assert.Equal(t, "blurry", out.Approval.RejectionReason)
	require.NotNil(t, out.Approval.AdminID)
	assert.Equal(t, f.admin.CallerID, *out.Approval.AdminID, "donor acknowledgement keeps the reviewer")
	assert.Equal(t, "0", f.currentAmount(t, c.ID))
}

func TestResubmitErrors(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Case", "100")
	contrib := f.contribution(t, c, "10")

	_, err := f.svc.Resubmit(ctx, f.donor, primitive.NewObjectID(), "hi")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	_, err = f.svc.Resubmit(ctx, f.admin, contrib.ID, "hi")
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	_, err = f.svc.Resubmit(ctx, f.donor, contrib.ID, "   ")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.Resubmit(ctx, f.donor, contrib.ID, "please review")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.Equal(t, "only rejected contributions can be resubmitted", apperrors.Message(err))

	anon := storetest.Contribution(t, f.store, c.ID, nil, f.pm.ID, "5")
	_, err = f.svc.Resubmit(ctx, f.donor, anon.ID, "mine")
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden), "anonymous contributions belong to nobody")
}

func TestSideEffectFailuresDegradeOutcome(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Case", "100")
	contrib := f.contribution(t, c, "10")
	f.notifier.err = errors.New("smtp down")

	out, err := f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "approved"})
	require.NoError(t, err)
	assert.True(t, out.Degraded())
	assert.Equal(t, []string{StepNotify}, out.FailedSteps())
	assert.Equal(t, "10", f.currentAmount(t, c.ID))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc.aggregator = NewAggregator(f.store, failingLocker{}, StrategyRecompute, logger)
	f.notifier.err = nil

	out, err = f.svc.SubmitDecision(ctx, f.admin, contrib.ID, Decision{Status: "rejected", RejectionReason: "fraud"})
	require.NoError(t, err, "the approval write stands")
	assert.Equal(t, []string{StepAggregate}, out.FailedSteps())

	a, err := f.store.GetApproval(ctx, contrib.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, a.Status)
	assert.Equal(t, "10", f.currentAmount(t, c.ID), "total is stale until recomputed")

	total, err := f.svc.RecomputeCase(ctx, f.admin, c.ID)
	assert.Error(t, err)
	assert.True(t, total.IsZero())

	f.svc.aggregator = NewAggregator(f.store, lock.NewKeyedMutex(), StrategyRecompute, logger)
	total, err = f.svc.RecomputeCase(ctx, f.admin, c.ID)
	require.NoError(t, err)
	assert.True(t, total.IsZero())
	assert.Equal(t, "0", f.currentAmount(t, c.ID))
}

func TestAnonymousContributionSkipsNotification(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Case", "100")
	anon := storetest.Contribution(t, f.store, c.ID, nil, f.pm.ID, "5")

	_, err := f.svc.SubmitDecision(ctx, f.admin, anon.ID, Decision{Status: "approved"})
	require.NoError(t, err)
	assert.Empty(t, f.notifier.approvals)
	assert.Equal(t, "5", f.currentAmount(t, c.ID))
}

func TestMissingApprovalRecordIsCreated(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Legacy", "100")
	legacy := &models.Contribution{
		CaseID:          c.ID,
		DonorID:         &f.donorID,
		Amount:          decimal.NewFromInt(25),
		PaymentMethodID: f.pm.ID,
		Status:          models.ApprovalPending,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	require.NoError(t, f.store.CreateContribution(ctx, legacy))

	_, a, err := f.svc.Get(ctx, f.admin, legacy.ID)
	require.NoError(t, err)
	assert.Nil(t, a)

	out, err := f.svc.SubmitDecision(ctx, f.admin, legacy.ID, Decision{Status: "approved", AdminComment: "ok"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Approval.ResubmissionCount)
	assert.Equal(t, "ok", out.Approval.AdminComment)
	assert.Equal(t, "25", f.currentAmount(t, c.ID))
}

func TestCreateContribution(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Case", "100")

	created, err := f.svc.CreateContribution(ctx, f.donor, NewContribution{
		CaseID:          c.ID,
		Amount:          decimal.RequireFromString("15.25"),
		PaymentMethodID: f.pm.ID,
		Notes:           " cash at office ",
	})
	require.NoError(t, err)
	require.NotNil(t, created.DonorID)
	assert.Equal(t, f.donorID, *created.DonorID)
	assert.Equal(t, "cash at office", created.Notes)

	got, a, err := f.svc.Get(ctx, f.donor, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, got.Status)
	require.NotNil(t, a)
	assert.Equal(t, models.ApprovalPending, a.Status)

	_, _, err = f.svc.Get(ctx, authz.Donor(primitive.NewObjectID()), created.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	anon, err := f.svc.CreateContribution(ctx, f.donor, NewContribution{
		CaseID: c.ID, Amount: decimal.NewFromInt(1), PaymentMethodID: f.pm.ID, Anonymous: true,
	})
	require.NoError(t, err)
	assert.Nil(t, anon.DonorID)

	other := primitive.NewObjectID()
	_, err = f.svc.CreateContribution(ctx, f.donor, NewContribution{
		CaseID: c.ID, Amount: decimal.NewFromInt(1), PaymentMethodID: f.pm.ID, DonorID: &other,
	})
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	onBehalf, err := f.svc.CreateContribution(ctx, f.admin, NewContribution{
		CaseID: c.ID, Amount: decimal.NewFromInt(1), PaymentMethodID: f.pm.ID, DonorID: &f.donorID, RevisionOf: &created.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, f.donorID, *onBehalf.DonorID)
	assert.Equal(t, created.ID, *onBehalf.RevisionOf)
}

func TestCreateContributionValidation(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	ctx := context.Background()
	c := storetest.Case(t, f.store, "Case", "100")
	closed := &models.Case{Title: models.LocalizedText{EN: "Done"}, Status: models.CaseClosed, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, f.store.CreateCase(ctx, closed))
	missing := primitive.NewObjectID()

	tests := []struct {
		name string
		in   NewContribution
		kind apperrors.Kind
	}{
		{"zero amount", NewContribution{CaseID: c.ID, PaymentMethodID: f.pm.ID}, apperrors.KindValidation},
		{"negative amount", NewContribution{CaseID: c.ID, Amount: decimal.NewFromInt(-1), PaymentMethodID: f.pm.ID}, apperrors.KindValidation},
		{"unknown case", NewContribution{CaseID: missing, Amount: decimal.NewFromInt(1), PaymentMethodID: f.pm.ID}, apperrors.KindNotFound},
		{"closed case", NewContribution{CaseID: closed.ID, Amount: decimal.NewFromInt(1), PaymentMethodID: f.pm.ID}, apperrors.KindValidation},
		{"unknown payment method", NewContribution{CaseID: c.ID, Amount: decimal.NewFromInt(1), PaymentMethodID: missing}, apperrors.KindValidation},
		{"unknown revision", NewContribution{CaseID: c.ID, Amount: decimal.NewFromInt(1), PaymentMethodID: f.pm.ID, RevisionOf: &missing}, apperrors.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateContribution(ctx, f.donor, tt.in)
			assert.Equal(t, tt.kind, apperrors.KindOf(err))
		})
	}
}

func TestRecomputeCaseRequiresAdmin(t *testing.T) {
	f := newFixture(t, StrategyRecompute)
	c := storetest.Case(t, f.store, "Case", "100")

	_, err := f.svc.RecomputeCase(context.Background(), f.donor, c.ID)
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))
	_, err = f.svc.RecomputeCase(context.Background(), f.admin, primitive.NewObjectID())
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.ApprovalPending, models.ApprovalApproved))
	assert.True(t, CanTransition(models.ApprovalApproved, models.ApprovalRejected))
	assert.True(t, CanTransition(models.ApprovalRejected, models.ApprovalAcknowledged))
	assert.False(t, CanTransition(models.ApprovalRejected, models.ApprovalPending), "only a resubmit reopens a rejection")
	assert.False(t, CanTransition(models.ApprovalApproved, models.ApprovalPending))
	assert.False(t, CanTransition(models.ApprovalState("unknown"), models.ApprovalApproved))
}
