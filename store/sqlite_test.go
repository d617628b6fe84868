package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/store"
	"github.com/phillip/case-funding-ledger/store/storetest"
)

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	s := storetest.NewSQLite(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSQLiteNotFound(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	id := primitive.NewObjectID()

	_, err := s.GetCase(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetContribution(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetApproval(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetBatch(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetPaymentMethodByCode(ctx, "cash")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.UpdateCaseCurrentAmount(ctx, id, decimal.Zero, time.Now()), store.ErrNotFound)
}

func TestSQLiteCaseRoundTrip(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	c := storetest.Case(t, s, "Roof repair", "1250.75")

	require.NoError(t, s.UpdateCaseCurrentAmount(ctx, c.ID, decimal.RequireFromString("100.10"), time.Now()))

	got, err := s.GetCase(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roof repair", got.Title.EN)
	assert.True(t, got.TargetAmount.Equal(decimal.RequireFromString("1250.75")))
	assert.Equal(t, "100.1", got.CurrentAmount.String())
	assert.Equal(t, models.CasePublished, got.Status)
	assert.Nil(t, got.BatchID)
}

func TestSQLiteSaveApprovalMirrorsContributionStatus(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	donor := storetest.User(t, s, "donor", models.RoleDonor)
	admin := storetest.User(t, s, "admin", models.RoleAdmin)
	pm := storetest.PaymentMethod(t, s, "cash")
	c := storetest.Case(t, s, "Case", "100")
	contrib := storetest.Contribution(t, s, c.ID, &donor.ID, pm.ID, "40")

	approval, err := s.GetApproval(ctx, contrib.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, approval.Status)

	now := time.Now().UTC()
	approval.Status = models.ApprovalRejected
	approval.AdminID = &admin.ID
	approval.RejectionReason = "blurry receipt"
	approval.DonorReply = "will resend"
	approval.DonorReplyAt = &now
	approval.UpdatedAt = now
	require.NoError(t, s.SaveApproval(ctx, approval))

	got, err := s.GetApproval(ctx, contrib.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.ID, got.ID)
	assert.Equal(t, models.ApprovalRejected, got.Status)
	assert.Equal(t, "blurry receipt", got.RejectionReason)
	require.NotNil(t, got.AdminID)
	assert.Equal(t, admin.ID, *got.AdminID)
	require.NotNil(t, got.DonorReplyAt)

	mirrored, err := s.GetContribution(ctx, contrib.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, mirrored.Status)
}

func TestSQLiteSaveApprovalUnknownContribution(t *testing.T) {
	s := storetest.NewSQLite(t)
	err := s.SaveApproval(context.Background(), &models.Approval{
		ContributionID: primitive.NewObjectID(),
		Status:         models.ApprovalApproved,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteWithTxRollsBack(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")

	var created primitive.ObjectID
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		pm := &models.PaymentMethod{Code: "bank", Name: "Bank"}
		if err := tx.CreatePaymentMethod(ctx, pm); err != nil {
			return err
		}
		created = pm.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetPaymentMethod(ctx, created)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSQLiteBatchLifecycle(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()
	user := storetest.User(t, s, "alice", models.RoleDonor)
	pm := storetest.PaymentMethod(t, s, "cash")

	batch := &models.BatchUpload{Name: "march", Status: models.BatchPending, TotalItems: 3, CreatedAt: now, UpdatedAt: now}
	items := []models.BatchItem{
		{RowNumber: 2, Nickname: "bob", Amount: decimal.NewFromInt(5), CaseKey: "C1", Status: models.ItemPending, CreatedAt: now, UpdatedAt: now},
		{RowNumber: 1, Nickname: "ali", Amount: decimal.NewFromInt(10), CaseKey: "C1", Status: models.ItemPending, CreatedAt: now, UpdatedAt: now},
		{RowNumber: 3, Nickname: "ali", Amount: decimal.NewFromInt(15), CaseKey: "C2", Status: models.ItemPending, CreatedAt: now, UpdatedAt: now},
	}
	require.NoError(t, s.CreateBatch(ctx, batch, items))

	n, err := s.SetNicknameMapping(ctx, batch.ID, "ali", &user.ID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := s.ListBatchItems(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].RowNumber, "items are ordered by row number")
	assert.Equal(t, models.ItemMapped, got[0].Status)
	assert.Equal(t, models.ItemPending, got[1].Status)

	// attribute a case and contribution to the batch
	c := storetest.Case(t, s, "batch case", "25")
	c2 := &models.Case{Title: models.LocalizedText{EN: "owned"}, Status: models.CasePublished, BatchID: &batch.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateCase(ctx, c2))
	contrib := storetest.Contribution(t, s, c.ID, &user.ID, pm.ID, "10")
	onBatchCase := storetest.Contribution(t, s, c2.ID, &user.ID, pm.ID, "3")

	// only the attributed contribution is counted, the one on the batch case
	// is still swept up on delete
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		other := &models.Contribution{CaseID: c.ID, DonorID: &user.ID, Amount: decimal.NewFromInt(7),
			PaymentMethodID: pm.ID, Status: models.ApprovalPending, BatchID: &batch.ID, CreatedAt: now, UpdatedAt: now}
		return tx.CreateContribution(ctx, other)
	}))

	count, err := s.CountContributionsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	deleted, err := s.DeleteContributionsByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)

	_, err = s.GetApproval(ctx, onBatchCase.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetContribution(ctx, contrib.ID)
	assert.NoError(t, err, "contribution not attributed to the batch survives")

	cases, err := s.DeleteCasesByBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, cases)

	reset, err := s.ResetBatchItems(ctx, batch.ID, now)
	require.NoError(t, err)
	assert.EqualValues(t, 3, reset)
	require.NoError(t, s.DeleteBatch(ctx, batch.ID))

	got, err = s.ListBatchItems(ctx, batch.ID)
	require.NoError(t, err)
	for _, item := range got {
		assert.Equal(t, models.ItemPending, item.Status)
		assert.Nil(t, item.UserID)
	}
}

func TestSQLiteBatchErrorsRoundTrip(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	now := time.Now().UTC()

	batch := &models.BatchUpload{Name: "april", Status: models.BatchPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateBatch(ctx, batch, nil))

	itemID := primitive.NewObjectID()
	batch.Status = models.BatchFailed
	batch.FailedItems = 1
	batch.Errors = []models.ItemError{{ItemID: itemID, RowNumber: 4, Error: "item not mapped to a user"}}
	batch.ProcessedAt = &now
	require.NoError(t, s.UpdateBatch(ctx, batch))

	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchFailed, got.Status)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, itemID, got.Errors[0].ItemID)
	assert.NotNil(t, got.ProcessedAt)
}

func TestSQLiteTransitionBatchStatus(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	created := time.Now().UTC().Add(-time.Hour)

	batch := &models.BatchUpload{Name: "may", Status: models.BatchPending, CreatedAt: created, UpdatedAt: created}
	require.NoError(t, s.CreateBatch(ctx, batch, nil))

	startable := []models.BatchStatus{models.BatchPending, models.BatchFailed}
	now := time.Now().UTC()
	ok, err := s.TransitionBatchStatus(ctx, batch.ID, startable, models.BatchProcessing, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TransitionBatchStatus(ctx, batch.ID, startable, models.BatchProcessing, now)
	require.NoError(t, err)
	assert.False(t, ok, "a processing batch cannot be started again")

	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchProcessing, got.Status)
	assert.WithinDuration(t, now, got.UpdatedAt, time.Second)

	ok, err = s.TransitionBatchStatus(ctx, primitive.NewObjectID(), startable, models.BatchProcessing, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.TransitionBatchStatus(ctx, batch.ID, nil, models.BatchFailed, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteNotifications(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	user := storetest.User(t, s, "donor", models.RoleDonor)

	n := &models.Notification{UserID: user.ID, Kind: "approval", Title: "Approved", Message: "thanks", CreatedAt: time.Now()}
	require.NoError(t, s.CreateNotification(ctx, n))

	unread, err := s.ListNotifications(ctx, user.ID, true)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	require.NoError(t, s.MarkNotificationRead(ctx, n.ID, user.ID))
	assert.ErrorIs(t, s.MarkNotificationRead(ctx, n.ID, primitive.NewObjectID()), store.ErrNotFound)

	unread, err = s.ListNotifications(ctx, user.ID, true)
	require.NoError(t, err)
	assert.Empty(t, unread)

	all, err := s.ListNotifications(ctx, user.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Read)
}

func TestSumApproved(t *testing.T) {
	contributions := []models.Contribution{
		{Amount: decimal.RequireFromString("0.1"), Status: models.ApprovalApproved},
		{Amount: decimal.RequireFromString("0.2"), Status: models.ApprovalApproved},
		{Amount: decimal.RequireFromString("5"), Status: models.ApprovalRejected},
		{Amount: decimal.RequireFromString("7"), Status: models.ApprovalPending},
	}
	assert.Equal(t, "0.3", store.SumApproved(contributions).String())
}
