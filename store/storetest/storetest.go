// Package storetest opens throwaway SQLite stores and seeds fixtures for
// tests in other packages.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/store"
)

// NewSQLite returns a migrated store backed by a temp file.
func NewSQLite(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))

	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})
	return s
}

func User(t *testing.T, s store.Store, name, role string) *models.User {
	t.Helper()
	u := &models.User{Name: name, Email: name + "@example.com", Role: role}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func PaymentMethod(t *testing.T, s store.Store, code string) *models.PaymentMethod {
	t.Helper()
	pm := &models.PaymentMethod{Code: code, Name: code}
	require.NoError(t, s.CreatePaymentMethod(context.Background(), pm))
	return pm
}

func Case(t *testing.T, s store.Store, title string, target string) *models.Case {
	t.Helper()
	now := time.Now().UTC()
	c := &models.Case{
		Title:         models.LocalizedText{EN: title},
		TargetAmount:  decimal.RequireFromString(target),
		CurrentAmount: decimal.Zero,
		Status:        models.CasePublished,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.CreateCase(context.Background(), c))
	return c
}

// Contribution creates a pending contribution together with its approval
// record, the way the ledger does.
func Contribution(t *testing.T, s store.Store, caseID primitive.ObjectID, donorID *primitive.ObjectID, pmID primitive.ObjectID, amount string) *models.Contribution {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	c := &models.Contribution{
		CaseID:          caseID,
		DonorID:         donorID,
		Amount:          decimal.RequireFromString(amount),
		PaymentMethodID: pmID,
		Status:          models.ApprovalPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, s.CreateContribution(ctx, c))
	require.NoError(t, s.SaveApproval(ctx, &models.Approval{
		ContributionID: c.ID,
		Status:         models.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
	return c
}
