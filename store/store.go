// Package store persists cases, contributions, approval records and batch
// uploads. Two backends implement Store: MongoStore for production and
// SQLiteStore for local development and tests.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
)

var ErrNotFound = errors.New("record not found")

type Store interface {
	// WithTx runs fn against a transactional view of the store. Nested calls
	// join the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
	Migrate(ctx context.Context) error
	Close(ctx context.Context) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]models.User, error)

	CreatePaymentMethod(ctx context.Context, pm *models.PaymentMethod) error
	GetPaymentMethod(ctx context.Context, id primitive.ObjectID) (*models.PaymentMethod, error)
	GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error)

	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id primitive.ObjectID) (*models.Case, error)
	ListCaseIDs(ctx context.Context) ([]primitive.ObjectID, error)
	UpdateCaseCurrentAmount(ctx context.Context, id primitive.ObjectID, amount decimal.Decimal, at time.Time) error
	CountCasesByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error)
	DeleteCasesByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error)

	CreateContribution(ctx context.Context, c *models.Contribution) error
	GetContribution(ctx context.Context, id primitive.ObjectID) (*models.Contribution, error)
	ListContributionsByCase(ctx context.Context, caseID primitive.ObjectID) ([]models.Contribution, error)
	CountContributionsByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error)
	// DeleteContributionsByBatch removes contributions attributed to the
	// batch or made on one of its cases, together with their approvals.
	DeleteContributionsByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error)

	GetApproval(ctx context.Context, contributionID primitive.ObjectID) (*models.Approval, error)
	// SaveApproval upserts the approval record and mirrors its status onto
	// the contribution. It is the only writer of Contribution.Status.
	SaveApproval(ctx context.Context, a *models.Approval) error

	CreateBatch(ctx context.Context, b *models.BatchUpload, items []models.BatchItem) error
	GetBatch(ctx context.Context, id primitive.ObjectID) (*models.BatchUpload, error)
	UpdateBatch(ctx context.Context, b *models.BatchUpload) error
	// TransitionBatchStatus moves a batch to status to and stamps updated_at,
	// but only while its current status is one of from. It reports whether
	// the batch was changed.
	TransitionBatchStatus(ctx context.Context, id primitive.ObjectID, from []models.BatchStatus, to models.BatchStatus, at time.Time) (bool, error)
	DeleteBatch(ctx context.Context, id primitive.ObjectID) error
	ListBatchItems(ctx context.Context, batchID primitive.ObjectID) ([]models.BatchItem, error)
	UpdateBatchItem(ctx context.Context, item *models.BatchItem) error
	// SetNicknameMapping maps every item of the batch carrying nickname to
	// userID, or clears the mapping when userID is nil.
	SetNicknameMapping(ctx context.Context, batchID primitive.ObjectID, nickname string, userID *primitive.ObjectID, at time.Time) (int64, error)
	ResetBatchItems(ctx context.Context, batchID primitive.ObjectID, at time.Time) (int64, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID primitive.ObjectID, unreadOnly bool) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID primitive.ObjectID) error
}

// SumApproved adds up the amounts of the approved contributions.
func SumApproved(contributions []models.Contribution) decimal.Decimal {
	total := decimal.Zero
	for _, c := range contributions {
		if c.Status == models.ApprovalApproved {
			total = total.Add(c.Amount)
		}
	}
	return total
}

func ensureID(id *primitive.ObjectID) {
	if id.IsZero() {
		*id = primitive.NewObjectID()
	}
}
