package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/phillip/case-funding-ledger/models"
)

// ---------------- USERS ----------------

func (s *MongoStore) CreateUser(ctx context.Context, u *models.User) error {
	ensureID(&u.ID)
	if _, err := s.col(colUsers).InsertOne(ctx, u); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var u models.User
	if err := s.findOne(ctx, colUsers, bson.M{"_id": id}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *MongoStore) ListUsersByRole(ctx context.Context, role string) ([]models.User, error) {
	cursor, err := s.col(colUsers).Find(ctx, bson.M{"role": role}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return users, nil
}

// ---------------- PAYMENT METHODS ----------------

func (s *MongoStore) CreatePaymentMethod(ctx context.Context, pm *models.PaymentMethod) error {
	ensureID(&pm.ID)
	if _, err := s.col(colPaymentMethods).InsertOne(ctx, pm); err != nil {
		return fmt.Errorf("failed to create payment method: %w", err)
	}
	return nil
}

func (s *MongoStore) GetPaymentMethod(ctx context.Context, id primitive.ObjectID) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	if err := s.findOne(ctx, colPaymentMethods, bson.M{"_id": id}, &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

func (s *MongoStore) GetPaymentMethodByCode(ctx context.Context, code string) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	if err := s.findOne(ctx, colPaymentMethods, bson.M{"code": code}, &pm); err != nil {
		return nil, err
	}
	return &pm, nil
}

// ---------------- CASES ----------------

func (s *MongoStore) CreateCase(ctx context.Context, c *models.Case) error {
	ensureID(&c.ID)
	if _, err := s.col(colCases).InsertOne(ctx, c); err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}
	return nil
}

func (s *MongoStore) GetCase(ctx context.Context, id primitive.ObjectID) (*models.Case, error) {
	var c models.Case
	if err := s.findOne(ctx, colCases, bson.M{"_id": id}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) ListCaseIDs(ctx context.Context) ([]primitive.ObjectID, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.col(colCases).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	var docs []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode case ids: %w", err)
	}
	ids := make([]primitive.ObjectID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *MongoStore) UpdateCaseCurrentAmount(ctx context.Context, id primitive.ObjectID, amount decimal.Decimal, at time.Time) error {
	return s.updateOne(ctx, colCases, bson.M{"_id": id},
		bson.M{"$set": bson.M{"current_amount": amount, "updated_at": at}})
}

func (s *MongoStore) CountCasesByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error) {
	n, err := s.col(colCases).CountDocuments(ctx, bson.M{"batch_id": batchID})
	if err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return n, nil
}

func (s *MongoStore) DeleteCasesByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error) {
	res, err := s.col(colCases).DeleteMany(ctx, bson.M{"batch_id": batchID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete batch cases: %w", err)
	}
	return res.DeletedCount, nil
}

// ---------------- CONTRIBUTIONS ----------------

func (s *MongoStore) CreateContribution(ctx context.Context, c *models.Contribution) error {
	ensureID(&c.ID)
	if _, err := s.col(colContributions).InsertOne(ctx, c); err != nil {
		return fmt.Errorf("failed to create contribution: %w", err)
	}
	return nil
}

func (s *MongoStore) GetContribution(ctx context.Context, id primitive.ObjectID) (*models.Contribution, error) {
	var c models.Contribution
	if err := s.findOne(ctx, colContributions, bson.M{"_id": id}, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *MongoStore) ListContributionsByCase(ctx context.Context, caseID primitive.ObjectID) ([]models.Contribution, error) {
	cursor, err := s.col(colContributions).Find(ctx, bson.M{"case_id": caseID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}
	var out []models.Contribution
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode contributions: %w", err)
	}
	return out, nil
}

func (s *MongoStore) CountContributionsByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error) {
	n, err := s.col(colContributions).CountDocuments(ctx, bson.M{"batch_id": batchID})
	if err != nil {
		return 0, fmt.Errorf("failed to count contributions: %w", err)
	}
	return n, nil
}

func (s *MongoStore) DeleteContributionsByBatch(ctx context.Context, batchID primitive.ObjectID) (int64, error) {
	var deleted int64
	err := s.WithTx(ctx, func(ctx context.Context, _ Store) error {
		caseIDs, err := s.col(colCases).Distinct(ctx, "_id", bson.M{"batch_id": batchID})
		if err != nil {
			return fmt.Errorf("failed to load batch cases: %w", err)
		}
		if caseIDs == nil {
			caseIDs = bson.A{}
		}
		scope := bson.M{"$or": bson.A{
			bson.M{"batch_id": batchID},
			bson.M{"case_id": bson.M{"$in": caseIDs}},
		}}

		contributionIDs, err := s.col(colContributions).Distinct(ctx, "_id", scope)
		if err != nil {
			return fmt.Errorf("failed to load batch contributions: %w", err)
		}
		if len(contributionIDs) == 0 {
			return nil
		}
		if _, err := s.col(colApprovals).DeleteMany(ctx, bson.M{"contribution_id": bson.M{"$in": contributionIDs}}); err != nil {
			return fmt.Errorf("failed to delete batch approvals: %w", err)
		}
		res, err := s.col(colContributions).DeleteMany(ctx, bson.M{"_id": bson.M{"$in": contributionIDs}})
		if err != nil {
			return fmt.Errorf("failed to delete batch contributions: %w", err)
		}
		deleted = res.DeletedCount
		return nil
	})
	return deleted, err
}

// ---------------- APPROVALS ----------------

func (s *MongoStore) GetApproval(ctx context.Context, contributionID primitive.ObjectID) (*models.Approval, error) {
	var a models.Approval
	if err := s.findOne(ctx, colApprovals, bson.M{"contribution_id": contributionID}, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveApproval writes the approval record before the status mirror on the
// contribution. Without transactions a failed second write leaves the
// authoritative record ahead, and the next decision brings the mirror back
// in line.
func (s *MongoStore) SaveApproval(ctx context.Context, a *models.Approval) error {
	ensureID(&a.ID)
	return s.WithTx(ctx, func(ctx context.Context, _ Store) error {
		set := bson.M{
			"status":             a.Status,
			"admin_id":           a.AdminID,
			"rejection_reason":   a.RejectionReason,
			"admin_comment":      a.AdminComment,
			"donor_reply":        a.DonorReply,
			"donor_reply_at":     a.DonorReplyAt,
			"proof_ref":          a.ProofRef,
			"resubmission_count": a.ResubmissionCount,
			"updated_at":         a.UpdatedAt,
		}
		_, err := s.col(colApprovals).UpdateOne(ctx,
			bson.M{"contribution_id": a.ContributionID},
			bson.M{
				"$set":         set,
				"$setOnInsert": bson.M{"_id": a.ID, "created_at": a.CreatedAt},
			},
			options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to save approval: %w", err)
		}

		return s.updateOne(ctx, colContributions, bson.M{"_id": a.ContributionID},
			bson.M{"$set": bson.M{"status": a.Status, "updated_at": a.UpdatedAt}})
	})
}

// ---------------- BATCHES ----------------

func (s *MongoStore) CreateBatch(ctx context.Context, b *models.BatchUpload, items []models.BatchItem) error {
	ensureID(&b.ID)
	return s.WithTx(ctx, func(ctx context.Context, _ Store) error {
		if _, err := s.col(colBatches).InsertOne(ctx, b); err != nil {
			return fmt.Errorf("failed to create batch: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		docs := make([]interface{}, 0, len(items))
		for i := range items {
			ensureID(&items[i].ID)
			items[i].BatchID = b.ID
			docs = append(docs, items[i])
		}
		if _, err := s.col(colBatchItems).InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("failed to create batch items: %w", err)
		}
		return nil
	})
}

func (s *MongoStore) GetBatch(ctx context.Context, id primitive.ObjectID) (*models.BatchUpload, error) {
	var b models.BatchUpload
	if err := s.findOne(ctx, colBatches, bson.M{"_id": id}, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *MongoStore) UpdateBatch(ctx context.Context, b *models.BatchUpload) error {
	return s.updateOne(ctx, colBatches, bson.M{"_id": b.ID}, bson.M{"$set": bson.M{
		"name":             b.Name,
		"status":           b.Status,
		"source_ref":       b.SourceRef,
		"total_items":      b.TotalItems,
		"processed_items":  b.ProcessedItems,
		"successful_items": b.SuccessfulItems,
		"failed_items":     b.FailedItems,
		"errors":           b.Errors,
		"updated_at":       b.UpdatedAt,
		"processed_at":     b.ProcessedAt,
	}})
}

func (s *MongoStore) TransitionBatchStatus(ctx context.Context, id primitive.ObjectID, from []models.BatchStatus, to models.BatchStatus, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	res, err := s.col(colBatches).UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$in": from}},
		bson.M{"$set": bson.M{"status": to, "updated_at": at}})
	if err != nil {
		return false, fmt.Errorf("failed to update batch status: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) DeleteBatch(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.col(colBatches).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete batch: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListBatchItems(ctx context.Context, batchID primitive.ObjectID) ([]models.BatchItem, error) {
	cursor, err := s.col(colBatchItems).Find(ctx, bson.M{"batch_id": batchID},
		options.Find().SetSort(bson.D{{Key: "row_number", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list batch items: %w", err)
	}
	var items []models.BatchItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode batch items: %w", err)
	}
	return items, nil
}

func (s *MongoStore) UpdateBatchItem(ctx context.Context, item *models.BatchItem) error {
	return s.updateOne(ctx, colBatchItems, bson.M{"_id": item.ID}, bson.M{"$set": bson.M{
		"user_id":         item.UserID,
		"status":          item.Status,
		"case_id":         item.CaseID,
		"contribution_id": item.ContributionID,
		"error":           item.Error,
		"updated_at":      item.UpdatedAt,
	}})
}

func (s *MongoStore) SetNicknameMapping(ctx context.Context, batchID primitive.ObjectID, nickname string, userID *primitive.ObjectID, at time.Time) (int64, error) {
	status := models.ItemPending
	if userID != nil {
		status = models.ItemMapped
	}
	res, err := s.col(colBatchItems).UpdateMany(ctx,
		bson.M{"batch_id": batchID, "nickname": nickname},
		bson.M{"$set": bson.M{"user_id": userID, "status": status, "updated_at": at}})
	if err != nil {
		return 0, fmt.Errorf("failed to map nickname: %w", err)
	}
	return res.MatchedCount, nil
}

func (s *MongoStore) ResetBatchItems(ctx context.Context, batchID primitive.ObjectID, at time.Time) (int64, error) {
	res, err := s.col(colBatchItems).UpdateMany(ctx,
		bson.M{"batch_id": batchID},
		bson.M{"$set": bson.M{
			"user_id":         nil,
			"case_id":         nil,
			"contribution_id": nil,
			"error":           "",
			"status":          models.ItemPending,
			"updated_at":      at,
		}})
	if err != nil {
		return 0, fmt.Errorf("failed to reset batch items: %w", err)
	}
	return res.MatchedCount, nil
}

// ---------------- NOTIFICATIONS ----------------

func (s *MongoStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	ensureID(&n.ID)
	if _, err := s.col(colNotifications).InsertOne(ctx, n); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *MongoStore) ListNotifications(ctx context.Context, userID primitive.ObjectID, unreadOnly bool) ([]models.Notification, error) {
	filter := bson.M{"user_id": userID}
	if unreadOnly {
		filter["read"] = false
	}
	cursor, err := s.col(colNotifications).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	var out []models.Notification
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return out, nil
}

func (s *MongoStore) MarkNotificationRead(ctx context.Context, id, userID primitive.ObjectID) error {
	return s.updateOne(ctx, colNotifications, bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"read": true}})
}
