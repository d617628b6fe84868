package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

type ItemStatus string

const (
	ItemPending             ItemStatus = "pending"
	ItemMapped              ItemStatus = "mapped"
	ItemCaseCreated         ItemStatus = "case_created"
	ItemContributionCreated ItemStatus = "contribution_created"
	ItemFailed              ItemStatus = "failed"
)

type ItemError struct {
	ItemID    primitive.ObjectID `bson:"item_id" json:"item_id"`
	RowNumber int                `bson:"row_number" json:"row_number"`
	Error     string             `bson:"error" json:"error"`
}

type BatchUpload struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name            string              `bson:"name" json:"name"`
	Status          BatchStatus         `bson:"status" json:"status"`
	SourceRef       string              `bson:"source_ref,omitempty" json:"source_ref,omitempty"`
	TotalItems      int                 `bson:"total_items" json:"total_items"`
	ProcessedItems  int                 `bson:"processed_items" json:"processed_items"`
	SuccessfulItems int                 `bson:"successful_items" json:"successful_items"`
	FailedItems     int                 `bson:"failed_items" json:"failed_items"`
	Errors          []ItemError         `bson:"errors" json:"errors"`
	CreatedBy       *primitive.ObjectID `bson:"created_by,omitempty" json:"created_by,omitempty"`
	CreatedAt       time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at" json:"updated_at"`
	ProcessedAt     *time.Time          `bson:"processed_at,omitempty" json:"processed_at,omitempty"`
}

type BatchItem struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	BatchID        primitive.ObjectID  `bson:"batch_id" json:"batch_id"`
	RowNumber      int                 `bson:"row_number" json:"row_number"`
	Nickname       string              `bson:"nickname" json:"nickname"`
	UserID         *primitive.ObjectID `bson:"user_id,omitempty" json:"user_id,omitempty"`
	Amount         decimal.Decimal     `bson:"amount" json:"amount"`
	CaseKey        string              `bson:"case_key" json:"case_key"`
	CaseTitle      string              `bson:"case_title,omitempty" json:"case_title,omitempty"`
	CaseMonth      string              `bson:"case_month,omitempty" json:"case_month,omitempty"`
	Status         ItemStatus          `bson:"status" json:"status"`
	CaseID         *primitive.ObjectID `bson:"case_id,omitempty" json:"case_id,omitempty"`
	ContributionID *primitive.ObjectID `bson:"contribution_id,omitempty" json:"contribution_id,omitempty"`
	Error          string              `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt      time.Time           `bson:"updated_at" json:"updated_at"`
}

// Done reports whether the item already produced its contribution.
func (i *BatchItem) Done() bool {
	return i.Status == ItemContributionCreated && i.ContributionID != nil
}
