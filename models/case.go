package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CaseStatus string

const (
	CaseDraft     CaseStatus = "draft"
	CasePublished CaseStatus = "published"
	CaseClosed    CaseStatus = "closed"
)

// NormalizeCaseStatus folds the UI synonyms into the three stored statuses.
func NormalizeCaseStatus(s string) (CaseStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "draft":
		return CaseDraft, nil
	case "published", "active":
		return CasePublished, nil
	case "closed", "completed", "cancelled":
		return CaseClosed, nil
	}
	return "", fmt.Errorf("unknown case status %q", s)
}

type LocalizedText struct {
	EN string `bson:"en" json:"en"`
	AR string `bson:"ar,omitempty" json:"ar,omitempty"`
}

type Case struct {
	ID            primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Title         LocalizedText       `bson:"title" json:"title"`
	Description   LocalizedText       `bson:"description" json:"description"`
	TargetAmount  decimal.Decimal     `bson:"target_amount" json:"target_amount"`
	CurrentAmount decimal.Decimal     `bson:"current_amount" json:"current_amount"`
	Status        CaseStatus          `bson:"status" json:"status"`
	BatchID       *primitive.ObjectID `bson:"batch_id,omitempty" json:"batch_id,omitempty"`
	CreatedBy     *primitive.ObjectID `bson:"created_by,omitempty" json:"created_by,omitempty"`
	CreatedAt     time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `bson:"updated_at" json:"updated_at"`
}
