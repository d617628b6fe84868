package models

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Contribution struct {
	ID              primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	CaseID          primitive.ObjectID  `bson:"case_id" json:"case_id"`
	DonorID         *primitive.ObjectID `bson:"donor_id,omitempty" json:"donor_id,omitempty"` // nil for anonymous
	Amount          decimal.Decimal     `bson:"amount" json:"amount"`
	PaymentMethodID primitive.ObjectID  `bson:"payment_method_id" json:"payment_method_id"`
	Status          ApprovalState       `bson:"status" json:"status"` // mirror of the approval record
	Notes           string              `bson:"notes,omitempty" json:"notes,omitempty"`
	RevisionOf      *primitive.ObjectID `bson:"revision_of,omitempty" json:"revision_of,omitempty"`
	BatchID         *primitive.ObjectID `bson:"batch_id,omitempty" json:"batch_id,omitempty"`
	CreatedAt       time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `bson:"updated_at" json:"updated_at"`
}

// OwnedBy reports whether the contribution was made by userID.
func (c *Contribution) OwnedBy(userID primitive.ObjectID) bool {
	return c.DonorID != nil && !userID.IsZero() && *c.DonorID == userID
}
