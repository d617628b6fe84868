package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	RoleAdmin = "admin"
	RoleDonor = "donor"
)

type User struct {
	ID    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name  string             `bson:"name" json:"name"`
	Email string             `bson:"email" json:"email"`
	Role  string             `bson:"role" json:"role"`
}

type PaymentMethod struct {
	ID   primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code string             `bson:"code" json:"code"`
	Name string             `bson:"name" json:"name"`
}

// --- Notification ---
type Notification struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID         primitive.ObjectID  `bson:"user_id" json:"user_id"`
	Kind           string              `bson:"kind" json:"kind"` // approval, rejection, resubmission
	Title          string              `bson:"title" json:"title"`
	Message        string              `bson:"message" json:"message"`
	ContributionID *primitive.ObjectID `bson:"contribution_id,omitempty" json:"contribution_id,omitempty"`
	CaseID         *primitive.ObjectID `bson:"case_id,omitempty" json:"case_id,omitempty"`
	Read           bool                `bson:"read" json:"read"`
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
}
