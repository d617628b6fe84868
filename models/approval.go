package models

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type ApprovalState string

const (
	ApprovalPending      ApprovalState = "pending"
	ApprovalApproved     ApprovalState = "approved"
	ApprovalRejected     ApprovalState = "rejected"
	ApprovalAcknowledged ApprovalState = "acknowledged"
)

func ParseApprovalState(s string) (ApprovalState, error) {
	switch st := ApprovalState(s); st {
	case ApprovalPending, ApprovalApproved, ApprovalRejected, ApprovalAcknowledged:
		return st, nil
	}
	return "", fmt.Errorf("unknown approval status %q", s)
}

// Approval is the authoritative approval record of a contribution. There is
// at most one per contribution.
type Approval struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ContributionID    primitive.ObjectID  `bson:"contribution_id" json:"contribution_id"`
	Status            ApprovalState       `bson:"status" json:"status"`
	AdminID           *primitive.ObjectID `bson:"admin_id,omitempty" json:"admin_id,omitempty"`
	RejectionReason   string              `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	AdminComment      string              `bson:"admin_comment,omitempty" json:"admin_comment,omitempty"`
	DonorReply        string              `bson:"donor_reply,omitempty" json:"donor_reply,omitempty"`
	DonorReplyAt      *time.Time          `bson:"donor_reply_at,omitempty" json:"donor_reply_at,omitempty"`
	ProofRef          string              `bson:"proof_ref,omitempty" json:"proof_ref,omitempty"`
	ResubmissionCount int                 `bson:"resubmission_count" json:"resubmission_count"`
	CreatedAt         time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `bson:"updated_at" json:"updated_at"`
}
