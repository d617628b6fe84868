// Package notify delivers approval lifecycle notifications to donors and
// administrators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
)

const (
	KindApproval     = "approval"
	KindRejection    = "rejection"
	KindResubmission = "resubmission"
)

// Notice describes the contribution a notification is about.
type Notice struct {
	Contribution *models.Contribution
	Approval     *models.Approval
	CaseTitle    string
}

func (n Notice) subject() string {
	if n.CaseTitle == "" {
		return "your contribution"
	}
	return fmt.Sprintf("your contribution to %q", n.CaseTitle)
}

// Dispatcher is consumed by the ledger after a decision has been committed.
// Delivery is best effort; callers record a returned error, they never roll
// back because of it.
type Dispatcher interface {
	NotifyApproval(ctx context.Context, n Notice) error
	NotifyRejection(ctx context.Context, n Notice) error
	NotifyResubmission(ctx context.Context, admins []models.User, n Notice) error
}

// ---------------- NOP ----------------

type Nop struct{}

func (Nop) NotifyApproval(context.Context, Notice) error { return nil }

func (Nop) NotifyRejection(context.Context, Notice) error { return nil }

func (Nop) NotifyResubmission(context.Context, []models.User, Notice) error { return nil }

// ---------------- MULTI ----------------

// Multi fans out to every dispatcher and joins their errors.
type Multi []Dispatcher

func (m Multi) NotifyApproval(ctx context.Context, n Notice) error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.NotifyApproval(ctx, n))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyRejection(ctx context.Context, n Notice) error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.NotifyRejection(ctx, n))
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyResubmission(ctx context.Context, admins []models.User, n Notice) error {
	var errs []error
	for _, d := range m {
		errs = append(errs, d.NotifyResubmission(ctx, admins, n))
	}
	return errors.Join(errs...)
}

// ---------------- IN-APP ----------------

type NotificationWriter interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// InApp stores notifications in the user's inbox.
type InApp struct {
	Store NotificationWriter
	Now   func() time.Time
}

func NewInApp(s NotificationWriter) *InApp {
	return &InApp{Store: s, Now: time.Now}
}

func (d *InApp) NotifyApproval(ctx context.Context, n Notice) error {
	c := n.Contribution
	if c.DonorID == nil {
		return nil
	}
	msg := fmt.Sprintf("The %s payment for %s has been approved.", c.Amount.StringFixed(2), n.subject())
	if n.Approval.AdminComment != "" {
		msg += " " + n.Approval.AdminComment
	}
	return d.write(ctx, *c.DonorID, KindApproval, "Contribution approved", msg, c)
}

func (d *InApp) NotifyRejection(ctx context.Context, n Notice) error {
	c := n.Contribution
	if c.DonorID == nil {
		return nil
	}
	msg := fmt.Sprintf("The %s payment for %s was rejected: %s",
		c.Amount.StringFixed(2), n.subject(), n.Approval.RejectionReason)
	return d.write(ctx, *c.DonorID, KindRejection, "Contribution rejected", msg, c)
}

func (d *InApp) NotifyResubmission(ctx context.Context, admins []models.User, n Notice) error {
	c, a := n.Contribution, n.Approval
	msg := fmt.Sprintf("A contribution of %s was resubmitted (attempt %d): %s",
		c.Amount.StringFixed(2), a.ResubmissionCount, a.DonorReply)

	var errs []error
	for _, admin := range admins {
		errs = append(errs, d.write(ctx, admin.ID, KindResubmission, "Contribution resubmitted", msg, c))
	}
	return errors.Join(errs...)
}

func (d *InApp) write(ctx context.Context, userID primitive.ObjectID, kind, title, msg string, c *models.Contribution) error {
	caseID := c.CaseID
	contributionID := c.ID
	n := &models.Notification{
		UserID:         userID,
		Kind:           kind,
		Title:          title,
		Message:        msg,
		ContributionID: &contributionID,
		CaseID:         &caseID,
		CreatedAt:      d.Now().UTC(),
	}
	if err := d.Store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to store %s notification: %w", kind, err)
	}
	return nil
}
