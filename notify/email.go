package notify

import (
	"context"
	"errors"
	"fmt"
	"html"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/models"
)

type Mailer interface {
	Send(ctx context.Context, to, name, subject, htmlBody string) error
}

type UserLookup interface {
	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// Email sends decision notifications through a Mailer.
type Email struct {
	Mailer Mailer
	Users  UserLookup
}

func (d *Email) NotifyApproval(ctx context.Context, n Notice) error {
	c := n.Contribution
	if c.DonorID == nil {
		return nil
	}
	body := fmt.Sprintf("<p>The <b>%s</b> payment for %s has been approved. Thank you!</p>",
		c.Amount.StringFixed(2), html.EscapeString(n.subject()))
	if n.Approval.AdminComment != "" {
		body += fmt.Sprintf("<p>%s</p>", html.EscapeString(n.Approval.AdminComment))
	}
	return d.sendTo(ctx, *c.DonorID, "Your contribution was approved", body)
}

func (d *Email) NotifyRejection(ctx context.Context, n Notice) error {
	c := n.Contribution
	if c.DonorID == nil {
		return nil
	}
	body := fmt.Sprintf("<p>The <b>%s</b> payment for %s was rejected.</p><p>Reason: %s</p>"+
		"<p>You can reply and resubmit it from your dashboard.</p>",
		c.Amount.StringFixed(2), html.EscapeString(n.subject()), html.EscapeString(n.Approval.RejectionReason))
	return d.sendTo(ctx, *c.DonorID, "Your contribution was rejected", body)
}

func (d *Email) NotifyResubmission(ctx context.Context, admins []models.User, n Notice) error {
	c, a := n.Contribution, n.Approval
	body := fmt.Sprintf("<p>Contribution %s (%s) was resubmitted, attempt %d.</p><p>%s</p>",
		c.ID.Hex(), c.Amount.StringFixed(2), a.ResubmissionCount, html.EscapeString(a.DonorReply))

	var errs []error
	for _, admin := range admins {
		if admin.Email == "" {
			continue
		}
		errs = append(errs, d.Mailer.Send(ctx, admin.Email, admin.Name, "Contribution resubmitted", body))
	}
	return errors.Join(errs...)
}

func (d *Email) sendTo(ctx context.Context, userID primitive.ObjectID, subject, body string) error {
	u, err := d.Users.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up recipient: %w", err)
	}
	if u.Email == "" {
		return nil
	}
	return d.Mailer.Send(ctx, u.Email, u.Name, subject, body)
}
