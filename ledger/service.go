// Package ledger implements the contribution approval lifecycle and keeps
// case funding totals in step with it.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/phillip/case-funding-ledger/apperrors"
	"github.com/phillip/case-funding-ledger/authz"
	"github.com/phillip/case-funding-ledger/models"
	"github.com/phillip/case-funding-ledger/notify"
	"github.com/phillip/case-funding-ledger/store"
)

// transitions lists the states a decision may move a contribution to.
// Returning a rejected or acknowledged contribution to pending is only
// possible through Resubmit.
var transitions = map[models.ApprovalState][]models.ApprovalState{
	models.ApprovalPending:      {models.ApprovalPending, models.ApprovalApproved, models.ApprovalRejected},
	models.ApprovalApproved:     {models.ApprovalApproved, models.ApprovalRejected},
	models.ApprovalRejected:     {models.ApprovalRejected, models.ApprovalApproved, models.ApprovalAcknowledged},
	models.ApprovalAcknowledged: {models.ApprovalAcknowledged, models.ApprovalApproved, models.ApprovalRejected},
}

// CanTransition reports whether an approval may move from one state to another.
func CanTransition(from, to models.ApprovalState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Decision struct {
	Status          string `json:"status" form:"status"`
	RejectionReason string `json:"rejection_reason" form:"rejection_reason"`
	AdminComment    string `json:"admin_comment" form:"admin_comment"`
	DonorReply      string `json:"donor_reply" form:"donor_reply"`
	ProofRef        string `json:"proof_ref" form:"proof_ref"`
}

type NewContribution struct {
	CaseID          primitive.ObjectID
	DonorID         *primitive.ObjectID // admins may record on behalf of a donor
	Anonymous       bool
	Amount          decimal.Decimal
	PaymentMethodID primitive.ObjectID
	Notes           string
	RevisionOf      *primitive.ObjectID
}

type Service struct {
	store      store.Store
	aggregator *Aggregator
	notifier   notify.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(s store.Store, agg *Aggregator, d notify.Dispatcher, logger *slog.Logger) *Service {
	if d == nil {
		d = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, aggregator: agg, notifier: d, logger: logger, now: time.Now}
}

func (s *Service) Aggregator() *Aggregator { return s.aggregator }

// ---------------- DECISION ----------------

// SubmitDecision records an approval decision. The approval record and the
// contribution status are written together; aggregation and notification
// run afterwards and their failures are reported on the Outcome.
func (s *Service) SubmitDecision(ctx context.Context, auth authz.Context, contributionID primitive.ObjectID, d Decision) (*Outcome, error) {
	next, err := models.ParseApprovalState(strings.TrimSpace(d.Status))
	if err != nil {
		return nil, apperrors.Validation("status must be one of pending, approved, rejected, acknowledged")
	}
	reason := strings.TrimSpace(d.RejectionReason)
	if next == models.ApprovalRejected && reason == "" {
		return nil, apperrors.Validation("rejection reason is required when rejecting a contribution")
	}
	if !auth.Authenticated() {
		return nil, apperrors.Forbidden("authentication required")
	}

	contribution, err := s.store.GetContribution(ctx, contributionID)
	if err != nil {
		return nil, loadError(err, "contribution %s not found", contributionID.Hex())
	}

	switch next {
	case models.ApprovalApproved, models.ApprovalRejected:
		if !auth.IsAdmin() {
			return nil, apperrors.Forbidden("only administrators can approve or reject contributions")
		}
	default:
		if !auth.IsAdmin() && !auth.IsOwnerOf(contribution.DonorID) {
			return nil, apperrors.Forbidden("not allowed to update this contribution")
		}
	}

	now := s.now().UTC()
	out := &Outcome{Contribution: contribution}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		approval, err := tx.GetApproval(ctx, contributionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			previous := contribution.Status
			if previous == "" {
				previous = models.ApprovalPending
			}
			approval = &models.Approval{
				ContributionID: contributionID,
				Status:         previous,
				CreatedAt:      now,
			}
		case err != nil:
			return apperrors.Internal(err, "failed to load approval")
		}

		out.Previous = approval.Status
		if !CanTransition(approval.Status, next) {
			if next == models.ApprovalPending {
				return apperrors.Validation("a %s contribution can only return to pending by resubmission", approval.Status)
			}
			return apperrors.Validation("cannot move a %s contribution to %s", approval.Status, next)
		}

		approval.Status = next
		switch next {
		case models.ApprovalApproved:
			approval.AdminID = auth.AdminID()
			approval.AdminComment = d.AdminComment
			approval.RejectionReason = ""
		case models.ApprovalRejected:
			approval.AdminID = auth.AdminID()
			approval.AdminComment = d.AdminComment
			approval.RejectionReason = reason
		}
		if reply := strings.TrimSpace(d.DonorReply); reply != "" {
			approval.DonorReply = reply
			approval.DonorReplyAt = &now
		}
		if d.ProofRef != "" {
			approval.ProofRef = d.ProofRef
		}
		approval.UpdatedAt = now

		if err := tx.SaveApproval(ctx, approval); err != nil {
			return apperrors.Internal(err, "failed to save approval")
		}
		out.Approval = approval
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to record decision")
	}

	contribution.Status = next
	contribution.UpdatedAt = now

	s.reconcile(ctx, out, next)
	if out.Previous != next && contribution.DonorID != nil {
		switch next {
		case models.ApprovalApproved:
			s.record(out, StepNotify, s.notifier.NotifyApproval(ctx, s.notice(ctx, out)))
		case models.ApprovalRejected:
			s.record(out, StepNotify, s.notifier.NotifyRejection(ctx, s.notice(ctx, out)))
		}
	}

	s.logger.Info("approval decision recorded",
		"contribution_id", contributionID.Hex(),
		"case_id", contribution.CaseID.Hex(),
		"previous", out.Previous,
		"status", next,
		"degraded", out.Degraded())
	return out, nil
}

// ---------------- RESUBMIT ----------------

// Resubmit returns a rejected contribution to pending with the donor's reply.
// The resubmission counter grows by one on every call that succeeds.
func (s *Service) Resubmit(ctx context.Context, auth authz.Context, contributionID primitive.ObjectID, reply string) (*Outcome, error) {
	contribution, err := s.store.GetContribution(ctx, contributionID)
	if err != nil {
		return nil, loadError(err, "contribution %s not found", contributionID.Hex())
	}
	if !auth.IsOwnerOf(contribution.DonorID) {
		return nil, apperrors.Forbidden("only the contributing donor can resubmit this contribution")
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return nil, apperrors.Validation("reply text is required")
	}

	now := s.now().UTC()
	out := &Outcome{Contribution: contribution}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		approval, err := tx.GetApproval(ctx, contributionID)
		if err != nil {
			return loadError(err, "approval for contribution %s not found", contributionID.Hex())
		}
		if approval.Status != models.ApprovalRejected {
			return apperrors.Validation("only rejected contributions can be resubmitted")
		}

		out.Previous = approval.Status
		approval.DonorReply = reply
		approval.DonorReplyAt = &now
		approval.ResubmissionCount++
		approval.Status = models.ApprovalPending
		approval.UpdatedAt = now

		if err := tx.SaveApproval(ctx, approval); err != nil {
			return apperrors.Internal(err, "failed to save approval")
		}
		out.Approval = approval
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to resubmit contribution")
	}

	contribution.Status = models.ApprovalPending
	contribution.UpdatedAt = now

	s.reconcile(ctx, out, models.ApprovalPending)

	admins, err := s.store.ListUsersByRole(ctx, models.RoleAdmin)
	if err != nil {
		s.record(out, StepNotify, err)
	} else {
		s.record(out, StepNotify, s.notifier.NotifyResubmission(ctx, admins, s.notice(ctx, out)))
	}

	s.logger.Info("contribution resubmitted",
		"contribution_id", contributionID.Hex(),
		"resubmission_count", out.Approval.ResubmissionCount,
		"degraded", out.Degraded())
	return out, nil
}

// ---------------- CREATE ----------------

// CreateContribution records a new pending contribution for the caller.
func (s *Service) CreateContribution(ctx context.Context, auth authz.Context, in NewContribution) (*models.Contribution, error) {
	if !auth.Authenticated() {
		return nil, apperrors.Forbidden("authentication required")
	}
	if !in.Amount.IsPositive() {
		return nil, apperrors.Validation("amount must be greater than zero")
	}

	c, err := s.store.GetCase(ctx, in.CaseID)
	if err != nil {
		return nil, loadError(err, "case %s not found", in.CaseID.Hex())
	}
	if c.Status == models.CaseClosed {
		return nil, apperrors.Validation("case is closed")
	}
	if _, err := s.store.GetPaymentMethod(ctx, in.PaymentMethodID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.Validation("unknown payment method")
		}
		return nil, apperrors.Internal(err, "failed to load payment method")
	}
	if in.RevisionOf != nil {
		if _, err := s.store.GetContribution(ctx, *in.RevisionOf); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, apperrors.Validation("revised contribution %s does not exist", in.RevisionOf.Hex())
			}
			return nil, apperrors.Internal(err, "failed to load revised contribution")
		}
	}

	var donorID *primitive.ObjectID
	switch {
	case in.Anonymous:
	case in.DonorID != nil && *in.DonorID != auth.CallerID:
		if !auth.IsAdmin() {
			return nil, apperrors.Forbidden("only administrators can record contributions for other donors")
		}
		donorID = in.DonorID
	default:
		id := auth.CallerID
		donorID = &id
	}

	contribution := &models.Contribution{
		CaseID:          in.CaseID,
		DonorID:         donorID,
		Amount:          in.Amount,
		PaymentMethodID: in.PaymentMethodID,
		Notes:           strings.TrimSpace(in.Notes),
		RevisionOf:      in.RevisionOf,
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Store) error {
		return s.CreatePending(ctx, tx, contribution)
	})
	if err != nil {
		return nil, asAppError(err, "failed to create contribution")
	}
	return contribution, nil
}

// CreatePending inserts c with a fresh pending approval record through tx.
// The batch pipeline shares it so imported contributions follow the same
// lifecycle.
func (s *Service) CreatePending(ctx context.Context, tx store.Store, c *models.Contribution) error {
	now := s.now().UTC()
	c.Status = models.ApprovalPending
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	if err := tx.CreateContribution(ctx, c); err != nil {
		return apperrors.Internal(err, "failed to create contribution")
	}
	approval := &models.Approval{
		ContributionID: c.ID,
		Status:         models.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.SaveApproval(ctx, approval); err != nil {
		return apperrors.Internal(err, "failed to create approval record")
	}
	return nil
}

// ---------------- READ ----------------

// Get returns a contribution with its approval record. The approval is nil
// for contributions that predate approval tracking.
func (s *Service) Get(ctx context.Context, auth authz.Context, contributionID primitive.ObjectID) (*models.Contribution, *models.Approval, error) {
	c, err := s.store.GetContribution(ctx, contributionID)
	if err != nil {
		return nil, nil, loadError(err, "contribution %s not found", contributionID.Hex())
	}
	if !auth.IsAdmin() && !auth.IsOwnerOf(c.DonorID) {
		return nil, nil, apperrors.Forbidden("not allowed to view this contribution")
	}
	a, err := s.store.GetApproval(ctx, contributionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperrors.Internal(err, "failed to load approval")
	}
	return c, a, nil
}

// RecomputeCase re-derives a case total from its approved contributions.
func (s *Service) RecomputeCase(ctx context.Context, auth authz.Context, caseID primitive.ObjectID) (decimal.Decimal, error) {
	if !auth.IsAdmin() {
		return decimal.Zero, apperrors.Forbidden("only administrators can recompute case totals")
	}
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return decimal.Zero, loadError(err, "case %s not found", caseID.Hex())
	}
	total, err := s.aggregator.Recompute(ctx, caseID)
	if err != nil {
		return decimal.Zero, apperrors.Internal(err, "failed to recompute case total")
	}
	return total, nil
}

// ---------------- HELPERS ----------------

func (s *Service) reconcile(ctx context.Context, out *Outcome, next models.ApprovalState) {
	c := out.Contribution
	s.record(out, StepAggregate, s.aggregator.Reconcile(ctx, c.CaseID, c.Amount, out.Previous, next))
}

func (s *Service) record(out *Outcome, step string, err error) {
	if err == nil {
		return
	}
	out.SideEffects = append(out.SideEffects, SideEffectFailure{Step: step, Err: err})
	s.logger.Warn("approval side effect failed",
		"step", step,
		"contribution_id", out.Contribution.ID.Hex(),
		"case_id", out.Contribution.CaseID.Hex(),
		"error", err)
}

func (s *Service) notice(ctx context.Context, out *Outcome) notify.Notice {
	n := notify.Notice{Contribution: out.Contribution, Approval: out.Approval}
	if c, err := s.store.GetCase(ctx, out.Contribution.CaseID); err == nil {
		n.CaseTitle = c.Title.EN
	}
	return n
}

func loadError(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.NotFound(format, args...)
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(err, "failed to load record")
}

func asAppError(err error, msg string) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Internal(err, "%s", msg)
}
