package ledger

import (
	"github.com/phillip/case-funding-ledger/models"
)

const (
	StepAggregate = "aggregate"
	StepNotify    = "notify"
)

// SideEffectFailure records a step that failed after the approval write was
// committed.
type SideEffectFailure struct {
	Step string `json:"step"`
	Err  error  `json:"-"`
}

func (f SideEffectFailure) Error() string {
	return f.Step + ": " + f.Err.Error()
}

// Outcome is the result of a committed approval write.
type Outcome struct {
	Approval     *models.Approval     `json:"approval"`
	Contribution *models.Contribution `json:"contribution"`
	Previous     models.ApprovalState `json:"previous_status"`
	SideEffects  []SideEffectFailure  `json:"-"`
}

// Degraded reports whether the write committed but a side effect failed.
func (o *Outcome) Degraded() bool {
	return o != nil && len(o.SideEffects) > 0
}

// FailedSteps lists the failed side effects by name.
func (o *Outcome) FailedSteps() []string {
	if o == nil {
		return nil
	}
	steps := make([]string, 0, len(o.SideEffects))
	for _, f := range o.SideEffects {
		steps = append(steps, f.Step)
	}
	return steps
}
