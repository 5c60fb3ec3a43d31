package auth

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// SagaStep is one action of a Saga with the compensation that undoes it.
// Compensate may be nil for the final step or for read-only steps.
type SagaStep struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Saga runs steps in order. When a step fails, every completed step is
// compensated in reverse order and one consolidated error is returned.
type Saga struct {
	name   string
	steps  []SagaStep
	logger Logger
}

// SagaReport lists what ran; it is attached to the consolidated error.
type SagaReport struct {
	Completed     []string
	FailedStep    string
	Compensated   []string
	CompensateErr []string
}

func NewSaga(name string, logger Logger, steps ...SagaStep) *Saga {
	return &Saga{
		name:   name,
		steps:  steps,
		logger: normalizeLogger(logger),
	}
}

// Run executes the saga. Compensations run on a context detached from
// cancellation so a cancelled request still cleans up.
func (s *Saga) Run(ctx context.Context) (SagaReport, error) {
	report := SagaReport{}
	done := make([]SagaStep, 0, len(s.steps))

	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			report.FailedStep = step.Name
			return report, s.rollback(ctx, done, &report, err)
		}
		if err := step.Action(ctx); err != nil {
			report.FailedStep = step.Name
			s.logger.Warn("saga step failed, compensating", "saga", s.name, "step", step.Name, "error", err)
			return report, s.rollback(ctx, done, &report, err)
		}
		done = append(done, step)
		report.Completed = append(report.Completed, step.Name)
	}
	return report, nil
}

func (s *Saga) rollback(ctx context.Context, done []SagaStep, report *SagaReport, cause error) error {
	cctx := context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(cctx); err != nil {
			s.logger.Error("saga compensation failed", "saga", s.name, "step", step.Name, "error", err)
			report.CompensateErr = append(report.CompensateErr, fmt.Sprintf("%s: %v", step.Name, err))
			continue
		}
		report.Compensated = append(report.Compensated, step.Name)
	}

	// goerrors.Wrap would keep the category of a rich cause, so the workflow
	// error is built fresh with the cause as its source.
	werr := goerrors.New(fmt.Sprintf("%s failed at step %q", s.name, report.FailedStep), goerrors.CategoryOperation).
		WithTextCode(TextCodeApprovalFailed).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{
			"saga":                  s.name,
			"failed_step":           report.FailedStep,
			"completed":             report.Completed,
			"compensated":           report.Compensated,
			"compensation_failures": report.CompensateErr,
			"cause":                 cause.Error(),
		})
	werr.Source = cause
	return werr
}
