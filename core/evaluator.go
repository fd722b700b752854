package core

import (
	"context"
	"fmt"

	"github.com/Comcast/nimbus/sampling"
	"github.com/google/uuid"
)

// Oracle evaluates targeting expressions.
type Oracle interface {
	Evaluate(ctx context.Context, expr string, attrs *TargetingAttributes) (bool, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, expr string, attrs *TargetingAttributes) (bool, error)

func (f OracleFunc) Evaluate(ctx context.Context, expr string, attrs *TargetingAttributes) (bool, error) {
	return f(ctx, expr, attrs)
}

// NoRandomizationUnit is the Errored reason when the recipe's
// randomization unit isn't available.
const NoRandomizationUnit = "No randomization unit"

// Evaluation holds what EvaluateEnrollment needs beyond the recipe.
type Evaluation struct {
	Units      AvailableRandomizationUnits
	Oracle     Oracle
	Attributes *TargetingAttributes

	// NewID makes enrollment ids.  Defaults to uuid.New.
	NewID func() uuid.UUID
}

// EvaluateEnrollment decides the status of a recipe for this client:
// availability, targeting, bucketing and finally the branch.
//
// Failures are reported in the status (Errored), never returned.
func (ev *Evaluation) EvaluateEnrollment(ctx context.Context, r *Recipe) Enrollment {
	e := Enrollment{Slug: r.Slug}

	attrs := ev.Attributes
	if attrs == nil {
		attrs = NewTargetingAttributes(AppContext{})
	}

	if !r.IsAvailableTo(&attrs.App) {
		e.Status = NotEnrolled{Reason: NotTargeted}
		return e
	}

	if r.Targeting != "" {
		if ev.Oracle == nil {
			e.Status = Errored{Reason: ErrNoOracle.Error()}
			return e
		}
		ok, err := ev.Oracle.Evaluate(ctx, r.Targeting, attrs)
		if err != nil {
			e.Status = Errored{Reason: err.Error()}
			return e
		}
		if !ok {
			e.Status = NotEnrolled{Reason: NotTargeted}
			return e
		}
	}

	bc := r.BucketConfig
	id, have := ev.Units.Get(bc.RandomizationUnit)
	if !have {
		e.Status = Errored{Reason: NoRandomizationUnit}
		return e
	}

	hit, err := sampling.BucketSample([]string{id, bc.Namespace}, bc.Start, bc.Count, bc.Total)
	if err != nil {
		e.Status = Errored{Reason: err.Error()}
		return e
	}
	if !hit {
		e.Status = NotEnrolled{Reason: NotSelected}
		return e
	}

	branch, err := ChooseBranch(r, id)
	if err != nil {
		e.Status = Errored{Reason: err.Error()}
		return e
	}

	e.Status = Enrolled{
		EnrollmentID: ev.newID(),
		Reason:       Qualified,
		Branch:       branch.Slug,
	}
	return e
}

func (ev *Evaluation) newID() uuid.UUID {
	if ev.NewID == nil {
		return uuid.New()
	}
	return ev.NewID()
}

// ChooseBranch picks a branch by ratio.  The hash input differs from
// the bucketing input so that branch assignment is independent of
// bucket position.
func ChooseBranch(r *Recipe, id string) (*Branch, error) {
	input := fmt.Sprintf("experimentmanager-%s-%s-branch", id, r.Slug)
	i, err := sampling.RatioSample(input, r.Ratios())
	if err != nil {
		return nil, err
	}
	if i >= len(r.Branches) {
		return nil, fmt.Errorf("branch index %d out of range", i)
	}
	return &r.Branches[i], nil
}
