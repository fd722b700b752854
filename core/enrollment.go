package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// PreviousEnrollmentsGCTime is how long a WasEnrolled record outlives
// its recipe.
const PreviousEnrollmentsGCTime = 30 * 24 * time.Hour

// disqualify turns an Enrolled enrollment into a Disqualified one with
// the same id and branch.
func disqualify(e Enrollment, reason DisqualifiedReason) Enrollment {
	s := e.Status.(Enrolled)
	return Enrollment{
		Slug: e.Slug,
		Status: Disqualified{
			EnrollmentID: s.EnrollmentID,
			Reason:       reason,
			Branch:       s.Branch,
		},
	}
}

// emit appends the change event for e, if it has one.
func emit(events *[]EnrollmentChangeEvent, e Enrollment) {
	if ev, ok := ChangeEvent(e); ok {
		*events = append(*events, ev)
	}
}

// onNewRecipe gives the status of a recipe seen for the first time.
func (ev *Evolver) onNewRecipe(ctx context.Context, participating bool, r *Recipe, events *[]EnrollmentChangeEvent) Enrollment {
	var e Enrollment
	switch {
	case !participating:
		e = Enrollment{Slug: r.Slug, Status: NotEnrolled{Reason: NotEnrolledOptOut}}
	case r.IsEnrollmentPaused:
		e = Enrollment{Slug: r.Slug, Status: NotEnrolled{Reason: EnrollmentsPaused}}
	default:
		e = ev.EvaluateEnrollment(ctx, r)
		if e.IsEnrolled() {
			emit(events, e)
		}
	}
	ev.logger().Debug("new recipe", "slug", r.Slug, "status", e.Status.Name())
	return e
}

// onUpdatedRecipe gives the next status of an enrollment whose recipe
// is still in the catalog.
func (ev *Evolver) onUpdatedRecipe(ctx context.Context, participating bool, r *Recipe, prev Enrollment, events *[]EnrollmentChangeEvent) Enrollment {
	switch s := prev.Status.(type) {
	case NotEnrolled, Errored:
		if !participating || r.IsEnrollmentPaused {
			return prev
		}
		e := ev.EvaluateEnrollment(ctx, r)
		if e.IsEnrolled() {
			emit(events, e)
		}
		return e

	case Enrolled:
		var next Enrollment
		if !participating {
			next = disqualify(prev, DisqualifiedOptOut)
		} else if _, have := r.Branch(s.Branch); !have {
			next = disqualify(prev, DisqualifiedError)
		} else if s.Reason == OptIn {
			return prev
		} else {
			e := ev.EvaluateEnrollment(ctx, r)
			switch es := e.Status.(type) {
			case Errored:
				next = disqualify(prev, DisqualifiedError)
			case NotEnrolled:
				switch es.Reason {
				case NotTargeted:
					next = disqualify(prev, DisqualifiedNotTargeted)
				case NotSelected:
					next = disqualify(prev, DisqualifiedNotSelected)
				default:
					return prev
				}
			default:
				return prev
			}
		}
		ev.logger().Debug("disqualified", "slug", prev.Slug, "reason", next.Status.(Disqualified).Reason)
		emit(events, next)
		return next

	case Disqualified:
		if !participating {
			s.Reason = DisqualifiedOptOut
			return Enrollment{Slug: prev.Slug, Status: s}
		}
		return prev
	}

	return prev
}

// onRecipeEnded gives the status of an enrollment whose recipe left
// the catalog.  False means the record should be deleted.
func (ev *Evolver) onRecipeEnded(prev Enrollment, events *[]EnrollmentChangeEvent) (Enrollment, bool) {
	switch prev.Status.(type) {
	case Enrolled, Disqualified:
	default:
		return Enrollment{}, false
	}
	branch, _ := prev.Branch()
	e := Enrollment{
		Slug: prev.Slug,
		Status: WasEnrolled{
			EnrollmentID:      prev.EnrollmentID(),
			Branch:            branch,
			ExperimentEndedAt: uint64(ev.now().Unix()),
		},
	}
	emit(events, e)
	return e, true
}

// maybeGC keeps a recipe-less enrollment only while it's a recent
// WasEnrolled.
func (ev *Evolver) maybeGC(prev Enrollment) (Enrollment, bool) {
	s, is := prev.Status.(WasEnrolled)
	if !is {
		return Enrollment{}, false
	}
	ended := time.Unix(int64(s.ExperimentEndedAt), 0)
	if ev.now().Sub(ended) > PreviousEnrollmentsGCTime {
		ev.logger().Debug("collecting old enrollment", "slug", prev.Slug)
		return Enrollment{}, false
	}
	return prev, true
}

// OptInEnrollment enrolls the client in the given branch regardless
// of targeting or bucketing.
func OptInEnrollment(r *Recipe, branch string, newID func() uuid.UUID, events *[]EnrollmentChangeEvent) (Enrollment, error) {
	if _, have := r.Branch(branch); !have {
		*events = append(*events, EnrollFailed(r.Slug, branch, ReasonDoesNotExist))
		return Enrollment{}, &NoSuchBranch{Slug: r.Slug, Branch: branch}
	}
	if newID == nil {
		newID = uuid.New
	}
	e := Enrollment{
		Slug: r.Slug,
		Status: Enrolled{
			EnrollmentID: newID(),
			Reason:       OptIn,
			Branch:       branch,
		},
	}
	emit(events, e)
	return e, nil
}

// OptOutEnrollment applies an explicit opt-out.
func OptOutEnrollment(prev Enrollment, events *[]EnrollmentChangeEvent) Enrollment {
	switch prev.Status.(type) {
	case Enrolled:
		e := disqualify(prev, DisqualifiedOptOut)
		emit(events, e)
		return e
	case NotEnrolled:
		return Enrollment{Slug: prev.Slug, Status: NotEnrolled{Reason: NotEnrolledOptOut}}
	}
	return prev
}

// ResetEnrollment disqualifies an Enrolled enrollment and forgets the
// enrollment id of any status that has one.
func ResetEnrollment(prev Enrollment, events *[]EnrollmentChangeEvent) Enrollment {
	e := prev
	if prev.IsEnrolled() {
		e = disqualify(prev, DisqualifiedOptOut)
		emit(events, e)
	}
	switch s := e.Status.(type) {
	case Disqualified:
		s.EnrollmentID = uuid.Nil
		e.Status = s
	case WasEnrolled:
		s.EnrollmentID = uuid.Nil
		e.Status = s
	}
	return e
}
