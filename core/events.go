package core

import "github.com/google/uuid"

// ChangeKind is the kind of an EnrollmentChangeEvent.
type ChangeKind string

const (
	ChangeEnrollment       ChangeKind = "Enrollment"
	ChangeEnrollFailed     ChangeKind = "EnrollFailed"
	ChangeDisqualification ChangeKind = "Disqualification"
	ChangeUnenrollment     ChangeKind = "Unenrollment"
	ChangeUnenrollFailed   ChangeKind = "UnenrollFailed"
)

// Reasons carried by change events.
const (
	ReasonDoesNotExist    = "does-not-exist"
	ReasonFeatureConflict = "feature-conflict"
	ReasonBucketing       = "bucketing"
	ReasonTargeting       = "targeting"
	ReasonOptOut          = "optout"
	ReasonError           = "error"
)

// NotApplicableBranch is the branch reported for enrollments that
// never picked one.
const NotApplicableBranch = "N/A"

// EnrollmentChangeEvent is emitted for every telemetry-relevant
// enrollment transition.
type EnrollmentChangeEvent struct {
	ExperimentSlug string     `json:"experiment_slug"`
	BranchSlug     string     `json:"branch_slug"`
	EnrollmentID   uuid.UUID  `json:"enrollment_id"`
	Reason         string     `json:"reason,omitempty"`
	Change         ChangeKind `json:"change"`
}

// ChangeEvent derives the event for an enrollment that just reached
// its status.  Statuses that aren't telemetry-relevant give false.
func ChangeEvent(e Enrollment) (EnrollmentChangeEvent, bool) {
	ev := EnrollmentChangeEvent{
		ExperimentSlug: e.Slug,
		EnrollmentID:   e.EnrollmentID(),
	}
	switch s := e.Status.(type) {
	case Enrolled:
		ev.BranchSlug = s.Branch
		ev.Change = ChangeEnrollment
	case WasEnrolled:
		ev.BranchSlug = s.Branch
		ev.Change = ChangeUnenrollment
	case Disqualified:
		ev.BranchSlug = s.Branch
		ev.Change = ChangeDisqualification
		switch s.Reason {
		case DisqualifiedNotSelected:
			ev.Reason = ReasonBucketing
		case DisqualifiedNotTargeted:
			ev.Reason = ReasonTargeting
		case DisqualifiedOptOut:
			ev.Reason = ReasonOptOut
		default:
			ev.Reason = ReasonError
		}
	default:
		return ev, false
	}
	return ev, true
}

// EnrollFailed is the event for an enrollment that couldn't happen.
func EnrollFailed(slug, branch, reason string) EnrollmentChangeEvent {
	return EnrollmentChangeEvent{
		ExperimentSlug: slug,
		BranchSlug:     branch,
		Reason:         reason,
		Change:         ChangeEnrollFailed,
	}
}

// UnenrollFailed is the event for an opt-out of an unknown recipe.
func UnenrollFailed(slug, reason string) EnrollmentChangeEvent {
	return EnrollmentChangeEvent{
		ExperimentSlug: slug,
		BranchSlug:     NotApplicableBranch,
		Reason:         reason,
		Change:         ChangeUnenrollFailed,
	}
}
