package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnrolledReason says how a client came to be enrolled.
type EnrolledReason string

const (
	Qualified EnrolledReason = "Qualified"
	OptIn     EnrolledReason = "OptIn"
)

// NotEnrolledReason says why a client isn't enrolled.
type NotEnrolledReason string

const (
	NotEnrolledOptOut NotEnrolledReason = "OptOut"
	NotSelected       NotEnrolledReason = "NotSelected"
	NotTargeted       NotEnrolledReason = "NotTargeted"
	EnrollmentsPaused NotEnrolledReason = "EnrollmentsPaused"
	FeatureConflict   NotEnrolledReason = "FeatureConflict"
)

// DisqualifiedReason says why an enrolled client was removed.
type DisqualifiedReason string

const (
	DisqualifiedError       DisqualifiedReason = "Error"
	DisqualifiedOptOut      DisqualifiedReason = "OptOut"
	DisqualifiedNotTargeted DisqualifiedReason = "NotTargeted"
	DisqualifiedNotSelected DisqualifiedReason = "NotSelected"
)

// EnrollmentStatus is one of Enrolled, NotEnrolled, Disqualified,
// WasEnrolled or Errored.
type EnrollmentStatus interface {
	// Name is the tag used in the JSON encoding.
	Name() string

	isEnrollmentStatus()
}

type Enrolled struct {
	EnrollmentID uuid.UUID      `json:"enrollment_id"`
	Reason       EnrolledReason `json:"reason"`
	Branch       string         `json:"branch"`
}

type NotEnrolled struct {
	Reason NotEnrolledReason `json:"reason"`
}

type Disqualified struct {
	EnrollmentID uuid.UUID          `json:"enrollment_id"`
	Reason       DisqualifiedReason `json:"reason"`
	Branch       string             `json:"branch"`
}

// WasEnrolled remembers a past enrollment after its recipe went away.
// ExperimentEndedAt is in Unix seconds.
type WasEnrolled struct {
	EnrollmentID      uuid.UUID `json:"enrollment_id"`
	Branch            string    `json:"branch"`
	ExperimentEndedAt uint64    `json:"experiment_ended_at"`
}

// Errored is the status of a recipe that couldn't be evaluated.
type Errored struct {
	Reason string `json:"reason"`
}

func (Enrolled) Name() string     { return "Enrolled" }
func (NotEnrolled) Name() string  { return "NotEnrolled" }
func (Disqualified) Name() string { return "Disqualified" }
func (WasEnrolled) Name() string  { return "WasEnrolled" }
func (Errored) Name() string      { return "Error" }

func (Enrolled) isEnrollmentStatus()     {}
func (NotEnrolled) isEnrollmentStatus()  {}
func (Disqualified) isEnrollmentStatus() {}
func (WasEnrolled) isEnrollmentStatus()  {}
func (Errored) isEnrollmentStatus()      {}

// Enrollment is a client's standing with respect to one recipe.
type Enrollment struct {
	Slug   string
	Status EnrollmentStatus
}

// IsEnrolled reports whether the status is Enrolled.
func (e Enrollment) IsEnrolled() bool {
	_, is := e.Status.(Enrolled)
	return is
}

// Branch returns the branch, if the status has one.
func (e Enrollment) Branch() (string, bool) {
	switch s := e.Status.(type) {
	case Enrolled:
		return s.Branch, true
	case Disqualified:
		return s.Branch, true
	case WasEnrolled:
		return s.Branch, true
	}
	return "", false
}

// EnrollmentID returns the enrollment id or uuid.Nil.
func (e Enrollment) EnrollmentID() uuid.UUID {
	switch s := e.Status.(type) {
	case Enrolled:
		return s.EnrollmentID
	case Disqualified:
		return s.EnrollmentID
	case WasEnrolled:
		return s.EnrollmentID
	}
	return uuid.Nil
}

// IsFeatureConflict reports whether the status is
// NotEnrolled{FeatureConflict}.
func (e Enrollment) IsFeatureConflict() bool {
	s, is := e.Status.(NotEnrolled)
	return is && s.Reason == FeatureConflict
}

type enrollmentJSON struct {
	Slug   string                     `json:"slug"`
	Status map[string]json.RawMessage `json:"status"`
}

func (e Enrollment) MarshalJSON() ([]byte, error) {
	if e.Status == nil {
		return nil, fmt.Errorf("enrollment %q has no status", e.Slug)
	}
	return json.Marshal(map[string]interface{}{
		"slug": e.Slug,
		"status": map[string]interface{}{
			e.Status.Name(): e.Status,
		},
	})
}

func (e *Enrollment) UnmarshalJSON(bs []byte) error {
	var x enrollmentJSON
	if err := json.Unmarshal(bs, &x); err != nil {
		return err
	}
	if x.Slug == "" {
		return errors.New("enrollment has no slug")
	}
	if len(x.Status) != 1 {
		return fmt.Errorf("enrollment %q: status must have exactly one tag", x.Slug)
	}
	var (
		status EnrollmentStatus
		err    error
	)
	for tag, js := range x.Status {
		status, err = decodeStatus(tag, js)
	}
	if err != nil {
		return fmt.Errorf("enrollment %q: %w", x.Slug, err)
	}
	e.Slug = x.Slug
	e.Status = status
	return nil
}

func decodeStatus(tag string, js json.RawMessage) (EnrollmentStatus, error) {
	switch tag {
	case "Enrolled":
		var s Enrolled
		err := json.Unmarshal(js, &s)
		return s, err
	case "NotEnrolled":
		var s NotEnrolled
		err := json.Unmarshal(js, &s)
		return s, err
	case "Disqualified":
		var s Disqualified
		err := json.Unmarshal(js, &s)
		return s, err
	case "WasEnrolled":
		var s WasEnrolled
		err := json.Unmarshal(js, &s)
		return s, err
	case "Error":
		var s Errored
		err := json.Unmarshal(js, &s)
		return s, err
	}
	return nil, fmt.Errorf("unknown enrollment status %q", tag)
}
