package core

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Comcast/nimbus/util/testutil"
)

func TestEnrolledExperiments(t *testing.T) {
	rs := recipes(t,
		testutil.Recipe("b", testutil.Branches("control", "treatment"), testutil.Feature("f", `{}`)),
		testutil.Recipe("a", testutil.Feature("g", `{}`)),
		testutil.Recipe("c"),
	)
	id := uuid.MustParse(testutil.ClientID)
	es := []Enrollment{
		{Slug: "b", Status: Enrolled{EnrollmentID: id, Reason: Qualified, Branch: "treatment"}},
		{Slug: "a", Status: Enrolled{EnrollmentID: id, Reason: OptIn, Branch: "control"}},
		{Slug: "c", Status: NotEnrolled{Reason: NotSelected}},
		{Slug: "gone", Status: Enrolled{EnrollmentID: id, Reason: Qualified, Branch: "control"}},
	}

	got := EnrolledExperiments(rs, es)
	assert.Equal(t, []EnrolledExperiment{
		{
			FeatureIDs:            []string{"g"},
			Slug:                  "a",
			UserFacingName:        "a",
			UserFacingDescription: "A recipe for tests.",
			BranchSlug:            "control",
			EnrollmentID:          testutil.ClientID,
		},
		{
			FeatureIDs:            []string{"f"},
			Slug:                  "b",
			UserFacingName:        "b",
			UserFacingDescription: "A recipe for tests.",
			BranchSlug:            "treatment",
			EnrollmentID:          testutil.ClientID,
		},
	}, got)
}

func TestAvailable(t *testing.T) {
	r := recipes(t, testutil.Recipe("a", testutil.Branches("control", "treatment")))[0]
	r.ReferenceBranch = "control"
	assert.Equal(t, AvailableExperiment{
		Slug:                  "a",
		UserFacingName:        "a",
		UserFacingDescription: "A recipe for tests.",
		Branches: []ExperimentBranch{
			{Slug: "control", Ratio: 1},
			{Slug: "treatment", Ratio: 1},
		},
		ReferenceBranch: "control",
	}, r.Available())
}
