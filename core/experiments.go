package core

import "sort"

// EnrolledExperiment describes an active enrollment to the app.
type EnrolledExperiment struct {
	FeatureIDs            []string `json:"featureIds"`
	Slug                  string   `json:"slug"`
	UserFacingName        string   `json:"userFacingName"`
	UserFacingDescription string   `json:"userFacingDescription"`
	BranchSlug            string   `json:"branchSlug"`
	EnrollmentID          string   `json:"enrollmentId"`
}

// ExperimentBranch is a branch as listed by AvailableExperiment.
type ExperimentBranch struct {
	Slug  string `json:"slug"`
	Ratio uint32 `json:"ratio"`
}

// AvailableExperiment is a recipe as shown to someone choosing a
// branch to opt into.
type AvailableExperiment struct {
	Slug                  string             `json:"slug"`
	UserFacingName        string             `json:"userFacingName"`
	UserFacingDescription string             `json:"userFacingDescription"`
	Branches              []ExperimentBranch `json:"branches"`
	ReferenceBranch       string             `json:"referenceBranch,omitempty"`
}

// EnrolledFeature says which enrollment configures a feature.
type EnrolledFeature struct {
	Slug      string `json:"slug"`
	Branch    string `json:"branch,omitempty"`
	FeatureID string `json:"featureId"`
}

func (c *EnrolledFeatureConfig) EnrolledFeature() EnrolledFeature {
	return EnrolledFeature{
		Slug:      c.Slug,
		Branch:    c.Branch,
		FeatureID: c.FeatureID,
	}
}

// ExperimentBranches lists the recipe's branches.
func (r *Recipe) ExperimentBranches() []ExperimentBranch {
	acc := make([]ExperimentBranch, len(r.Branches))
	for i, b := range r.Branches {
		acc[i] = ExperimentBranch{Slug: b.Slug, Ratio: b.Ratio}
	}
	return acc
}

func (r *Recipe) Available() AvailableExperiment {
	return AvailableExperiment{
		Slug:                  r.Slug,
		UserFacingName:        r.UserFacingName,
		UserFacingDescription: r.UserFacingDescription,
		Branches:              r.ExperimentBranches(),
		ReferenceBranch:       r.ReferenceBranch,
	}
}

// EnrolledExperiments pairs each Enrolled enrollment with its recipe.
// Enrollments without a recipe are skipped.  The result is in slug
// order.
func EnrolledExperiments(recipes []Recipe, es []Enrollment) []EnrolledExperiment {
	bySlug := RecipesBySlug(recipes)
	var acc []EnrolledExperiment
	for _, e := range es {
		s, is := e.Status.(Enrolled)
		if !is {
			continue
		}
		r, have := bySlug[e.Slug]
		if !have {
			continue
		}
		acc = append(acc, EnrolledExperiment{
			FeatureIDs:            r.FeatureIDs(),
			Slug:                  r.Slug,
			UserFacingName:        r.UserFacingName,
			UserFacingDescription: r.UserFacingDescription,
			BranchSlug:            s.Branch,
			EnrollmentID:          s.EnrollmentID.String(),
		})
	}
	sort.Slice(acc, func(i, j int) bool { return acc[i].Slug < acc[j].Slug })
	return acc
}
