package core

import (
	"strings"
)

// SlugPlaceholder in a string anywhere inside a branch's feature value
// is replaced by the recipe slug.
const SlugPlaceholder = "{experiment}"

// EnrolledFeatureConfig is the configuration a feature gets from one
// enrollment.  Branch is empty for rollouts and for coenrolling
// features merged across recipes.
type EnrolledFeatureConfig struct {
	Feature   FeatureConfig `json:"feature"`
	Slug      string        `json:"slug"`
	Branch    string        `json:"branch,omitempty"`
	FeatureID string        `json:"featureId"`
}

// IsRollout reports whether the configuration came from a rollout (or
// a merge of coenrolling recipes).
func (c *EnrolledFeatureConfig) IsRollout() bool {
	return c.Branch == ""
}

// FeatureMap maps feature ids to the configuration that applies.
type FeatureMap map[string]EnrolledFeatureConfig

// EnrolledFeatureConfigs returns the configurations an enrollment
// contributes.  Only Enrolled enrollments contribute.  Features the
// recipe uses that the chosen branch doesn't set get an empty value.
func EnrolledFeatureConfigs(e *Enrollment, r *Recipe) []EnrolledFeatureConfig {
	s, is := e.Status.(Enrolled)
	if !is || r == nil {
		return nil
	}

	var configs []FeatureConfig
	if b, have := r.Branch(s.Branch); have {
		for _, fc := range b.FeatureConfigs() {
			configs = append(configs, FeatureConfig{
				FeatureID: fc.FeatureID,
				Value:     replaceInMap(fc.Value, SlugPlaceholder, e.Slug),
			})
		}
	}

	covered := make(StringSet, len(configs))
	for _, fc := range configs {
		covered.Add(fc.FeatureID)
	}
	for _, id := range r.FeatureIDs() {
		if !covered.Has(id) {
			configs = append(configs, FeatureConfig{
				FeatureID: id,
				Value:     map[string]interface{}{},
			})
		}
	}

	branch := s.Branch
	if r.IsRollout {
		branch = ""
	}

	acc := make([]EnrolledFeatureConfig, 0, len(configs))
	for _, fc := range configs {
		acc = append(acc, EnrolledFeatureConfig{
			Feature:   fc,
			Slug:      e.Slug,
			Branch:    branch,
			FeatureID: fc.FeatureID,
		})
	}
	return acc
}

// populate adds c to colliding, or, for a coenrolling feature, merges
// it over whatever coenrolled already has.
func populate(c EnrolledFeatureConfig, coenrolling StringSet, colliding, coenrolled FeatureMap) {
	if !coenrolling.Has(c.FeatureID) {
		colliding[c.FeatureID] = c
		return
	}
	existing, have := coenrolled[c.FeatureID]
	if !have {
		coenrolled[c.FeatureID] = c
		return
	}
	coenrolled[c.FeatureID] = EnrolledFeatureConfig{
		Feature: FeatureConfig{
			FeatureID: c.FeatureID,
			Value:     MergeObjects(c.Feature.Value, existing.Feature.Value),
		},
		Slug:      existing.Slug + "+" + c.Slug,
		FeatureID: c.FeatureID,
	}
}

// mapFeatures computes the feature map of a set of enrollments, all
// from the same phase (rollouts or experiments).
func mapFeatures(es []Enrollment, recipes map[string]*Recipe, coenrolling StringSet) FeatureMap {
	colliding := make(FeatureMap)
	coenrolled := make(FeatureMap)
	for i := range es {
		for _, c := range EnrolledFeatureConfigs(&es[i], recipes[es[i].Slug]) {
			populate(c, coenrolling, colliding, coenrolled)
		}
	}
	for id, c := range coenrolled {
		colliding[id] = c
	}
	return colliding
}

// FeaturesByID computes the configuration of every feature touched by
// an enrollment: the experiment's value layered over the rollout's.
func FeaturesByID(es []Enrollment, recipes []Recipe, coenrolling StringSet) FeatureMap {
	rollouts, roEnrollments := partition(recipes, es, true)
	experiments, exEnrollments := partition(recipes, es, false)

	underRollout := mapFeatures(roEnrollments, RecipesBySlug(rollouts), coenrolling)
	underExperiment := mapFeatures(exEnrollments, RecipesBySlug(experiments), coenrolling)

	return layerFeatureMaps(underExperiment, underRollout)
}

// layerFeatureMaps layers top over fallback per feature.  Slug and
// branch come from top.
func layerFeatureMaps(top, fallback FeatureMap) FeatureMap {
	acc := make(FeatureMap, len(top)+len(fallback))
	for id, c := range fallback {
		acc[id] = c
	}
	for id, c := range top {
		if f, have := fallback[id]; have {
			c.Feature.Value = MergeObjects(c.Feature.Value, f.Feature.Value)
		}
		acc[id] = c
	}
	return acc
}

// partition selects the recipes that are (or aren't) rollouts and the
// enrollments for those recipes.
func partition(rs []Recipe, es []Enrollment, rollouts bool) ([]Recipe, []Enrollment) {
	var (
		recipes []Recipe
		slugs   = make(StringSet)
	)
	for _, r := range rs {
		if r.IsRollout == rollouts {
			recipes = append(recipes, r)
			slugs.Add(r.Slug)
		}
	}
	var enrollments []Enrollment
	for _, e := range es {
		if slugs.Has(e.Slug) {
			enrollments = append(enrollments, e)
		}
	}
	return recipes, enrollments
}

func replaceInMap(m map[string]interface{}, old, new string) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	acc := make(map[string]interface{}, len(m))
	for k, v := range m {
		acc[k] = replaceIn(v, old, new)
	}
	return acc
}

func replaceIn(x interface{}, old, new string) interface{} {
	switch vv := x.(type) {
	case string:
		return strings.ReplaceAll(vv, old, new)
	case map[string]interface{}:
		return replaceInMap(vv, old, new)
	case []interface{}:
		acc := make([]interface{}, len(vv))
		for i, y := range vv {
			acc[i] = replaceIn(y, old, new)
		}
		return acc
	default:
		return x
	}
}
