/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package core

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"time"
)

// Evolver computes the next set of enrollments from the previous
// catalog, the next catalog and the previous enrollments.
//
// An Evolver updates its Attributes as enrollments change, so a
// targeting expression evaluated later in a run sees the enrollments
// decided earlier in the same run.  An Evolver isn't safe for
// concurrent use.
type Evolver struct {
	Evaluation

	// Coenrolling features can be configured by any number of
	// recipes at once.  Their values are merged.
	Coenrolling StringSet

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

func (ev *Evolver) logger() *slog.Logger {
	if ev.Logger == nil {
		return slog.Default()
	}
	return ev.Logger
}

func (ev *Evolver) now() time.Time {
	if ev.Now == nil {
		return time.Now()
	}
	return ev.Now()
}

// Evolve runs rollouts first and then experiments, so an experiment
// and a rollout can both configure a feature.
//
// The returned error is an *InternalError if the result is
// inconsistent.  Problems with individual enrollments are logged and
// those enrollments are dropped.
func (ev *Evolver) Evolve(ctx context.Context, participating bool, prev, next []Recipe, prevEnrollments []Enrollment) ([]Enrollment, []EnrollmentChangeEvent, error) {
	if ev.Attributes == nil {
		ev.Attributes = NewTargetingAttributes(AppContext{})
	}

	prevRollouts, roEnrollments := partition(prev, prevEnrollments, true)
	nextRollouts, _ := partition(next, nil, true)

	enrollments, events, err := ev.evolveRecipes(ctx, participating, prevRollouts, nextRollouts, roEnrollments)
	if err != nil {
		return nil, nil, err
	}

	roSlugs := make(StringSet, len(roEnrollments))
	for _, e := range roEnrollments {
		roSlugs.Add(e.Slug)
	}
	var exEnrollments []Enrollment
	for _, e := range prevEnrollments {
		if !roSlugs.Has(e.Slug) {
			exEnrollments = append(exEnrollments, e)
		}
	}
	prevExperiments, _ := partition(prev, nil, false)
	nextExperiments, _ := partition(next, nil, false)

	more, moreEvents, err := ev.evolveRecipes(ctx, participating, prevExperiments, nextExperiments, exEnrollments)
	if err != nil {
		return nil, nil, err
	}

	return append(enrollments, more...), append(events, moreEvents...), nil
}

// reservation accumulates the feature maps while a phase runs.
type reservation struct {
	coenrolling StringSet
	recipes     map[string]*Recipe
	enrolled    FeatureMap
	coenrolled  FeatureMap
	enrollments []Enrollment
}

func (r *reservation) reserve(e Enrollment) {
	for _, c := range EnrolledFeatureConfigs(&e, r.recipes[e.Slug]) {
		populate(c, r.coenrolling, r.enrolled, r.coenrolled)
	}
	r.enrollments = append(r.enrollments, e)
}

func (ev *Evolver) evolveRecipes(ctx context.Context, participating bool, prev, next []Recipe, prevEnrollments []Enrollment) ([]Enrollment, []EnrollmentChangeEvent, error) {
	var (
		events    []EnrollmentChangeEvent
		prevMap   = RecipesBySlug(prev)
		nextMap   = RecipesBySlug(next)
		prevByKey = make(map[string]Enrollment, len(prevEnrollments))
		res       = &reservation{
			coenrolling: ev.Coenrolling,
			recipes:     nextMap,
			enrolled:    make(FeatureMap),
			coenrolled:  make(FeatureMap),
		}
	)

	sorted := make([]Enrollment, len(prevEnrollments))
	copy(sorted, prevEnrollments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Slug < sorted[j].Slug
	})

	// Previous enrollments claim their features first.
	for _, pe := range sorted {
		prevByKey[pe.Slug] = pe
		if pe.IsFeatureConflict() {
			continue
		}
		pe := pe
		e, keep, err := ev.evolveEnrollment(ctx, participating, prevMap[pe.Slug], nextMap[pe.Slug], &pe, &events)
		if err != nil {
			ev.logger().Warn("dropping enrollment", "slug", pe.Slug, "error", err)
			continue
		}
		if keep {
			ev.track(e)
			res.reserve(e)
		}
	}

	nextSorted := make([]Recipe, len(next))
	copy(nextSorted, next)
	SortRecipes(nextSorted)

	for i := range nextSorted {
		r := nextMap[nextSorted[i].Slug]

		pe, had := prevByKey[r.Slug]
		if had && !pe.IsFeatureConflict() {
			// Already evolved above.
			continue
		}

		var (
			inUse bool
			ours  bool
		)
		for _, id := range r.FeatureIDs() {
			if c, have := res.enrolled[id]; have {
				inUse = true
				if c.Slug == r.Slug {
					ours = true
				}
			}
		}
		if inUse {
			if !ours {
				res.enrollments = append(res.enrollments, Enrollment{
					Slug:   r.Slug,
					Status: NotEnrolled{Reason: FeatureConflict},
				})
				events = append(events, EnrollFailed(r.Slug, NotApplicableBranch, ReasonFeatureConflict))
			}
			continue
		}

		var pp *Enrollment
		if had {
			pp = &pe
		}
		e, keep, err := ev.evolveEnrollment(ctx, participating, prevMap[r.Slug], r, pp, &events)
		if err != nil {
			ev.logger().Warn("dropping enrollment", "slug", r.Slug, "error", err)
			continue
		}
		if keep {
			ev.track(e)
			res.reserve(e)
		}
	}

	for id, c := range res.coenrolled {
		res.enrolled[id] = c
	}

	recomputed := mapFeatures(res.enrollments, nextMap, ev.Coenrolling)
	if !reflect.DeepEqual(res.enrolled, recomputed) {
		return nil, nil, &InternalError{Msg: "next enrollment calculation error"}
	}

	return res.enrollments, events, nil
}

func (ev *Evolver) track(e Enrollment) {
	if ev.Attributes.UpdateEnrollment(e) {
		ev.logger().Debug("enrollment updated", "slug", e.Slug, "status", e.Status.Name())
	}
}

// evolveEnrollment decides the next state of one recipe.  False
// means there's no record to keep.
func (ev *Evolver) evolveEnrollment(ctx context.Context, participating bool, prevRecipe, nextRecipe *Recipe, prev *Enrollment, events *[]EnrollmentChangeEvent) (Enrollment, bool, error) {
	ev.Attributes.IsAlreadyEnrolled = prev != nil && prev.IsEnrolled()

	switch {
	case prevRecipe == nil && nextRecipe != nil && prev == nil:
		return ev.onNewRecipe(ctx, participating, nextRecipe, events), true, nil
	case prevRecipe != nil && nextRecipe == nil && prev != nil:
		e, keep := ev.onRecipeEnded(*prev, events)
		return e, keep, nil
	case prevRecipe != nil && nextRecipe != nil && prev != nil:
		return ev.onUpdatedRecipe(ctx, participating, nextRecipe, *prev, events), true, nil
	case prevRecipe == nil && nextRecipe == nil && prev != nil:
		e, keep := ev.maybeGC(*prev)
		return e, keep, nil
	case prevRecipe == nil && nextRecipe != nil && prev != nil:
		return Enrollment{}, false, &InternalError{Msg: "new recipe but enrollment already exists"}
	case prevRecipe != nil && prev == nil:
		return Enrollment{}, false, &InternalError{Msg: "known recipe has no enrollment"}
	}
	return Enrollment{}, false, &InternalError{Msg: "no recipe and no enrollment"}
}
