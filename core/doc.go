/* Copyright 2018-2019 Comcast Cable Communications Management, LLC
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

// Package core provides the enrollment machinery: recipes, enrollment
// statuses and the rules that move a client between them.
//
// A Recipe describes an experiment or a rollout.  For each recipe a
// client has an Enrollment, whose EnrollmentStatus is one of
// Enrolled, NotEnrolled, Disqualified, WasEnrolled or Errored.
//
// The primary type is Evolver, and the primary method is Evolve().
// Given the previous catalog, the next catalog and the previous
// enrollments, Evolve computes the next enrollments and the change
// events that telemetry should hear about.  Evolve does no IO.
// Targeting expressions are evaluated by an Oracle that the caller
// provides.
//
// Each feature is configured by at most one experiment and at most one
// rollout.  Rollouts are evolved first, then experiments, and within
// each phase recipes are visited in slug order, so the earlier slug
// wins a conflict.  FeaturesByID layers the experiment's configuration
// over the rollout's.
package core
