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
	"errors"
	"strconv"
)

var (
	// ErrDatabaseNotReady is returned by cache reads that happen
	// before the first successful apply.
	ErrDatabaseNotReady = errors.New("database not ready")

	// ErrInvalidRecipeFormat occurs when a recipe payload isn't an
	// object with a "data" array.
	ErrInvalidRecipeFormat = errors.New("invalid recipe payload")

	// ErrNotBoolean occurs when a targeting expression evaluates to
	// something other than a boolean.
	ErrNotBoolean = errors.New("targeting expression did not return a boolean")

	// ErrNoOracle means a recipe has a targeting expression but
	// nothing is available to evaluate it.
	ErrNoOracle = errors.New("no targeting oracle")
)

// NoSuchExperiment occurs when an operation names a recipe slug that
// isn't in the current catalog.
type NoSuchExperiment struct {
	Slug string
}

func (e *NoSuchExperiment) Error() string {
	return `no such experiment "` + e.Slug + `"`
}

// NoSuchBranch occurs when an opt-in names a branch the recipe
// doesn't have.
type NoSuchBranch struct {
	Slug   string
	Branch string
}

func (e *NoSuchBranch) Error() string {
	return `no branch "` + e.Branch + `" in experiment "` + e.Slug + `"`
}

// InternalError reports a broken invariant.  The evolver returns one
// when its incremental feature map disagrees with a recomputed one.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Msg
}

// EvaluationError wraps a failure to evaluate a targeting expression.
type EvaluationError struct {
	Expr string
	Err  error
}

func (e *EvaluationError) Error() string {
	return "evaluating " + strconv.Quote(e.Expr) + ": " + e.Err.Error()
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
