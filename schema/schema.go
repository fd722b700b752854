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

// Package schema checks the structure of raw recipes against an
// embedded CUE definition before they are decoded.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed recipe.cue
var recipeCUE string

// ErrInvalidRecipe wraps every structural complaint.
var ErrInvalidRecipe = errors.New("recipe does not match schema")

// Validator implements core.RecipeValidator.
//
// A cue.Context isn't safe for concurrent use, so calls are
// serialized.
type Validator struct {
	sync.Mutex
	ctx    *cue.Context
	recipe cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	return Compile(recipeCUE, "#Recipe")
}

// Compile builds a Validator from CUE source and the path of the
// definition raw recipes must satisfy.
func Compile(src, path string) (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("recipe.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath(path))
	if !def.Exists() {
		return nil, fmt.Errorf("schema has no %s", path)
	}
	return &Validator{
		ctx:    ctx,
		recipe: def,
	}, nil
}

// MustNew is New that panics.
func MustNew() *Validator {
	v, err := New()
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateRecipe reports whether raw, a single JSON recipe, has the
// required shape.
func (v *Validator) ValidateRecipe(raw []byte) error {
	expr, err := cuejson.Extract("recipe", raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipe, err)
	}

	v.Lock()
	defer v.Unlock()

	x := v.ctx.BuildExpr(expr)
	if err := x.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRecipe, cueerrors.Details(err, nil))
	}
	if err := v.recipe.Unify(x).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidRecipe, cueerrors.Details(err, nil))
	}
	return nil
}
