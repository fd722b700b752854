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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// DefaultTotalBuckets is the size of the bucket space when a recipe
// doesn't say.
const DefaultTotalBuckets = 10000

// RandomizationUnit names the client identifier a recipe buckets on.
type RandomizationUnit string

const (
	NimbusID RandomizationUnit = "nimbus_id"
	UserID   RandomizationUnit = "user_id"
)

// BucketConfig is the slice of the bucket space a recipe enrolls.
type BucketConfig struct {
	RandomizationUnit RandomizationUnit `json:"randomizationUnit"`
	Namespace         string            `json:"namespace"`
	Start             uint32            `json:"start"`
	Count             uint32            `json:"count"`
	Total             uint32            `json:"total"`
}

func (c *BucketConfig) UnmarshalJSON(bs []byte) error {
	type plain BucketConfig
	p := plain{
		RandomizationUnit: NimbusID,
		Total:             DefaultTotalBuckets,
	}
	if err := json.Unmarshal(bs, &p); err != nil {
		return err
	}
	*c = BucketConfig(p)
	return nil
}

// FeatureConfig is the value a branch gives to one feature.
type FeatureConfig struct {
	FeatureID string                 `json:"featureId"`
	Value     map[string]interface{} `json:"value"`
}

// Branch is one arm of a recipe.
//
// Older recipes carry a single Feature.  When Features is present it
// wins.
type Branch struct {
	Slug     string          `json:"slug"`
	Ratio    uint32          `json:"ratio"`
	Feature  *FeatureConfig  `json:"feature,omitempty"`
	Features []FeatureConfig `json:"features,omitempty"`
}

// FeatureConfigs returns the branch's feature configurations.
func (b *Branch) FeatureConfigs() []FeatureConfig {
	if b.Features != nil {
		return b.Features
	}
	if b.Feature != nil {
		return []FeatureConfig{*b.Feature}
	}
	return nil
}

// Recipe is the definition of one experiment or rollout.
type Recipe struct {
	SchemaVersion         string       `json:"schemaVersion"`
	Slug                  string       `json:"slug"`
	AppName               string       `json:"appName,omitempty"`
	AppID                 string       `json:"appId,omitempty"`
	Channel               string       `json:"channel,omitempty"`
	UserFacingName        string       `json:"userFacingName"`
	UserFacingDescription string       `json:"userFacingDescription"`
	IsEnrollmentPaused    bool         `json:"isEnrollmentPaused"`
	IsRollout             bool         `json:"isRollout,omitempty"`
	BucketConfig          BucketConfig `json:"bucketConfig"`
	Branches              []Branch     `json:"branches"`

	// DeclaredFeatureIDs is the recipe's own list.  Conflict
	// resolution uses FeatureIDs, which is derived from the branches.
	DeclaredFeatureIDs []string `json:"featureIds"`

	Targeting          string `json:"targeting,omitempty"`
	StartDate          string `json:"startDate,omitempty"`
	EndDate            string `json:"endDate,omitempty"`
	ProposedDuration   *int   `json:"proposedDuration,omitempty"`
	ProposedEnrollment int    `json:"proposedEnrollment"`
	ReferenceBranch    string `json:"referenceBranch,omitempty"`
	PublishedDate      string `json:"publishedDate,omitempty"`
}

func (r *Recipe) UnmarshalJSON(bs []byte) error {
	type plain Recipe
	p := plain{
		BucketConfig: BucketConfig{
			RandomizationUnit: NimbusID,
			Total:             DefaultTotalBuckets,
		},
	}
	if err := json.Unmarshal(bs, &p); err != nil {
		return err
	}
	*r = Recipe(p)
	return nil
}

// Branch finds a branch by slug.
func (r *Recipe) Branch(slug string) (*Branch, bool) {
	for i := range r.Branches {
		if r.Branches[i].Slug == slug {
			return &r.Branches[i], true
		}
	}
	return nil, false
}

// FeatureIDs returns the sorted set of feature ids mentioned by any
// branch.
func (r *Recipe) FeatureIDs() []string {
	seen := make(StringSet)
	for i := range r.Branches {
		for _, fc := range r.Branches[i].FeatureConfigs() {
			seen.Add(fc.FeatureID)
		}
	}
	return seen.Sorted()
}

// Ratios returns the branch ratios in declared order.
func (r *Recipe) Ratios() []uint32 {
	acc := make([]uint32, len(r.Branches))
	for i, b := range r.Branches {
		acc[i] = b.Ratio
	}
	return acc
}

// IsAvailableTo reports whether the recipe targets this application.
// A recipe without an app name or channel doesn't constrain it.
// Channel comparison ignores case.
func (r *Recipe) IsAvailableTo(app *AppContext) bool {
	if r.AppName != "" && r.AppName != app.AppName {
		return false
	}
	if r.Channel != "" && !strings.EqualFold(r.Channel, app.Channel) {
		return false
	}
	return true
}

// Check is the minimal structural test a decoded recipe must pass.
func (r *Recipe) Check() error {
	if r.Slug == "" {
		return errors.New("recipe has no slug")
	}
	for i, b := range r.Branches {
		if b.Slug == "" {
			return fmt.Errorf("branch %d of %q has no slug", i, r.Slug)
		}
		for _, fc := range b.FeatureConfigs() {
			if fc.FeatureID == "" {
				return fmt.Errorf("branch %q of %q has a feature without an id", b.Slug, r.Slug)
			}
		}
	}
	switch r.BucketConfig.RandomizationUnit {
	case NimbusID, UserID:
	default:
		return fmt.Errorf("recipe %q has unknown randomization unit %q", r.Slug, r.BucketConfig.RandomizationUnit)
	}
	return nil
}

// RecipeValidator checks one raw recipe before it is decoded.
type RecipeValidator interface {
	ValidateRecipe(raw []byte) error
}

// Payload is the envelope a recipe catalog arrives in.
type Payload struct {
	Data []json.RawMessage `json:"data"`
}

// ParseRecipes decodes a catalog payload.
//
// A payload without a "data" array is an error.  Individual recipes
// that fail validation or decoding are logged and dropped.  The
// result is sorted by slug.
func ParseRecipes(payload []byte, v RecipeValidator, log *slog.Logger) ([]Recipe, error) {
	if log == nil {
		log = slog.Default()
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecipeFormat, err)
	}
	data, have := envelope["data"]
	if !have {
		return nil, fmt.Errorf("%w: no data", ErrInvalidRecipeFormat)
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: data is not an array", ErrInvalidRecipeFormat)
	}

	recipes := make([]Recipe, 0, len(raws))
	for i, raw := range raws {
		if v != nil {
			if err := v.ValidateRecipe(raw); err != nil {
				log.Warn("dropping invalid recipe", "index", i, "error", err)
				continue
			}
		}
		var r Recipe
		if err := json.Unmarshal(raw, &r); err != nil {
			log.Warn("dropping undecodable recipe", "index", i, "error", err)
			continue
		}
		if err := r.Check(); err != nil {
			log.Warn("dropping malformed recipe", "index", i, "error", err)
			continue
		}
		recipes = append(recipes, r)
	}

	SortRecipes(recipes)

	return recipes, nil
}

// SortRecipes orders recipes by slug.
func SortRecipes(rs []Recipe) {
	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].Slug < rs[j].Slug
	})
}

// RecipesBySlug indexes recipes by slug.
func RecipesBySlug(rs []Recipe) map[string]*Recipe {
	acc := make(map[string]*Recipe, len(rs))
	for i := range rs {
		acc[rs[i].Slug] = &rs[i]
	}
	return acc
}
