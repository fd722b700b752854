package testutil

import "encoding/json"

// ClientID is a fixed nimbus id for tests.
const ClientID = "29686b11-00c0-4905-b5e4-f5f945eda60a"

// Option adjusts a recipe document made by Recipe.
type Option func(r map[string]interface{})

// Recipe makes a recipe document that enrolls every client: the whole
// bucket space, no targeting, a single "control" branch with no
// features.
func Recipe(slug string, opts ...Option) map[string]interface{} {
	r := map[string]interface{}{
		"schemaVersion":         "1.0.0",
		"slug":                  slug,
		"appName":               "fenix",
		"appId":                 "org.mozilla.fenix",
		"channel":               "nightly",
		"userFacingName":        slug,
		"userFacingDescription": "A recipe for tests.",
		"isEnrollmentPaused":    false,
		"proposedEnrollment":    7,
		"bucketConfig": map[string]interface{}{
			"randomizationUnit": "nimbus_id",
			"namespace":         slug,
			"start":             0,
			"count":             10000,
			"total":             10000,
		},
		"branches": []interface{}{
			map[string]interface{}{"slug": "control", "ratio": 1},
		},
		"featureIds": []interface{}{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Branches replaces the branches with equally weighted ones.
func Branches(slugs ...string) Option {
	return func(r map[string]interface{}) {
		bs := make([]interface{}, len(slugs))
		for i, s := range slugs {
			bs[i] = map[string]interface{}{"slug": s, "ratio": 1}
		}
		r["branches"] = bs
	}
}

// Feature sets feature id to the given JSON value on every branch.
func Feature(id, value string) Option {
	return func(r map[string]interface{}) {
		for _, b := range r["branches"].([]interface{}) {
			b := b.(map[string]interface{})
			fs, _ := b["features"].([]interface{})
			b["features"] = append(fs, map[string]interface{}{
				"featureId": id,
				"value":     Object(value),
			})
		}
		ids, _ := r["featureIds"].([]interface{})
		r["featureIds"] = append(ids, id)
	}
}

// LegacyFeature sets the single "feature" of every branch, the way
// version 1 documents did.
func LegacyFeature(id, value string) Option {
	return func(r map[string]interface{}) {
		for _, b := range r["branches"].([]interface{}) {
			b.(map[string]interface{})["feature"] = map[string]interface{}{
				"featureId": id,
				"value":     Object(value),
			}
		}
		ids, _ := r["featureIds"].([]interface{})
		r["featureIds"] = append(ids, id)
	}
}

// BranchFeature sets feature id on one branch only.
func BranchFeature(branch, id, value string) Option {
	return func(r map[string]interface{}) {
		for _, b := range r["branches"].([]interface{}) {
			b := b.(map[string]interface{})
			if b["slug"] != branch {
				continue
			}
			fs, _ := b["features"].([]interface{})
			b["features"] = append(fs, map[string]interface{}{
				"featureId": id,
				"value":     Object(value),
			})
		}
		ids, _ := r["featureIds"].([]interface{})
		r["featureIds"] = append(ids, id)
	}
}

// Bucket sets the bucket range.
func Bucket(start, count int) Option {
	return func(r map[string]interface{}) {
		bc := r["bucketConfig"].(map[string]interface{})
		bc["start"] = start
		bc["count"] = count
	}
}

// Namespace sets the bucket namespace.
func Namespace(ns string) Option {
	return func(r map[string]interface{}) {
		r["bucketConfig"].(map[string]interface{})["namespace"] = ns
	}
}

// Targeting sets the targeting expression.
func Targeting(expr string) Option {
	return func(r map[string]interface{}) {
		r["targeting"] = expr
	}
}

// Rollout marks the recipe as a rollout.
func Rollout() Option {
	return func(r map[string]interface{}) {
		r["isRollout"] = true
	}
}

// Paused marks enrollment as paused.
func Paused() Option {
	return func(r map[string]interface{}) {
		r["isEnrollmentPaused"] = true
	}
}

// Payload wraps recipe documents in a catalog envelope.
func Payload(recipes ...map[string]interface{}) []byte {
	data := make([]interface{}, len(recipes))
	for i, r := range recipes {
		data[i] = r
	}
	bs, err := json.Marshal(map[string]interface{}{"data": data})
	if err != nil {
		panic(err)
	}
	return bs
}
