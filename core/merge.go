package core

import "fmt"

// MergeValues layers top over fallback.
//
// Two objects merge key by key.  A null top takes the fallback.  Any
// other top value wins.
func MergeValues(top, fallback interface{}) interface{} {
	if top == nil {
		return fallback
	}
	t, tIsMap := top.(map[string]interface{})
	f, fIsMap := fallback.(map[string]interface{})
	if tIsMap && fIsMap {
		return MergeObjects(t, f)
	}
	return top
}

// MergeObjects layers top over fallback key by key.
//
// Keys only in fallback are copied.  A key present in both is merged
// with MergeValues, except that a null in top deletes the key.  Neither
// input is modified.
func MergeObjects(top, fallback map[string]interface{}) map[string]interface{} {
	if top == nil && fallback == nil {
		return nil
	}
	acc := make(map[string]interface{}, len(top)+len(fallback))
	for k, v := range top {
		acc[k] = v
	}
	for k, fv := range fallback {
		tv, have := top[k]
		switch {
		case !have:
			acc[k] = fv
		case tv == nil:
			delete(acc, k)
		default:
			acc[k] = MergeValues(tv, fv)
		}
	}
	return acc
}

// MergeFeatureConfigs layers top over fallback.  Both must be for the
// same feature.
func MergeFeatureConfigs(top, fallback FeatureConfig) (FeatureConfig, error) {
	if top.FeatureID != fallback.FeatureID {
		return FeatureConfig{}, fmt.Errorf("cannot merge feature %q over %q", top.FeatureID, fallback.FeatureID)
	}
	return FeatureConfig{
		FeatureID: top.FeatureID,
		Value:     MergeObjects(top.Value, fallback.Value),
	}, nil
}
