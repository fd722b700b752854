package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Comcast/nimbus/util/testutil"
)

func TestMergeObjects(t *testing.T) {
	tests := []struct {
		name     string
		top      string
		fallback string
		want     string
	}{
		{"disjoint", `{"a":1}`, `{"b":2}`, `{"a":1,"b":2}`},
		{"top wins", `{"a":1}`, `{"a":2}`, `{"a":1}`},
		{"nested", `{"o":{"x":1}}`, `{"o":{"y":2},"p":3}`, `{"o":{"x":1,"y":2},"p":3}`},
		{"null deletes", `{"a":null,"b":1}`, `{"a":{"x":1},"c":2}`, `{"b":1,"c":2}`},
		{"null without fallback stays", `{"a":null}`, `{}`, `{"a":null}`},
		{"array replaces", `{"a":[1]}`, `{"a":[2,3]}`, `{"a":[1]}`},
		{"scalar over object", `{"a":1}`, `{"a":{"x":1}}`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MergeObjects(testutil.Object(tt.top), testutil.Object(tt.fallback))
			assert.Equal(t, testutil.Object(tt.want), got)
		})
	}
}

func TestMergeDoesNotModifyInputs(t *testing.T) {
	top := testutil.Object(`{"o":{"x":1}}`)
	fallback := testutil.Object(`{"o":{"y":2}}`)
	MergeObjects(top, fallback)
	assert.Equal(t, testutil.Object(`{"o":{"x":1}}`), top)
	assert.Equal(t, testutil.Object(`{"o":{"y":2}}`), fallback)
}

func TestMergeValues(t *testing.T) {
	assert.Equal(t, "fallback", MergeValues(nil, "fallback"))
	assert.Equal(t, "top", MergeValues("top", "fallback"))
}

func TestMergeFeatureConfigs(t *testing.T) {
	got, err := MergeFeatureConfigs(
		FeatureConfig{FeatureID: "f", Value: testutil.Object(`{"a":1}`)},
		FeatureConfig{FeatureID: "f", Value: testutil.Object(`{"b":2}`)},
	)
	require.NoError(t, err)
	assert.Equal(t, testutil.Object(`{"a":1,"b":2}`), got.Value)

	_, err = MergeFeatureConfigs(FeatureConfig{FeatureID: "f"}, FeatureConfig{FeatureID: "g"})
	assert.Error(t, err)
}
