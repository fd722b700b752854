package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDwimjs(t *testing.T) {
	tests := []struct {
		name string
		arg  interface{}
		want interface{}
	}{
		{
			name: "valid JSON string",
			arg:  `{"name":"John Doe","age":30}`,
			want: map[string]interface{}{"name": "John Doe", "age": float64(30)},
		},
		{
			name: "valid JSON bytes",
			arg:  []byte(`{"name":"Jane Doe","age":25}`),
			want: map[string]interface{}{"name": "Jane Doe", "age": float64(25)},
		},
		{
			name: "non-string, non-byte-slice type",
			arg:  12345,
			want: 12345,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Dwimjs(tt.arg))
		})
	}
}

func TestRecipeOptions(t *testing.T) {
	r := Recipe("a",
		Branches("control", "treatment"),
		Feature("f", `{"x":1}`),
		BranchFeature("treatment", "g", `{}`),
		Bucket(10, 20),
		Rollout(),
	)

	bs := r["branches"].([]interface{})
	require.Len(t, bs, 2)
	assert.Len(t, bs[0].(map[string]interface{})["features"], 1)
	assert.Len(t, bs[1].(map[string]interface{})["features"], 2)
	assert.Equal(t, []interface{}{"f", "g"}, r["featureIds"])
	assert.Equal(t, 20, r["bucketConfig"].(map[string]interface{})["count"])
	assert.Equal(t, true, r["isRollout"])

	var doc map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(Payload(r), &doc))
	assert.Equal(t, "a", doc["data"][0]["slug"])
}
