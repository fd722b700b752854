package schema

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/logger"
	"github.com/Comcast/nimbus/util/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(t *testing.T, r map[string]interface{}) []byte {
	bs, err := json.Marshal(r)
	require.NoError(t, err)
	return bs
}

func TestValidRecipes(t *testing.T) {
	v := MustNew()
	for name, r := range map[string]map[string]interface{}{
		"plain":    testutil.Recipe("a"),
		"features": testutil.Recipe("a", testutil.Branches("control", "treatment"), testutil.Feature("f", `{"x":1}`)),
		"legacy":   testutil.Recipe("a", testutil.LegacyFeature("f", `{"x":1}`)),
		"rollout":  testutil.Recipe("a", testutil.Rollout(), testutil.Targeting("true")),
		"extra": testutil.Recipe("a", func(r map[string]interface{}) {
			r["localizations"] = nil
			r["targeting"] = nil
		}),
	} {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, v.ValidateRecipe(raw(t, r)))
		})
	}
}

func TestInvalidRecipes(t *testing.T) {
	v := MustNew()
	for name, opt := range map[string]testutil.Option{
		"no slug":        func(r map[string]interface{}) { delete(r, "slug") },
		"empty slug":     func(r map[string]interface{}) { r["slug"] = "" },
		"no branches":    func(r map[string]interface{}) { r["branches"] = []interface{}{} },
		"negative ratio": func(r map[string]interface{}) { r["branches"] = []interface{}{map[string]interface{}{"slug": "c", "ratio": -1}} },
		"bad unit": func(r map[string]interface{}) {
			r["bucketConfig"].(map[string]interface{})["randomizationUnit"] = "client_id"
		},
		"zero total": func(r map[string]interface{}) {
			r["bucketConfig"].(map[string]interface{})["total"] = 0
		},
		"paused not bool": func(r map[string]interface{}) { r["isEnrollmentPaused"] = "no" },
		"feature value": func(r map[string]interface{}) {
			r["branches"] = []interface{}{map[string]interface{}{
				"slug":     "c",
				"ratio":    1,
				"features": []interface{}{map[string]interface{}{"featureId": "f", "value": []interface{}{1, 2}}},
			}}
		},
		"feature id": testutil.Feature("", `{}`),
	} {
		t.Run(name, func(t *testing.T) {
			err := v.ValidateRecipe(raw(t, testutil.Recipe("a", opt)))
			assert.ErrorIs(t, err, ErrInvalidRecipe)
		})
	}
}

func TestNotJSON(t *testing.T) {
	assert.ErrorIs(t, MustNew().ValidateRecipe([]byte(`{"slug":`)), ErrInvalidRecipe)
}

func TestCompileErrors(t *testing.T) {
	_, err := Compile(`#Recipe: {`, "#Recipe")
	assert.Error(t, err)
	_, err = Compile(`#Other: {}`, "#Recipe")
	assert.Error(t, err)
}

func TestParseRecipesDropsInvalid(t *testing.T) {
	bad := testutil.Recipe("bad")
	bad["bucketConfig"] = "everyone"
	payload := testutil.Payload(testutil.Recipe("good"), bad)

	rs, err := core.ParseRecipes(payload, MustNew(), logger.Discard())
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "good", rs[0].Slug)
}

func TestConcurrentValidation(t *testing.T) {
	v := MustNew()
	bs := raw(t, testutil.Recipe("a"))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, v.ValidateRecipe(bs))
		}()
	}
	wg.Wait()
}
