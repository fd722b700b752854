package targeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTransforms = []string{"versionCompare", "bucketSample"}

func TestTranslate(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{`true`, `true`},
		{`1.50`, `1.5`},
		{`'it\'s'`, `"it's"`},
		{`app_name`, `__get(__ctx, "app_name")`},
		{`a.b`, `__prop(__get(__ctx, "a"), "b")`},
		{`a["b"]`, `__get(__get(__ctx, "a"), "b")`},
		{`a == 1`, `__eq(__get(__ctx, "a"), 1)`},
		{`a != null`, `(!__eq(__get(__ctx, "a"), null))`},
		{`'x' in xs`, `__in("x", __get(__ctx, "xs"))`},
		{`1 + 2 * 3`, `(1 + (2 * 3))`},
		{`(1 + 2) * 3`, `(((1 + 2)) * 3)`},
		{`7 // 2`, `Math.floor(7 / 2)`},
		{`2 ^ 3`, `Math.pow(2, 3)`},
		{`!a && -b < 0`, `((!__get(__ctx, "a")) && ((-__get(__ctx, "b")) < 0))`},
		{`a || b && c`, `((__get(__ctx, "a") || __get(__ctx, "b")) && __get(__ctx, "c"))`},
		{`a ? 1 : 2`, `(__get(__ctx, "a") ? 1 : 2)`},
		{`[1, 'a']`, `[1, "a"]`},
		{`{x: 1, 'y': [ ]}`, `({"x": 1, "y": []})`},
		{`v|versionCompare('1.0')`, `__transforms.versionCompare(__get(__ctx, "v"), "1.0")`},
		{`xs[.n > 1]`, `__filter(__get(__ctx, "xs"), function(__it0) { return (__prop(__it0, "n") > 1); })`},
		{`xs[0]`, `__get(__get(__ctx, "xs"), 0)`},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Translate(tt.expr, testTransforms)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslateErrors(t *testing.T) {
	for _, expr := range []string{
		``,
		`a ==`,
		`(a`,
		`'open`,
		`a # b`,
		`x|nope`,
		`.relative`,
		`f(1)`,
		`a ? b`,
		`{1: 2}`,
		`[1, 2`,
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Translate(expr, testTransforms)
			var serr *SyntaxError
			require.ErrorAs(t, err, &serr)
			assert.Equal(t, expr, serr.Expr)
		})
	}
}
