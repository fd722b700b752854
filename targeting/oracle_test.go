package targeting

import (
	"context"
	"testing"
	"time"

	"github.com/Comcast/nimbus/behavior"
	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/util/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func testAttributes(installedDaysAgo int) *core.TargetingAttributes {
	attrs := core.NewTargetingAttributes(core.AppContext{
		AppName:    "fenix",
		AppID:      "org.mozilla.fenix",
		Channel:    "nightly",
		AppVersion: "120.0.1",
		Locale:     "en-US",
		CustomTargetingAttributes: map[string]interface{}{
			"is_first_run": false,
			"homepage":     map[string]interface{}{"sections": []interface{}{"top-sites", "pocket"}},
		},
	})
	installed := testNow.Add(-time.Duration(installedDaysAgo) * 24 * time.Hour)
	attrs.UpdateTimeToNow(testNow, &installed, nil)
	attrs.NimbusID = testutil.ClientID
	attrs.UpdateEnrollment(core.Enrollment{
		Slug:   "old-exp",
		Status: core.Enrolled{EnrollmentID: uuid.New(), Reason: core.Qualified, Branch: "treatment"},
	})
	return attrs
}

func TestOracleEvaluate(t *testing.T) {
	ctx := context.Background()
	o := NewOracle(nil)
	attrs := testAttributes(10)

	tests := []struct {
		expr string
		want bool
	}{
		{`days_since_install == 10`, true},
		{`days_since_install < 10`, false},
		{`days_since_update == null`, true},
		{`app_name == 'fenix' && channel == "nightly"`, true},
		{`language == 'en' && region == 'US'`, true},
		{`!is_first_run`, true},
		{`'pocket' in homepage.sections`, true},
		{`'top' in 'top-sites'`, true},
		{`'sections' in homepage`, true},
		{`'old-exp' in active_experiments`, true},
		{`enrollments_map['old-exp'] == 'treatment'`, true},
		{`no.such.thing == null`, true},
		{`app_version|versionCompare('120.!') >= 0`, true},
		{`app_version|versionCompare('121.!') >= 0`, false},
		{`[{n: 1}, {n: 2}, {n: 3}][.n >= 2].n == 2`, true},
		{`{a: [1, {b: 2}]} == {a: [1, {b: 2}]}`, true},
		{`{a: 1} != {a: 1, b: 2}`, true},
		{`7 // 2 == 3 && 2 ^ 10 == 1024 && 7 % 4 == 3`, true},
		{`is_already_enrolled ? false : true`, true},
		{`current_date > 0`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := o.Evaluate(ctx, tt.expr, attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOracleErrors(t *testing.T) {
	ctx := context.Background()
	o := NewOracle(nil)
	attrs := testAttributes(1)

	_, err := o.Evaluate(ctx, `app_name`, attrs)
	assert.ErrorIs(t, err, core.ErrNotBoolean)

	_, err = o.Evaluate(ctx, `app_name ==`, attrs)
	var serr *SyntaxError
	assert.ErrorAs(t, err, &serr)

	var eerr *core.EvaluationError
	_, err = o.Evaluate(ctx, `app_name|versionCompare(1) == 0`, attrs)
	require.ErrorAs(t, err, &eerr)
	assert.Equal(t, `app_name|versionCompare(1) == 0`, eerr.Expr)
}

func TestOracleTimeout(t *testing.T) {
	o := NewOracle(nil)
	o.Timeout = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Evaluate(ctx, `true`, testAttributes(1))
	assert.Error(t, err)
}

func TestOracleCache(t *testing.T) {
	ctx := context.Background()
	o := NewOracle(nil)
	for i := 0; i < 3; i++ {
		_, err := o.Evaluate(ctx, `days_since_install > 1`, testAttributes(i))
		require.NoError(t, err)
	}
	assert.Len(t, o.programs, 1)
}

func TestOracleValidate(t *testing.T) {
	o := NewOracle(nil)
	assert.NoError(t, o.Validate(`'a'|eventSum('Days', 7) > 3`))
	assert.Error(t, o.Validate(`a ==`))
	assert.Error(t, o.Validate(`a|frobnicate`))
}

func TestOracleEvaluateValue(t *testing.T) {
	ctx := context.Background()
	o := NewOracle(nil)

	x, err := o.EvaluateValue(ctx, `[app_name, extra + 1]`, testAttributes(1), map[string]interface{}{"extra": 41})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"fenix", 42.0}, x)

	h := &Helper{Oracle: o, Extra: map[string]interface{}{"locale": "de"}}
	b, err := h.EvalJEXL(ctx, `locale == 'de'`)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = h.EvalJEXL(ctx, `locale`)
	assert.ErrorIs(t, err, core.ErrNotBoolean)
}

func TestOracleBucketSample(t *testing.T) {
	ctx := context.Background()
	o := NewOracle(nil)
	attrs := testAttributes(1)

	// [ClientID, "a"] lands in the first half of the bucket space.
	in, err := o.Evaluate(ctx, `[nimbus_id, 'a']|bucketSample(0, 5000, 10000)`, attrs)
	require.NoError(t, err)
	assert.True(t, in)

	in, err = o.Evaluate(ctx, `[nimbus_id, 'b']|bucketSample(0, 5000, 10000)`, attrs)
	require.NoError(t, err)
	assert.False(t, in)

	_, err = o.Evaluate(ctx, `nimbus_id|bucketSample(0, 5000)`, attrs)
	var terr *TransformError
	assert.ErrorAs(t, err, &terr)
}

func TestOracleEvents(t *testing.T) {
	ctx := context.Background()
	events := behavior.NewStore()
	events.Clock = func() time.Time { return testNow }
	require.NoError(t, events.RecordEvent("app.opened", 2))
	require.NoError(t, events.RecordPastEvent("app.opened", 1, 49*time.Hour))

	o := NewOracle(events)
	attrs := testAttributes(1)

	tests := []struct {
		expr string
		want bool
	}{
		{`'app.opened'|eventSum('Days', 7) == 3`, true},
		{`'app.opened'|eventSum('Days', 7, 1) == 1`, true},
		{`'app.opened'|eventCountNonZero('Days', 7) == 2`, true},
		{`'app.opened'|eventAveragePerInterval('Days', 3) == 1`, true},
		{`'app.opened'|eventAveragePerNonZeroInterval('Days', 7) == 1.5`, true},
		{`'app.opened'|eventLastSeen('Days') == 0`, true},
		{`'app.opened'|eventLastSeen('Days', 1) == 1`, true},
		{`'never'|eventSum('Days', 7) == 0`, true},
		{`'never'|eventLastSeen('Days') > 1000000`, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := o.Evaluate(ctx, tt.expr, attrs)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := o.Evaluate(ctx, `'app.opened'|eventSum('Fortnights', 7) == 0`, attrs)
	assert.Error(t, err)
	_, err = o.Evaluate(ctx, `'app.opened'|eventSum('Days') == 0`, attrs)
	assert.Error(t, err)
}

// The same recipe enrols or not depending on the install date.
func TestTargetingScenarios(t *testing.T) {
	ctx := context.Background()
	o := NewOracle(nil)

	rs, err := core.ParseRecipes(testutil.Payload(testutil.Recipe("install-10",
		testutil.Targeting(`days_since_install == 10`))), nil, nil)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	r := rs[0]

	ev := &core.Evaluation{
		Units:      core.AvailableRandomizationUnits{NimbusID: testutil.ClientID},
		Oracle:     o,
		Attributes: testAttributes(10),
	}
	e := ev.EvaluateEnrollment(ctx, &r)
	assert.True(t, e.IsEnrolled(), "%#v", e.Status)

	r.Targeting = `days_since_install < 10`
	e = ev.EvaluateEnrollment(ctx, &r)
	assert.Equal(t, core.NotEnrolled{Reason: core.NotTargeted}, e.Status)
}
