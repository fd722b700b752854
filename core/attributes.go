package core

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// AppContext describes the application the engine runs in.
type AppContext struct {
	AppName            string `json:"app_name"`
	AppID              string `json:"app_id"`
	Channel            string `json:"channel"`
	AppVersion         string `json:"app_version,omitempty"`
	AppBuild           string `json:"app_build,omitempty"`
	Architecture       string `json:"architecture,omitempty"`
	DeviceManufacturer string `json:"device_manufacturer,omitempty"`
	DeviceModel        string `json:"device_model,omitempty"`
	Locale             string `json:"locale,omitempty"`
	OS                 string `json:"os,omitempty"`
	OSVersion          string `json:"os_version,omitempty"`
	AndroidSDKVersion  string `json:"android_sdk_version,omitempty"`
	DebugTag           string `json:"debug_tag,omitempty"`
	InstallationDate   *int64 `json:"installation_date,omitempty"`
	HomeDirectory      string `json:"home_directory,omitempty"`

	// CustomTargetingAttributes are flattened into the targeting
	// context.
	CustomTargetingAttributes map[string]interface{} `json:"-"`
}

// AvailableRandomizationUnits are the identifiers a client can be
// bucketed on.  An empty value is unavailable.
type AvailableRandomizationUnits struct {
	NimbusID string
	UserID   string
}

// Get returns the value for a randomization unit.
func (u AvailableRandomizationUnits) Get(unit RandomizationUnit) (string, bool) {
	var v string
	switch unit {
	case NimbusID:
		v = u.NimbusID
	case UserID:
		v = u.UserID
	}
	return v, v != ""
}

// TargetingAttributes is everything a targeting expression can see.
type TargetingAttributes struct {
	App               AppContext
	Language          string
	Region            string
	RecordedContext   map[string]interface{}
	IsAlreadyEnrolled bool
	DaysSinceInstall  *int
	DaysSinceUpdate   *int
	ActiveExperiments StringSet
	Enrollments       StringSet
	EnrollmentsMap    map[string]string
	CurrentDate       time.Time
	NimbusID          string
}

// NewTargetingAttributes derives language and region from the app's
// locale.
func NewTargetingAttributes(app AppContext) *TargetingAttributes {
	lang, region := SplitLocale(app.Locale)
	return &TargetingAttributes{
		App:               app,
		Language:          lang,
		Region:            region,
		ActiveExperiments: make(StringSet),
		Enrollments:       make(StringSet),
		EnrollmentsMap:    make(map[string]string),
		CurrentDate:       time.Now().UTC(),
	}
}

// SplitLocale returns the language and, when the locale states one,
// the region.
func SplitLocale(locale string) (string, string) {
	if locale == "" {
		return "", ""
	}
	tag, err := language.Parse(locale)
	if err != nil {
		parts := strings.SplitN(locale, "-", 3)
		if len(parts) == 1 {
			return parts[0], ""
		}
		return parts[0], parts[1]
	}
	base, _ := tag.Base()
	var region string
	if r, conf := tag.Region(); conf == language.Exact {
		region = r.String()
	}
	return base.String(), region
}

// Copy returns a copy that shares nothing mutable with ta.
func (ta *TargetingAttributes) Copy() *TargetingAttributes {
	c := *ta
	c.ActiveExperiments = NewStringSet(ta.ActiveExperiments.Sorted()...)
	c.Enrollments = NewStringSet(ta.Enrollments.Sorted()...)
	c.EnrollmentsMap = make(map[string]string, len(ta.EnrollmentsMap))
	for k, v := range ta.EnrollmentsMap {
		c.EnrollmentsMap[k] = v
	}
	return &c
}

// UpdateTimeToNow sets the current date and the day counts derived
// from it.
func (ta *TargetingAttributes) UpdateTimeToNow(now time.Time, installed, updated *time.Time) {
	ta.CurrentDate = now
	ta.DaysSinceInstall = daysSince(now, installed)
	ta.DaysSinceUpdate = daysSince(now, updated)
}

func daysSince(now time.Time, then *time.Time) *int {
	if then == nil {
		return nil
	}
	d := int(now.Sub(*then) / (24 * time.Hour))
	return &d
}

// UpdateEnrollment folds one enrollment into the enrollment
// attributes.  It reports whether anything changed.
func (ta *TargetingAttributes) UpdateEnrollment(e Enrollment) bool {
	if ta.ActiveExperiments == nil {
		ta.ActiveExperiments = make(StringSet)
	}
	if ta.Enrollments == nil {
		ta.Enrollments = make(StringSet)
	}
	if ta.EnrollmentsMap == nil {
		ta.EnrollmentsMap = make(map[string]string)
	}

	wasActive := ta.ActiveExperiments.Has(e.Slug)
	wasEnrolled := ta.Enrollments.Has(e.Slug)
	prevBranch, hadBranch := ta.EnrollmentsMap[e.Slug]

	switch s := e.Status.(type) {
	case Enrolled:
		ta.ActiveExperiments.Add(e.Slug)
		ta.Enrollments.Add(e.Slug)
		ta.EnrollmentsMap[e.Slug] = s.Branch
		return !wasActive || !wasEnrolled || prevBranch != s.Branch
	case Disqualified, WasEnrolled:
		branch, _ := e.Branch()
		delete(ta.ActiveExperiments, e.Slug)
		ta.Enrollments.Add(e.Slug)
		ta.EnrollmentsMap[e.Slug] = branch
		return wasActive || !wasEnrolled || prevBranch != branch
	default:
		delete(ta.ActiveExperiments, e.Slug)
		delete(ta.Enrollments, e.Slug)
		delete(ta.EnrollmentsMap, e.Slug)
		return wasActive || wasEnrolled || hadBranch
	}
}

// UpdateEnrollments folds in a batch and returns how many changed
// something.
func (ta *TargetingAttributes) UpdateEnrollments(es []Enrollment) int {
	n := 0
	for _, e := range es {
		if ta.UpdateEnrollment(e) {
			n++
		}
	}
	return n
}

// Context renders the attributes as the JSON object targeting
// expressions evaluate against.  App fields, custom attributes and
// the recorded context are flattened into the top level.
func (ta *TargetingAttributes) Context() (map[string]interface{}, error) {
	x, err := Canonicalize(ta.App)
	if err != nil {
		return nil, err
	}
	ctx, _ := x.(map[string]interface{})
	if ctx == nil {
		ctx = make(map[string]interface{})
	}
	for k, v := range ta.App.CustomTargetingAttributes {
		ctx[k] = v
	}
	if ta.RecordedContext != nil {
		rc, err := Canonicalize(ta.RecordedContext)
		if err != nil {
			return nil, err
		}
		for k, v := range rc.(map[string]interface{}) {
			ctx[k] = v
		}
	}

	ctx["language"] = nullable(ta.Language)
	ctx["region"] = nullable(ta.Region)
	ctx["is_already_enrolled"] = ta.IsAlreadyEnrolled
	ctx["days_since_install"] = nullableInt(ta.DaysSinceInstall)
	ctx["days_since_update"] = nullableInt(ta.DaysSinceUpdate)
	ctx["active_experiments"] = interfaces(ta.ActiveExperiments.Sorted())
	ctx["enrollments"] = interfaces(ta.Enrollments.Sorted())
	em := make(map[string]interface{}, len(ta.EnrollmentsMap))
	for k, v := range ta.EnrollmentsMap {
		em[k] = v
	}
	ctx["enrollments_map"] = em
	ctx["current_date"] = float64(ta.CurrentDate.Unix())
	ctx["nimbus_id"] = nullable(ta.NimbusID)

	return ctx, nil
}

// MarshalJSON renders Context.
func (ta *TargetingAttributes) MarshalJSON() ([]byte, error) {
	ctx, err := ta.Context()
	if err != nil {
		return nil, err
	}
	return json.Marshal(ctx)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n *int) interface{} {
	if n == nil {
		return nil
	}
	return float64(*n)
}

func interfaces(xs []string) []interface{} {
	acc := make([]interface{}, len(xs))
	for i, x := range xs {
		acc[i] = x
	}
	return acc
}
