// Package dbcache keeps an in-memory snapshot of the applied catalog
// and enrollments so feature lookups never wait on storage.
package dbcache

import (
	"sync"

	"github.com/Comcast/nimbus/core"
)

// snapshot is never mutated after it's built.
type snapshot struct {
	recipes     []core.Recipe
	enrollments []core.Enrollment
	active      map[string]core.EnrolledExperiment
	features    core.FeatureMap
}

// Cache is safe for concurrent use.  Until the first Update, every
// read returns core.ErrDatabaseNotReady.
type Cache struct {
	sync.RWMutex

	data *snapshot
}

func New() *Cache {
	return &Cache{}
}

// Update replaces the snapshot.  Readers see either the old one or
// the new one.
func (c *Cache) Update(recipes []core.Recipe, enrollments []core.Enrollment, coenrolling core.StringSet) {
	rs := append([]core.Recipe(nil), recipes...)
	es := append([]core.Enrollment(nil), enrollments...)

	active := make(map[string]core.EnrolledExperiment)
	for _, x := range core.EnrolledExperiments(rs, es) {
		active[x.Slug] = x
	}

	data := &snapshot{
		recipes:     rs,
		enrollments: es,
		active:      active,
		features:    core.FeaturesByID(es, rs, coenrolling),
	}

	c.Lock()
	c.data = data
	c.Unlock()
}

func (c *Cache) get() (*snapshot, error) {
	c.RLock()
	data := c.data
	c.RUnlock()
	if data == nil {
		return nil, core.ErrDatabaseNotReady
	}
	return data, nil
}

// ExperimentBranch returns the branch of an active enrollment.
func (c *Cache) ExperimentBranch(slug string) (string, bool, error) {
	data, err := c.get()
	if err != nil {
		return "", false, err
	}
	x, have := data.active[slug]
	return x.BranchSlug, have, nil
}

// FeatureConfigVariables returns the value that applies to a feature.
// The caller must not modify it.
func (c *Cache) FeatureConfigVariables(featureID string) (map[string]interface{}, bool, error) {
	data, err := c.get()
	if err != nil {
		return nil, false, err
	}
	fc, have := data.features[featureID]
	if !have {
		return nil, false, nil
	}
	return fc.Feature.Value, true, nil
}

func (c *Cache) EnrollmentByFeature(featureID string) (*core.EnrolledFeature, error) {
	data, err := c.get()
	if err != nil {
		return nil, err
	}
	fc, have := data.features[featureID]
	if !have {
		return nil, nil
	}
	ef := fc.EnrolledFeature()
	return &ef, nil
}

// ActiveExperiments returns the active enrollments in slug order.
func (c *Cache) ActiveExperiments() ([]core.EnrolledExperiment, error) {
	data, err := c.get()
	if err != nil {
		return nil, err
	}
	return core.EnrolledExperiments(data.recipes, data.enrollments), nil
}

func (c *Cache) Experiments() ([]core.Recipe, error) {
	data, err := c.get()
	if err != nil {
		return nil, err
	}
	return append([]core.Recipe(nil), data.recipes...), nil
}

func (c *Cache) Enrollments() ([]core.Enrollment, error) {
	data, err := c.get()
	if err != nil {
		return nil, err
	}
	return append([]core.Enrollment(nil), data.enrollments...), nil
}
