package client

import (
	"context"

	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/persistence"
	"github.com/Comcast/nimbus/storage"
)

// GetExperimentBranch returns the branch of an active enrollment.  It
// never waits on storage.
func (c *Client) GetExperimentBranch(slug string) (string, bool, error) {
	return c.cache.ExperimentBranch(slug)
}

// GetFeatureConfigVariables returns the value that applies to a
// feature.  It never waits on storage.  The caller must not modify
// the result.
func (c *Client) GetFeatureConfigVariables(featureID string) (map[string]interface{}, bool, error) {
	v, have, err := c.cache.FeatureConfigVariables(featureID)
	switch {
	case err != nil:
		featureLookupsTotal.WithLabelValues("error").Inc()
	case have:
		featureLookupsTotal.WithLabelValues("hit").Inc()
	default:
		featureLookupsTotal.WithLabelValues("miss").Inc()
	}
	return v, have, err
}

// GetEnrollmentByFeature says which recipe configures a feature, or
// nil.
func (c *Client) GetEnrollmentByFeature(featureID string) (*core.EnrolledFeature, error) {
	return c.cache.EnrollmentByFeature(featureID)
}

func (c *Client) GetActiveExperiments() ([]core.EnrolledExperiment, error) {
	return c.cache.ActiveExperiments()
}

// GetExperimentBranches lists a recipe's branches.
func (c *Client) GetExperimentBranches(slug string) ([]core.ExperimentBranch, error) {
	rs, err := c.cache.Experiments()
	if err != nil {
		return nil, err
	}
	for i := range rs {
		if rs[i].Slug == slug {
			return rs[i].ExperimentBranches(), nil
		}
	}
	return nil, &core.NoSuchExperiment{Slug: slug}
}

// GetAllExperiments reads the stored catalog.
func (c *Client) GetAllExperiments(ctx context.Context) ([]core.Recipe, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.open(ctx); err != nil {
		return nil, err
	}
	var rs []core.Recipe
	err := c.db.View(ctx, func(r storage.Reader) error {
		var err error
		rs, err = persistence.Experiments(r)
		return err
	})
	return rs, err
}

// GetAvailableExperiments lists the stored recipes meant for this
// app.
func (c *Client) GetAvailableExperiments(ctx context.Context) ([]core.AvailableExperiment, error) {
	rs, err := c.GetAllExperiments(ctx)
	if err != nil {
		return nil, err
	}
	var acc []core.AvailableExperiment
	for i := range rs {
		if rs[i].IsAvailableTo(&c.App) {
			acc = append(acc, rs[i].Available())
		}
	}
	return acc, nil
}
