package schedule

import (
	"context"

	"github.com/Comcast/nimbus/core"
)

// Client is the part of the coordinator a refresh cycle needs.
type Client interface {
	FetchExperiments(ctx context.Context) error
	ApplyPendingExperiments(ctx context.Context) ([]core.EnrollmentChangeEvent, error)
}

// Refresh is the usual cycle: fetch a new catalog, then apply it.
func Refresh(c Client) []Job {
	return []Job{
		{
			Name: "fetch",
			F:    c.FetchExperiments,
		},
		{
			Name: "apply",
			F: func(ctx context.Context) error {
				_, err := c.ApplyPendingExperiments(ctx)
				return err
			},
		},
	}
}
