package client

import (
	"context"
	"os"
	"time"

	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/persistence"
	"github.com/Comcast/nimbus/storage"
	"github.com/Comcast/nimbus/targeting"
)

// updateDates settles the install and update dates, unless they were
// set explicitly, and refreshes the day counts.
func (c *Client) updateDates(w storage.Writer) error {
	if c.state.installDate == nil {
		t, err := c.installationDate(w)
		if err != nil {
			return err
		}
		c.state.installDate = &t
	}
	if c.state.updateDate == nil {
		t, err := c.updateDate(w)
		if err != nil {
			return err
		}
		c.state.updateDate = &t
	}
	c.state.attrs.UpdateTimeToNow(c.now(), c.state.installDate, c.state.updateDate)
	return nil
}

// installationDate prefers the app's own notion, then what's stored,
// then the home directory's timestamp, and finally now.
func (c *Client) installationDate(w storage.Writer) (time.Time, error) {
	if ms := c.App.InstallationDate; ms != nil {
		return time.UnixMilli(*ms).UTC(), nil
	}
	stored, err := persistence.GetTime(w, persistence.KeyInstallationDate)
	if err != nil {
		return time.Time{}, err
	}
	if stored != nil {
		return *stored, nil
	}
	if dir := c.App.HomeDirectory; dir != "" {
		t := c.now()
		if fi, err := os.Stat(dir); err == nil {
			t = fi.ModTime().UTC()
		} else {
			c.logger().Warn("can't get installation date from home directory", "dir", dir, "error", err)
		}
		return t, persistence.PutTime(w, persistence.KeyInstallationDate, t)
	}
	return c.now(), nil
}

// updateDate is the first time this client saw the current app
// version.
func (c *Client) updateDate(w storage.Writer) (time.Time, error) {
	stored, err := persistence.GetString(w, persistence.KeyAppVersion)
	if err != nil {
		return time.Time{}, err
	}
	date, err := persistence.GetTime(w, persistence.KeyUpdateDate)
	if err != nil {
		return time.Time{}, err
	}
	current := c.App.AppVersion

	switch {
	case current != "" && stored == current && date != nil:
		return *date, nil
	case current != "":
		now := c.now()
		if err := persistence.PutString(w, persistence.KeyAppVersion, current); err != nil {
			return now, err
		}
		return now, persistence.PutTime(w, persistence.KeyUpdateDate, now)
	case date != nil:
		return *date, nil
	}
	return c.now(), nil
}

// SetInstallTime overrides the install date.
func (c *Client) SetInstallTime(t time.Time) {
	c.Lock()
	defer c.Unlock()
	t = t.UTC()
	c.state.installDate = &t
	c.state.attrs.UpdateTimeToNow(c.now(), c.state.installDate, c.state.updateDate)
}

// SetUpdateTime overrides the update date.
func (c *Client) SetUpdateTime(t time.Time) {
	c.Lock()
	defer c.Unlock()
	t = t.UTC()
	c.state.updateDate = &t
	c.state.attrs.UpdateTimeToNow(c.now(), c.state.installDate, c.state.updateDate)
}

// SetRecordedContext merges a snapshot of app-recorded values into the
// targeting context.
func (c *Client) SetRecordedContext(rc map[string]interface{}) {
	c.Lock()
	defer c.Unlock()
	c.state.attrs.RecordedContext = rc
}

// TargetingAttributes returns a copy of the current attributes.
func (c *Client) TargetingAttributes() *core.TargetingAttributes {
	c.Lock()
	defer c.Unlock()
	return c.state.attrs.Copy()
}

// CreateTargetingHelper evaluates expressions against the current
// attributes with extra layered on top.
func (c *Client) CreateTargetingHelper(extra map[string]interface{}) *targeting.Helper {
	return &targeting.Helper{
		Oracle:     c.Oracle,
		Attributes: c.TargetingAttributes(),
		Extra:      extra,
	}
}

// EvalJEXL is a shortcut for CreateTargetingHelper(nil).EvalJEXL.
func (c *Client) EvalJEXL(ctx context.Context, expr string) (bool, error) {
	return c.CreateTargetingHelper(nil).EvalJEXL(ctx, expr)
}
