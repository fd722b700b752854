package client

import (
	"context"
	"time"

	"github.com/Comcast/nimbus/behavior"
	"github.com/Comcast/nimbus/persistence"
	"github.com/Comcast/nimbus/storage"
)

// RecordEvent counts a behavioral event now and persists the counts.
func (c *Client) RecordEvent(ctx context.Context, eventID string, count int64) error {
	if count < 0 {
		return &behavior.Error{Reason: "Event count must not be negative"}
	}
	if err := c.Events.RecordEvent(eventID, uint64(count)); err != nil {
		return err
	}
	behaviorEventsTotal.Inc()
	return c.persistEvents(ctx)
}

// RecordPastEvent counts an event as if it happened secondsAgo.
func (c *Client) RecordPastEvent(ctx context.Context, eventID string, secondsAgo, count int64) error {
	if secondsAgo < 0 {
		return &behavior.Error{Reason: "Time duration in the past must be positive"}
	}
	if count < 0 {
		return &behavior.Error{Reason: "Event count must not be negative"}
	}
	ago := time.Duration(secondsAgo) * time.Second
	if err := c.Events.RecordPastEvent(eventID, uint64(count), ago); err != nil {
		return err
	}
	behaviorEventsTotal.Inc()
	return c.persistEvents(ctx)
}

// AdvanceEventTime moves the event store's notion of now forward.
func (c *Client) AdvanceEventTime(seconds int64) error {
	if seconds < 0 {
		return &behavior.Error{Reason: "Time duration in the future must be positive"}
	}
	c.Events.AdvanceDatum(time.Duration(seconds) * time.Second)
	return nil
}

// ClearEvents forgets every recorded event.
func (c *Client) ClearEvents(ctx context.Context) error {
	c.Events.Clear()

	c.Lock()
	defer c.Unlock()

	if err := c.open(ctx); err != nil {
		return err
	}
	return c.db.Update(ctx, func(w storage.Writer) error {
		return w.Clear(storage.EventCounts)
	})
}

func (c *Client) persistEvents(ctx context.Context) error {
	counts, err := c.Events.Encode()
	if err != nil {
		return err
	}

	c.Lock()
	defer c.Unlock()

	if err := c.open(ctx); err != nil {
		return err
	}
	return c.db.Update(ctx, func(w storage.Writer) error {
		return persistence.PutEventCounts(w, counts)
	})
}
