package behavior

import (
	"time"
)

// IntervalConfig says how many buckets of which interval a counter
// keeps.
type IntervalConfig struct {
	BucketCount int      `json:"bucket_count"`
	Interval    Interval `json:"interval"`
}

// DefaultIntervalConfigs are the counters every event gets.
var DefaultIntervalConfigs = []IntervalConfig{
	{BucketCount: 60, Interval: Minutes},
	{BucketCount: 72, Interval: Hours},
	{BucketCount: 56, Interval: Days},
	{BucketCount: 52, Interval: Weeks},
	{BucketCount: 12, Interval: Months},
	{BucketCount: 4, Interval: Years},
}

// IntervalData holds the buckets, newest first.
type IntervalData struct {
	Buckets         []uint64  `json:"buckets"`
	BucketCount     int       `json:"bucket_count"`
	StartingInstant time.Time `json:"starting_instant"`
}

// newIntervalData starts at Jan 1 00:00 UTC of now's year so that
// rotations of all counters line up.
func newIntervalData(bucketCount int, now time.Time) IntervalData {
	now = now.UTC()
	return IntervalData{
		Buckets:         []uint64{0},
		BucketCount:     bucketCount,
		StartingInstant: time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (d *IntervalData) incrementAt(index int, count uint64) {
	if index < 0 || index >= d.BucketCount {
		return
	}
	for len(d.Buckets) <= index {
		d.Buckets = append(d.Buckets, 0)
	}
	d.Buckets[index] += count
}

func (d *IntervalData) rotate(n int) {
	if n > d.BucketCount {
		n = d.BucketCount
	}
	if n <= 0 {
		return
	}
	if keep := d.BucketCount - n; len(d.Buckets) > keep {
		d.Buckets = d.Buckets[:keep]
	}
	acc := make([]uint64, n, n+len(d.Buckets))
	d.Buckets = append(acc, d.Buckets...)
}

// SingleIntervalCounter counts events in buckets of one interval.
type SingleIntervalCounter struct {
	Data   IntervalData   `json:"data"`
	Config IntervalConfig `json:"config"`
}

func newSingleIntervalCounter(c IntervalConfig, now time.Time) *SingleIntervalCounter {
	return &SingleIntervalCounter{
		Data:   newIntervalData(c.BucketCount, now),
		Config: c,
	}
}

func (c *SingleIntervalCounter) increment(count uint64) {
	c.Data.incrementAt(0, count)
}

// incrementThen counts an event that happened at then, relative to
// the start of the current bucket.
func (c *SingleIntervalCounter) incrementThen(then time.Time, count uint64) error {
	start := c.Data.StartingInstant
	rotations := c.Config.Interval.Rotations(then, start)
	switch {
	case rotations < 0:
		return &Error{Reason: "Cannot increment events far into the future"}
	case rotations == 0:
		if start.Before(then) {
			c.Data.incrementAt(0, count)
		} else {
			c.Data.incrementAt(1, count)
		}
	default:
		c.Data.incrementAt(1+rotations, count)
	}
	return nil
}

func (c *SingleIntervalCounter) maybeAdvance(now time.Time) {
	interval := c.Config.Interval
	rotations := interval.Rotations(c.Data.StartingInstant, now)
	if rotations > 0 {
		c.Data.StartingInstant = c.Data.StartingInstant.Add(interval.Duration(rotations))
		c.Data.rotate(rotations)
	}
}

// MultiIntervalCounter counts one event at several granularities.
type MultiIntervalCounter struct {
	Intervals map[Interval]*SingleIntervalCounter `json:"intervals"`
}

// NewMultiIntervalCounter makes a counter with the given configs, or
// DefaultIntervalConfigs when there are none.
func NewMultiIntervalCounter(now time.Time, configs ...IntervalConfig) *MultiIntervalCounter {
	if len(configs) == 0 {
		configs = DefaultIntervalConfigs
	}
	m := &MultiIntervalCounter{
		Intervals: make(map[Interval]*SingleIntervalCounter, len(configs)),
	}
	for _, c := range configs {
		m.Intervals[c.Interval] = newSingleIntervalCounter(c, now)
	}
	return m
}

func (m *MultiIntervalCounter) increment(count uint64) {
	for _, c := range m.Intervals {
		c.increment(count)
	}
}

func (m *MultiIntervalCounter) incrementThen(then time.Time, count uint64) error {
	for _, i := range Intervals {
		c, have := m.Intervals[i]
		if !have {
			continue
		}
		if err := c.incrementThen(then, count); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiIntervalCounter) maybeAdvance(now time.Time) {
	for _, c := range m.Intervals {
		c.maybeAdvance(now)
	}
}
