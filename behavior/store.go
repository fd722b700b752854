/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package behavior counts application events over several time
// scales so that targeting can ask how often, and how recently,
// something happened.
package behavior

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Error reports a counter in a state that can't serve a request.
type Error struct {
	Reason string
}

func (e *Error) Error() string {
	return "behavior error: " + e.Reason
}

// QueryType names the aggregate a query computes over a range of
// buckets.
type QueryType int

const (
	Sum QueryType = iota
	CountNonZero
	AveragePerInterval
	AveragePerNonZeroInterval
	LastSeen
)

func (q QueryType) String() string {
	switch q {
	case Sum:
		return "Sum"
	case CountNonZero:
		return "CountNonZero"
	case AveragePerInterval:
		return "AveragePerInterval"
	case AveragePerNonZeroInterval:
		return "AveragePerNonZeroInterval"
	case LastSeen:
		return "LastSeen"
	}
	return fmt.Sprintf("QueryType(%d)", int(q))
}

// ErrorValue is the answer when the event or the bucket range is
// unknown.
func (q QueryType) ErrorValue() float64 {
	if q == LastSeen {
		return math.MaxFloat64
	}
	return 0
}

func (q QueryType) perform(buckets []uint64, numBuckets int) float64 {
	switch q {
	case Sum:
		var n uint64
		for _, b := range buckets {
			n += b
		}
		return float64(n)
	case CountNonZero:
		var n int
		for _, b := range buckets {
			if b > 0 {
				n++
			}
		}
		return float64(n)
	case AveragePerInterval:
		if numBuckets == 0 {
			return 0
		}
		var n uint64
		for _, b := range buckets {
			n += b
		}
		return float64(n) / float64(numBuckets)
	case AveragePerNonZeroInterval:
		var n uint64
		var nonZero int
		for _, b := range buckets {
			n += b
			if b > 0 {
				nonZero++
			}
		}
		if nonZero == 0 {
			return 0
		}
		return float64(n) / float64(nonZero)
	case LastSeen:
		for i, b := range buckets {
			if b > 0 {
				return float64(i)
			}
		}
	}
	return q.ErrorValue()
}

// Store holds a MultiIntervalCounter per event id.
//
// A Store is safe for concurrent use.
type Store struct {
	// Clock is the source of the current time.  Defaults to
	// time.Now.
	Clock func() time.Time

	sync.Mutex
	events map[string]*MultiIntervalCounter

	// datum, when set, replaces the clock.
	datum *time.Time
}

// NewStore makes an empty Store.
func NewStore() *Store {
	return &Store{
		events: make(map[string]*MultiIntervalCounter),
	}
}

func (s *Store) now() time.Time {
	if s.datum != nil {
		return *s.datum
	}
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// Now reports the store's notion of the current time.
func (s *Store) Now() time.Time {
	s.Lock()
	defer s.Unlock()
	return s.now()
}

// AdvanceDatum moves the store's notion of now forward.
func (s *Store) AdvanceDatum(d time.Duration) {
	s.Lock()
	defer s.Unlock()
	t := s.now().Add(d)
	s.datum = &t
}

func (s *Store) counter(eventID string, now time.Time) *MultiIntervalCounter {
	c, have := s.events[eventID]
	if !have {
		c = NewMultiIntervalCounter(now)
		s.events[eventID] = c
	}
	return c
}

// RecordEvent counts count occurrences of the event now.
func (s *Store) RecordEvent(eventID string, count uint64) error {
	s.Lock()
	defer s.Unlock()
	now := s.now()
	c := s.counter(eventID, now)
	c.maybeAdvance(now)
	c.increment(count)
	return nil
}

// RecordPastEvent counts count occurrences of the event that happened
// ago before now.
func (s *Store) RecordPastEvent(eventID string, count uint64, ago time.Duration) error {
	if ago < 0 {
		return &Error{Reason: "Cannot record events in the future"}
	}
	s.Lock()
	defer s.Unlock()
	now := s.now()
	c := s.counter(eventID, now)
	c.maybeAdvance(now)
	return c.incrementThen(now.Add(-ago), count)
}

// Query computes q over numBuckets buckets of the given interval
// starting startingBucket buckets ago.
func (s *Store) Query(eventID string, interval Interval, numBuckets, startingBucket int, q QueryType) (float64, error) {
	s.Lock()
	defer s.Unlock()
	c, have := s.events[eventID]
	if !have {
		return q.ErrorValue(), nil
	}
	c.maybeAdvance(s.now())
	single, have := c.Intervals[interval]
	if !have {
		return q.ErrorValue(), nil
	}
	buckets := single.Data.Buckets
	if startingBucket < 0 || len(buckets) <= startingBucket {
		return q.ErrorValue(), nil
	}
	end := len(buckets)
	if numBuckets >= 0 && numBuckets < end-startingBucket {
		end = startingBucket + numBuckets
	}
	return q.perform(buckets[startingBucket:end], numBuckets), nil
}

// Clear forgets all events and resets the datum.
func (s *Store) Clear() {
	s.Lock()
	defer s.Unlock()
	s.events = make(map[string]*MultiIntervalCounter)
	s.datum = nil
}

// EventIDs lists the recorded events in order.
func (s *Store) EventIDs() []string {
	s.Lock()
	defer s.Unlock()
	acc := make([]string, 0, len(s.events))
	for id := range s.events {
		acc = append(acc, id)
	}
	sort.Strings(acc)
	return acc
}

// Encode renders every counter as JSON, keyed by event id.
func (s *Store) Encode() (map[string][]byte, error) {
	s.Lock()
	defer s.Unlock()
	acc := make(map[string][]byte, len(s.events))
	for id, c := range s.events {
		js, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		acc[id] = js
	}
	return acc, nil
}

// Decode replaces the counters with the given JSON renderings.
func (s *Store) Decode(counters map[string][]byte) error {
	events := make(map[string]*MultiIntervalCounter, len(counters))
	for id, js := range counters {
		var c MultiIntervalCounter
		if err := json.Unmarshal(js, &c); err != nil {
			return fmt.Errorf("event %q: %w", id, err)
		}
		if c.Intervals == nil {
			c.Intervals = make(map[Interval]*SingleIntervalCounter)
		}
		events[id] = &c
	}
	s.Lock()
	s.events = events
	s.Unlock()
	return nil
}
