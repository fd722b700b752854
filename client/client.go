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

// Package client is the experimentation client: it stages fetched
// catalogs, applies them through the evolver, persists the result and
// answers feature lookups from an in-memory cache.
//
// A Client may be used from several goroutines.  Writes are
// serialized; the lookups that read the cache never wait on storage.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Comcast/nimbus/behavior"
	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/dbcache"
	"github.com/Comcast/nimbus/persistence"
	"github.com/Comcast/nimbus/storage"
	"github.com/Comcast/nimbus/targeting"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoFetcher is returned by FetchExperiments when the client has no
// Fetcher.
var ErrNoFetcher = errors.New("no fetcher configured")

// Fetcher gets the current catalog payload.
type Fetcher interface {
	FetchExperiments(ctx context.Context) ([]byte, error)
}

// Observer receives the events of every committed change.
type Observer func(events []core.EnrollmentChangeEvent)

var tracer = otel.Tracer("github.com/Comcast/nimbus/client")

// Client coordinates storage, evolution and lookups.
//
// Set the exported fields before calling Initialize.
type Client struct {
	App core.AppContext

	// Coenrolling features can be configured by several recipes at
	// once.
	Coenrolling core.StringSet

	Fetcher   Fetcher
	Validator core.RecipeValidator
	Observer  Observer
	Logger    *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// NewID makes enrollment ids.  Defaults to uuid.New.
	NewID func() uuid.UUID

	// Events holds behavioral event counts.
	Events *behavior.Store

	// Oracle evaluates targeting with Events available to the event
	// transforms.
	Oracle *targeting.Oracle

	db    *persistence.Database
	cache *dbcache.Cache

	sync.Mutex
	opened bool
	state  state
}

// state is guarded by the Client's mutex.
type state struct {
	units       core.AvailableRandomizationUnits
	installDate *time.Time
	updateDate  *time.Time
	attrs       *core.TargetingAttributes
}

// New makes a Client over a store, which the Client owns from now on.
func New(app core.AppContext, store storage.Store) *Client {
	events := behavior.NewStore()
	c := &Client{
		App:    app,
		Events: events,
		Oracle: targeting.NewOracle(events),
		cache:  dbcache.New(),
	}
	c.db = persistence.New(store, nil)
	c.state.attrs = core.NewTargetingAttributes(app)
	return c
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Client) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

func (c *Client) Close() error {
	return c.db.Close()
}

func fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// open migrates the store the first time it's needed.  The caller
// holds the lock.
func (c *Client) open(ctx context.Context) error {
	if c.opened {
		return nil
	}
	c.db.Logger = c.logger()
	if err := c.db.Open(ctx); err != nil {
		return err
	}
	c.opened = true
	return nil
}

// update runs f in a write transaction.  After a commit the targeting
// attributes are brought up to date with the stored enrollments and
// the cache is replaced.  The caller holds the lock.
func (c *Client) update(ctx context.Context, f func(w storage.Writer) error) error {
	if err := c.open(ctx); err != nil {
		return err
	}
	var (
		rs []core.Recipe
		es []core.Enrollment
	)
	err := c.db.Update(ctx, func(w storage.Writer) error {
		if err := f(w); err != nil {
			return err
		}
		var err error
		if rs, err = persistence.Experiments(w); err != nil {
			return err
		}
		es, err = persistence.Enrollments(w)
		return err
	})
	if err != nil {
		return err
	}

	attrs := c.state.attrs
	attrs.ActiveExperiments = make(core.StringSet)
	attrs.Enrollments = make(core.StringSet)
	attrs.EnrollmentsMap = make(map[string]string)
	attrs.UpdateEnrollments(es)

	c.cache.Update(rs, es, c.Coenrolling)
	activeEnrollments.Set(float64(len(core.EnrolledExperiments(rs, es))))
	return nil
}

func (c *Client) notify(events []core.EnrollmentChangeEvent) {
	for _, e := range events {
		enrollmentEventsTotal.WithLabelValues(string(e.Change)).Inc()
	}
	if c.Observer != nil && len(events) > 0 {
		c.Observer(events)
	}
}

// Initialize opens and migrates the store, loads the event counts and
// fills the cache.
func (c *Client) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "nimbus.Initialize")
	defer span.End()

	c.Lock()
	defer c.Unlock()

	return fail(span, c.update(ctx, c.begin))
}

// begin is the work every initializing transaction does before any
// enrollment is computed.
func (c *Client) begin(w storage.Writer) error {
	if _, err := c.nimbusID(w); err != nil {
		return err
	}
	if err := c.updateDates(w); err != nil {
		return err
	}
	counts, err := persistence.EventCounts(w)
	if err != nil {
		return err
	}
	if err := c.Events.Decode(counts); err != nil {
		c.logger().Warn("discarding unreadable event counts", "error", err)
		c.Events.Clear()
	}
	return nil
}

// nimbusID reads or creates the client id and makes it available to
// bucketing and targeting.
func (c *Client) nimbusID(w storage.Writer) (uuid.UUID, error) {
	id, err := persistence.NimbusID(w)
	if err != nil {
		return uuid.Nil, err
	}
	c.state.units.NimbusID = id.String()
	c.state.attrs.NimbusID = id.String()
	return id, nil
}

// GetNimbusID returns the client id, creating it if needed.
func (c *Client) GetNimbusID(ctx context.Context) (uuid.UUID, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.open(ctx); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err := c.db.Update(ctx, func(w storage.Writer) error {
		var err error
		id, err = c.nimbusID(w)
		return err
	})
	return id, err
}

// SetUserID makes the user_id randomization unit available.
func (c *Client) SetUserID(id string) {
	c.Lock()
	c.state.units.UserID = id
	c.Unlock()
}

// FetchExperiments stages the Fetcher's catalog for the next apply.
// Nothing happens while fetching is disabled.
func (c *Client) FetchExperiments(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "nimbus.FetchExperiments")
	defer span.End()

	enabled, err := c.IsFetchEnabled(ctx)
	if err != nil {
		return fail(span, err)
	}
	if !enabled {
		c.logger().Info("fetching is disabled")
		span.SetAttributes(attribute.Bool("skipped", true))
		return nil
	}
	if c.Fetcher == nil {
		return fail(span, ErrNoFetcher)
	}

	payload, err := c.Fetcher.FetchExperiments(ctx)
	fetchesTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		return fail(span, err)
	}
	span.SetAttributes(attribute.Int("bytes", len(payload)))
	return fail(span, c.stage(ctx, payload))
}

// SetExperimentsLocally stages a catalog payload for the next apply.
func (c *Client) SetExperimentsLocally(ctx context.Context, payload []byte) error {
	return c.stage(ctx, payload)
}

func (c *Client) stage(ctx context.Context, payload []byte) error {
	if _, err := core.ParseRecipes(payload, c.Validator, c.logger()); err != nil {
		return err
	}

	c.Lock()
	defer c.Unlock()

	if err := c.open(ctx); err != nil {
		return err
	}
	return c.db.Update(ctx, func(w storage.Writer) error {
		return persistence.SetPending(w, payload)
	})
}

func (c *Client) SetFetchEnabled(ctx context.Context, enabled bool) error {
	c.Lock()
	defer c.Unlock()

	if err := c.open(ctx); err != nil {
		return err
	}
	return c.db.Update(ctx, func(w storage.Writer) error {
		return persistence.PutBool(w, persistence.KeyFetchEnabled, enabled)
	})
}

func (c *Client) IsFetchEnabled(ctx context.Context) (bool, error) {
	return c.metaBool(ctx, persistence.KeyFetchEnabled)
}

func (c *Client) GetGlobalUserParticipation(ctx context.Context) (bool, error) {
	return c.metaBool(ctx, persistence.KeyUserOptIn)
}

// metaBool reads a flag that defaults to true.
func (c *Client) metaBool(ctx context.Context, key string) (bool, error) {
	c.Lock()
	defer c.Unlock()

	if err := c.open(ctx); err != nil {
		return false, err
	}
	b := true
	err := c.db.View(ctx, func(r storage.Reader) error {
		var err error
		b, err = persistence.GetBool(r, key, true)
		return err
	})
	return b, err
}

// evolver makes an Evolver over a copy of the current attributes.
func (c *Client) evolver() *core.Evolver {
	return &core.Evolver{
		Evaluation: core.Evaluation{
			Units:      c.state.units,
			Oracle:     c.Oracle,
			Attributes: c.state.attrs.Copy(),
			NewID:      c.NewID,
		},
		Coenrolling: c.Coenrolling,
		Logger:      c.logger(),
		Now:         c.now,
	}
}

// evolve moves the stored catalog to next and writes the resulting
// enrollments.  Recipes left without an enrollment aren't stored.
func (c *Client) evolve(ctx context.Context, w storage.Writer, next []core.Recipe) ([]core.EnrollmentChangeEvent, error) {
	participating, err := persistence.GetBool(w, persistence.KeyUserOptIn, true)
	if err != nil {
		return nil, err
	}
	prev, err := persistence.Experiments(w)
	if err != nil {
		return nil, err
	}
	prevEnrollments, err := persistence.Enrollments(w)
	if err != nil {
		return nil, err
	}

	ev := c.evolver()
	ev.Attributes.UpdateTimeToNow(c.now(), c.state.installDate, c.state.updateDate)

	es, events, err := ev.Evolve(ctx, participating, prev, next, prevEnrollments)
	if err != nil {
		return nil, err
	}

	have := make(core.StringSet, len(es))
	for _, e := range es {
		have.Add(e.Slug)
	}
	keep := make([]core.Recipe, 0, len(next))
	for _, r := range next {
		if !have.Has(r.Slug) {
			c.logger().Error("recipe has no enrollment; not storing it", "slug", r.Slug)
			continue
		}
		keep = append(keep, r)
	}

	if err := persistence.PutEnrollments(w, es); err != nil {
		return nil, err
	}
	if err := persistence.PutExperiments(w, keep); err != nil {
		return nil, err
	}
	return events, nil
}

// reevolve runs the evolver over the stored catalog.
func (c *Client) reevolve(ctx context.Context, w storage.Writer) ([]core.EnrollmentChangeEvent, error) {
	rs, err := persistence.Experiments(w)
	if err != nil {
		return nil, err
	}
	return c.evolve(ctx, w, rs)
}

// ApplyPendingExperiments evolves enrollments to the staged catalog,
// or to the stored one when nothing is staged, and commits the result
// in one transaction.
//
// The apply runs to completion even if ctx is cancelled.
func (c *Client) ApplyPendingExperiments(ctx context.Context) ([]core.EnrollmentChangeEvent, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "nimbus.ApplyPendingExperiments")
	defer span.End()

	c.Lock()
	defer c.Unlock()

	start := time.Now()
	var events []core.EnrollmentChangeEvent
	err := c.update(ctx, func(w storage.Writer) error {
		pending, err := persistence.TakePending(w)
		if err != nil {
			return err
		}
		if err := c.begin(w); err != nil {
			return err
		}
		if pending == nil {
			events, err = c.reevolve(ctx, w)
			return err
		}
		next, err := core.ParseRecipes(pending, c.Validator, c.logger())
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("recipes", len(next)))
		events, err = c.evolve(ctx, w, next)
		return err
	})
	applyDuration.Observe(time.Since(start).Seconds())
	appliesTotal.WithLabelValues(result(err)).Inc()
	if err != nil {
		c.logger().Error("apply failed", "error", err)
		return nil, fail(span, err)
	}

	span.SetAttributes(attribute.Int("events", len(events)))
	c.notify(events)
	return events, nil
}

// OptInWithBranch enrolls the client in a branch, bypassing targeting
// and bucketing.  A recipe that isn't in the catalog gives an
// EnrollFailed event; a missing branch is an error.
func (c *Client) OptInWithBranch(ctx context.Context, slug, branch string) ([]core.EnrollmentChangeEvent, error) {
	ctx, span := tracer.Start(ctx, "nimbus.OptInWithBranch",
		trace.WithAttributes(attribute.String("slug", slug), attribute.String("branch", branch)))
	defer span.End()

	c.Lock()
	defer c.Unlock()

	var events []core.EnrollmentChangeEvent
	err := c.update(ctx, func(w storage.Writer) error {
		events = nil
		var r core.Recipe
		have, err := storage.GetJSON(w, storage.Experiments, slug, &r)
		if err != nil {
			return err
		}
		if !have {
			events = append(events, core.EnrollFailed(slug, branch, core.ReasonDoesNotExist))
			return nil
		}
		e, err := core.OptInEnrollment(&r, branch, c.NewID, &events)
		if err != nil {
			return err
		}
		if err := persistence.PutEnrollment(w, e); err != nil {
			return err
		}
		more, err := c.reevolve(ctx, w)
		events = append(events, more...)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}
	c.notify(events)
	return events, nil
}

// OptOut disqualifies the client from a recipe.  An unknown recipe
// gives an UnenrollFailed event.
func (c *Client) OptOut(ctx context.Context, slug string) ([]core.EnrollmentChangeEvent, error) {
	ctx, span := tracer.Start(ctx, "nimbus.OptOut", trace.WithAttributes(attribute.String("slug", slug)))
	defer span.End()

	c.Lock()
	defer c.Unlock()

	var events []core.EnrollmentChangeEvent
	err := c.update(ctx, func(w storage.Writer) error {
		events = nil
		var prev core.Enrollment
		have, err := storage.GetJSON(w, storage.Enrollments, slug, &prev)
		if err != nil {
			return err
		}
		if !have {
			events = append(events, core.UnenrollFailed(slug, core.ReasonDoesNotExist))
			return nil
		}
		if err := persistence.PutEnrollment(w, core.OptOutEnrollment(prev, &events)); err != nil {
			return err
		}
		more, err := c.reevolve(ctx, w)
		events = append(events, more...)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}
	c.notify(events)
	return events, nil
}

// SetGlobalUserParticipation records whether the user takes part in
// experiments at all and re-evolves the stored catalog.
func (c *Client) SetGlobalUserParticipation(ctx context.Context, participating bool) ([]core.EnrollmentChangeEvent, error) {
	ctx, span := tracer.Start(ctx, "nimbus.SetGlobalUserParticipation",
		trace.WithAttributes(attribute.Bool("participating", participating)))
	defer span.End()

	c.Lock()
	defer c.Unlock()

	var events []core.EnrollmentChangeEvent
	err := c.update(ctx, func(w storage.Writer) error {
		if err := persistence.PutBool(w, persistence.KeyUserOptIn, participating); err != nil {
			return err
		}
		var err error
		events, err = c.reevolve(ctx, w)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}
	c.notify(events)
	return events, nil
}

// ResetTelemetryIdentifiers disqualifies every active enrollment,
// forgets every enrollment id, clears the event counts and replaces
// the client id, all in one transaction.
func (c *Client) ResetTelemetryIdentifiers(ctx context.Context) ([]core.EnrollmentChangeEvent, error) {
	ctx, span := tracer.Start(ctx, "nimbus.ResetTelemetryIdentifiers")
	defer span.End()

	c.Lock()
	defer c.Unlock()

	var (
		events []core.EnrollmentChangeEvent
		id     uuid.UUID
	)
	err := c.update(ctx, func(w storage.Writer) error {
		events = nil
		prev, err := persistence.Enrollments(w)
		if err != nil {
			return err
		}
		next := make([]core.Enrollment, len(prev))
		for i, e := range prev {
			next[i] = core.ResetEnrollment(e, &events)
		}
		if err := persistence.PutEnrollments(w, next); err != nil {
			return err
		}
		if err := w.Clear(storage.EventCounts); err != nil {
			return err
		}
		id, err = persistence.ResetNimbusID(w)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}
	c.state.units.NimbusID = id.String()
	c.state.attrs.NimbusID = id.String()
	c.Events.Clear()
	c.notify(events)
	return events, nil
}

// ResetEnrollments forgets the catalog and every enrollment.
func (c *Client) ResetEnrollments(ctx context.Context) error {
	c.Lock()
	defer c.Unlock()

	return c.update(ctx, persistence.ClearExperimentsAndEnrollments)
}
