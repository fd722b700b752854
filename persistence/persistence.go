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

// Package persistence is the typed layer over a storage.Store: the
// recipe catalog, enrollments, pending updates, meta values and event
// counts, plus schema migration.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/storage"
)

// DBVersion is the current schema version.
const DBVersion = 2

// PendingKey is the key in the updates bucket that holds the most
// recently fetched catalog payload.
const PendingKey = "pending-experiment-updates"

// Database wraps a storage.Store.
type Database struct {
	Store  storage.Store
	Logger *slog.Logger
}

// New makes a Database.  Call Open before using it.
func New(s storage.Store, logger *slog.Logger) *Database {
	if logger == nil {
		logger = slog.Default()
	}
	return &Database{
		Store:  s,
		Logger: logger,
	}
}

// Open brings the store up to DBVersion.
func (db *Database) Open(ctx context.Context) error {
	return db.MaybeUpgrade(ctx)
}

func (db *Database) Close() error {
	return db.Store.Close()
}

// View runs f in a read transaction.
func (db *Database) View(ctx context.Context, f func(storage.Reader) error) error {
	return db.Store.View(ctx, f)
}

// Update runs f in a write transaction.
func (db *Database) Update(ctx context.Context, f func(storage.Writer) error) error {
	return db.Store.Update(ctx, f)
}

// MaybeUpgrade migrates the store in a single write transaction.
//
// No version: experiments and enrollments are wiped.  Version 1 is
// migrated, and a failed migration wipes experiments and enrollments.
// Any other version wipes meta too.  Pending updates are always
// dropped.
func (db *Database) MaybeUpgrade(ctx context.Context) error {
	return db.Store.Update(ctx, func(w storage.Writer) error {
		var version int
		have, err := storage.GetJSON(w, storage.Meta, KeyDBVersion, &version)
		if err != nil {
			db.Logger.Warn("unreadable db_version", "error", err)
			have, version = true, -1
		}

		switch {
		case have && version == DBVersion:
			db.Logger.Debug("no upgrade needed", "version", version)
			return nil
		case have && version == 1:
			db.Logger.Info("migrating database", "from", 1, "to", DBVersion)
			if err := MigrateV1ToV2(w, db.Logger); err != nil {
				db.Logger.Error("migration failed; wiping experiments and enrollments", "error", err)
				if err := ClearExperimentsAndEnrollments(w); err != nil {
					return err
				}
			}
		case !have:
			db.Logger.Info("no database version; wiping experiments and enrollments")
			if err := ClearExperimentsAndEnrollments(w); err != nil {
				return err
			}
		default:
			db.Logger.Error("unknown database version; wiping everything", "version", version)
			if err := ClearExperimentsAndEnrollments(w); err != nil {
				return err
			}
			if err := w.Clear(storage.Meta); err != nil {
				return err
			}
		}

		if err := w.Clear(storage.Updates); err != nil {
			return err
		}
		return storage.PutJSON(w, storage.Meta, KeyDBVersion, DBVersion)
	})
}

// ClearExperimentsAndEnrollments empties both buckets.
func ClearExperimentsAndEnrollments(w storage.Writer) error {
	if err := w.Clear(storage.Experiments); err != nil {
		return err
	}
	return w.Clear(storage.Enrollments)
}

// MigrateV1ToV2 drops recipes that don't name their features the way
// version 2 requires, and their enrollments.  A record that can't be
// decoded is an error.
func MigrateV1ToV2(w storage.Writer, logger *slog.Logger) error {
	recipes, err := Experiments(w)
	if err != nil {
		return err
	}
	enrollments, err := Enrollments(w)
	if err != nil {
		return err
	}

	discard := make(core.StringSet)
	for _, r := range recipes {
		if reason := v1Problem(&r); reason != "" {
			logger.Warn("discarding recipe and its enrollment", "slug", r.Slug, "reason", reason)
			discard.Add(r.Slug)
		}
	}

	var keep []core.Recipe
	for _, r := range recipes {
		if !discard.Has(r.Slug) {
			keep = append(keep, r)
		}
	}
	var keepEnrollments []core.Enrollment
	for _, e := range enrollments {
		if !discard.Has(e.Slug) {
			keepEnrollments = append(keepEnrollments, e)
		}
	}

	if err := PutExperiments(w, keep); err != nil {
		return err
	}
	return PutEnrollments(w, keepEnrollments)
}

func v1Problem(r *core.Recipe) string {
	for _, b := range r.Branches {
		if b.Feature == nil || b.Feature.FeatureID == "" {
			return "branch " + b.Slug + " is missing a feature"
		}
	}
	if len(r.DeclaredFeatureIDs) == 0 {
		return "no featureIds"
	}
	for _, id := range r.DeclaredFeatureIDs {
		if id == "" {
			return "empty featureId"
		}
	}
	return ""
}

// Experiments returns the stored catalog in slug order.
func Experiments(r storage.Reader) ([]core.Recipe, error) {
	var acc []core.Recipe
	err := r.ForEach(storage.Experiments, func(key string, val []byte) error {
		var x core.Recipe
		if err := json.Unmarshal(val, &x); err != nil {
			return fmt.Errorf("experiment %q: %w", key, err)
		}
		acc = append(acc, x)
		return nil
	})
	return acc, err
}

// Enrollments returns the stored enrollments in slug order.
func Enrollments(r storage.Reader) ([]core.Enrollment, error) {
	var acc []core.Enrollment
	err := r.ForEach(storage.Enrollments, func(key string, val []byte) error {
		var x core.Enrollment
		if err := json.Unmarshal(val, &x); err != nil {
			return fmt.Errorf("enrollment %q: %w", key, err)
		}
		acc = append(acc, x)
		return nil
	})
	return acc, err
}

// PutExperiments replaces the stored catalog.
func PutExperiments(w storage.Writer, rs []core.Recipe) error {
	if err := w.Clear(storage.Experiments); err != nil {
		return err
	}
	for _, r := range rs {
		if err := storage.PutJSON(w, storage.Experiments, r.Slug, r); err != nil {
			return err
		}
	}
	return nil
}

// PutEnrollments replaces the stored enrollments.
func PutEnrollments(w storage.Writer, es []core.Enrollment) error {
	if err := w.Clear(storage.Enrollments); err != nil {
		return err
	}
	for _, e := range es {
		if err := PutEnrollment(w, e); err != nil {
			return err
		}
	}
	return nil
}

// PutEnrollment writes (or overwrites) one enrollment.
func PutEnrollment(w storage.Writer, e core.Enrollment) error {
	return storage.PutJSON(w, storage.Enrollments, e.Slug, e)
}

// Pending returns the staged catalog payload if there is one.
func Pending(r storage.Reader) ([]byte, error) {
	return r.Get(storage.Updates, PendingKey)
}

// SetPending stages a catalog payload, replacing any other.
func SetPending(w storage.Writer, payload []byte) error {
	if err := w.Clear(storage.Updates); err != nil {
		return err
	}
	return w.Put(storage.Updates, PendingKey, payload)
}

// TakePending returns and removes the staged payload.
func TakePending(w storage.Writer) ([]byte, error) {
	bs, err := Pending(w)
	if err != nil || bs == nil {
		return nil, err
	}
	return bs, w.Delete(storage.Updates, PendingKey)
}

// EventCounts returns the stored behavioral counters by event id.
func EventCounts(r storage.Reader) (map[string][]byte, error) {
	return storage.All(r, storage.EventCounts)
}

// PutEventCounts replaces the stored behavioral counters.
func PutEventCounts(w storage.Writer, counts map[string][]byte) error {
	if err := w.Clear(storage.EventCounts); err != nil {
		return err
	}
	for id, bs := range counts {
		if err := w.Put(storage.EventCounts, id, bs); err != nil {
			return err
		}
	}
	return nil
}
