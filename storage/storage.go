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

// Package storage is a small transactional key-value interface with
// named buckets.  Backends live in subpackages; Memory is here.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// The buckets every store has.
const (
	Meta        = "meta"
	Experiments = "experiments"
	Enrollments = "enrollments"
	Updates     = "updates"
	EventCounts = "event_counts"
)

// Buckets lists the standard buckets.
var Buckets = []string{Meta, Experiments, Enrollments, Updates, EventCounts}

var (
	// ErrNoSuchBucket is returned for a bucket a store doesn't
	// have.
	ErrNoSuchBucket = errors.New("no such bucket")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store closed")
)

// Reader reads within a transaction.
type Reader interface {
	// Get returns nil when the key is absent.
	Get(bucket, key string) ([]byte, error)

	// ForEach visits the bucket in key order.
	ForEach(bucket string, f func(key string, val []byte) error) error
}

// Writer reads and writes within a transaction.
type Writer interface {
	Reader
	Put(bucket, key string, val []byte) error
	Delete(bucket, key string) error
	Clear(bucket string) error
}

// Store is a persistence interface suitable for the engine's
// database.
//
// View runs f in a read transaction.  Update runs f in a write
// transaction, which commits when f returns nil and rolls back
// otherwise.  At most one write transaction runs at a time.
type Store interface {
	View(ctx context.Context, f func(Reader) error) error
	Update(ctx context.Context, f func(Writer) error) error
	Close() error
}

// GetJSON decodes the value at key into x.  It reports whether the key
// was present.
func GetJSON(r Reader, bucket, key string, x interface{}) (bool, error) {
	bs, err := r.Get(bucket, key)
	if err != nil || bs == nil {
		return false, err
	}
	if err = json.Unmarshal(bs, x); err != nil {
		return true, fmt.Errorf("%s/%s: %w", bucket, key, err)
	}
	return true, nil
}

// PutJSON stores the JSON encoding of x.
func PutJSON(w Writer, bucket, key string, x interface{}) error {
	js, err := json.Marshal(x)
	if err != nil {
		return err
	}
	return w.Put(bucket, key, js)
}

// All returns every value in the bucket, keyed by key.
func All(r Reader, bucket string) (map[string][]byte, error) {
	acc := make(map[string][]byte)
	err := r.ForEach(bucket, func(key string, val []byte) error {
		acc[key] = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// Values returns every value in the bucket in key order.
func Values(r Reader, bucket string) ([][]byte, error) {
	var acc [][]byte
	err := r.ForEach(bucket, func(key string, val []byte) error {
		acc = append(acc, append([]byte(nil), val...))
		return nil
	})
	return acc, err
}
