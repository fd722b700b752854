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

// Package sampling decides, deterministically, whether a client falls
// into a bucket range and which branch of a recipe it gets.
//
// The input is encoded as compact JSON, hashed with SHA-256, and the
// first 48 bits of the digest are compared (as 12 lowercase hex
// digits) against keys derived from the requested fractions of the
// bucket space.  The encoding and the comparison are stable across
// runs and platforms, so other implementations of the same scheme
// bucket the same client identically.
package sampling

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	hashBits   = 48
	hashLength = hashBits / 4
)

var (
	// ErrEmptyRatios is returned by RatioSample when there is
	// nothing to choose from.
	ErrEmptyRatios = errors.New("empty ratios")

	// ErrInvalidFraction occurs when a fraction outside [0,1] is
	// turned into a key.
	ErrInvalidFraction = errors.New("invalid fraction")

	// ErrZeroTotal means that a bucket space or a ratio set has
	// zero size.
	ErrZeroTotal = errors.New("total must be positive")
)

// BadBucket occurs when a bucket range doesn't fit in its bucket
// space.
type BadBucket struct {
	Count uint32
	Total uint32
}

func (e *BadBucket) Error() string {
	return fmt.Sprintf("bucket count %d exceeds total %d", e.Count, e.Total)
}

// TruncatedHash returns the first 6 bytes of the SHA-256 digest of the
// JSON encoding of data.
func TruncatedHash(data interface{}) ([6]byte, error) {
	var out [6]byte
	js, err := marshal(data)
	if err != nil {
		return out, err
	}
	sum := sha256.Sum256(js)
	copy(out[:], sum[:6])
	return out, nil
}

// HashKey is the hex rendering of TruncatedHash.
func HashKey(data interface{}) (string, error) {
	h, err := TruncatedHash(data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// marshal renders x as compact JSON without HTML escaping and without
// the trailing newline json.Encoder adds.
func marshal(x interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(x); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// BucketSample reports whether the hash of input falls in the bucket
// range [start, start+count) of a space of total buckets.  Ranges that
// run past total wrap around to zero.
func BucketSample(input interface{}, start, count, total uint32) (bool, error) {
	if total == 0 {
		return false, ErrZeroTotal
	}
	if count > total {
		return false, &BadBucket{Count: count, Total: total}
	}

	key, err := HashKey(input)
	if err != nil {
		return false, err
	}

	wrappedStart := start % total
	end := uint64(wrappedStart) + uint64(count)

	if end > uint64(total) {
		lo, err := inBucket(key, 0, uint32(end-uint64(total)), total)
		if err != nil {
			return false, err
		}
		hi, err := inBucket(key, wrappedStart, total, total)
		if err != nil {
			return false, err
		}
		return lo || hi, nil
	}

	return inBucket(key, wrappedStart, uint32(end), total)
}

// RatioSample picks an index into ratios, weighted by the ratios.  The
// last index is the fallback.
func RatioSample(input interface{}, ratios []uint32) (int, error) {
	if len(ratios) == 0 {
		return 0, ErrEmptyRatios
	}

	var total uint64
	for _, r := range ratios {
		total += uint64(r)
	}
	if total == 0 {
		return 0, ErrZeroTotal
	}

	key, err := HashKey(input)
	if err != nil {
		return 0, err
	}

	var point uint64
	for i := 0; i < len(ratios)-1; i++ {
		point += uint64(ratios[i])
		k, err := FractionToKey(float64(point) / float64(total))
		if err != nil {
			return 0, err
		}
		if key <= k {
			return i, nil
		}
	}
	return len(ratios) - 1, nil
}

func inBucket(key string, min, max, total uint32) (bool, error) {
	lo, err := FractionToKey(float64(min) / float64(total))
	if err != nil {
		return false, err
	}
	hi, err := FractionToKey(float64(max) / float64(total))
	if err != nil {
		return false, err
	}
	return lo <= key && key < hi, nil
}

// FractionToKey maps a fraction of the 48-bit hash space to the
// zero-padded hex key at that position.
func FractionToKey(fraction float64) (string, error) {
	if fraction < 0 || fraction > 1 || math.IsNaN(fraction) {
		return "", ErrInvalidFraction
	}
	n := math.Floor(fraction * float64(uint64(1)<<hashBits-1))
	return fmt.Sprintf("%0*x", hashLength, uint64(n)), nil
}
