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

package core

import (
	"encoding/json"
	"sort"
)

// StringSet is a set of strings that encodes as a sorted JSON array.
type StringSet map[string]struct{}

// NewStringSet makes a set with the given members.
func NewStringSet(xs ...string) StringSet {
	s := make(StringSet, len(xs))
	for _, x := range xs {
		s.Add(x)
	}
	return s
}

func (s StringSet) Add(x string) {
	s[x] = struct{}{}
}

func (s StringSet) Has(x string) bool {
	_, have := s[x]
	return have
}

// Sorted returns the members in order.
func (s StringSet) Sorted() []string {
	acc := make([]string, 0, len(s))
	for x := range s {
		acc = append(acc, x)
	}
	sort.Strings(acc)
	return acc
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(bs []byte) error {
	var xs []string
	if err := json.Unmarshal(bs, &xs); err != nil {
		return err
	}
	*s = NewStringSet(xs...)
	return nil
}

// Canonicalize round-trips x through JSON, so struct values become
// plain maps, slices and float64s.
func Canonicalize(x interface{}) (interface{}, error) {
	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	var y interface{}
	if err = json.Unmarshal(js, &y); err != nil {
		return nil, err
	}
	return y, nil
}
