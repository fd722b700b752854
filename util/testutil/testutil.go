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

// Package testutil has helpers for tests: JSON conveniences and
// recipe fixtures.
package testutil

import (
	"encoding/json"
	"fmt"
)

// Dwimjs, when given a string or bytes, parses that data as JSON.
// When given anything else, just returns what's given.
//
// See https://en.wikipedia.org/wiki/DWIM.
func Dwimjs(x interface{}) interface{} {
	switch vv := x.(type) {
	case []byte:
		return Dwimjs(string(vv))
	case string:
		var v interface{}
		if err := json.Unmarshal([]byte(vv), &v); err != nil {
			panic(err)
		}
		return v
	default:
		return x
	}
}

// Object is Dwimjs for JSON objects.
func Object(js string) map[string]interface{} {
	m, is := Dwimjs(js).(map[string]interface{})
	if !is {
		panic(fmt.Sprintf("not a JSON object: %s", js))
	}
	return m
}
