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

// Package fetch gets recipe catalogs from files and HTTP servers.
//
// Every fetcher returns the catalog as a JSON payload of the form
// {"data":[recipe, ...]}.  Fetchers don't validate recipes; that
// happens when the payload is staged.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jsccast/yaml"
)

// File reads a catalog from a local JSON or YAML file.  The file is
// read again on every fetch.
type File struct {
	Path string
}

// FetchExperiments reads the file.
func (f *File) FetchExperiments(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bs, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	if IsYAML(f.Path) {
		if bs, err = YAMLToJSON(bs); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Path, err)
		}
	}
	return bs, nil
}

// IsYAML decides by the file's extension.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// YAMLToJSON rewrites a YAML document as JSON.
func YAMLToJSON(bs []byte) ([]byte, error) {
	var x interface{}
	if err := yaml.Unmarshal(bs, &x); err != nil {
		return nil, err
	}
	return json.Marshal(&x)
}
