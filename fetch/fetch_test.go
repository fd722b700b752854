package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Comcast/nimbus/core"
	"github.com/Comcast/nimbus/logger"
	"github.com/Comcast/nimbus/util/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
data:
  - schemaVersion: 1.0.0
    slug: from-yaml
    userFacingName: From YAML
    userFacingDescription: A recipe written in YAML.
    isEnrollmentPaused: false
    bucketConfig:
      randomizationUnit: nimbus_id
      namespace: from-yaml
      start: 0
      count: 10000
      total: 10000
    branches:
      - slug: control
        ratio: 1
        features:
          - featureId: homescreen
            value:
              enabled: true
    featureIds: [homescreen]
`

func TestFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	payload := testutil.Payload(testutil.Recipe("a"))
	require.NoError(t, os.WriteFile(path, payload, 0644))

	bs, err := (&File{Path: path}).FetchExperiments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payload, bs)
}

func TestFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0644))

	bs, err := (&File{Path: path}).FetchExperiments(context.Background())
	require.NoError(t, err)

	rs, err := core.ParseRecipes(bs, nil, logger.Discard())
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "from-yaml", rs[0].Slug)
	assert.Equal(t, []string{"homescreen"}, rs[0].FeatureIDs())
	assert.Equal(t, true, rs[0].Branches[0].Features[0].Value["enabled"])
}

func TestFileMissing(t *testing.T) {
	_, err := (&File{Path: filepath.Join(t.TempDir(), "nope.json")}).FetchExperiments(context.Background())
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestIsYAML(t *testing.T) {
	assert.True(t, IsYAML("a.yaml"))
	assert.True(t, IsYAML("a.YML"))
	assert.False(t, IsYAML("a.json"))
	assert.False(t, IsYAML("yaml"))
}

func TestHTTP(t *testing.T) {
	payload := testutil.Payload(testutil.Recipe("a"))
	var requests []*http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s1"})
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL+"/v1/collections/nimbus-mobile-experiments/records", time.Second)
	require.NoError(t, err)
	h.Logger = logger.Discard()
	h.UserAgent = "nimbus-test"

	ctx := context.Background()
	bs, err := h.FetchExperiments(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, bs)

	bs, err = h.FetchExperiments(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, bs)

	require.Len(t, requests, 2)
	assert.Equal(t, "nimbus-test", requests[0].UserAgent())
	assert.Empty(t, requests[0].Header.Get("If-None-Match"))
	assert.Equal(t, `"v1"`, requests[1].Header.Get("If-None-Match"))
	c, err := requests[1].Cookie("session")
	require.NoError(t, err)
	assert.Equal(t, "s1", c.Value)

	require.Len(t, h.Cookies(), 1)
}

func TestHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone fishing", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h, err := NewHTTP(srv.URL, time.Second)
	require.NoError(t, err)
	_, err = h.FetchExperiments(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestHTTPTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	h, err := NewHTTP(srv.URL, 50*time.Millisecond)
	require.NoError(t, err)
	_, err = h.FetchExperiments(context.Background())
	assert.Error(t, err)
}
