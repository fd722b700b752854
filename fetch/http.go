package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// MaxPayloadBytes bounds a catalog response.
const MaxPayloadBytes = 16 << 20

// StatusError reports a response that wasn't a catalog.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: %s", e.URL, e.Status)
}

// HTTP gets the catalog with a GET.
//
// Cookies the server sets are kept for later fetches.  When the
// server answers with an ETag, the next fetch is conditional and a
// 304 returns the previous payload.
type HTTP struct {
	URL       string
	Header    http.Header
	Timeout   time.Duration
	UserAgent string
	Logger    *slog.Logger

	client *http.Client

	sync.Mutex
	etag string
	last []byte
}

// NewHTTP makes a fetcher with its own cookie jar.
func NewHTTP(url string, timeout time.Duration) (*HTTP, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &HTTP{
		URL:     url,
		Timeout: timeout,
		client: &http.Client{
			Jar:     jar,
			Timeout: timeout,
		},
	}, nil
}

func (h *HTTP) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Cookies returns what the jar holds for the fetcher's URL.
func (h *HTTP) Cookies() []*http.Cookie {
	req, err := http.NewRequest(http.MethodGet, h.URL, nil)
	if err != nil || h.client.Jar == nil {
		return nil
	}
	return h.client.Jar.Cookies(req.URL)
}

// FetchExperiments makes the request.
func (h *HTTP) FetchExperiments(ctx context.Context) ([]byte, error) {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	h.Lock()
	etag := h.etag
	h.Unlock()
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	then := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	h.logger().Debug("fetched", "url", h.URL, "status", resp.StatusCode, "elapsed", time.Since(then))

	switch {
	case resp.StatusCode == http.StatusNotModified && etag != "":
		h.Lock()
		defer h.Unlock()
		return h.last, nil
	case resp.StatusCode < 200 || 300 <= resp.StatusCode:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{
			URL:        h.URL,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPayloadBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxPayloadBytes {
		return nil, fmt.Errorf("fetching %s: payload exceeds %d bytes", h.URL, MaxPayloadBytes)
	}

	h.Lock()
	h.etag = resp.Header.Get("ETag")
	h.last = body
	h.Unlock()

	return body, nil
}
