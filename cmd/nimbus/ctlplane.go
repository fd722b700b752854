package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/Comcast/nimbus/client"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ControlPlane is the HTTP face of a running client: POST an Op to
// /api, scrape /metrics.
func ControlPlane(ctx context.Context, c *client.Client, log *slog.Logger) http.Handler {
	complain := func(w http.ResponseWriter, x interface{}, status int) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		js, _ := json.Marshal(map[string]string{"error": fmt.Sprint(x)})
		w.Write(append(js, '\n'))
	}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := c.GetActiveExperiments(); err != nil {
			complain(w, err, http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			complain(w, "POST an operation", http.StatusMethodNotAllowed)
			return
		}
		js, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			complain(w, err, http.StatusBadRequest)
			return
		}

		var op Op
		if err := json.Unmarshal(js, &op); err != nil {
			complain(w, err, http.StatusBadRequest)
			return
		}
		// Operations run on the server's context, not the request's.
		status := http.StatusOK
		if err = op.Do(ctx, c); err != nil {
			log.Warn("operation failed", "op", string(js), "error", err)
			status = http.StatusUnprocessableEntity
		}
		if js, err = json.Marshal(&op); err != nil {
			complain(w, err, http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err = w.Write(append(js, '\n')); err != nil {
			log.Warn("writing response", "error", err)
		}
	})

	return mux
}
