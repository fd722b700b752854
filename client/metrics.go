package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_applies_total",
		Help: "Catalog applications by result",
	}, []string{"result"})

	applyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nimbus_apply_duration_seconds",
		Help:    "Time to evolve and commit a catalog",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	enrollmentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_enrollment_events_total",
		Help: "Enrollment change events by kind",
	}, []string{"change"})

	activeEnrollments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nimbus_active_enrollments",
		Help: "Recipes the client is currently enrolled in",
	})

	featureLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_feature_lookups_total",
		Help: "Feature configuration lookups by outcome",
	}, []string{"outcome"})

	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_fetches_total",
		Help: "Catalog fetches by result",
	}, []string{"result"})

	behaviorEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nimbus_behavior_events_recorded_total",
		Help: "Behavioral events recorded for targeting",
	})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
