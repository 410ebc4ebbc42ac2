package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ParseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_parse_total",
			Help: "Total number of parsed model responses by recovery strategy",
		},
		[]string{"strategy"},
	)

	ItemsRecovered = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reconcile_items_recovered",
			Help:    "Line items recovered per parsed response",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ModelRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_model_requests_total",
			Help: "Total number of model requests by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	ModelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "reconcile_model_request_duration_seconds",
			Help: "Duration of model requests in seconds",
		},
		[]string{"provider"},
	)

	ReceiptsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_receipts_saved_total",
			Help: "Total number of receipts submitted for storage",
		},
		[]string{"duplicate"},
	)
)
