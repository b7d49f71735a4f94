package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sourceRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgertrail_source_requests_total",
			Help: "Total number of call attempts per source endpoint",
		},
		[]string{"endpoint"},
	)

	sourceFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgertrail_source_failures_total",
			Help: "Total number of failed call attempts per source endpoint",
		},
		[]string{"endpoint"},
	)
)
