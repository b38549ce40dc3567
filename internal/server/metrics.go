package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "classnotes",
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	streamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "classnotes",
			Name:      "stream_connections",
			Help:      "Open change stream websockets.",
		},
	)

	streamFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "classnotes",
			Name:      "stream_frames_dropped_total",
			Help:      "Change frames dropped because a stream consumer fell behind.",
		},
	)
)
