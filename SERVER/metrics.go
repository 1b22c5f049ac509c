package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_server_uploads_total",
		Help: "Documents stored.",
	})
	searchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_server_searches_total",
		Help: "Searches that passed authentication and were scanned.",
	})
	matchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_server_matches_total",
		Help: "Records returned by searches.",
	})
	accessDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_server_access_denied_total",
		Help: "Uploads and searches refused for a bad signature or certificate.",
	})
)
