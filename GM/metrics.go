package gm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	joinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_gm_joins_total",
		Help: "Members admitted.",
	})
	leavesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_gm_leaves_total",
		Help: "Members revoked.",
	})
	keysIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_gm_keys_issued_total",
		Help: "Partial decryption keys handed out.",
	})
	accessDeniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_gm_access_denied_total",
		Help: "Key and catch-up requests refused because the certificate did not verify.",
	})
	pushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_gm_push_failures_total",
		Help: "Update pushes that failed or timed out; the member was detached.",
	})
	serverSyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gose_gm_server_syncs_total",
		Help: "Server pushes that failed and were followed by an aggregate catch-up.",
	})
)
