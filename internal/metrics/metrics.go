package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// GenerationsTotal counts certificate generation outcomes per type.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certkeeper_generations_total",
			Help: "Certificate generation attempts by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// FallbacksTotal counts ACME failures covered by a self-signed fallback.
	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "certkeeper_selfsigned_fallbacks_total",
			Help: "ACME generations that fell back to a self-signed certificate",
		},
	)

	// ReloadsTotal counts service reload outcomes.
	ReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certkeeper_reloads_total",
			Help: "Service reload attempts by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	// WatcherAlarms counts persistent reload failures after retry exhaustion.
	WatcherAlarms = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certkeeper_watcher_alarms_total",
			Help: "Watcher retry exhaustions requiring operator attention",
		},
		[]string{"service"},
	)
)
