// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerdictsTotal counts classification verdicts by hook and verdict type.
	VerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshnode_verdicts_total",
			Help: "Total number of classification verdicts",
		},
		[]string{"hook", "verdict"},
	)

	// ParseFallbacksTotal counts packets the parser degraded to pass-through.
	ParseFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meshnode_parse_fallbacks_total",
			Help: "Total number of packets that could not be fully parsed",
		},
	)

	// TableSize tracks current identity table sizes.
	TableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meshnode_identity_table_size",
			Help: "Current number of entries per identity table",
		},
		[]string{"table"},
	)

	// RegistrationsTotal counts control-plane table mutations by result.
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshnode_registrations_total",
			Help: "Total number of identity table mutations",
		},
		[]string{"table", "op", "result"},
	)

	// DataplaneErrorsTotal counts kernel attachment and map mirror failures.
	DataplaneErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meshnode_dataplane_errors_total",
			Help: "Total number of dataplane operation failures",
		},
		[]string{"op"},
	)
)

// Table label values for TableSize and RegistrationsTotal.
const (
	TableApp   = "app"
	TableAgent = "ztunnel"
	TableHost  = "host"
)
