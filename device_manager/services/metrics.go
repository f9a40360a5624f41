package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	provisioningMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodedash_device_provisioning_total",
		Help: "Device provisioning outcomes against the network server.",
	}, []string{"outcome"})

	historyDeletedMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodedash_history_rows_deleted_total",
		Help: "History rows removed by retention cleanup.",
	}, []string{"table"})

	externalCallMetric = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "nodedash_external_call_seconds",
		Help: "Latency of calls to the network server and the time series store.",
	}, []string{"service", "operation"})

	loginMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nodedash_logins_total",
		Help: "Login attempts by result.",
	}, []string{"result"})
)

const (
	provisioned = "provisioned"
	rolledBack  = "rolled_back"
	skipped     = "skipped"
)

func externalTimer(service, operation string) *prometheus.Timer {
	return prometheus.NewTimer(externalCallMetric.WithLabelValues(service, operation))
}
