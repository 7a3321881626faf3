package convlog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convlog_records_total",
		Help: "Conversation turns recorded",
	})

	metricRecordErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convlog_record_errors_total",
		Help: "Conversation log writes that failed (ignored by sessions)",
	})
)
