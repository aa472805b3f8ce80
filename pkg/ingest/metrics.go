package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trafficwatch_ingest_runs_total",
		Help: "Ingestion runs by endpoint and status.",
	}, []string{"endpoint", "status"})

	recordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trafficwatch_ingest_records_total",
		Help: "Records processed by endpoint and outcome (fetched, inserted, updated, failed).",
	}, []string{"endpoint", "outcome"})

	anomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trafficwatch_anomalies_detected_total",
		Help: "Anomalies detected by type and severity.",
	}, []string{"type", "severity"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trafficwatch_ingest_duration_seconds",
		Help:    "Duration of an ingestion run including the upstream fetch.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
	}, []string{"endpoint"})
)

func observeRecords(endpoint string, r Result) {
	recordsTotal.WithLabelValues(endpoint, "fetched").Add(float64(r.RecordsFetched))
	recordsTotal.WithLabelValues(endpoint, "inserted").Add(float64(r.RecordsInserted))
	recordsTotal.WithLabelValues(endpoint, "updated").Add(float64(r.RecordsUpdated))
	recordsTotal.WithLabelValues(endpoint, "failed").Add(float64(r.RecordsFailed))
}

func observeAnomalies(anomalies []traffic.Anomaly) {
	for _, a := range anomalies {
		anomaliesTotal.WithLabelValues(string(a.AnomalyType), string(a.Severity)).Inc()
	}
}
