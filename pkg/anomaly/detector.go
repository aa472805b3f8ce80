// Package anomaly classifies live snapshots against fixed traffic thresholds.
package anomaly

import (
	"math"
	"time"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

// Thresholds. All comparisons are strict.
const (
	NetFlowThreshold     = 30  // |total_in - total_out| above this is an anomaly
	NetFlowHighThreshold = 50  // above this the net-flow anomaly is high severity
	VolumeThreshold      = 100 // total_in + total_out above this is high traffic
	VolumeHighThreshold  = 150 // above this high traffic is high severity
)

// Reference period and metric names recorded on every anomaly.
const (
	ReferencePeriod   = "5min"
	MetricNetFlow     = "net_flow"
	MetricTotalVolume = "total_volume"
)

// Detect returns zero, one or two anomalies for a snapshot. detectedAt is
// stamped on each result.
func Detect(s traffic.LiveSnapshot, detectedAt time.Time) []traffic.Anomaly {
	var out []traffic.Anomaly

	net := s.NetFlow()
	absNet := net
	if absNet < 0 {
		absNet = -absNet
	}
	if absNet > NetFlowThreshold {
		kind := traffic.UnusualPattern
		if net > 0 {
			kind = traffic.Congestion
		}
		severity := traffic.SeverityMedium
		if absNet > NetFlowHighThreshold {
			severity = traffic.SeverityHigh
		}
		out = append(out, newAnomaly(s, detectedAt, kind, severity,
			MetricNetFlow, float64(net), NetFlowThreshold, deviation(absNet, NetFlowThreshold)))
	}

	total := s.Total()
	if total > VolumeThreshold {
		severity := traffic.SeverityMedium
		if total > VolumeHighThreshold {
			severity = traffic.SeverityHigh
		}
		out = append(out, newAnomaly(s, detectedAt, traffic.HighTraffic, severity,
			MetricTotalVolume, float64(total), VolumeThreshold, deviation(total, VolumeThreshold)))
	}

	return out
}

// DetectAll runs Detect over a batch, preserving input order.
func DetectAll(snaps []traffic.LiveSnapshot, detectedAt time.Time) []traffic.Anomaly {
	var out []traffic.Anomaly
	for _, s := range snaps {
		out = append(out, Detect(s, detectedAt)...)
	}
	return out
}

func newAnomaly(s traffic.LiveSnapshot, at time.Time, kind traffic.AnomalyType, severity traffic.Severity,
	metric string, value, threshold, dev float64) traffic.Anomaly {
	return traffic.Anomaly{
		DetectedAt:          at,
		CameraID:            s.CameraID,
		AnomalyType:         kind,
		Severity:            severity,
		ReferencePeriod:     ReferencePeriod,
		MetricName:          metric,
		MetricValue:         value,
		ThresholdValue:      threshold,
		DeviationPercentage: dev,
		Metadata: map[string]any{
			"snapshot_time": s.SnapshotTime.UTC().Format(time.RFC3339),
			"total_in":      s.TotalIn,
			"total_out":     s.TotalOut,
		},
	}
}

// deviation is the percentage by which v exceeds threshold, to 2 decimals.
func deviation(v int64, threshold float64) float64 {
	return Round2((float64(v) - threshold) / threshold * 100)
}

// Round2 rounds half away from zero to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
