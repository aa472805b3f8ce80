package anomaly

import (
	"testing"
	"time"

	"github.com/nicktill/trafficwatch/pkg/traffic"
)

var at = time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC)

func snap(in, out int64) traffic.LiveSnapshot {
	return traffic.NewLiveSnapshot(at, "cam_01", in, out, 0, 0, 0, 0)
}

func TestDetect(t *testing.T) {
	type want struct {
		kind      traffic.AnomalyType
		severity  traffic.Severity
		deviation float64
	}

	tests := []struct {
		name    string
		in, out int64
		want    []want
	}{
		{"balanced", 15, 15, nil},
		{"net flow at threshold", 30, 0, nil},
		{"congestion medium", 50, 10, []want{{traffic.Congestion, traffic.SeverityMedium, 33.33}}},
		{"congestion high", 60, 5, []want{{traffic.Congestion, traffic.SeverityHigh, 83.33}}},
		{"net flow at high threshold is medium", 50, 0, []want{{traffic.Congestion, traffic.SeverityMedium, 66.67}}},
		{"unusual pattern", 5, 40, []want{{traffic.UnusualPattern, traffic.SeverityMedium, 16.67}}},
		{"volume at threshold", 50, 50, nil},
		{"high traffic medium", 60, 45, []want{{traffic.HighTraffic, traffic.SeverityMedium, 5}}},
		{"high traffic high", 80, 80, []want{{traffic.HighTraffic, traffic.SeverityHigh, 60}}},
		{"both", 80, 30, []want{
			{traffic.Congestion, traffic.SeverityMedium, 66.67},
			{traffic.HighTraffic, traffic.SeverityMedium, 10},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(snap(tt.in, tt.out), at)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d anomalies, got %d: %+v", len(tt.want), len(got), got)
			}
			for i, w := range tt.want {
				a := got[i]
				if a.AnomalyType != w.kind {
					t.Errorf("anomaly %d: expected type %s, got %s", i, w.kind, a.AnomalyType)
				}
				if a.Severity != w.severity {
					t.Errorf("anomaly %d: expected severity %s, got %s", i, w.severity, a.Severity)
				}
				if a.DeviationPercentage != w.deviation {
					t.Errorf("anomaly %d: expected deviation %v, got %v", i, w.deviation, a.DeviationPercentage)
				}
			}
		})
	}
}

func TestDetect_Fields(t *testing.T) {
	now := at.Add(time.Minute)
	got := Detect(snap(5, 40), now)
	if len(got) != 1 {
		t.Fatalf("expected 1 anomaly, got %d", len(got))
	}

	a := got[0]
	if !a.DetectedAt.Equal(now) {
		t.Errorf("expected detected_at %v, got %v", now, a.DetectedAt)
	}
	if a.MetricName != MetricNetFlow || a.MetricValue != -35 || a.ThresholdValue != NetFlowThreshold {
		t.Errorf("unexpected metric fields: %s=%v threshold %v", a.MetricName, a.MetricValue, a.ThresholdValue)
	}
	if a.ReferencePeriod != ReferencePeriod {
		t.Errorf("expected reference period %q, got %q", ReferencePeriod, a.ReferencePeriod)
	}
	if a.Metadata["total_in"] != int64(5) || a.Metadata["total_out"] != int64(40) {
		t.Errorf("unexpected metadata: %v", a.Metadata)
	}
	if a.Metadata["snapshot_time"] != "2024-03-01T10:05:00Z" {
		t.Errorf("unexpected snapshot_time: %v", a.Metadata["snapshot_time"])
	}
}

func TestDetectAll(t *testing.T) {
	got := DetectAll([]traffic.LiveSnapshot{snap(15, 15), snap(50, 10), snap(80, 80)}, at)
	if len(got) != 2 {
		t.Fatalf("expected 2 anomalies, got %d", len(got))
	}
	if got[0].AnomalyType != traffic.Congestion || got[1].AnomalyType != traffic.HighTraffic {
		t.Errorf("unexpected order: %s, %s", got[0].AnomalyType, got[1].AnomalyType)
	}
}

func TestRound2(t *testing.T) {
	tests := map[float64]float64{
		33.333333: 33.33,
		66.666666: 66.67,
		0.005:     0.01,
		-1.234:    -1.23,
		100:       100,
	}
	for in, want := range tests {
		if got := Round2(in); got != want {
			t.Errorf("Round2(%v) = %v, want %v", in, got, want)
		}
	}
}
