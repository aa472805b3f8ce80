package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestJobMonitor_RecordSuccess(t *testing.T) {
	m := NewJobMonitor("live")
	m.RecordSuccess("live")

	status := m.Status()
	if len(status) != 1 {
		t.Fatalf("len(Status()) = %d, want 1", len(status))
	}
	if !status[0].Healthy {
		t.Error("job should be healthy after success")
	}
	if status[0].ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status[0].ConsecutiveErrors)
	}
	if status[0].LastSuccess == "" || status[0].TimeSinceSuccess == "" {
		t.Error("LastSuccess and TimeSinceSuccess should be set")
	}
}

func TestJobMonitor_RecordFailure(t *testing.T) {
	m := NewJobMonitor()
	m.RecordFailure("hourly", errors.New("upstream 503"))

	status := m.Status()
	if len(status) != 1 {
		t.Fatalf("len(Status()) = %d, want 1", len(status))
	}
	if status[0].ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status[0].ConsecutiveErrors)
	}
	if status[0].LastError != "upstream 503" {
		t.Errorf("LastError = %q, want %q", status[0].LastError, "upstream 503")
	}
	if status[0].LastSuccess != "" {
		t.Errorf("LastSuccess = %q, want empty", status[0].LastSuccess)
	}
}

func TestJobMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*JobMonitor)
		expected bool
	}{
		{
			name:     "never ran",
			setup:    func(*JobMonitor) {},
			expected: true,
		},
		{
			name: "two failures",
			setup: func(m *JobMonitor) {
				m.RecordFailure("live", errors.New("error 1"))
				m.RecordFailure("live", errors.New("error 2"))
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(m *JobMonitor) {
				m.RecordSuccess("live")
				m.RecordFailure("live", errors.New("error 1"))
				m.RecordFailure("live", errors.New("error 2"))
				m.RecordFailure("live", errors.New("error 3"))
			},
			expected: false,
		},
		{
			name: "recovered",
			setup: func(m *JobMonitor) {
				m.RecordFailure("daily", errors.New("error 1"))
				m.RecordFailure("daily", errors.New("error 2"))
				m.RecordFailure("daily", errors.New("error 3"))
				m.RecordSuccess("daily")
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewJobMonitor("live", "hourly", "daily")
			tt.setup(m)
			if got := m.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJobMonitor_StatusSortedAndTimed(t *testing.T) {
	m := NewJobMonitor("live", "daily", "hourly")
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }
	m.RecordSuccess("hourly")
	m.now = func() time.Time { return base.Add(90 * time.Second) }

	status := m.Status()
	if len(status) != 3 {
		t.Fatalf("len(Status()) = %d, want 3", len(status))
	}
	if status[0].Job != "daily" || status[1].Job != "hourly" || status[2].Job != "live" {
		t.Errorf("unexpected order: %s, %s, %s", status[0].Job, status[1].Job, status[2].Job)
	}
	if status[1].TimeSinceSuccess != "1m30s" {
		t.Errorf("TimeSinceSuccess = %q, want %q", status[1].TimeSinceSuccess, "1m30s")
	}
}
