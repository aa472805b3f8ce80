package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/nicktill/trafficwatch/pkg/config"
)

// jobState is the health record of one job.
type jobState struct {
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// JobMonitor tracks health of the ingestion and aggregation jobs.
// It is observability only; nothing reads it to make decisions.
type JobMonitor struct {
	mu   sync.RWMutex
	jobs map[string]*jobState
	now  func() time.Time
}

// NewJobMonitor creates a monitor that knows about the given jobs up front,
// so they are reported before their first run.
func NewJobMonitor(jobs ...string) *JobMonitor {
	m := &JobMonitor{jobs: make(map[string]*jobState), now: time.Now}
	for _, j := range jobs {
		m.jobs[j] = &jobState{}
	}
	return m
}

func (m *JobMonitor) state(job string) *jobState {
	s, ok := m.jobs[job]
	if !ok {
		s = &jobState{}
		m.jobs[job] = s
	}
	return s
}

// RecordSuccess records a successful run of job.
func (m *JobMonitor) RecordSuccess(job string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(job)
	now := m.now()
	s.lastSuccess = now
	s.lastAttempt = now
	s.consecutiveErrors = 0
	s.lastError = ""
}

// RecordFailure records a failed run of job.
func (m *JobMonitor) RecordFailure(job string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(job)
	s.lastAttempt = m.now()
	s.consecutiveErrors++
	if err != nil {
		s.lastError = err.Error()
	}
}

// JobStatus is the health of one job.
type JobStatus struct {
	Job               string `json:"job"`
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// A job is unhealthy once it has failed MaxConsecutiveErr times in a row.
// A job that has never run is healthy.
func (s *jobState) healthy() bool {
	return s.consecutiveErrors < config.MaxConsecutiveErr
}

// IsHealthy reports whether every job is healthy.
func (m *JobMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.jobs {
		if !s.healthy() {
			return false
		}
	}
	return true
}

// Status returns every job's health sorted by job name.
func (m *JobMonitor) Status() []JobStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := make([]JobStatus, 0, len(m.jobs))
	for name, s := range m.jobs {
		status := JobStatus{Job: name, Healthy: s.healthy()}

		if !s.lastSuccess.IsZero() {
			status.LastSuccess = s.lastSuccess.Format(time.RFC3339)
			status.TimeSinceSuccess = now.Sub(s.lastSuccess).Round(time.Second).String()
		}
		if !s.lastAttempt.IsZero() {
			status.LastAttempt = s.lastAttempt.Format(time.RFC3339)
		}
		if s.consecutiveErrors > 0 {
			status.ConsecutiveErrors = s.consecutiveErrors
			status.LastError = s.lastError
		}
		out = append(out, status)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
