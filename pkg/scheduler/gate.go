// Package scheduler decides which jobs run on a 5-minute tick and runs them
// in order, stopping at the first failure.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nicktill/trafficwatch/pkg/config"
	"github.com/nicktill/trafficwatch/pkg/logger"
)

// Branch names, in execution order.
const (
	BranchLive   = "live"
	BranchHourly = "hourly"
	BranchDaily  = "daily"
)

var branchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trafficwatch_scheduler_branch_total",
	Help: "Scheduler branches by outcome (ran, skipped, failed, aborted).",
}, []string{"branch", "outcome"})

// Decision is which branches are due at one instant.
type Decision struct {
	Hourly       bool
	Daily        bool
	HourlyReason string
	DailyReason  string
}

// Decide evaluates the gate at now in loc. The live branch always runs.
func Decide(now time.Time, loc *time.Location) Decision {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	minute, hour := local.Minute(), local.Hour()

	var d Decision
	if minute < config.HourlyWindow {
		d.Hourly = true
	} else {
		d.HourlyReason = fmt.Sprintf("hourly runs during the first %d minutes of the hour (minute is %d)", config.HourlyWindow, minute)
	}

	if hour == config.DailyRunHour && minute < config.HourlyWindow {
		d.Daily = true
	} else {
		d.DailyReason = fmt.Sprintf("daily runs at %02d:00-%02d:%02d (time is %02d:%02d)",
			config.DailyRunHour, config.DailyRunHour, config.HourlyWindow-1, hour, minute)
	}
	return d
}

// JobFunc runs one branch and returns its JSON-able result.
type JobFunc func(ctx context.Context) (any, error)

// Jobs are the branch bodies.
type Jobs struct {
	Live   JobFunc
	Hourly JobFunc
	Daily  JobFunc
}

// Observer is told how each executed branch went.
type Observer interface {
	RecordSuccess(job string)
	RecordFailure(job string, err error)
}

// BranchResult is the outcome of one branch.
type BranchResult struct {
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TickResult is the outcome of one gate evaluation.
type TickResult struct {
	Success    bool                    `json:"success"`
	Results    map[string]BranchResult `json:"results"`
	ExecutedAt time.Time               `json:"executedAt"`
}

// Gate runs due branches.
type Gate struct {
	jobs     Jobs
	loc      *time.Location
	observer Observer
	l        *logger.Logger
	now      func() time.Time
}

// NewGate creates a gate evaluating wall-clock time in loc. observer may be nil.
func NewGate(jobs Jobs, loc *time.Location, observer Observer, l *logger.Logger) *Gate {
	if loc == nil {
		loc = time.UTC
	}
	return &Gate{jobs: jobs, loc: loc, observer: observer, l: l, now: time.Now}
}

// Run evaluates the gate once. On the first branch failure it stops: due
// branches after it are reported as not run, and that branch's error is
// returned with the complete result.
func (g *Gate) Run(ctx context.Context) (TickResult, error) {
	now := g.now()
	d := Decide(now, g.loc)

	tick := TickResult{
		Success:    true,
		Results:    make(map[string]BranchResult, 3),
		ExecutedAt: now.In(g.loc),
	}

	steps := []struct {
		name   string
		due    bool
		reason string
		job    JobFunc
	}{
		{BranchLive, true, "", g.jobs.Live},
		{BranchHourly, d.Hourly, d.HourlyReason, g.jobs.Hourly},
		{BranchDaily, d.Daily, d.DailyReason, g.jobs.Daily},
	}

	var failed string
	var firstErr error
	for _, step := range steps {
		if !step.due {
			tick.Results[step.name] = BranchResult{Skipped: true, Reason: step.reason, Success: true}
			branchRuns.WithLabelValues(step.name, "skipped").Inc()
			continue
		}
		if firstErr != nil {
			tick.Results[step.name] = BranchResult{Skipped: true, Reason: fmt.Sprintf("not run: %s branch failed", failed)}
			branchRuns.WithLabelValues(step.name, "aborted").Inc()
			continue
		}

		res, err := step.job(ctx)
		if err != nil {
			tick.Success = false
			tick.Results[step.name] = BranchResult{Success: false, Result: res, Error: err.Error()}
			branchRuns.WithLabelValues(step.name, "failed").Inc()
			if g.observer != nil {
				g.observer.RecordFailure(step.name, err)
			}
			g.l.Error(err, map[string]any{"branch": step.name, "executed_at": tick.ExecutedAt})
			failed, firstErr = step.name, err
			continue
		}

		tick.Results[step.name] = BranchResult{Success: true, Result: res}
		branchRuns.WithLabelValues(step.name, "ran").Inc()
		if g.observer != nil {
			g.observer.RecordSuccess(step.name)
		}
	}

	if firstErr != nil {
		return tick, fmt.Errorf("%s branch failed: %w", failed, firstErr)
	}

	g.l.Info("scheduler tick finished", map[string]any{
		"executed_at": tick.ExecutedAt,
		"hourly":      d.Hourly,
		"daily":       d.Daily,
	})
	return tick, nil
}
