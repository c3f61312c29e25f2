// Package retention sweeps expired in-process state: cache entries past
// their TTL and rate-limit windows nobody has touched since they closed.
//
// The janitor runs on a cron schedule and respects context cancellation
// for graceful shutdown. A failing task is logged and never stops the
// remaining tasks of a cycle.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/ratelimit"
	"github.com/tripsage/tripsage-core/internal/store"
)

// DefaultSchedule runs a sweep every five minutes.
const DefaultSchedule = "@every 5m"

// Task removes one kind of expired state and reports how much it removed.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// CycleStats tracks what happened in a single sweep.
type CycleStats struct {
	Removed map[string]int
	Errors  []error
	Elapsed time.Duration
}

// Janitor periodically runs its tasks.
type Janitor struct {
	cron     *cron.Cron
	schedule string
	tasks    []Task
}

// NewJanitor creates a janitor for a cron expression (five fields or a
// descriptor such as "@every 5m").
func NewJanitor(schedule string, tasks ...Task) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return &Janitor{cron: cron.New(), schedule: schedule, tasks: tasks}, nil
}

// CacheTask purges expired tool-cache entries.
func CacheTask(kv *store.MemoryKV) Task {
	return Task{Name: "cache", Run: func(context.Context) (int, error) {
		return kv.PurgeExpired(), nil
	}}
}

// RateLimitTask drops idle rate-limit windows.
func RateLimitTask(l *ratelimit.SlidingWindow) Task {
	return Task{Name: "ratelimit", Run: func(context.Context) (int, error) {
		return l.Sweep(), nil
	}}
}

// Start schedules the sweep and blocks until ctx is canceled. Running
// sweeps finish before Start returns.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}

	names := make([]string, 0, len(j.tasks))
	for _, t := range j.tasks {
		names = append(names, t.Name)
	}
	log.Info().
		Str("schedule", j.schedule).
		Strs("tasks", names).
		Msg("Retention janitor started")

	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	log.Info().Msg("Retention janitor stopped")
	return nil
}

// RunOnce performs one sweep across all tasks.
func (j *Janitor) RunOnce(ctx context.Context) CycleStats {
	start := time.Now()
	stats := CycleStats{Removed: make(map[string]int, len(j.tasks))}
	total := 0

	for _, t := range j.tasks {
		if ctx.Err() != nil {
			stats.Errors = append(stats.Errors, ctx.Err())
			break
		}
		n, err := t.Run(ctx)
		if err != nil {
			log.Warn().Err(err).Str("task", t.Name).Msg("Retention task failed")
			stats.Errors = append(stats.Errors, fmt.Errorf("%s: %w", t.Name, err))
			continue
		}
		stats.Removed[t.Name] = n
		total += n
	}

	stats.Elapsed = time.Since(start)
	if total > 0 {
		log.Debug().
			Interface("removed", stats.Removed).
			Dur("elapsed", stats.Elapsed).
			Msg("Retention cycle complete")
	}
	return stats
}
