// Package retention prunes records older than a configured age on a cron
// schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SLRio/Railway3/internal/observability"
	"github.com/SLRio/Railway3/internal/realtime"

	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "@hourly"

type Pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Broadcaster interface {
	Broadcast(ev realtime.Event)
}

type Job struct {
	repo   Pruner
	maxAge time.Duration
	cron   *cron.Cron
	now    func() time.Time

	// Events is told about every non-empty prune. Optional.
	Events Broadcaster
}

func New(repo Pruner, maxAge time.Duration, schedule string) (*Job, error) {
	if maxAge <= 0 {
		return nil, errors.New("retention max age must be positive")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultSchedule
	}
	j := &Job{repo: repo, maxAge: maxAge, cron: cron.New(), now: time.Now}
	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := j.RunOnce(ctx); err != nil {
			slog.Error("retention prune failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Job) Start() { j.cron.Start() }

// Stop waits for a running prune to finish.
func (j *Job) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce deletes every record stamped before now minus the max age.
func (j *Job) RunOnce(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.maxAge)
	n, err := j.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		observability.RecordsDeleted.WithLabelValues("retention").Add(float64(n))
		slog.Info("retention pruned records", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
		if j.Events != nil {
			j.Events.Broadcast(realtime.Event{Type: realtime.RecordsDeleted, Deleted: n})
		}
	}
	return n, nil
}
