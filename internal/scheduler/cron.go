package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dshills/repodex/internal/logging"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates a 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// RunScheduled calls fn on every tick of expr until ctx is done. A tick that
// arrives while fn is still running is skipped. It blocks until the last
// invocation has returned.
func RunScheduled(ctx context.Context, expr string, logger *slog.Logger, fn func(context.Context)) error {
	logger = logging.OrDiscard(logger)
	if _, err := ParseSchedule(expr); err != nil {
		return err
	}

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := c.AddFunc(expr, func() { fn(ctx) })
	if err != nil {
		return fmt.Errorf("scheduler: add schedule: %w", err)
	}

	c.Start()
	logger.Info("sync schedule started", "schedule", expr, "next", c.Entry(id).Next)

	<-ctx.Done()
	<-c.Stop().Done()
	logger.Info("sync schedule stopped")
	return nil
}
