package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/herald/job"
)

// Logging returns middleware that logs delivery start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		logger.Info("delivery started",
			slog.String("workflow", j.Workflow),
			slog.String("job_id", j.ID.String()),
			slog.String("channel", string(j.StepType)),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("delivery failed",
				slog.String("workflow", j.Workflow),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("delivery completed",
				slog.String("workflow", j.Workflow),
				slog.String("job_id", j.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
