package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/contentforge/core/internal/config"
	"github.com/contentforge/core/internal/modules/reconcile"
	"github.com/contentforge/core/internal/modules/versioning"
	pkgcron "github.com/contentforge/core/internal/pkg/cron"
	"github.com/contentforge/core/internal/pkg/taskqueue"
)

// registerCronJobs registers all scheduled background jobs.
func registerCronJobs(sched *pkgcron.Scheduler, cfg *config.AppConfig, versions *versioning.Service, queue *taskqueue.Service, logger *zap.Logger) {
	cronLogger := logger.Named("CronService")

	sched.Register(pkgcron.Job{
		Name:        "prune_versions",
		Description: "prune version snapshots past the retention window",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			report, err := versions.Prune(ctx)
			if err != nil {
				cronLogger.Warn("version prune failed", zap.Error(err))
				return err
			}
			if report != nil && report.Ran {
				cronLogger.Info(fmt.Sprintf("version prune done, removed %d snapshots", report.Deleted))
			}
			return nil
		},
	})

	sched.Register(pkgcron.Job{
		Name:        "cleanup_tasks",
		Description: "remove finished queue tasks older than 7 days",
		Interval:    24 * time.Hour,
		Fn: func(ctx context.Context) error {
			cutoff := time.Now().AddDate(0, 0, -7).UnixMilli()
			if err := queue.DeleteCompleted(ctx, cutoff); err != nil {
				cronLogger.Warn("task cleanup failed", zap.Error(err))
				return err
			}
			return nil
		},
	})

	if cfg.ReconcileIntervalHours > 0 {
		sched.Register(pkgcron.Job{
			Name:        "auto_reconcile",
			Description: "scheduled reconciliation run",
			Interval:    time.Duration(cfg.ReconcileIntervalHours) * time.Hour,
			Fn: func(ctx context.Context) error {
				task, err := queue.Enqueue(ctx, reconcile.TaskType, nil, "reconcile")
				if err != nil {
					cronLogger.Warn("reconcile enqueue failed", zap.Error(err))
					return err
				}
				cronLogger.Info("reconciliation queued", zap.String("job", task.ID))
				return nil
			},
		})
	}
}
