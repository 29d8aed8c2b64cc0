package cron

import (
	"context"
	"time"

	"sleuth/internal/metrics"
	"sleuth/internal/toolservice"
	"sleuth/pkg/logger"
)

// Built-in job names.
const (
	JobCatalogRefresh = "catalog_refresh"
	JobPrune          = "checkpoint_prune"
	JobHealthProbe    = "tool_service_health"
)

// CatalogRefresher reloads the tool catalog.
type CatalogRefresher interface {
	Refresh(ctx context.Context) ([]toolservice.Tool, error)
}

// Pruner deletes checkpoints not updated since a cutoff.
type Pruner interface {
	PruneBefore(ctx context.Context, t time.Time) (int64, error)
}

// CatalogRefreshJob reloads the catalog and exports its size.
func CatalogRefreshJob(schedule string, c CatalogRefresher) Job {
	return Job{
		Name:     JobCatalogRefresh,
		Schedule: schedule,
		Retry:    DefaultRetryPolicy(),
		Run: func(ctx context.Context) error {
			tools, err := c.Refresh(ctx)
			if err != nil {
				return err
			}
			metrics.CatalogSize.Set(float64(len(tools)))
			return nil
		},
	}
}

// PruneJob deletes checkpoints older than retention.
func PruneJob(schedule string, p Pruner, retention time.Duration, now func() time.Time) Job {
	if now == nil {
		now = time.Now
	}
	return Job{
		Name:     JobPrune,
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			n, err := p.PruneBefore(ctx, now().Add(-retention))
			if err != nil {
				return NonRetryable(err)
			}
			if n > 0 {
				log := logger.Component("cron")
				log.Info().Str("job_name", JobPrune).Int64("deleted", n).Dur("retention", retention).Msg("pruned checkpoints")
			}
			return nil
		},
	}
}

// HealthProbeJob probes the tool service and exports the result as a gauge.
// A failed probe is recorded, not retried.
func HealthProbeJob(schedule string, hc toolservice.HealthChecker) Job {
	return Job{
		Name:     JobHealthProbe,
		Schedule: schedule,
		Timeout:  30 * time.Second,
		Run: func(ctx context.Context) error {
			h, err := hc.Health(ctx)
			if err != nil {
				metrics.ToolServiceUp.Set(0)
				return err
			}
			metrics.ToolServiceUp.Set(1)
			log := logger.Component("cron")
			log.Debug().Str("job_name", JobHealthProbe).Str("status", h.Status).Str("version", h.Version).Msg("tool service healthy")
			return nil
		},
	}
}
