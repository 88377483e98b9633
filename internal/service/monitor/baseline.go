package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/alarm-monitor/internal/domain/alarm"
	"github.com/oshokin/alarm-monitor/internal/logger"
	"github.com/oshokin/alarm-monitor/internal/repository/baseline"
)

// baselineStore is the subset of the engine that survives restarts.
type baselineStore interface {
	Restore(baselines map[string]alarm.Word)
	Baselines() map[string]alarm.Word
}

// restoreBaselines loads saved baselines into the engine.
// A nil repository or a missing file leaves the engine at the all-zero baseline.
func restoreBaselines(ctx context.Context, engine baselineStore, repository baseline.Repository) error {
	if repository == nil {
		return nil
	}

	baselines, err := repository.Load(ctx)

	switch {
	case err == nil:
		engine.Restore(baselines)
		logger.InfoKV(ctx, "Baselines restored", "stations", len(baselines))
	case errors.Is(err, baseline.ErrNotFound):
		logger.Info(ctx, "No saved baselines, starting from zero")
	default:
		return fmt.Errorf("load baselines: %w", err)
	}

	return nil
}

// saveBaselines persists the current baselines when a repository is configured.
func saveBaselines(ctx context.Context, engine baselineStore, repository baseline.Repository) error {
	if repository == nil {
		return nil
	}

	baselines := engine.Baselines()

	if err := repository.Save(ctx, baselines); err != nil {
		return fmt.Errorf("save baselines: %w", err)
	}

	logger.InfoKV(ctx, "Baselines saved", "stations", len(baselines))

	return nil
}
