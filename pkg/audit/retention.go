package audit

import (
	"context"

	"github.com/platinummonkey/tally/pkg/observability"
)

// Retention enforces the per-entity record threshold after a store
type Retention struct {
	logger *observability.Logger
}

// NewRetention creates a retention manager
func NewRetention(logger *observability.Logger) *Retention {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Retention{logger: logger}
}

// Enforce trims the history of key to the threshold newest records. A zero
// threshold is unlimited. Sinks that cannot prune are append-only and are
// left untouched.
func (r *Retention) Enforce(ctx context.Context, sink Sink, driver string, key EntityKey, threshold int) (int64, error) {
	if threshold <= 0 {
		return 0, nil
	}

	pruner, ok := sink.(Pruner)
	if !ok {
		r.logger.WithFields(map[string]interface{}{
			"driver": driver,
			"entity": key.String(),
		}).Warn("audit driver does not support pruning, threshold not enforced")
		return 0, nil
	}

	deleted, err := pruner.Prune(ctx, key, threshold)
	if err != nil {
		return 0, storageError(driver, "prune", err)
	}

	if deleted > 0 {
		r.logger.WithFields(map[string]interface{}{
			"driver":    driver,
			"entity":    key.String(),
			"deleted":   deleted,
			"threshold": threshold,
		}).Debug("pruned audit records")
	}
	return deleted, nil
}
