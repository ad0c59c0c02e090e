package clusterlock

import (
	"context"
	"log/slog"
)

// ExpirationManager reclaims lock rows whose owners stopped refreshing
// them, the recovery path for replicas that died inside a critical
// section. It is triggered externally, normally by the maintenance cron.
type ExpirationManager struct {
	service *Service
	logger  *slog.Logger
}

// NewExpirationManager creates an ExpirationManager.
func NewExpirationManager(service *Service, logger *slog.Logger) *ExpirationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirationManager{service: service, logger: logger}
}

// Sweep clears every expired row that is still expired on recheck and
// returns how many were reclaimed. Rows that fail the recheck, or whose
// reclaim errors, are logged and skipped.
func (m *ExpirationManager) Sweep(ctx context.Context) (int, error) {
	expired, err := m.service.GetExpired(ctx)
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, l := range expired {
		ok, err := m.service.ClearExpired(ctx, l)
		if err != nil {
			m.logger.Error("lock expiration sweep error",
				slog.String("lock", l.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			cleared++
		}
	}

	if len(expired) > 0 {
		m.logger.Info("lock expiration sweep finished",
			slog.Int("expired", len(expired)),
			slog.Int("cleared", cleared),
		)
	}
	return cleared, nil
}
