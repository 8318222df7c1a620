package earnings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richxcame/driver-agent/internal/tripapi"
	"github.com/richxcame/driver-agent/internal/trips"
	"github.com/richxcame/driver-agent/pkg/async"
	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/storage"
	"go.uber.org/zap"
)

const (
	statsKey       = "earnings:stats"
	earningsPrefix = "earnings:period:"
	refreshTimeout = 15 * time.Second
)

// API is the backend surface the dashboard reads from.
type API interface {
	DriverStats(ctx context.Context) (*tripapi.Stats, error)
	Earnings(ctx context.Context, period string) (*tripapi.Earnings, error)
	TripHistory(ctx context.Context, page, perPage int) (*tripapi.HistoryPage, error)
}

// Service serves dashboard figures. Successful reads are cached so the
// last known figures can be shown while the backend is unreachable.
type Service struct {
	api      API
	store    storage.Store
	cacheTTL time.Duration

	refreshWarn logger.FirstWarn
	workers     async.Group
}

// NewService creates a service. A zero ttl keeps cached figures until
// overwritten.
func NewService(api API, store storage.Store, ttl time.Duration) *Service {
	return &Service{api: api, store: store, cacheTTL: ttl}
}

// Stats returns the dashboard summary.
func (s *Service) Stats(ctx context.Context) (*tripapi.Stats, error) {
	stats, err := s.api.DriverStats(ctx)
	if err == nil {
		s.cache(ctx, statsKey, stats)
		return stats, nil
	}
	var cached tripapi.Stats
	if s.cached(ctx, statsKey, &cached, err) {
		return &cached, nil
	}
	return nil, err
}

// Earnings returns the summary for period.
func (s *Service) Earnings(ctx context.Context, period string) (*tripapi.Earnings, error) {
	if !tripapi.ValidPeriod(period) {
		return nil, common.NewValidationError(fmt.Sprintf("unknown earnings period %q", period))
	}
	key := earningsPrefix + period
	earnings, err := s.api.Earnings(ctx, period)
	if err == nil {
		s.cache(ctx, key, earnings)
		return earnings, nil
	}
	var cached tripapi.Earnings
	if s.cached(ctx, key, &cached, err) {
		return &cached, nil
	}
	return nil, err
}

// History returns a page of past trips. History is not cached.
func (s *Service) History(ctx context.Context, page, perPage int) (*tripapi.HistoryPage, error) {
	return s.api.TripHistory(ctx, page, perPage)
}

// Refresh reloads the summary and today's earnings. Only the first failure
// in a row is logged at warn level.
func (s *Service) Refresh(ctx context.Context) error {
	stats, err := s.api.DriverStats(ctx)
	if err == nil {
		s.cache(ctx, statsKey, stats)
		var today *tripapi.Earnings
		if today, err = s.api.Earnings(ctx, tripapi.PeriodToday); err == nil {
			s.cache(ctx, earningsPrefix+tripapi.PeriodToday, today)
		}
	}
	if err != nil {
		s.refreshWarn.Log(ctx, "earnings refresh failed", zap.Error(err))
		return err
	}
	s.refreshWarn.Reset()
	return nil
}

// OnTripChange refreshes the figures in the background when a trip ends.
func (s *Service) OnTripChange(change trips.Change) {
	if change.Kind != trips.ChangeTripEnded {
		return
	}
	s.workers.Go(context.Background(), "earnings-refresh", func(context.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		_ = s.Refresh(ctx)
	})
}

// Close waits for background refreshes.
func (s *Service) Close() {
	s.workers.Wait(refreshTimeout)
}

func (s *Service) cache(ctx context.Context, key string, value interface{}) {
	if s.store == nil {
		return
	}
	if err := storage.SetJSON(ctx, s.store, key, value, s.cacheTTL); err != nil {
		logger.DebugContext(ctx, "failed to cache dashboard figures", zap.String("key", key), zap.Error(err))
	}
}

// cached serves a previous result when the live read failed for a reason a
// retry might fix.
func (s *Service) cached(ctx context.Context, key string, out interface{}, cause error) bool {
	if s.store == nil || !common.IsTransient(cause) {
		return false
	}
	if err := storage.GetJSON(ctx, s.store, key, out); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.DebugContext(ctx, "failed to read cached figures", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	logger.DebugContext(ctx, "serving cached dashboard figures", zap.String("key", key), zap.Error(cause))
	return true
}
