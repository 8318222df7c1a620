package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/richxcame/driver-agent/pkg/config"
	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/richxcame/driver-agent/pkg/resilience"
	"github.com/richxcame/driver-agent/pkg/storage"
	"github.com/richxcame/driver-agent/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const cachePrefix = "route:"

// ErrSuperseded is returned to a caller whose request was replaced by a
// newer one for the same destination.
var ErrSuperseded = errors.New("route request superseded")

// Service provides directions with caching, fallbacks and superseding of
// in-flight requests.
type Service struct {
	primary   Provider
	fallbacks []Provider
	breakers  map[string]*resilience.CircuitBreaker
	cache     storage.Store
	cacheTTL  time.Duration

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*inflightCall
}

type inflightCall struct {
	seq        uint64
	cancel     context.CancelFunc
	superseded bool
}

// NewService builds the configured primary provider with the other one as
// fallback when it is usable. cache may be nil.
func NewService(cfg config.RoutingConfig, breakers *resilience.Registry, cache storage.Store) (*Service, error) {
	google := func() Provider { return NewGoogleProvider(cfg.GoogleAPIKey, "", 0) }
	osrm := func() Provider { return NewOSRMProvider(cfg.OSRMURL, 0) }

	var primary Provider
	var fallbacks []Provider
	switch cfg.Provider {
	case "google":
		if cfg.GoogleAPIKey == "" {
			return nil, fmt.Errorf("google routing requires GOOGLE_MAPS_API_KEY")
		}
		primary = google()
		if cfg.OSRMURL != "" {
			fallbacks = append(fallbacks, osrm())
		}
	case "osrm", "":
		primary = osrm()
		if cfg.GoogleAPIKey != "" {
			fallbacks = append(fallbacks, google())
		}
	default:
		return nil, fmt.Errorf("unsupported routing provider: %s", cfg.Provider)
	}

	return NewServiceWithProviders(primary, fallbacks, breakers, cache, cfg.CacheTTL), nil
}

// NewServiceWithProviders creates a service over explicit providers.
func NewServiceWithProviders(primary Provider, fallbacks []Provider, breakers *resilience.Registry, cache storage.Store, cacheTTL time.Duration) *Service {
	s := &Service{
		primary:   primary,
		fallbacks: fallbacks,
		breakers:  make(map[string]*resilience.CircuitBreaker),
		cache:     cache,
		cacheTTL:  cacheTTL,
		inflight:  make(map[string]*inflightCall),
	}
	for _, p := range s.providers() {
		s.breakers[p.Name()] = breakers.Get("routing-" + p.Name())
	}
	return s
}

// Directions returns a route from origin to destination. A newer call for
// the same destination cancels this one, which then fails with ErrSuperseded.
func (s *Service) Directions(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	key := targetKey(destination)
	ctx, cancel := context.WithCancel(ctx)
	call := s.register(key, cancel)
	defer s.release(key, call)

	cacheKey := routeCacheKey(origin, destination)
	if route, ok := s.fromCache(ctx, cacheKey); ok {
		routeRequestsTotal.WithLabelValues(route.Provider, "cache_hit").Inc()
		return route, nil
	}

	var route *Route
	err := tracing.TraceExternalAPI(ctx, "routing", "directions", "Directions",
		[]attribute.KeyValue{
			attribute.Float64("destination.lat", destination.Lat),
			attribute.Float64("destination.lng", destination.Lng),
		},
		func(ctx context.Context) error {
			var err error
			route, err = s.executeWithFallback(ctx, origin, destination)
			return err
		})
	if err != nil {
		if s.wasSuperseded(call) {
			return nil, ErrSuperseded
		}
		return nil, err
	}

	route.RequestedAt = time.Now()
	s.toCache(ctx, cacheKey, route)
	return route, nil
}

func (s *Service) providers() []Provider {
	return append([]Provider{s.primary}, s.fallbacks...)
}

// executeWithFallback tries the primary provider and then each fallback.
func (s *Service) executeWithFallback(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	var lastErr error
	for _, provider := range s.providers() {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		name := provider.Name()
		start := time.Now()
		result, err := s.breakers[name].Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return provider.Directions(ctx, origin, destination)
		})
		routeRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err == nil {
			routeRequestsTotal.WithLabelValues(name, "success").Inc()
			return result.(*Route), nil
		}

		routeRequestsTotal.WithLabelValues(name, "failure").Inc()
		lastErr = err
		logger.Warn("Routing provider failed", zap.Error(err), zap.String("provider", name))
	}
	return nil, fmt.Errorf("all routing providers failed: %w", lastErr)
}

func (s *Service) register(key string, cancel context.CancelFunc) *inflightCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.inflight[key]; ok {
		prev.superseded = true
		prev.cancel()
	}
	s.seq++
	call := &inflightCall{seq: s.seq, cancel: cancel}
	s.inflight[key] = call
	return call
}

func (s *Service) release(key string, call *inflightCall) {
	s.mu.Lock()
	if cur, ok := s.inflight[key]; ok && cur.seq == call.seq {
		delete(s.inflight, key)
	}
	s.mu.Unlock()
	call.cancel()
}

func (s *Service) wasSuperseded(call *inflightCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return call.superseded
}

func (s *Service) fromCache(ctx context.Context, key string) (*Route, bool) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil, false
	}
	var route Route
	if err := storage.GetJSON(ctx, s.cache, key, &route); err != nil {
		return nil, false
	}
	route.CacheHit = true
	return &route, true
}

func (s *Service) toCache(ctx context.Context, key string, route *Route) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	if err := storage.SetJSON(ctx, s.cache, key, route, s.cacheTTL); err != nil {
		logger.Debug("failed to cache route", zap.Error(err))
	}
}

// targetKey groups requests by destination at ~1m precision.
func targetKey(p geo.Point) string {
	return fmt.Sprintf("%.5f,%.5f", p.Lat, p.Lng)
}

// routeCacheKey rounds the origin to ~11m so a slowly moving driver still
// hits the cache.
func routeCacheKey(origin, destination geo.Point) string {
	data := fmt.Sprintf("route:%.4f,%.4f:%.5f,%.5f", origin.Lat, origin.Lng, destination.Lat, destination.Lng)
	return cachePrefix + hashKey(data)
}

func hashKey(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}
