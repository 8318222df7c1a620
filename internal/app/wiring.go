package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/richxcame/driver-agent/internal/navigation"
	"github.com/richxcame/driver-agent/internal/realtime"
	"github.com/richxcame/driver-agent/pkg/config"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// LocationAPI is the REST side of location reporting.
type LocationAPI interface {
	ReportLocation(ctx context.Context, report navigation.Report) error
}

// LocationBroadcaster is the realtime side of location reporting.
type LocationBroadcaster interface {
	BroadcastLocation(ctx context.Context, report navigation.Report) error
}

// fanoutReporter sends each throttled report to the backend and to the
// realtime channel. Only the REST result is returned; a disconnected
// channel is not an error.
type fanoutReporter struct {
	api     LocationAPI
	channel LocationBroadcaster
}

func (r *fanoutReporter) ReportLocation(ctx context.Context, report navigation.Report) error {
	if r.channel != nil {
		if err := r.channel.BroadcastLocation(ctx, report); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
			logger.DebugContext(ctx, "location broadcast failed", zap.Error(err))
		}
	}
	if r.api == nil {
		return nil
	}
	return r.api.ReportLocation(ctx, report)
}

// newTransport builds the configured realtime transport. "none" yields a
// nil transport, which the channel treats as permanently offline.
func newTransport(cfg config.BackendConfig, tokens func() string, onUnauthorized func()) (realtime.Transport, error) {
	switch cfg.RealtimeTransport {
	case "websocket":
		ws := realtime.NewWebSocketTransport(realtime.WebSocketConfig{URL: cfg.WebSocketURL}, tokens)
		ws.OnUnauthorized(onUnauthorized)
		return ws, nil
	case "nats":
		nt, err := realtime.NewNATSTransport(realtime.NATSConfig{URL: cfg.NATSURL}, tokens)
		if err != nil {
			return nil, err
		}
		return nt, nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown realtime transport %q", cfg.RealtimeTransport)
	}
}
