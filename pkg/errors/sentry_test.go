package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/stretchr/testify/assert"
)

func TestIsBusinessError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"candidate mismatch", fmt.Errorf("accept: %w", common.ErrCandidateMismatch), true},
		{"network", common.NewNetworkError("offline", nil), true},
		{"bad request app error", common.NewBadRequestError("bad", nil), true},
		{"rate limited", common.NewAppError(429, "slow down", nil), false},
		{"internal", common.NewInternalError("boom", nil), false},
		{"plain", stderrors.New("unexpected"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsBusinessError(tt.err))
		})
	}
}

func TestInitSentryWithoutDSNIsNoop(t *testing.T) {
	assert.NoError(t, InitSentry(&SentryConfig{}))
	assert.Nil(t, CaptureError(nil))
}

func TestDefaultSentryConfig(t *testing.T) {
	t.Setenv("SENTRY_SAMPLE_RATE", "0.25")
	cfg := DefaultSentryConfig("driver-agent", "staging")
	assert.Equal(t, 0.25, cfg.SampleRate)
	assert.Equal(t, "driver-agent", cfg.ServerName)
	assert.Equal(t, "staging", cfg.Environment)
}
