package async_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richxcame/driver-agent/pkg/async"
	"github.com/richxcame/driver-agent/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureContext(t *testing.T) {
	ctx := logger.ContextWithCorrelationID(context.Background(), "corr-123")

	tc := async.CaptureContext(ctx, "decline-candidate")

	assert.Equal(t, "corr-123", tc.CorrelationID)
	assert.Equal(t, "decline-candidate", tc.TaskName)
	assert.False(t, tc.StartTime.IsZero())
	assert.Equal(t, "corr-123", logger.CorrelationIDFromContext(tc.NewContext()))
}

func TestGoOutlivesParentContext(t *testing.T) {
	parent, cancel := context.WithCancel(logger.ContextWithCorrelationID(context.Background(), "corr-1"))
	cancel()

	got := make(chan string, 1)
	async.Go(parent, "task", func(ctx context.Context) {
		if ctx.Err() == nil {
			got <- logger.CorrelationIDFromContext(ctx)
		}
	})

	select {
	case id := <-got:
		assert.Equal(t, "corr-1", id)
	case <-time.After(time.Second):
		t.Fatal("task did not run with a live context")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	async.Go(context.Background(), "panicky", func(ctx context.Context) {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestGoWithTimeoutSetsDeadline(t *testing.T) {
	got := make(chan bool, 1)
	async.GoWithTimeout(context.Background(), "bounded", 50*time.Millisecond, func(ctx context.Context) {
		_, ok := ctx.Deadline()
		got <- ok
	})
	assert.True(t, <-got)
}

func TestGroupWait(t *testing.T) {
	var g async.Group
	ctx, cancel := context.WithCancel(context.Background())
	var stopped int32

	for i := 0; i < 3; i++ {
		g.Go(ctx, "worker", func(ctx context.Context) {
			<-ctx.Done()
			atomic.AddInt32(&stopped, 1)
		})
	}

	assert.False(t, g.Wait(20*time.Millisecond))
	cancel()
	require.True(t, g.Wait(time.Second))
	assert.Equal(t, int32(3), atomic.LoadInt32(&stopped))
}
