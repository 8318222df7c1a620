package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// TaskContext holds context values that should be propagated to async tasks
type TaskContext struct {
	CorrelationID string
	StartTime     time.Time
	TaskName      string
}

// CaptureContext captures the current context values for async propagation.
// Cancellation is deliberately not captured: a best-effort call started from
// a bridge request must outlive that request.
func CaptureContext(ctx context.Context, taskName string) TaskContext {
	return TaskContext{
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		StartTime:     time.Now(),
		TaskName:      taskName,
	}
}

// NewContext creates a new context with the captured values
func (tc TaskContext) NewContext() context.Context {
	ctx := context.Background()
	if tc.CorrelationID != "" {
		ctx = logger.ContextWithCorrelationID(ctx, tc.CorrelationID)
	}
	return ctx
}

// Go runs fn in a goroutine with correlation ID propagation and panic recovery.
//
// Usage:
//
//	async.Go(ctx, "decline-candidate", func(ctx context.Context) {
//	    _ = api.Decline(ctx, id, reason)
//	})
func Go(ctx context.Context, taskName string, fn func(ctx context.Context)) {
	tc := CaptureContext(ctx, taskName)

	go func() {
		defer recoverWithLogging(tc)
		fn(tc.NewContext())
	}()
}

// GoWithTimeout is Go with a deadline on the task's context.
func GoWithTimeout(ctx context.Context, taskName string, timeout time.Duration, fn func(ctx context.Context)) {
	tc := CaptureContext(ctx, taskName)

	go func() {
		defer recoverWithLogging(tc)

		newCtx, cancel := context.WithTimeout(tc.NewContext(), timeout)
		defer cancel()

		fn(newCtx)

		if newCtx.Err() == context.DeadlineExceeded {
			logger.WarnContext(newCtx, "async task timed out",
				zap.String("task", tc.TaskName),
				zap.Duration("timeout", timeout),
			)
		}
	}()
}

// Group tracks long-running workers so a session can wait for all of them on teardown.
type Group struct {
	wg sync.WaitGroup
}

// Go starts fn as a tracked worker with panic recovery. fn receives ctx
// itself, so cancelling ctx stops the worker.
func (g *Group) Go(ctx context.Context, taskName string, fn func(ctx context.Context)) {
	tc := CaptureContext(ctx, taskName)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer recoverWithLogging(tc)
		fn(ctx)
	}()
}

// Wait blocks until every worker returned or timeout elapses. It reports
// whether all workers finished.
func (g *Group) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func recoverWithLogging(tc TaskContext) {
	if r := recover(); r != nil {
		logger.ErrorContext(tc.NewContext(), "async task panicked",
			zap.String("task", tc.TaskName),
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
