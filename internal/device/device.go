package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

// Capability names a native feature the agent can ask the shell for.
type Capability string

const (
	CapabilityHaptics       Capability = "haptics"
	CapabilityNotifications Capability = "notifications"
	CapabilityPush          Capability = "push"
	CapabilityCamera        Capability = "camera"
	CapabilityLocation      Capability = "location"
)

// Pattern is a haptic feedback pattern.
type Pattern string

const (
	PatternLight   Pattern = "light"
	PatternHeavy   Pattern = "heavy"
	PatternSuccess Pattern = "success"
	PatternWarning Pattern = "warning"
)

// Haptics plays vibration feedback.
type Haptics interface {
	Vibrate(ctx context.Context, pattern Pattern) error
}

// LocalNotifier shows an OS-level notification.
type LocalNotifier interface {
	Notify(ctx context.Context, title, body string, data map[string]string) error
}

// PushRegistrar asks the OS for push permission. The token comes back
// asynchronously through the bridge.
type PushRegistrar interface {
	RequestPushPermission(ctx context.Context) error
}

// Camera opens the capture UI for a trip's proof photo. The photo comes back
// asynchronously through the bridge.
type Camera interface {
	RequestCapture(ctx context.Context, tripID string) error
}

// PromptFunc is told when the driver must grant a permission in settings.
type PromptFunc func(c Capability)

// Capabilities aggregates whatever native features the shell provides.
// Missing features degrade to logged no-ops.
type Capabilities struct {
	Haptics  Haptics
	Notifier LocalNotifier
	Push     PushRegistrar
	Camera   Camera

	mu       sync.Mutex
	prompted map[Capability]bool
	onPrompt PromptFunc
}

// OnPrompt registers the permission prompt callback.
func (c *Capabilities) OnPrompt(fn PromptFunc) {
	c.mu.Lock()
	c.onPrompt = fn
	c.mu.Unlock()
}

// Vibrate plays pattern when haptics are available. Failures are logged.
func (c *Capabilities) Vibrate(ctx context.Context, pattern Pattern) {
	if c == nil || c.Haptics == nil {
		return
	}
	if err := c.Haptics.Vibrate(ctx, pattern); err != nil {
		c.handle(CapabilityHaptics, err)
	}
}

// Notify shows a local notification when available. Failures are logged.
func (c *Capabilities) Notify(ctx context.Context, title, body string, data map[string]string) {
	if c == nil || c.Notifier == nil {
		logger.Debug("local notifications unavailable", zap.String("title", title))
		return
	}
	if err := c.Notifier.Notify(ctx, title, body, data); err != nil {
		c.handle(CapabilityNotifications, err)
	}
}

// RequestPush asks for push permission.
func (c *Capabilities) RequestPush(ctx context.Context) error {
	if c == nil || c.Push == nil {
		return unavailable(CapabilityPush)
	}
	if err := c.Push.RequestPushPermission(ctx); err != nil {
		c.handle(CapabilityPush, err)
		return err
	}
	return nil
}

// RequestCapture opens the camera for tripID.
func (c *Capabilities) RequestCapture(ctx context.Context, tripID string) error {
	if c == nil || c.Camera == nil {
		return unavailable(CapabilityCamera)
	}
	if err := c.Camera.RequestCapture(ctx, tripID); err != nil {
		c.handle(CapabilityCamera, err)
		return err
	}
	return nil
}

// ReportDenied records a permission denial for capability. The prompt
// callback fires once per capability until Reset.
func (c *Capabilities) ReportDenied(capability Capability) {
	c.mu.Lock()
	if c.prompted == nil {
		c.prompted = make(map[Capability]bool)
	}
	if c.prompted[capability] {
		c.mu.Unlock()
		return
	}
	c.prompted[capability] = true
	fn := c.onPrompt
	c.mu.Unlock()

	logger.Warn("device permission denied", zap.String("capability", string(capability)))
	if fn != nil {
		fn(capability)
	}
}

// Reset forgets which prompts were shown.
func (c *Capabilities) Reset() {
	c.mu.Lock()
	c.prompted = nil
	c.mu.Unlock()
}

func (c *Capabilities) handle(capability Capability, err error) {
	if common.IsPermissionDenied(err) {
		c.ReportDenied(capability)
		return
	}
	if errors.Is(err, common.ErrCapabilityUnavailable) {
		logger.Debug("device capability unavailable", zap.String("capability", string(capability)))
		return
	}
	logger.Warn("device capability failed", zap.String("capability", string(capability)), zap.Error(err))
}

func unavailable(capability Capability) error {
	return fmt.Errorf("%w: %s", common.ErrCapabilityUnavailable, capability)
}
