package device

import (
	"context"
)

// Emitter pushes a command to the native shell and reports how many shell
// connections received it.
type Emitter interface {
	Emit(event string, payload interface{}) int
}

// Command events on the shell stream.
const (
	EventHaptic       = "device.haptic"
	EventNotify       = "device.notify"
	EventPushRequest  = "device.push_permission"
	EventCapture      = "device.capture"
	EventPermissionUI = "device.permission_required"
)

// BridgeDevice implements every capability by sending commands to the shell
// over the bridge event stream.
type BridgeDevice struct {
	emitter Emitter
}

// NewBridgeDevice creates a bridge-backed device.
func NewBridgeDevice(emitter Emitter) *BridgeDevice {
	return &BridgeDevice{emitter: emitter}
}

// Capabilities returns an aggregate backed by this device. Permission
// prompts are forwarded to the shell as well.
func (d *BridgeDevice) Capabilities() *Capabilities {
	caps := &Capabilities{Haptics: d, Notifier: d, Push: d, Camera: d}
	caps.OnPrompt(func(c Capability) {
		d.emitter.Emit(EventPermissionUI, map[string]string{"capability": string(c)})
	})
	return caps
}

func (d *BridgeDevice) Vibrate(_ context.Context, pattern Pattern) error {
	return d.emit(CapabilityHaptics, EventHaptic, map[string]string{"pattern": string(pattern)})
}

func (d *BridgeDevice) Notify(_ context.Context, title, body string, data map[string]string) error {
	return d.emit(CapabilityNotifications, EventNotify, map[string]interface{}{
		"title": title,
		"body":  body,
		"data":  data,
	})
}

func (d *BridgeDevice) RequestPushPermission(context.Context) error {
	return d.emit(CapabilityPush, EventPushRequest, struct{}{})
}

func (d *BridgeDevice) RequestCapture(_ context.Context, tripID string) error {
	return d.emit(CapabilityCamera, EventCapture, map[string]string{"trip_id": tripID})
}

func (d *BridgeDevice) emit(capability Capability, event string, payload interface{}) error {
	if d.emitter == nil || d.emitter.Emit(event, payload) == 0 {
		return unavailable(capability)
	}
	return nil
}
