package device

import (
	"context"
	"sync"
	"testing"

	"github.com/richxcame/driver-agent/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload interface{}
}

type fakeEmitter struct {
	mu        sync.Mutex
	listeners int
	events    []emitted
}

func (f *fakeEmitter) Emit(event string, payload interface{}) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emitted{event, payload})
	return f.listeners
}

type deniedHaptics struct{ calls int }

func (d *deniedHaptics) Vibrate(context.Context, Pattern) error {
	d.calls++
	return common.NewPermissionError("vibration not allowed")
}

func TestMissingCapabilitiesDegrade(t *testing.T) {
	caps := &Capabilities{}
	ctx := context.Background()

	assert.NotPanics(t, func() {
		caps.Vibrate(ctx, PatternHeavy)
		caps.Notify(ctx, "New request", "2.1 km away", nil)
	})
	assert.ErrorIs(t, caps.RequestCapture(ctx, "d1"), common.ErrCapabilityUnavailable)
	assert.ErrorIs(t, caps.RequestPush(ctx), common.ErrCapabilityUnavailable)

	var nilCaps *Capabilities
	assert.NotPanics(t, func() { nilCaps.Vibrate(ctx, PatternLight) })
}

func TestPermissionPromptOncePerCapability(t *testing.T) {
	haptics := &deniedHaptics{}
	caps := &Capabilities{Haptics: haptics}
	var prompts []Capability
	caps.OnPrompt(func(c Capability) { prompts = append(prompts, c) })

	caps.Vibrate(context.Background(), PatternHeavy)
	caps.Vibrate(context.Background(), PatternHeavy)
	caps.ReportDenied(CapabilityLocation)
	caps.ReportDenied(CapabilityLocation)

	assert.Equal(t, 2, haptics.calls)
	assert.Equal(t, []Capability{CapabilityHaptics, CapabilityLocation}, prompts)

	caps.Reset()
	caps.ReportDenied(CapabilityLocation)
	assert.Len(t, prompts, 3)
}

func TestBridgeDeviceEmitsCommands(t *testing.T) {
	emitter := &fakeEmitter{listeners: 1}
	caps := NewBridgeDevice(emitter).Capabilities()
	ctx := context.Background()

	caps.Vibrate(ctx, PatternSuccess)
	caps.Notify(ctx, "Arrived", "Rider notified", map[string]string{"trip_id": "r1"})
	require.NoError(t, caps.RequestCapture(ctx, "d1"))
	require.NoError(t, caps.RequestPush(ctx))

	require.Len(t, emitter.events, 4)
	assert.Equal(t, EventHaptic, emitter.events[0].event)
	assert.Equal(t, map[string]string{"pattern": "success"}, emitter.events[0].payload)
	assert.Equal(t, EventNotify, emitter.events[1].event)
	assert.Equal(t, EventCapture, emitter.events[2].event)
	assert.Equal(t, map[string]string{"trip_id": "d1"}, emitter.events[2].payload)
	assert.Equal(t, EventPushRequest, emitter.events[3].event)
}

func TestBridgeDeviceWithoutShell(t *testing.T) {
	emitter := &fakeEmitter{}
	caps := NewBridgeDevice(emitter).Capabilities()

	err := caps.RequestCapture(context.Background(), "d1")
	assert.ErrorIs(t, err, common.ErrCapabilityUnavailable)
}

func TestBridgePermissionPromptReachesShell(t *testing.T) {
	emitter := &fakeEmitter{listeners: 1}
	caps := NewBridgeDevice(emitter).Capabilities()

	caps.ReportDenied(CapabilityCamera)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, EventPermissionUI, emitter.events[0].event)
	assert.Equal(t, map[string]string{"capability": "camera"}, emitter.events[0].payload)
}
