package device

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cs-isia-racer/car/internal/config"
	"github.com/cs-isia-racer/car/internal/observability"
)

func TestMockCameraProducesDecodableFrames(t *testing.T) {
	cam := NewMockCamera(64, 48, 200)
	defer cam.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := cam.Next(ctx)
	require.NoError(t, err)
	second, err := cam.Next(ctx)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
	assert.NotEqual(t, first, second)
}

func TestMockCameraClose(t *testing.T) {
	cam := NewMockCamera(16, 16, 1)
	require.NoError(t, cam.Close())
	require.NoError(t, cam.Close())

	_, err := cam.Next(context.Background())
	assert.ErrorIs(t, err, ErrCameraClosed)
}

func TestMockCameraContext(t *testing.T) {
	cam := NewMockCamera(16, 16, 1)
	defer cam.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := cam.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDecodeFrame(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0x01, 0x02}
	frame, ok := decodeFrame(raw)
	require.True(t, ok)
	assert.Equal(t, raw, frame)

	env, err := cbor.Marshal(FrameEnvelope{Type: "image", Seq: 4, Data: []byte("jpeg")})
	require.NoError(t, err)
	frame, ok = decodeFrame(env)
	require.True(t, ok)
	assert.Equal(t, []byte("jpeg"), frame)

	meta, err := cbor.Marshal(FrameEnvelope{Type: "start"})
	require.NoError(t, err)
	_, ok = decodeFrame(meta)
	assert.False(t, ok)

	_, ok = decodeFrame([]byte("not cbor"))
	assert.False(t, ok)
	_, ok = decodeFrame(nil)
	assert.False(t, ok)
}

func TestMockActuator(t *testing.T) {
	a := NewMockActuator("steering", observability.Discard())
	require.NoError(t, a.Write(0.5))
	last, writes := a.Last()
	assert.Equal(t, 0.5, last)
	assert.Equal(t, 1, writes)

	boom := errors.New("boom")
	a.FailWith(boom)
	assert.ErrorIs(t, a.Write(0.1), boom)
	last, writes = a.Last()
	assert.Equal(t, 0.5, last)
	assert.Equal(t, 1, writes)
}

func TestGuardPropagatesWhenNotDegraded(t *testing.T) {
	inner := NewMockActuator("throttle", nil)
	inner.FailWith(errors.New("bus error"))
	health := NewHealth()

	err := Guard("throttle", inner, false, health, observability.Discard()).Write(0.2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttle actuator")

	degraded, _ := health.Degraded()
	assert.False(t, degraded)
}

func TestGuardSwallowsAndReportsWhenDegraded(t *testing.T) {
	inner := NewMockActuator("steering", nil)
	inner.FailWith(errors.New("bus error"))
	health := NewHealth()

	require.NoError(t, Guard("steering", inner, true, health, observability.Discard()).Write(0.2))

	degraded, reason := health.Degraded()
	assert.True(t, degraded)
	assert.Equal(t, "steering: bus error", reason)
	assert.Equal(t, uint64(1), health.Faults())
}

func TestSysfsPWM(t *testing.T) {
	dir := t.TempDir()
	pwm, err := OpenSysfsPWM(config.PWMChannelConfig{Path: dir, Neutral: 135, Span: 30}, 20*time.Millisecond, 10*time.Microsecond)
	require.NoError(t, err)

	readAttr := func(name string) string {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, "20000000", readAttr("period"))
	assert.Equal(t, "1", readAttr("enable"))
	assert.Equal(t, "1350000", readAttr("duty_cycle"))

	assert.Equal(t, 165.0, pwm.Pulse(1))
	require.NoError(t, pwm.Write(-1))
	assert.Equal(t, "1050000", readAttr("duty_cycle"))
}

func TestNewActuatorsDegradedSysfs(t *testing.T) {
	cfg := config.Default().Actuator
	cfg.Driver = "sysfs"
	cfg.Degraded = true
	cfg.Steering.Path = filepath.Join(t.TempDir(), "missing", "pwm1")
	cfg.Throttle.Path = t.TempDir()
	health := NewHealth()

	acts, err := NewActuators(cfg, health, observability.Discard())
	require.NoError(t, err)
	require.NoError(t, acts.Steering.Write(0.3))
	require.NoError(t, acts.Throttle.Write(0.3))

	degraded, reason := health.Degraded()
	assert.True(t, degraded)
	assert.Contains(t, reason, "steering")
	assert.NotContains(t, reason, "throttle")
}

func TestNewActuatorsStrictSysfsFails(t *testing.T) {
	cfg := config.Default().Actuator
	cfg.Driver = "sysfs"
	cfg.Steering.Path = filepath.Join(t.TempDir(), "missing", "pwm1")
	_, err := NewActuators(cfg, NewHealth(), observability.Discard())
	assert.Error(t, err)
}

func TestNewCameraUnknownDriver(t *testing.T) {
	_, err := NewCamera(context.Background(), config.CameraConfig{Driver: "picamera"}, nil)
	assert.Error(t, err)
}
