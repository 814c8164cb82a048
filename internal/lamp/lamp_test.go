package lamp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cybre/deskbridge/internal/config"
	"github.com/cybre/deskbridge/internal/miio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type call struct {
	method string
	params []interface{}
}

type fakeDevice struct {
	mu         sync.Mutex
	power      bool
	brightness int
	color      miio.Color
	err        error

	powerReads       int
	brightnessWrites []string
	calls            []call

	powerObservers      []func(bool)
	colorObservers      []func(miio.Color)
	brightnessObservers []func(int)
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		power:      true,
		brightness: 80,
		color:      miio.Color{Model: miio.ColorModelTemperature, Values: []int{4000}},
	}
}

func (f *fakeDevice) Power(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.powerReads++
	return f.power, f.err
}

func (f *fakeDevice) SetPower(ctx context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.power = on
	return nil
}

func (f *fakeDevice) Brightness(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.brightness, f.err
}

func (f *fakeDevice) SetBrightness(ctx context.Context, brightness string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.brightnessWrites = append(f.brightnessWrites, brightness)
	return nil
}

func (f *fakeDevice) Color(ctx context.Context) (miio.Color, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.color, f.err
}

func (f *fakeDevice) Call(ctx context.Context, method string, params ...interface{}) (miio.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, call{method: method, params: params})
	return miio.Result{[]byte(`"ok"`)}, nil
}

func (f *fakeDevice) OnPowerChanged(fn func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.powerObservers = append(f.powerObservers, fn)
}

func (f *fakeDevice) OnColorChanged(fn func(miio.Color)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.colorObservers = append(f.colorObservers, fn)
}

func (f *fakeDevice) OnBrightnessChanged(fn func(int)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.brightnessObservers = append(f.brightnessObservers, fn)
}

func (f *fakeDevice) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.powerObservers) > 0 && len(f.colorObservers) > 0 && len(f.brightnessObservers) > 0
}

func (f *fakeDevice) emitPower(on bool) {
	f.mu.Lock()
	observers := f.powerObservers
	f.mu.Unlock()

	for _, fn := range observers {
		fn(on)
	}
}

func (f *fakeDevice) emitColor(c miio.Color) {
	f.mu.Lock()
	observers := f.colorObservers
	f.mu.Unlock()

	for _, fn := range observers {
		fn(c)
	}
}

func (f *fakeDevice) emitBrightness(b int) {
	f.mu.Lock()
	observers := f.brightnessObservers
	f.mu.Unlock()

	for _, fn := range observers {
		fn(b)
	}
}

func (f *fakeDevice) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.err = err
}

// fakeConnector counts connection attempts. Attempts block until release is
// closed and fail while failures remain.
type fakeConnector struct {
	device   *fakeDevice
	release  chan struct{}
	attempts atomic.Int32
	failures atomic.Int32
}

func newFakeConnector(device *fakeDevice) *fakeConnector {
	c := &fakeConnector{device: device, release: make(chan struct{})}
	close(c.release)

	return c
}

func (c *fakeConnector) connect(ctx context.Context, address, token string) (Device, error) {
	c.attempts.Add(1)
	<-c.release

	if c.failures.Add(-1) >= 0 {
		return nil, errBoom
	}

	return c.device, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testConfig = Config{Name: "Desk lamp", Address: "192.168.1.20", Token: "00112233445566778899aabbccddeeff"}

func newTestLamp(t *testing.T, connector *fakeConnector) *Lamp {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return New(ctx, testLogger(), testConfig, WithConnector(connector.connect))
}

func TestGetDeviceConnectsOnce(t *testing.T) {
	device := newFakeDevice()
	connector := newFakeConnector(device)
	connector.release = make(chan struct{})

	l := newTestLamp(t, connector)

	const callers = 20
	results := make(chan Device, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- l.getDevice()
		}()
	}

	require.Eventually(t, func() bool {
		return connector.attempts.Load() == 1
	}, time.Second, 5*time.Millisecond)

	close(connector.release)
	wg.Wait()
	close(results)

	for d := range results {
		assert.Same(t, device, d)
	}
	assert.Equal(t, int32(1), connector.attempts.Load())

	// cached, no further attempts
	assert.Same(t, device, l.getDevice())
	assert.Equal(t, int32(1), connector.attempts.Load())
}

func TestGetDeviceSharesFailure(t *testing.T) {
	connector := newFakeConnector(newFakeDevice())
	connector.release = make(chan struct{})
	connector.failures.Store(1)

	l := newTestLamp(t, connector)

	// the background subscription starts the attempt the callers join
	require.Eventually(t, func() bool {
		return connector.attempts.Load() == 1
	}, time.Second, 5*time.Millisecond)

	const callers = 10
	results := make(chan Device, callers)

	var started, wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		started.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			results <- l.getDevice()
		}()
	}

	started.Wait()
	time.Sleep(50 * time.Millisecond)

	close(connector.release)
	wg.Wait()
	close(results)

	for d := range results {
		assert.Nil(t, d)
	}
	assert.Equal(t, int32(1), connector.attempts.Load())
}

func TestGetDeviceRetriesAfterFailure(t *testing.T) {
	device := newFakeDevice()
	connector := newFakeConnector(device)
	connector.failures.Store(1)

	l := newTestLamp(t, connector)

	// the background subscription takes the failing attempt
	require.Eventually(t, func() bool {
		return connector.attempts.Load() == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := l.GetState(context.Background())
		return err == nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(2), connector.attempts.Load())
	assert.False(t, device.subscribed())
}

func TestHandlersWithUnavailableDevice(t *testing.T) {
	connector := newFakeConnector(newFakeDevice())
	connector.failures.Store(100)

	l := newTestLamp(t, connector)
	ctx := context.Background()

	_, err := l.GetState(ctx)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, l.SetState(ctx, true), ErrDeviceUnavailable)
	_, err = l.GetBrightness(ctx)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, l.SetBrightness(ctx, 10), ErrDeviceUnavailable)
	_, err = l.GetColorTemperature(ctx)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.ErrorIs(t, l.SetColorTemperature(ctx, 250), ErrDeviceUnavailable)

	v, status := l.Service().On.ValueRequestFunc(nil)
	assert.Nil(t, v)
	assert.Equal(t, statusCommunicationFailure, status)
}

func TestGetStateError(t *testing.T) {
	device := newFakeDevice()
	device.setErr(errBoom)
	l := newTestLamp(t, newFakeConnector(device))

	on, err := l.GetState(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.False(t, on)

	v, status := l.Service().On.ValueRequestFunc(nil)
	assert.Nil(t, v)
	assert.Equal(t, statusCommunicationFailure, status)

	_, status = l.Service().On.SetValueRequestFunc(true, nil)
	assert.Equal(t, statusCommunicationFailure, status)
}

func TestState(t *testing.T) {
	device := newFakeDevice()
	l := newTestLamp(t, newFakeConnector(device))
	ctx := context.Background()

	on, err := l.GetState(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, l.SetState(ctx, false))
	on, err = l.GetState(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	_, status := l.Service().On.SetValueRequestFunc(float64(1), nil)
	assert.Equal(t, statusSuccess, status)
	v, status := l.Service().On.ValueRequestFunc(nil)
	assert.Equal(t, statusSuccess, status)
	assert.Equal(t, true, v)

	_, status = l.Service().On.SetValueRequestFunc("on", nil)
	assert.Equal(t, statusInvalidValue, status)
}

func TestBrightness(t *testing.T) {
	device := newFakeDevice()
	l := newTestLamp(t, newFakeConnector(device))
	ctx := context.Background()

	brightness, err := l.GetBrightness(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, brightness)

	require.NoError(t, l.SetBrightness(ctx, 50))

	_, status := l.Service().Brightness.SetValueRequestFunc(float64(25), nil)
	assert.Equal(t, statusSuccess, status)

	device.mu.Lock()
	defer device.mu.Unlock()
	assert.Equal(t, []string{"50", "25"}, device.brightnessWrites)
}

func TestGetColorTemperature(t *testing.T) {
	tests := []struct {
		name   string
		kelvin []int
		mired  int
		err    bool
	}{
		{name: "in range", kelvin: []int{4000}, mired: 250},
		{name: "warmest", kelvin: []int{2700}, mired: 370},
		{name: "coolest", kelvin: []int{6500}, mired: 154},
		{name: "out of range is not clamped", kelvin: []int{2000}, mired: 500},
		{name: "no values", kelvin: nil, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice()
			device.color = miio.Color{Model: miio.ColorModelTemperature, Values: tt.kelvin}
			l := newTestLamp(t, newFakeConnector(device))

			mired, err := l.GetColorTemperature(context.Background())
			if tt.err {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.mired, mired)
		})
	}
}

func TestSetColorTemperature(t *testing.T) {
	tests := []struct {
		mired  int
		kelvin int
	}{
		{mired: 1, kelvin: 6500},
		{mired: 1000, kelvin: 2700},
		{mired: 250, kelvin: 4000},
		{mired: 153, kelvin: 6500},
		{mired: 370, kelvin: 2703},
		{mired: 500, kelvin: 2700},
	}

	device := newFakeDevice()
	l := newTestLamp(t, newFakeConnector(device))

	for _, tt := range tests {
		require.NoError(t, l.SetColorTemperature(context.Background(), tt.mired))

		device.mu.Lock()
		last := device.calls[len(device.calls)-1]
		device.mu.Unlock()

		assert.Equal(t, "set_ct_abx", last.method)
		assert.Equal(t, []interface{}{tt.kelvin, "smooth", 1000}, last.params, "mired %d", tt.mired)
	}

	_, status := l.Service().ColorTemperature.SetValueRequestFunc(float64(200), nil)
	assert.Equal(t, statusSuccess, status)

	device.setErr(errBoom)
	assert.ErrorIs(t, l.SetColorTemperature(context.Background(), 200), errBoom)
}

func TestPushNotifications(t *testing.T) {
	device := newFakeDevice()
	l := newTestLamp(t, newFakeConnector(device))

	require.Eventually(t, device.subscribed, time.Second, 5*time.Millisecond)

	device.emitPower(true)
	assert.True(t, l.Service().On.Value())

	device.emitPower(false)
	assert.False(t, l.Service().On.Value())

	device.emitColor(miio.Color{Model: miio.ColorModelTemperature, Values: []int{4000}})
	assert.Equal(t, 250, l.Service().ColorTemperature.Value())

	device.emitBrightness(30)
	assert.Equal(t, 30, l.Service().Brightness.Value())

	device.mu.Lock()
	defer device.mu.Unlock()
	assert.Zero(t, device.powerReads)
}

func TestInertWithoutAddressOrToken(t *testing.T) {
	for _, cfg := range []Config{
		{Name: "No address", Token: testConfig.Token},
		{Name: "No token", Address: testConfig.Address},
	} {
		t.Run(cfg.Name, func(t *testing.T) {
			connector := newFakeConnector(newFakeDevice())
			l := New(context.Background(), testLogger(), cfg, WithConnector(connector.connect))

			assert.True(t, l.Inert())
			assert.Len(t, l.Services(), 1)
			assert.Nil(t, l.Service().On.ValueRequestFunc)

			_, err := l.GetState(context.Background())
			assert.ErrorIs(t, err, ErrDeviceUnavailable)
			assert.Zero(t, connector.attempts.Load())
		})
	}
}

func TestFactory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := Factory(ctx, testLogger(), config.Accessory{Accessory: AccessoryIdentifier})

	l, ok := p.(*Lamp)
	require.True(t, ok)
	assert.True(t, l.Inert())
	assert.Equal(t, DefaultName, l.Info().Name)
	assert.Equal(t, "unknown", l.Info().SerialNumber)
}
