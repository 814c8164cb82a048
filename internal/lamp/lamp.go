// Package lamp exposes a Mi LED desk lamp as a HomeKit light bulb.
//
// The lamp is reached through a single lazily established connection. Every
// characteristic read or write goes to the device, and the device's change
// notifications are pushed back into the characteristics.
package lamp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	hapaccessory "github.com/brutella/hap/accessory"
	hapservice "github.com/brutella/hap/service"
	"github.com/cybre/deskbridge/internal/config"
	"github.com/cybre/deskbridge/internal/errors"
	"github.com/cybre/deskbridge/internal/homekit"
	"github.com/cybre/deskbridge/internal/homekit/service"
	"github.com/cybre/deskbridge/internal/miio"
	"golang.org/x/sync/singleflight"
)

const (
	PluginIdentifier    = "homebridge-mi-led-desk-lamp"
	AccessoryIdentifier = "mi-led-desk-lamp"
	DefaultName         = "Mi desk lamp"

	// transition for color temperature writes, in milliseconds
	colorTransition = 1000

	// HAP status codes
	statusSuccess              = 0
	statusCommunicationFailure = -70402
	statusInvalidValue         = -70410
)

var ErrDeviceUnavailable = fmt.Errorf("device unavailable")

type Config struct {
	Name    string
	Address string
	Token   string
}

// Device is the part of the lamp's remote API the accessory uses.
type Device interface {
	Power(ctx context.Context) (bool, error)
	SetPower(ctx context.Context, on bool) error
	Brightness(ctx context.Context) (int, error)
	SetBrightness(ctx context.Context, brightness string) error
	Color(ctx context.Context) (miio.Color, error)
	Call(ctx context.Context, method string, params ...interface{}) (miio.Result, error)

	OnPowerChanged(fn func(on bool))
	OnColorChanged(fn func(color miio.Color))
	OnBrightnessChanged(fn func(brightness int))
}

// Connector establishes the connection to a lamp.
type Connector func(ctx context.Context, address, token string) (Device, error)

// ConnectMiio connects over the miIO protocol.
func ConnectMiio(ctx context.Context, address, token string) (Device, error) {
	device, err := miio.Connect(ctx, address, token)
	if err != nil {
		return nil, err
	}

	return device, nil
}

type Option func(*Lamp)

func WithConnector(connect Connector) Option {
	return func(l *Lamp) {
		l.connect = connect
	}
}

type Lamp struct {
	// lifetime of the connection, not of a single request
	ctx     context.Context
	cfg     Config
	logger  *slog.Logger
	connect Connector
	lamp    *service.DeskLamp
	inert   bool

	mu     sync.Mutex
	device Device
	group  singleflight.Group
}

// Factory builds a lamp from its accessory block.
func Factory(ctx context.Context, logger *slog.Logger, cfg config.Accessory) homekit.Plugin {
	return New(ctx, logger, Config{
		Name:    cfg.Name,
		Address: cfg.IP,
		Token:   cfg.Token,
	})
}

// New sets up the accessory and starts listening for lamp state changes in
// the background. A missing address or token is logged and leaves the
// accessory inert.
func New(ctx context.Context, logger *slog.Logger, cfg Config, opts ...Option) *Lamp {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	l := &Lamp{
		ctx:     ctx,
		cfg:     cfg,
		logger:  logger.With(slog.String("accessory", cfg.Name)),
		connect: ConnectMiio,
		lamp:    service.NewDeskLamp(cfg.Name),
	}
	for _, opt := range opts {
		opt(l)
	}

	if cfg.Address == "" {
		l.logger.Error("no IP address defined")
		l.inert = true
		return l
	}

	if cfg.Token == "" {
		l.logger.Error("no token defined")
		l.inert = true
		return l
	}

	l.bind()

	go l.listen()

	return l
}

// Inert reports whether the accessory was left without a device binding.
func (l *Lamp) Inert() bool {
	return l.inert
}

func (l *Lamp) Info() hapaccessory.Info {
	serial := l.cfg.Address
	if serial == "" {
		serial = "unknown"
	}

	return hapaccessory.Info{
		Name:         l.cfg.Name,
		SerialNumber: serial,
		Manufacturer: "Xiaomi",
		Model:        "MJTD01YL",
	}
}

func (l *Lamp) Services() []*hapservice.S {
	return []*hapservice.S{l.lamp.S}
}

// Service returns the light bulb service with typed characteristics.
func (l *Lamp) Service() *service.DeskLamp {
	return l.lamp
}

// getDevice returns the connected device, connecting first if needed.
// Concurrent callers share one connection attempt. A failed attempt is
// logged and yields nil, the next call tries again.
func (l *Lamp) getDevice() Device {
	if l.inert {
		return nil
	}

	l.mu.Lock()
	device := l.device
	l.mu.Unlock()

	if device != nil {
		return device
	}

	v, err, _ := l.group.Do("connect", func() (interface{}, error) {
		l.mu.Lock()
		if l.device != nil {
			device := l.device
			l.mu.Unlock()
			return device, nil
		}
		l.mu.Unlock()

		l.logger.Info("connecting to device", slog.String("ip", l.cfg.Address))

		device, err := l.connect(l.ctx, l.cfg.Address, l.cfg.Token)
		if err != nil {
			l.logger.Error("device not connected", slog.Any("error", err))
			return nil, err
		}

		l.mu.Lock()
		l.device = device
		l.mu.Unlock()

		return device, nil
	})
	if err != nil {
		return nil
	}

	return v.(Device)
}

func (l *Lamp) listen() {
	device := l.getDevice()
	if device == nil {
		l.logger.Error("not listening for lamp state", slog.Any("error", ErrDeviceUnavailable))
		return
	}

	device.OnPowerChanged(func(on bool) {
		l.lamp.On.SetValue(on)
	})

	device.OnColorChanged(func(color miio.Color) {
		if len(color.Values) == 0 {
			return
		}

		if err := l.lamp.ColorTemperature.SetValue(KelvinToMired(color.Values[0])); err != nil {
			l.logger.Warn("failed to update color temperature", slog.Any("error", err))
		}
	})

	device.OnBrightnessChanged(func(brightness int) {
		if err := l.lamp.Brightness.SetValue(brightness); err != nil {
			l.logger.Warn("failed to update brightness", slog.Any("error", err))
		}
	})
}

// remote runs fn against the device. Errors, including an unavailable
// device, are logged with the given context and returned.
func remote[T any](l *Lamp, action string, fn func(Device) (T, error)) (T, error) {
	var zero T

	device := l.getDevice()
	if device == nil {
		err := errors.Wrap(ErrDeviceUnavailable)
		l.logger.Error("error "+action, slog.Any("error", err))
		return zero, err
	}

	v, err := fn(device)
	if err != nil {
		l.logger.Error("error "+action, slog.Any("error", err))
		return zero, err
	}

	return v, nil
}

func (l *Lamp) GetState(ctx context.Context) (bool, error) {
	l.logger.Debug("get state")

	return remote(l, "getting state", func(d Device) (bool, error) {
		return d.Power(ctx)
	})
}

func (l *Lamp) SetState(ctx context.Context, on bool) error {
	l.logger.Info("set state", slog.Bool("on", on))

	_, err := remote(l, "setting state", func(d Device) (struct{}, error) {
		return struct{}{}, d.SetPower(ctx, on)
	})

	return err
}

func (l *Lamp) GetBrightness(ctx context.Context) (int, error) {
	l.logger.Debug("get brightness")

	return remote(l, "getting brightness", func(d Device) (int, error) {
		return d.Brightness(ctx)
	})
}

// SetBrightness sends the brightness in its decimal string form.
func (l *Lamp) SetBrightness(ctx context.Context, brightness int) error {
	l.logger.Info("set brightness", slog.Int("brightness", brightness))

	_, err := remote(l, "setting brightness", func(d Device) (struct{}, error) {
		return struct{}{}, d.SetBrightness(ctx, strconv.Itoa(brightness))
	})

	return err
}

// GetColorTemperature returns the color temperature in mired.
func (l *Lamp) GetColorTemperature(ctx context.Context) (int, error) {
	l.logger.Debug("get color")

	return remote(l, "getting color", func(d Device) (int, error) {
		color, err := d.Color(ctx)
		if err != nil {
			return 0, err
		}

		if len(color.Values) == 0 {
			return 0, errors.Errorf("lamp reported no color values")
		}

		return KelvinToMired(color.Values[0]), nil
	})
}

// SetColorTemperature converts mired to Kelvin within the lamp's range and
// starts a smooth transition to it.
func (l *Lamp) SetColorTemperature(ctx context.Context, mired int) error {
	kelvin := MiredToKelvin(mired)

	l.logger.Info("set color", slog.Int("mired", mired), slog.Int("kelvin", kelvin))

	_, err := remote(l, "setting color", func(d Device) (struct{}, error) {
		_, err := d.Call(ctx, "set_ct_abx", kelvin, string(miio.Smooth), colorTransition)
		return struct{}{}, err
	})

	return err
}

// bind wires the characteristic requests of paired controllers to the lamp.
func (l *Lamp) bind() {
	l.lamp.On.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		on, err := l.GetState(requestContext(r))
		if err != nil {
			return nil, statusCommunicationFailure
		}

		return on, statusSuccess
	}
	l.lamp.On.SetValueRequestFunc = func(v interface{}, r *http.Request) (interface{}, int) {
		on, ok := toBool(v)
		if !ok {
			return nil, statusInvalidValue
		}

		if err := l.SetState(requestContext(r), on); err != nil {
			return nil, statusCommunicationFailure
		}

		return nil, statusSuccess
	}

	l.lamp.Brightness.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		brightness, err := l.GetBrightness(requestContext(r))
		if err != nil {
			return nil, statusCommunicationFailure
		}

		return brightness, statusSuccess
	}
	l.lamp.Brightness.SetValueRequestFunc = func(v interface{}, r *http.Request) (interface{}, int) {
		brightness, ok := toInt(v)
		if !ok {
			return nil, statusInvalidValue
		}

		if err := l.SetBrightness(requestContext(r), brightness); err != nil {
			return nil, statusCommunicationFailure
		}

		return nil, statusSuccess
	}

	l.lamp.ColorTemperature.ValueRequestFunc = func(r *http.Request) (interface{}, int) {
		mired, err := l.GetColorTemperature(requestContext(r))
		if err != nil {
			return nil, statusCommunicationFailure
		}

		return mired, statusSuccess
	}
	l.lamp.ColorTemperature.SetValueRequestFunc = func(v interface{}, r *http.Request) (interface{}, int) {
		mired, ok := toInt(v)
		if !ok {
			return nil, statusInvalidValue
		}

		if err := l.SetColorTemperature(requestContext(r), mired); err != nil {
			return nil, statusCommunicationFailure
		}

		return nil, statusSuccess
	}
}
