package miio

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cybre/deskbridge/internal/errors"
)

const (
	// miIO devices listen on this UDP port
	defaultPort = "54321"
	// timeout for a single request/response round trip
	timeout = time.Second * 3
	// how often properties are polled for change notifications
	defaultPollInterval = time.Second * 5
	// command ids wrap around below this value
	maxCommandID = 10000
)

type Option func(*Device)

// WithPollInterval changes how often the device is polled for property
// changes. Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(dev *Device) {
		dev.pollInterval = d
	}
}

// WithTimeout changes the per-call response timeout.
func WithTimeout(d time.Duration) Option {
	return func(dev *Device) {
		dev.timeout = d
	}
}

// Device is a token-authenticated connection to a single miIO device.
type Device struct {
	addr   string
	cipher *tokenCipher
	conn   net.Conn

	pollInterval time.Duration
	timeout      time.Duration

	// guards the connection and everything below it, calls are serialized
	mu            sync.Mutex
	deviceID      uint32
	stamp         uint32
	stampTime     time.Time
	lastCommandID int

	stateMu             sync.Mutex
	state               *lampState
	powerObservers      []func(bool)
	colorObservers      []func(Color)
	brightnessObservers []func(int)
}

// Connect performs the hello handshake with the device at address, loads the
// initial properties and starts polling for changes until ctx is done.
func Connect(ctx context.Context, address, token string, opts ...Option) (*Device, error) {
	tokenBytes, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	c, err := newTokenCipher(tokenBytes)
	if err != nil {
		return nil, err
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, defaultPort)
	}

	d := &Device{
		addr:         address,
		cipher:       c,
		pollInterval: defaultPollInterval,
		timeout:      timeout,
	}
	for _, opt := range opts {
		opt(d)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial device %s", address)
	}
	d.conn = conn

	if err := d.handshake(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "handshake with %s", address)
	}

	state, err := d.loadProperties(ctx)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "load initial properties")
	}
	d.state = &state

	if d.pollInterval > 0 {
		go d.poll(ctx)
	}

	return d, nil
}

func (d *Device) Addr() string {
	return d.addr
}

func (d *Device) DeviceID() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.deviceID
}

func (d *Device) Close() error {
	return d.conn.Close()
}

// Call sends method with params and waits for the matching reply.
func (d *Device) Call(ctx context.Context, method string, params ...interface{}) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil, errors.Wrap(ErrNotConnected)
	}

	cmd := newCommand(d.nextCommandID(), method, params...)
	payload, err := cmd.Bytes()
	if err != nil {
		return nil, err
	}

	slog.Debug("executing miio command", slog.String("addr", d.addr), slog.String("command", string(payload)))

	if err := d.conn.SetDeadline(d.deadline(ctx)); err != nil {
		return nil, errors.Wrapf(err, "set deadline")
	}

	if _, err := d.conn.Write(d.cipher.seal(d.deviceID, d.currentStamp(), payload)); err != nil {
		return nil, errors.Wrapf(err, "write command to connection")
	}

	buf := make([]byte, 4096)
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrapf(ctx.Err(), "execute command %s (%v)", cmd.Method, cmd.Params)
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, errors.Wrapf(ErrTimeout, "%s (%v)", cmd.Method, cmd.Params)
			}

			return nil, errors.Wrapf(err, "read response")
		}

		h, data, err := d.cipher.open(buf[:n])
		if err != nil {
			slog.Warn("discarding miio packet", slog.String("addr", d.addr), slog.Any("error", err))
			continue
		}
		d.syncStamp(h.stamp)

		if len(data) == 0 {
			continue
		}

		slog.Debug("received response from device", slog.String("response", string(data)))

		var result commandResult
		if err := json.Unmarshal(data, &result); err != nil {
			slog.Error("failed to unmarshal result", slog.String("json", string(data)), slog.Any("error", err))
			continue
		}

		// late reply to an earlier call
		if result.ID != cmd.ID {
			continue
		}

		if result.Error != nil {
			return nil, errors.Wrapf(result.Error, "%s (%v)", cmd.Method, cmd.Params)
		}

		return result.Result, nil
	}
}

func (d *Device) handshake(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.conn.SetDeadline(d.deadline(ctx)); err != nil {
		return errors.Wrapf(err, "set deadline")
	}

	if _, err := d.conn.Write(helloPacket()); err != nil {
		return errors.Wrapf(err, "write hello")
	}

	buf := make([]byte, 1024)
	n, err := d.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return errors.Wrapf(ErrTimeout, "hello")
		}

		return errors.Wrapf(err, "read hello reply")
	}

	h, err := decodeHeader(buf[:n])
	if err != nil {
		return err
	}

	d.deviceID = h.deviceID
	d.stamp = h.stamp
	d.stampTime = time.Now()

	return nil
}

func (d *Device) deadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(d.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		return ctxDeadline
	}

	return deadline
}

func (d *Device) currentStamp() uint32 {
	return d.stamp + uint32(time.Since(d.stampTime).Seconds())
}

func (d *Device) syncStamp(stamp uint32) {
	if stamp == 0 {
		return
	}

	d.stamp = stamp
	d.stampTime = time.Now()
}

func (d *Device) nextCommandID() int {
	d.lastCommandID++
	if d.lastCommandID >= maxCommandID {
		d.lastCommandID = 1
	}

	return d.lastCommandID
}

func (d *Device) poll(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, err := d.loadProperties(ctx)
			if err != nil {
				slog.Error("get device props", slog.String("addr", d.addr), slog.Any("error", err))
				continue
			}

			d.updateState(state)
		}
	}
}

func (d *Device) loadProperties(ctx context.Context) (lampState, error) {
	res, err := d.Call(ctx, "get_prop", lampProperties...)
	if err != nil {
		return lampState{}, err
	}

	var state lampState

	power, err := res.String(0)
	if err != nil {
		return lampState{}, errors.Wrapf(err, "power")
	}
	state.power = PowerStatus(power)

	if state.brightness, err = res.Int(1); err != nil {
		return lampState{}, errors.Wrapf(err, "brightness")
	}

	if state.kelvin, err = res.Int(2); err != nil {
		return lampState{}, errors.Wrapf(err, "color temperature")
	}

	return state, nil
}

// updateState stores the latest polled state and notifies observers of every
// property that differs from the previous one.
func (d *Device) updateState(state lampState) {
	d.stateMu.Lock()
	previous := d.state
	d.state = &state
	powerObservers := d.powerObservers
	colorObservers := d.colorObservers
	brightnessObservers := d.brightnessObservers
	d.stateMu.Unlock()

	if previous == nil {
		return
	}

	if previous.power != state.power {
		for _, fn := range powerObservers {
			fn(state.power == PowerOn)
		}
	}

	if previous.kelvin != state.kelvin {
		color := Color{Model: ColorModelTemperature, Values: []int{state.kelvin}}
		for _, fn := range colorObservers {
			fn(color)
		}
	}

	if previous.brightness != state.brightness {
		for _, fn := range brightnessObservers {
			fn(state.brightness)
		}
	}
}

// OnPowerChanged registers fn to be called when the power state changes.
func (d *Device) OnPowerChanged(fn func(on bool)) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	d.powerObservers = append(d.powerObservers, fn)
}

// OnColorChanged registers fn to be called when the color temperature changes.
func (d *Device) OnColorChanged(fn func(color Color)) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	d.colorObservers = append(d.colorObservers, fn)
}

// OnBrightnessChanged registers fn to be called when the brightness changes.
func (d *Device) OnBrightnessChanged(fn func(brightness int)) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	d.brightnessObservers = append(d.brightnessObservers, fn)
}
