package miio

import (
	"context"
	"strconv"

	"github.com/cybre/deskbridge/internal/errors"
)

// transition used for power and brightness writes, in milliseconds
const defaultTransition = 500

// Power reads whether the lamp is on.
func (d *Device) Power(ctx context.Context) (bool, error) {
	res, err := d.Call(ctx, "get_prop", "power")
	if err != nil {
		return false, err
	}

	power, err := res.String(0)
	if err != nil {
		return false, errors.Wrapf(err, "power")
	}

	return PowerStatus(power) == PowerOn, nil
}

// SetPower switches the lamp on or off.
func (d *Device) SetPower(ctx context.Context, on bool) error {
	power := PowerOff
	if on {
		power = PowerOn
	}

	return d.write(ctx, "set_power", power, Smooth, defaultTransition)
}

// Brightness reads the brightness in percent.
func (d *Device) Brightness(ctx context.Context) (int, error) {
	res, err := d.Call(ctx, "get_prop", "bright")
	if err != nil {
		return 0, err
	}

	brightness, err := res.Int(0)
	if err != nil {
		return 0, errors.Wrapf(err, "brightness")
	}

	return brightness, nil
}

// SetBrightness sets the brightness from its decimal string form.
func (d *Device) SetBrightness(ctx context.Context, brightness string) error {
	level, err := strconv.Atoi(brightness)
	if err != nil {
		return errors.Wrapf(err, "parse brightness %q", brightness)
	}

	if level < 0 || level > 100 {
		return errors.Wrapf(ErrBrightnessInvalid, "%d", level)
	}

	return d.write(ctx, "set_bright", level, Smooth, defaultTransition)
}

// Color reads the current color. The desk lamp only supports color
// temperature, so the result always uses the temperature model.
func (d *Device) Color(ctx context.Context) (Color, error) {
	res, err := d.Call(ctx, "get_prop", "ct")
	if err != nil {
		return Color{}, err
	}

	kelvin, err := res.Int(0)
	if err != nil {
		return Color{}, errors.Wrapf(err, "color temperature")
	}

	return Color{Model: ColorModelTemperature, Values: []int{kelvin}}, nil
}

func (d *Device) write(ctx context.Context, method string, params ...interface{}) error {
	res, err := d.Call(ctx, method, params...)
	if err != nil {
		return err
	}

	if !res.OK() {
		return errors.Errorf("%s (%v): unexpected result %s", method, params, res)
	}

	return nil
}
