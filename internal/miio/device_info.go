package miio

import "fmt"

var (
	ErrBrightnessInvalid = fmt.Errorf("brightness must be between 0 and 100")
	ErrNotConnected      = fmt.Errorf("device is not connected")
	ErrTimeout           = fmt.Errorf("device did not answer in time")
)

type PowerStatus string

const (
	PowerOn  PowerStatus = "on"
	PowerOff PowerStatus = "off"
)

type Effect string

const (
	Sudden Effect = "sudden"
	Smooth Effect = "smooth"
)

type ColorModel string

const ColorModelTemperature ColorModel = "temperature"

// Color as reported by the lamp. For the temperature model Values holds a
// single Kelvin value.
type Color struct {
	Model  ColorModel
	Values []int
}

// properties polled from the desk lamp
var lampProperties = []interface{}{"power", "bright", "ct"}

type lampState struct {
	power      PowerStatus
	brightness int
	kelvin     int
}

// Info describes a device that answered a hello.
type Info struct {
	Addr     string
	DeviceID uint32
	Stamp    uint32
	// Token is only exposed by devices that are not yet provisioned.
	Token string
}
