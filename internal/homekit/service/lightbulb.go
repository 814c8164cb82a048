package service

import (
	"github.com/brutella/hap/characteristic"
	hapservice "github.com/brutella/hap/service"
)

const TypeLightbulb = "43"

// DeskLamp is a light bulb service with a color temperature channel.
type DeskLamp struct {
	*hapservice.S

	On               *characteristic.On
	Brightness       *characteristic.Brightness
	ColorTemperature *characteristic.ColorTemperature
}

func NewDeskLamp(name string) *DeskLamp {
	s := DeskLamp{}
	s.S = hapservice.New(TypeLightbulb)

	if name != "" {
		n := characteristic.NewName()
		n.SetValue(name)
		s.AddC(n.C)
	}

	s.On = characteristic.NewOn()
	s.AddC(s.On.C)

	s.Brightness = characteristic.NewBrightness()
	s.AddC(s.Brightness.C)

	s.ColorTemperature = characteristic.NewColorTemperature()
	s.AddC(s.ColorTemperature.C)

	return &s
}
