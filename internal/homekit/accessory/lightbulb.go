package accessory

import (
	hapaccessory "github.com/brutella/hap/accessory"
	hapservice "github.com/brutella/hap/service"
)

// NewLightbulb creates a light bulb accessory carrying the given services.
func NewLightbulb(info hapaccessory.Info, services ...*hapservice.S) *hapaccessory.A {
	a := hapaccessory.New(info, hapaccessory.TypeLightbulb)

	for _, s := range services {
		a.AddS(s)
	}

	return a
}

func NewBridge(info hapaccessory.Info) *hapaccessory.A {
	return hapaccessory.New(info, hapaccessory.TypeBridge)
}
