package lamp

import "github.com/cybre/deskbridge/internal/utils"

// Color temperature range the desk lamp accepts, in Kelvin.
const (
	MinKelvin = 2700
	MaxKelvin = 6500
)

// KelvinToMired converts a reported color temperature without clamping.
// Zero or negative input yields 0.
func KelvinToMired(kelvin int) int {
	if kelvin <= 0 {
		return 0
	}

	return utils.RoundDiv(1_000_000, kelvin)
}

// MiredToKelvin converts a requested color temperature and clamps it into the
// range the lamp accepts.
func MiredToKelvin(mired int) int {
	if mired == 0 {
		return MaxKelvin
	}

	return utils.Clamp(utils.RoundDiv(1_000_000, mired), MinKelvin, MaxKelvin)
}
