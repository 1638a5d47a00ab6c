// Package risk computes the fire risk level from a complete weather reading.
// The calculation is a pure function of its inputs so it can be exercised
// exhaustively in tests and never entangles itself with the cache.
package risk

import "fmt"

// Level is the externally visible fire risk classification.
type Level string

const (
	LevelRed    Level = "Red"
	LevelOrange Level = "Orange"
	LevelError  Level = "Error"
)

// Thresholds are the bounds every metric is compared against. Red requires
// all five comparisons to hold simultaneously.
type Thresholds struct {
	TempC       float64 // temperature above
	HumidityPct float64 // humidity below
	WindMPH     float64 // wind speed above
	GustMPH     float64 // wind gust above
	SoilPct     float64 // soil moisture below
}

// DefaultThresholds returns the production defaults: 75°F (converted to
// Celsius), 15% humidity, 15 mph wind, 20 mph gusts, 10% soil moisture.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TempC:       (75.0 - 32.0) * 5.0 / 9.0,
		HumidityPct: 15.0,
		WindMPH:     15.0,
		GustMPH:     20.0,
		SoilPct:     10.0,
	}
}

// Input is one fully populated reading. Callers must resolve missing values
// through the cache's fallback chain before calculating.
type Input struct {
	TempC        float64
	HumidityPct  float64
	WindSpeedMPH float64
	WindGustMPH  float64
	SoilPct      float64
}

// Overrides are optional manual substitutions applied before comparison.
// A nil field leaves the measured value in effect.
type Overrides struct {
	TempC        *float64
	HumidityPct  *float64
	WindSpeedMPH *float64
	WindGustMPH  *float64
	SoilPct      *float64
}

// Calculate classifies the input against the thresholds. It never panics:
// internal trouble is surfaced as LevelError with a descriptive explanation
// so callers always receive a well-formed result.
func Calculate(in Input, t Thresholds, o *Overrides) (level Level, explanation string) {
	defer func() {
		if r := recover(); r != nil {
			level = LevelError
			explanation = fmt.Sprintf("Could not calculate risk: %v", r)
		}
	}()

	eff := in.withOverrides(o)

	tempExceeded := eff.TempC > t.TempC
	humidityExceeded := eff.HumidityPct < t.HumidityPct
	windExceeded := eff.WindSpeedMPH > t.WindMPH
	gustExceeded := eff.WindGustMPH > t.GustMPH
	soilExceeded := eff.SoilPct < t.SoilPct

	if tempExceeded && humidityExceeded && windExceeded && gustExceeded && soilExceeded {
		return LevelRed, "High fire risk due to high temperature, low humidity, strong winds, high wind gusts, and low soil moisture."
	}
	return LevelOrange, "Low or Moderate Fire Risk. Exercise standard prevention practices."
}

func (in Input) withOverrides(o *Overrides) Input {
	if o == nil {
		return in
	}
	if o.TempC != nil {
		in.TempC = *o.TempC
	}
	if o.HumidityPct != nil {
		in.HumidityPct = *o.HumidityPct
	}
	if o.WindSpeedMPH != nil {
		in.WindSpeedMPH = *o.WindSpeedMPH
	}
	if o.WindGustMPH != nil {
		in.WindGustMPH = *o.WindGustMPH
	}
	if o.SoilPct != nil {
		in.SoilPct = *o.SoilPct
	}
	return in
}
