package weather

import (
	"fmt"
	"time"
)

// Metric identifies one of the environmental quantities tracked by the cache.
type Metric string

const (
	MetricTemperature  Metric = "temperature"
	MetricHumidity     Metric = "humidity"
	MetricWindSpeed    Metric = "wind_speed"
	MetricWindGust     Metric = "wind_gust"
	MetricSoilMoisture Metric = "soil_moisture"
)

// Metrics returns every tracked metric in a fixed order.
func Metrics() []Metric {
	return []Metric{
		MetricTemperature,
		MetricHumidity,
		MetricWindSpeed,
		MetricWindGust,
		MetricSoilMoisture,
	}
}

// defaultValues are the hand-picked last-resort values used when neither a
// live reading nor a cached one exists for a metric. Plausible mild
// conditions for the Sierra City area.
var defaultValues = map[Metric]float64{
	MetricTemperature:  15.0, // °C
	MetricHumidity:     40.0, // %
	MetricWindSpeed:    5.0,  // mph
	MetricWindGust:     8.0,  // mph
	MetricSoilMoisture: 20.0, // %
}

// DefaultValue returns the hardcoded fallback value for a metric.
func DefaultValue(m Metric) float64 {
	return defaultValues[m]
}

// Float returns a pointer to v. Convenience for building readings.
func Float(v float64) *float64 {
	return &v
}

// DataStatus records which upstream stations contributed to a reading and
// which were missing, plus human-readable descriptions of any gaps.
type DataStatus struct {
	FoundStations   []string `json:"found_stations"`
	MissingStations []string `json:"missing_stations"`
	Issues          []string `json:"issues"`
}

// Reading is one candidate merged reading assembled from provider payloads.
// Values may be nil until the cache's fallback fill runs.
type Reading struct {
	Values map[Metric]*float64

	// Sources maps each metric to the station that supplied it, or "" when
	// no station did.
	Sources map[Metric]string

	// GustStations holds the per-station wind gust sub-entries contributing
	// to the aggregated wind_gust value.
	GustStations map[string]StationEntry

	Status DataStatus
}

// NewReading returns an empty reading with initialized maps.
func NewReading() Reading {
	return Reading{
		Values:       make(map[Metric]*float64, len(defaultValues)),
		Sources:      make(map[Metric]string, len(defaultValues)),
		GustStations: make(map[string]StationEntry),
	}
}

// StationObservation is a single station's normalized observation from the
// Synoptic API.
type StationObservation struct {
	StationID        string
	AirTempC         *float64
	RelativeHumidity *float64
	WindSpeedMPH     *float64
	SoilMoisture     *float64
	ObservedAt       time.Time
}

// SynopticPayload is the raw result of one Synoptic fetch.
type SynopticPayload struct {
	Stations []StationObservation
}

// GustObservation is one station's wind gust observation.
type GustObservation struct {
	StationID  string
	GustMPH    *float64
	ObservedAt time.Time
}

// GustPayload is the raw result of one wind gust fetch across all configured
// gust stations.
type GustPayload struct {
	Observations []GustObservation
}

// FormatAge renders the age of a cached value as a human-readable string,
// such as "5 minutes", "2 hours" or "1 day".
func FormatAge(now, then time.Time) string {
	age := now.Sub(then)
	switch {
	case age >= 24*time.Hour:
		days := int(age.Hours()) / 24
		return fmt.Sprintf("%d day%s", days, plural(days))
	case age >= time.Hour:
		hours := int(age.Hours())
		return fmt.Sprintf("%d hour%s", hours, plural(hours))
	default:
		minutes := int(age.Minutes())
		if minutes < 0 {
			minutes = 0
		}
		return fmt.Sprintf("%d minute%s", minutes, plural(minutes))
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
