package weather

import (
	"fmt"
	"time"
)

// Stations names the fixed upstream stations a deployment reads from.
type Stations struct {
	// Weather supplies temperature, humidity and wind speed.
	Weather string
	// Soil supplies soil moisture.
	Soil string
	// Gusts are the stations aggregated into the wind_gust metric.
	Gusts []string
}

// Combine merges the provider payloads into one candidate reading, recording
// per metric which station supplied it and which expected stations were
// missing. Either payload may be nil; the gaps are reflected in the reading's
// status rather than treated as an error.
func Combine(syn *SynopticPayload, gusts *GustPayload, stations Stations, now time.Time) Reading {
	r := NewReading()

	combineSynoptic(&r, syn, stations)
	combineGusts(&r, gusts, stations.Gusts, now)

	for _, m := range Metrics() {
		if r.Values[m] == nil {
			r.Status.Issues = append(r.Status.Issues, missingIssue(m, stations))
		}
	}
	return r
}

func combineSynoptic(r *Reading, syn *SynopticPayload, stations Stations) {
	if syn == nil {
		r.Status.MissingStations = append(r.Status.MissingStations, stations.Weather, stations.Soil)
		return
	}

	seen := make(map[string]bool, len(syn.Stations))
	for _, obs := range syn.Stations {
		seen[obs.StationID] = true
		r.Status.FoundStations = append(r.Status.FoundStations, obs.StationID)

		switch obs.StationID {
		case stations.Weather:
			setMetric(r, MetricTemperature, obs.AirTempC, obs.StationID)
			setMetric(r, MetricHumidity, obs.RelativeHumidity, obs.StationID)
			setMetric(r, MetricWindSpeed, obs.WindSpeedMPH, obs.StationID)
		case stations.Soil:
			setMetric(r, MetricSoilMoisture, obs.SoilMoisture, obs.StationID)
		}
	}

	if !seen[stations.Weather] {
		r.Status.MissingStations = append(r.Status.MissingStations, stations.Weather)
	}
	if !seen[stations.Soil] {
		r.Status.MissingStations = append(r.Status.MissingStations, stations.Soil)
	}
}

func combineGusts(r *Reading, gusts *GustPayload, expected []string, now time.Time) {
	reported := make(map[string]bool, len(expected))
	if gusts != nil {
		for _, obs := range gusts.Observations {
			if obs.GustMPH == nil {
				continue
			}
			ts := obs.ObservedAt
			if ts.IsZero() {
				ts = now
			}
			v := *obs.GustMPH
			r.GustStations[obs.StationID] = StationEntry{Value: &v, Timestamp: ts}
			reported[obs.StationID] = true
			r.Status.FoundStations = append(r.Status.FoundStations, obs.StationID)
		}
	}
	for _, id := range expected {
		if !reported[id] {
			r.Status.MissingStations = append(r.Status.MissingStations, id)
		}
	}

	if avg, src := AverageGusts(r.GustStations); avg != nil {
		r.Values[MetricWindGust] = avg
		r.Sources[MetricWindGust] = src
	}
}

// AverageGusts aggregates wind gust by averaging every station currently
// reporting a value, live or fallback. It returns nil when no station
// reports, along with a comma-free label naming the first contributing
// station for source attribution.
func AverageGusts(stations map[string]StationEntry) (*float64, string) {
	var sum float64
	var n int
	src := ""
	for id, e := range stations {
		if e.Value == nil {
			continue
		}
		sum += *e.Value
		n++
		if src == "" || id < src {
			src = id
		}
	}
	if n == 0 {
		return nil, ""
	}
	avg := sum / float64(n)
	return &avg, src
}

func setMetric(r *Reading, m Metric, v *float64, stationID string) {
	if v == nil {
		return
	}
	value := *v
	r.Values[m] = &value
	r.Sources[m] = stationID
}

func missingIssue(m Metric, stations Stations) string {
	switch m {
	case MetricTemperature:
		return fmt.Sprintf("Temperature data missing from station %s", stations.Weather)
	case MetricHumidity:
		return fmt.Sprintf("Humidity data missing from station %s", stations.Weather)
	case MetricWindSpeed:
		return fmt.Sprintf("Wind speed data missing from station %s", stations.Weather)
	case MetricSoilMoisture:
		return fmt.Sprintf("Soil moisture data missing from station %s", stations.Soil)
	case MetricWindGust:
		return fmt.Sprintf("Wind gust data missing from stations %v", stations.Gusts)
	default:
		return fmt.Sprintf("%s data missing", m)
	}
}
