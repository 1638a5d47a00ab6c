package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/risk"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	loc := losAngeles(t)

	c1 := New(Config{DataDir: dir, Location: loc}, testLogger(), nil)
	c1.UpdateRiskLevel(risk.LevelOrange)
	c1.UpdateCache(&Snapshot{
		Risk: risk.LevelOrange,
		Values: map[weather.Metric]float64{
			weather.MetricTemperature:  25.5,
			weather.MetricHumidity:     30.0,
			weather.MetricWindSpeed:    12.0,
			weather.MetricWindGust:     18.0,
			weather.MetricSoilMoisture: 14.0,
		},
		GustStations: map[string]weather.StationEntry{
			"KCASIERR68": {Value: weather.Float(18.0)},
		},
		CachedFields: map[weather.Metric]bool{},
	})
	c1.RecordAlertSent()

	require.FileExists(t, filepath.Join(dir, "weather_cache.json"))

	// A fresh process over the same data directory.
	c2 := New(Config{DataDir: dir, Location: loc}, testLogger(), nil)

	for m, want := range map[weather.Metric]float64{
		weather.MetricTemperature:  25.5,
		weather.MetricHumidity:     30.0,
		weather.MetricWindSpeed:    12.0,
		weather.MetricWindGust:     18.0,
		weather.MetricSoilMoisture: 14.0,
	} {
		e := c2.FieldEntry(m)
		require.NotNil(t, e.Value, "metric %s", m)
		assert.Equal(t, want, *e.Value, "metric %s", m)
		assert.False(t, e.Timestamp.IsZero(), "metric %s", m)
	}

	assert.Equal(t, risk.LevelOrange, c2.PreviousRiskLevel())
	assert.False(t, c2.lastAlertedTS.IsZero())
	assert.False(t, c2.LastValidAt().IsZero())
}

func TestRestartStartsInNormalMode(t *testing.T) {
	dir := t.TempDir()

	c1 := New(Config{DataDir: dir}, testLogger(), nil)
	c1.UpdateCache(&Snapshot{
		Values:       map[weather.Metric]float64{weather.MetricTemperature: 25.0},
		CachedFields: map[weather.Metric]bool{},
	})

	// Seeded fallback data must not make a clean restart present itself as
	// degraded; the flags flip only when a fallback tier actually serves.
	c2 := New(Config{DataDir: dir}, testLogger(), nil)
	assert.False(t, c2.UsingCachedData())
	for m, flagged := range c2.CachedFields() {
		assert.False(t, flagged, "metric %s", m)
	}
	assert.Nil(t, c2.Snapshot())
}

func TestLoadIgnoresCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather_cache.json"), []byte("{not json"), 0o644))

	c := New(Config{DataDir: dir}, testLogger(), nil)
	for _, m := range weather.Metrics() {
		assert.Nil(t, c.FieldEntry(m).Value, "metric %s", m)
	}
	assert.True(t, c.LastValidAt().IsZero())
}

func TestLoadRejectsMissingRequiredKeys(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather_cache.json"),
		[]byte(`{"timestamp": "2025-06-01T12:00:00-07:00"}`), 0o644))

	c := New(Config{DataDir: dir}, testLogger(), nil)
	assert.True(t, c.LastValidAt().IsZero())
}

func TestLoadDegradesUnparseableTimestamps(t *testing.T) {
	dir := t.TempDir()
	state := map[string]any{
		"fields": map[string]any{
			"temperature": map[string]any{"value": 25.0, "timestamp": "not-a-time"},
		},
		"timestamp": "2025-06-01T12:00:00-07:00",
	}
	data, err := json.Marshal(state)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather_cache.json"), data, 0o644))

	before := time.Now()
	c := New(Config{DataDir: dir}, testLogger(), nil)

	// The value survives; only its timestamp degrades to load time.
	e := c.FieldEntry(weather.MetricTemperature)
	require.NotNil(t, e.Value)
	assert.Equal(t, 25.0, *e.Value)
	assert.False(t, e.Timestamp.Before(before.Truncate(time.Second)))
}

func TestPersistedStationEntries(t *testing.T) {
	dir := t.TempDir()

	c1 := New(Config{DataDir: dir}, testLogger(), nil)
	c1.UpdateCache(&Snapshot{
		Values: map[weather.Metric]float64{weather.MetricWindGust: 21.0},
		GustStations: map[string]weather.StationEntry{
			"KCASIERR68": {Value: weather.Float(20.0)},
			"KCASIERR63": {Value: weather.Float(22.0), Cached: true},
		},
		CachedFields: map[weather.Metric]bool{},
	})

	c2 := New(Config{DataDir: dir}, testLogger(), nil)
	stations := c2.fields.Stations()
	require.Len(t, stations, 2)
	require.NotNil(t, stations["KCASIERR68"].Value)
	assert.Equal(t, 20.0, *stations["KCASIERR68"].Value)
	assert.False(t, stations["KCASIERR68"].Cached)
	require.NotNil(t, stations["KCASIERR63"].Value)
	assert.True(t, stations["KCASIERR63"].Cached)
}

func TestSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()

	c := New(Config{DataDir: dir}, testLogger(), nil)
	c.UpdateCache(&Snapshot{
		Values:       map[weather.Metric]float64{weather.MetricTemperature: 25.0},
		CachedFields: map[weather.Metric]bool{},
	})

	// No temp file left behind after a successful save.
	_, err := os.Stat(filepath.Join(dir, "weather_cache.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	// The on-disk document is well-formed JSON with the required keys.
	data, err := os.ReadFile(filepath.Join(dir, "weather_cache.json"))
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Contains(t, doc, "fields")
	assert.Contains(t, doc, "timestamp")
}
