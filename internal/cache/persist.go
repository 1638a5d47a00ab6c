package cache

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/risk"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

const cacheFileName = "weather_cache.json"

// Wire form of the persisted cache. All timestamps are RFC3339 text in the
// configured civil timezone.
type diskStation struct {
	Value     *float64 `json:"value"`
	IsCached  bool     `json:"is_cached"`
	Timestamp string   `json:"timestamp,omitempty"`
}

type diskField struct {
	Value     *float64               `json:"value"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Stations  map[string]diskStation `json:"stations,omitempty"`
}

type diskState struct {
	Fields               map[string]diskField `json:"fields"`
	Timestamp            string               `json:"timestamp"`
	LastUpdated          string               `json:"last_updated,omitempty"`
	PreviousRiskLevel    string               `json:"previous_risk_level,omitempty"`
	RiskLevelTimestamp   string               `json:"risk_level_timestamp,omitempty"`
	LastAlertedTimestamp string               `json:"last_alerted_timestamp,omitempty"`
}

// loadedState is the in-memory form a successful load produces.
type loadedState struct {
	fields        map[weather.Metric]weather.FieldEntry
	stations      map[string]weather.StationEntry
	timestamp     time.Time
	lastUpdated   time.Time
	prevRisk      risk.Level
	riskTS        time.Time
	lastAlertedTS time.Time
}

func (c *Cache) cacheFilePath() string {
	return filepath.Join(c.dataDir, cacheFileName)
}

// saveLocked serializes the field store and alert state to disk. It writes
// to a temp file and renames so a crash mid-write never corrupts the cache
// file. Any I/O error is logged and reported as false, never raised: disk
// persistence is best-effort and the in-memory state stays authoritative.
func (c *Cache) saveLocked() bool {
	now := c.clock.Now().In(c.loc)

	ds := diskState{
		Fields:    make(map[string]diskField, 5),
		Timestamp: c.stamp(firstNonZero(c.lastValidAt, now)),
	}

	for m, e := range c.fields.Entries() {
		df := diskField{Value: e.Value}
		if e.Value != nil {
			df.Timestamp = c.stamp(e.Timestamp)
		}
		if m == weather.MetricWindGust {
			stations := c.fields.Stations()
			if len(stations) > 0 {
				df.Stations = make(map[string]diskStation, len(stations))
				for id, se := range stations {
					dst := diskStation{Value: se.Value, IsCached: se.Cached}
					if se.Value != nil {
						dst.Timestamp = c.stamp(se.Timestamp)
					}
					df.Stations[id] = dst
				}
			}
		}
		ds.Fields[string(m)] = df
	}

	if !c.lastUpdated.IsZero() {
		ds.LastUpdated = c.stamp(c.lastUpdated)
	}
	if c.prevRisk != "" {
		ds.PreviousRiskLevel = string(c.prevRisk)
	}
	if !c.riskTS.IsZero() {
		ds.RiskLevelTimestamp = c.stamp(c.riskTS)
	}
	if !c.lastAlertedTS.IsZero() {
		ds.LastAlertedTimestamp = c.stamp(c.lastAlertedTS)
	}

	if err := os.MkdirAll(c.dataDir, 0o755); err != nil {
		c.logger.Error("creating data directory failed", "dir", c.dataDir, "error", err)
		return false
	}

	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		c.logger.Error("serializing cache failed", "error", err)
		return false
	}

	path := c.cacheFilePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Error("writing cache file failed", "path", tmp, "error", err)
		return false
	}
	if err := os.Rename(tmp, path); err != nil {
		c.logger.Error("replacing cache file failed", "path", path, "error", err)
		return false
	}

	c.logger.Debug("cache saved to disk", "path", path)
	return true
}

// loadFromDisk reads the persisted state. It returns (zero, false) when the
// file is absent, unreadable, or missing required top-level keys. Individual
// timestamps that fail to parse degrade to "now" instead of failing the
// whole load: partial corruption must not void the entire cache.
func (c *Cache) loadFromDisk() (loadedState, bool) {
	var st loadedState

	data, err := os.ReadFile(c.cacheFilePath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Error("reading cache file failed", "path", c.cacheFilePath(), "error", err)
		}
		return st, false
	}

	var ds diskState
	if err := json.Unmarshal(data, &ds); err != nil {
		c.logger.Error("parsing cache file failed", "path", c.cacheFilePath(), "error", err)
		return st, false
	}
	if ds.Fields == nil || ds.Timestamp == "" {
		c.logger.Warn("cache file missing required keys", "path", c.cacheFilePath())
		return st, false
	}

	now := c.clock.Now().In(c.loc)

	st.fields = make(map[weather.Metric]weather.FieldEntry, len(ds.Fields))
	st.stations = make(map[string]weather.StationEntry)

	for name, df := range ds.Fields {
		m := weather.Metric(name)
		if df.Value != nil {
			st.fields[m] = weather.FieldEntry{
				Value:     df.Value,
				Timestamp: c.parseStamp(df.Timestamp, now),
			}
		}
		for id, dst := range df.Stations {
			if dst.Value == nil {
				continue
			}
			st.stations[id] = weather.StationEntry{
				Value:     dst.Value,
				Cached:    dst.IsCached,
				Timestamp: c.parseStamp(dst.Timestamp, now),
			}
		}
	}

	st.timestamp = c.parseStamp(ds.Timestamp, now)
	if ds.LastUpdated != "" {
		st.lastUpdated = c.parseStamp(ds.LastUpdated, now)
	}
	st.prevRisk = risk.Level(ds.PreviousRiskLevel)
	if ds.RiskLevelTimestamp != "" {
		st.riskTS = c.parseStamp(ds.RiskLevelTimestamp, now)
	}
	if ds.LastAlertedTimestamp != "" {
		st.lastAlertedTS = c.parseStamp(ds.LastAlertedTimestamp, now)
	}

	return st, true
}

func (c *Cache) stamp(t time.Time) string {
	return t.In(c.loc).Format(time.RFC3339)
}

// parseStamp converts interchange text back into an instant, substituting
// "now" for anything unparseable.
func (c *Cache) parseStamp(s string, now time.Time) time.Time {
	if s == "" {
		return now
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		c.logger.Warn("unparseable timestamp in cache file, using now", "value", s)
		return now
	}
	return t.In(c.loc)
}

func firstNonZero(a, b time.Time) time.Time {
	if !a.IsZero() {
		return a
	}
	return b
}
