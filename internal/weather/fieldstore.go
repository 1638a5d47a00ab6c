package weather

import "time"

// FieldEntry is the last known-good value for one metric together with the
// instant it was captured. A non-nil Value always carries a non-zero
// Timestamp.
type FieldEntry struct {
	Value     *float64
	Timestamp time.Time
}

// StationEntry is one wind-gust station's contribution. Cached marks a value
// carried over from a previous fetch rather than the current one.
type StationEntry struct {
	Value     *float64
	Cached    bool
	Timestamp time.Time
}

// FieldStore holds the last known-good value per metric, plus per-station
// sub-entries for the multi-source wind_gust metric. It is pure data with no
// locking; the snapshot cache owns it and serializes access.
type FieldStore struct {
	fields   map[Metric]FieldEntry
	stations map[string]StationEntry
}

// NewFieldStore returns an empty store covering every tracked metric.
func NewFieldStore() *FieldStore {
	fields := make(map[Metric]FieldEntry, len(defaultValues))
	for _, m := range Metrics() {
		fields[m] = FieldEntry{}
	}
	return &FieldStore{
		fields:   fields,
		stations: make(map[string]StationEntry),
	}
}

// Get returns the stored entry for a metric.
func (s *FieldStore) Get(m Metric) FieldEntry {
	return s.fields[m]
}

// Put overwrites the entry for a metric only when value is non-nil. A nil
// candidate never erases a previously known-good value; this rule is what
// lets the system ride out provider outages without losing history.
func (s *FieldStore) Put(m Metric, value *float64, ts time.Time) {
	if value == nil {
		return
	}
	v := *value
	s.fields[m] = FieldEntry{Value: &v, Timestamp: ts}
}

// PutStation merges one wind-gust station sub-entry under the same
// write-if-present rule.
func (s *FieldStore) PutStation(stationID string, value *float64, ts time.Time, cached bool) {
	if value == nil {
		return
	}
	v := *value
	s.stations[stationID] = StationEntry{Value: &v, Cached: cached, Timestamp: ts}
}

// Stations returns a copy of the per-station wind gust entries.
func (s *FieldStore) Stations() map[string]StationEntry {
	out := make(map[string]StationEntry, len(s.stations))
	for id, e := range s.stations {
		out[id] = e
	}
	return out
}

// Entries returns a copy of the per-metric entries.
func (s *FieldStore) Entries() map[Metric]FieldEntry {
	out := make(map[Metric]FieldEntry, len(s.fields))
	for m, e := range s.fields {
		out[m] = e
	}
	return out
}

// Seed replaces the store contents from persisted state. Entries with nil
// values are ignored.
func (s *FieldStore) Seed(fields map[Metric]FieldEntry, stations map[string]StationEntry) {
	for m, e := range fields {
		s.Put(m, e.Value, e.Timestamp)
	}
	for id, e := range stations {
		s.PutStation(id, e.Value, e.Timestamp, e.Cached)
	}
}
