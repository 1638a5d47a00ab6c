// Package cache implements the resilient multi-tier data cache at the heart
// of the dashboard: the per-metric field store of last known-good values, the
// current merged snapshot, and the alert-deduplication state built on top.
//
// A caller can always get a complete answer out of the cache; the fallback
// chain (live snapshot, field store, hardcoded default) guarantees a value
// for every metric while per-metric cached flags tell consumers how degraded
// that answer is.
package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/risk"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

// Snapshot is the externally visible bundle: the fully populated merged
// reading, the stations that contributed, per-metric cached flags, and the
// computed risk. Immutable once committed; superseded atomically by the next
// successful refresh.
type Snapshot struct {
	Risk         risk.Level
	Explanation  string
	Values       map[weather.Metric]float64
	GustStations map[string]weather.StationEntry
	Status       weather.DataStatus
	CachedFields map[weather.Metric]bool
	Timestamp    time.Time
}

// HistorySink receives every committed snapshot.
type HistorySink interface {
	Append(*Snapshot)
}

// Config tunes the cache. Zero values fall back to production defaults.
type Config struct {
	DataDir       string
	Location      *time.Location
	CriticalAfter time.Duration
	WaitTimeout   time.Duration
}

// Cache is the process-lifetime snapshot cache. All mutating operations run
// under the mutex; the completion channel notifies waiters when a refresh
// commits.
type Cache struct {
	logger *slog.Logger
	clock  clockwork.Clock
	loc    *time.Location

	dataDir       string
	criticalAfter time.Duration
	waitTimeout   time.Duration

	mu               sync.Mutex
	fields           *weather.FieldStore
	current          *Snapshot
	lastUpdated      time.Time
	lastValidAt      time.Time
	updateInProgress bool
	usingCached      bool
	cachedFields     map[weather.Metric]bool
	refreshTask      bool

	prevRisk      risk.Level
	riskTS        time.Time
	lastAlertedTS time.Time
	alertNote     string

	history HistorySink

	done       chan struct{}
	doneClosed bool
}

// New constructs the cache, attempting to seed the field store and alert
// state from disk. Regardless of what the disk held, the cache starts in
// normal (non-fallback) mode: persisted data only feeds the fallback tier,
// it never makes a clean restart look degraded.
func New(cfg Config, logger *slog.Logger, clock clockwork.Clock) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.CriticalAfter <= 0 {
		cfg.CriticalAfter = 30 * time.Minute
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 15 * time.Second
	}

	c := &Cache{
		logger:        logger,
		clock:         clock,
		loc:           loc,
		dataDir:       cfg.DataDir,
		criticalAfter: cfg.CriticalAfter,
		waitTimeout:   cfg.WaitTimeout,
		fields:        weather.NewFieldStore(),
		cachedFields:  make(map[weather.Metric]bool, 5),
		done:          make(chan struct{}),
	}
	for _, m := range weather.Metrics() {
		c.cachedFields[m] = false
	}

	if st, ok := c.loadFromDisk(); ok {
		c.fields.Seed(st.fields, st.stations)
		c.lastValidAt = st.timestamp
		c.lastUpdated = st.lastUpdated
		c.prevRisk = st.prevRisk
		c.riskTS = st.riskTS
		c.lastAlertedTS = st.lastAlertedTS
		logger.Info("seeded fallback cache from disk",
			"path", c.cacheFilePath(), "timestamp", st.timestamp)
	}

	return c
}

// SetHistory attaches a sink that receives every committed snapshot.
func (c *Cache) SetHistory(h HistorySink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = h
}

// IsStale reports whether the snapshot is missing or older than maxAge.
func (c *Cache) IsStale(maxAge time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isStaleLocked(maxAge)
}

// IsCriticallyStale reports whether the snapshot is so old that callers
// should force a synchronous refresh rather than a background one.
func (c *Cache) IsCriticallyStale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isStaleLocked(c.criticalAfter)
}

func (c *Cache) isStaleLocked(maxAge time.Duration) bool {
	if c.lastUpdated.IsZero() {
		return true
	}
	return c.clock.Since(c.lastUpdated) > maxAge
}

// FieldValue resolves a value for the metric and never fails. Resolution
// order: the current snapshot when it holds a fresh value, then the field
// store's last known value, then the hardcoded default. The latter two tiers
// flip the metric's cached flag.
func (c *Cache) FieldValue(m weather.Metric, useDefaultIfMissing bool) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.fieldValueLocked(m, useDefaultIfMissing)
	c.recomputeUsingCachedLocked()
	return v
}

func (c *Cache) fieldValueLocked(m weather.Metric, useDefaultIfMissing bool) float64 {
	if c.current != nil {
		if v, ok := c.current.Values[m]; ok && !c.current.CachedFields[m] {
			c.cachedFields[m] = false
			return v
		}
	}

	if !useDefaultIfMissing {
		if e := c.fields.Get(m); e.Value != nil {
			c.cachedFields[m] = true
			c.logger.Info("using cached field value",
				"metric", m,
				"value", *e.Value,
				"age", weather.FormatAge(c.clock.Now().In(c.loc), e.Timestamp))
			return *e.Value
		}
	}

	c.cachedFields[m] = true
	c.logger.Warn("no data available for metric, using default",
		"metric", m, "value", weather.DefaultValue(m))
	return weather.DefaultValue(m)
}

// EnsureComplete fills every missing or nil metric in the candidate reading
// through the fallback chain, guaranteeing the result has no nil metric
// values — including for an entirely empty input. Metrics the candidate
// already carries are marked fresh.
func (c *Cache) EnsureComplete(r weather.Reading, useDefaultIfMissing bool) weather.Reading {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Values == nil {
		r.Values = make(map[weather.Metric]*float64, 5)
	}
	if r.GustStations == nil {
		r.GustStations = make(map[string]weather.StationEntry)
	}

	for _, m := range weather.Metrics() {
		if r.Values[m] == nil {
			v := c.fieldValueLocked(m, useDefaultIfMissing)
			r.Values[m] = &v
		} else {
			c.cachedFields[m] = false
		}
	}

	// Wind gust fallback also restores the per-station breakdown so the
	// aggregated value stays explainable.
	if len(r.GustStations) == 0 {
		for id, e := range c.fields.Stations() {
			e.Cached = true
			r.GustStations[id] = e
		}
	}

	c.recomputeUsingCachedLocked()
	return r
}

func (c *Cache) recomputeUsingCachedLocked() {
	c.usingCached = false
	for _, flagged := range c.cachedFields {
		if flagged {
			c.usingCached = true
			return
		}
	}
}

// TryBeginUpdate marks an update as in progress. It returns false without
// side effects when one is already running and force is unset, preventing a
// pile-up of concurrent refreshes.
func (c *Cache) TryBeginUpdate(force bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updateInProgress && !force {
		return false
	}
	c.updateInProgress = true
	return true
}

// EndUpdate clears the in-progress marker. A failed cycle flips every metric
// to cached: the previous snapshot remains authoritative but must no longer
// present itself as live.
func (c *Cache) EndUpdate(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateInProgress = false
	if !success {
		for _, m := range weather.Metrics() {
			c.cachedFields[m] = true
		}
		c.usingCached = true
	}
}

// UpdateCache commits a computed snapshot: stores it, adopts its per-metric
// cached flags, writes every metric value through to the field store,
// persists to disk, and finally signals waiters. All of it happens under the
// lock so no reader ever observes a torn combination of snapshot and field
// store.
func (c *Cache) UpdateCache(snap *Snapshot) {
	c.mu.Lock()

	now := c.clock.Now().In(c.loc)
	snap.Timestamp = now
	if snap.CachedFields == nil {
		snap.CachedFields = make(map[weather.Metric]bool, 5)
	}

	for _, m := range weather.Metrics() {
		c.cachedFields[m] = snap.CachedFields[m]
	}
	c.recomputeUsingCachedLocked()

	c.current = snap
	c.lastUpdated = now
	c.lastValidAt = now

	for m, v := range snap.Values {
		value := v
		c.fields.Put(m, &value, now)
	}
	for id, e := range snap.GustStations {
		ts := e.Timestamp
		if ts.IsZero() {
			ts = now
		}
		c.fields.PutStation(id, e.Value, ts, e.Cached)
	}

	c.saveLocked()

	// Signal only after every write above is visible to readers.
	if !c.doneClosed {
		close(c.done)
		c.doneClosed = true
	}

	history := c.history
	c.mu.Unlock()

	if history != nil {
		history.Append(snap)
	}
	c.logger.Info("cache updated", "risk", snap.Risk, "at", now)
}

// ResetUpdateEvent clears the completion signal before a new refresh cycle
// starts, so a stale signal from the previous cycle cannot be mistaken for
// the new one's completion.
func (c *Cache) ResetUpdateEvent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doneClosed {
		c.done = make(chan struct{})
		c.doneClosed = false
	}
}

// WaitForUpdate blocks until the in-flight refresh commits or the timeout
// elapses, reporting which happened. A timeout of zero uses the configured
// default; callers receiving false must be prepared to act on stale data.
func (c *Cache) WaitForUpdate(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = c.waitTimeout
	}
	c.mu.Lock()
	ch := c.done
	c.mu.Unlock()

	select {
	case <-ch:
		return true
	case <-c.clock.After(timeout):
		c.logger.Warn("timeout waiting for data update", "timeout", timeout)
		return false
	}
}

// Snapshot returns the current snapshot, or nil before the first commit.
func (c *Cache) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// LastUpdated returns when the last successful refresh committed; the zero
// time means never.
func (c *Cache) LastUpdated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdated
}

// LastValidAt returns the capture time of the newest fallback data.
func (c *Cache) LastValidAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastValidAt
}

// UsingCachedData reports whether any metric is currently served from a
// fallback tier.
func (c *Cache) UsingCachedData() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usingCached
}

// CachedFields returns a copy of the per-metric fallback flags.
func (c *Cache) CachedFields() map[weather.Metric]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[weather.Metric]bool, len(c.cachedFields))
	for m, flagged := range c.cachedFields {
		out[m] = flagged
	}
	return out
}

// FieldEntry exposes the field store entry for a metric.
func (c *Cache) FieldEntry(m weather.Metric) weather.FieldEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields.Get(m)
}

// UpdateInProgress reports whether a refresh cycle is running.
func (c *Cache) UpdateInProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updateInProgress
}

// MarkStale flags the current data as cached, forcing consumers to treat it
// as degraded until the next successful refresh.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usingCached = true
}

// ClaimRefreshTask reserves the self-scheduling slot, ensuring exactly one
// scheduled refresh chain is ever live.
func (c *Cache) ClaimRefreshTask() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshTask {
		return false
	}
	c.refreshTask = true
	return true
}

// ReleaseRefreshTask frees the self-scheduling slot.
func (c *Cache) ReleaseRefreshTask() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshTask = false
}
