package refresh

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/alert"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/cache"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/risk"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testStations = weather.Stations{
	Weather: "SEYC1",
	Soil:    "C3DLA",
	Gusts:   []string{"KCASIERR68", "KCASIERR63"},
}

type stubSynoptic struct {
	mu      sync.Mutex
	payload *weather.SynopticPayload
	err     error
	delay   time.Duration
	calls   int
}

func (s *stubSynoptic) Name() string { return "synoptic" }

func (s *stubSynoptic) Fetch(context.Context) (*weather.SynopticPayload, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.payload, s.err
}

func (s *stubSynoptic) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubGusts struct {
	payload *weather.GustPayload
	err     error
}

func (s *stubGusts) Name() string { return "wunderground" }

func (s *stubGusts) Fetch(context.Context) (*weather.GustPayload, error) {
	return s.payload, s.err
}

type stubNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (n *stubNotifier) SendOrangeToRedAlert(_ context.Context, recipients []string, _ map[weather.Metric]float64) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return "", n.err
	}
	n.calls++
	return "msg-1", nil
}

func (n *stubNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func mildPayload() *weather.SynopticPayload {
	return &weather.SynopticPayload{Stations: []weather.StationObservation{
		{
			StationID:        "SEYC1",
			AirTempC:         weather.Float(18.0),
			RelativeHumidity: weather.Float(45.0),
			WindSpeedMPH:     weather.Float(6.0),
		},
		{StationID: "C3DLA", SoilMoisture: weather.Float(25.0)},
	}}
}

func extremePayload() *weather.SynopticPayload {
	return &weather.SynopticPayload{Stations: []weather.StationObservation{
		{
			StationID:        "SEYC1",
			AirTempC:         weather.Float(38.0),
			RelativeHumidity: weather.Float(6.0),
			WindSpeedMPH:     weather.Float(22.0),
		},
		{StationID: "C3DLA", SoilMoisture: weather.Float(4.0)},
	}}
}

func gustPayload(mph float64) *weather.GustPayload {
	return &weather.GustPayload{Observations: []weather.GustObservation{
		{StationID: "KCASIERR68", GustMPH: weather.Float(mph)},
		{StationID: "KCASIERR63", GustMPH: weather.Float(mph)},
	}}
}

func newTestCoordinator(t *testing.T, syn SynopticFetcher, gusts GustFetcher, notifier alert.Notifier, recipients alert.RecipientSource, cfg Config) (*Coordinator, *cache.Cache) {
	t.Helper()

	c := cache.New(cache.Config{DataDir: t.TempDir()}, testLogger(), nil)

	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if cfg.CycleTimeout == 0 {
		cfg.CycleTimeout = 5 * time.Second
	}
	cfg.Stations = testStations
	if cfg.Thresholds == (risk.Thresholds{}) {
		cfg.Thresholds = risk.DefaultThresholds()
	}

	return New(c, syn, gusts, notifier, recipients, testLogger(), nil, cfg), c
}

func TestRefreshCommitsSnapshot(t *testing.T) {
	syn := &stubSynoptic{payload: mildPayload()}
	co, c := newTestCoordinator(t, syn, &stubGusts{payload: gustPayload(10.0)}, nil, nil, Config{})

	require.True(t, co.Refresh(context.Background(), false))

	snap := c.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, risk.LevelOrange, snap.Risk)
	assert.Equal(t, 18.0, snap.Values[weather.MetricTemperature])
	assert.Equal(t, 10.0, snap.Values[weather.MetricWindGust])
	assert.False(t, c.UsingCachedData())
	assert.False(t, c.UpdateInProgress())
	assert.Equal(t, 1, syn.callCount())
}

func TestRefreshRetriesUntilExhausted(t *testing.T) {
	syn := &stubSynoptic{err: errors.New("upstream down")}
	co, c := newTestCoordinator(t, syn, &stubGusts{err: errors.New("also down")}, nil, nil, Config{
		MaxRetries: 3,
	})

	require.False(t, co.Refresh(context.Background(), false))

	assert.Equal(t, 3, syn.callCount())
	assert.Nil(t, c.Snapshot())
	assert.True(t, c.LastUpdated().IsZero())

	// Every metric is flagged as fallback after a failed cycle.
	assert.True(t, c.UsingCachedData())
	for m, flagged := range c.CachedFields() {
		assert.True(t, flagged, "metric %s", m)
	}
	assert.False(t, c.UpdateInProgress())
}

func TestRefreshSkipsWhenAlreadyInProgress(t *testing.T) {
	syn := &stubSynoptic{payload: mildPayload()}
	co, c := newTestCoordinator(t, syn, nil, nil, nil, Config{})

	require.True(t, c.TryBeginUpdate(false))

	assert.False(t, co.Refresh(context.Background(), false))
	assert.Equal(t, 0, syn.callCount(), "a skipped refresh must not touch providers")

	// Forced refresh goes through the gate.
	assert.True(t, co.Refresh(context.Background(), true))
	assert.Equal(t, 1, syn.callCount())
}

func TestRefreshAbortsWhenCycleBudgetExceeded(t *testing.T) {
	syn := &stubSynoptic{err: errors.New("slow upstream"), delay: 150 * time.Millisecond}
	co, c := newTestCoordinator(t, syn, nil, nil, nil, Config{
		MaxRetries:   5,
		RetryDelay:   time.Millisecond,
		CycleTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	require.False(t, co.Refresh(context.Background(), false))

	// One attempt overran the budget; no second attempt started.
	assert.Equal(t, 1, syn.callCount())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Nil(t, c.Snapshot())
	assert.True(t, c.LastUpdated().IsZero())
}

func TestRefreshPartialProviderFailureStillCommits(t *testing.T) {
	syn := &stubSynoptic{payload: mildPayload()}
	co, c := newTestCoordinator(t, syn, &stubGusts{err: errors.New("gusts down")}, nil, nil, Config{})

	require.True(t, co.Refresh(context.Background(), false))

	snap := c.Snapshot()
	require.NotNil(t, snap)
	// Wind gust came from the fallback chain (default, nothing stored yet).
	assert.Equal(t, weather.DefaultValue(weather.MetricWindGust), snap.Values[weather.MetricWindGust])
	assert.True(t, snap.CachedFields[weather.MetricWindGust])
	assert.False(t, snap.CachedFields[weather.MetricTemperature])
	assert.True(t, c.UsingCachedData())
}

func TestRefreshSendsOrangeToRedAlert(t *testing.T) {
	notifier := &stubNotifier{}
	syn := &stubSynoptic{payload: extremePayload()}
	co, c := newTestCoordinator(t, syn, &stubGusts{payload: gustPayload(30.0)},
		notifier, alert.StaticRecipients{"ops@example.org"}, Config{})

	// Previous cycle left the risk at Orange.
	c.SetAlertState(risk.LevelOrange, time.Time{}, time.Time{})

	require.True(t, co.Refresh(context.Background(), false))

	snap := c.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, risk.LevelRed, snap.Risk)
	assert.Equal(t, 1, notifier.callCount())
	assert.Equal(t, risk.LevelRed, c.PreviousRiskLevel())
	assert.Contains(t, c.LastAlertOutcome(), "sent to 1 recipient")

	// Red staying Red is not a transition; no second alert.
	require.True(t, co.Refresh(context.Background(), false))
	assert.Equal(t, 1, notifier.callCount())
}

func TestRefreshNoAlertWithoutRecipients(t *testing.T) {
	notifier := &stubNotifier{}
	syn := &stubSynoptic{payload: extremePayload()}
	co, c := newTestCoordinator(t, syn, &stubGusts{payload: gustPayload(30.0)},
		notifier, alert.StaticRecipients(nil), Config{})

	c.SetAlertState(risk.LevelOrange, time.Time{}, time.Time{})

	require.True(t, co.Refresh(context.Background(), false))
	assert.Equal(t, 0, notifier.callCount())
}

func TestRefreshOverridesAffectRisk(t *testing.T) {
	syn := &stubSynoptic{payload: mildPayload()}
	co, c := newTestCoordinator(t, syn, &stubGusts{payload: gustPayload(10.0)}, nil, nil, Config{})

	co.SetOverrides(&risk.Overrides{
		TempC:        weather.Float(38.0),
		HumidityPct:  weather.Float(6.0),
		WindSpeedMPH: weather.Float(22.0),
		WindGustMPH:  weather.Float(30.0),
		SoilPct:      weather.Float(4.0),
	})

	require.True(t, co.Refresh(context.Background(), false))
	snap := c.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, risk.LevelRed, snap.Risk)

	// Committed values stay measured; overrides only steer the calculation.
	assert.Equal(t, 18.0, snap.Values[weather.MetricTemperature])

	co.SetOverrides(nil)
	require.True(t, co.Refresh(context.Background(), false))
	assert.Equal(t, risk.LevelOrange, c.Snapshot().Risk)
}

func TestRefreshSecondCycleUsesStoredFallback(t *testing.T) {
	syn := &stubSynoptic{payload: mildPayload()}
	gusts := &stubGusts{payload: gustPayload(12.0)}
	co, c := newTestCoordinator(t, syn, gusts, nil, nil, Config{})

	require.True(t, co.Refresh(context.Background(), false))

	// Gust provider drops out; the previous per-station values carry over.
	gusts.err = errors.New("gusts down")
	gusts.payload = nil

	require.True(t, co.Refresh(context.Background(), false))

	snap := c.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, 12.0, snap.Values[weather.MetricWindGust])
	assert.True(t, snap.CachedFields[weather.MetricWindGust])
	require.Contains(t, snap.GustStations, "KCASIERR68")
	assert.True(t, snap.GustStations["KCASIERR68"].Cached)
}

func TestSelfScheduleChainsOnce(t *testing.T) {
	syn := &stubSynoptic{payload: mildPayload()}
	co, c := newTestCoordinator(t, syn, &stubGusts{payload: gustPayload(10.0)}, nil, nil, Config{
		Interval: 20 * time.Millisecond,
	})
	co.EnableSelfSchedule()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, co.Refresh(ctx, false))

	// The chained refresh fires after the interval.
	require.Eventually(t, func() bool {
		return syn.callCount() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, c.UpdateInProgress())
}
