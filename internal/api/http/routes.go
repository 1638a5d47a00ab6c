// Package httpapi exposes the dashboard's HTTP surface: the current fire-risk
// reading, recent history, and a health probe.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/cache"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/store"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

var validate = validator.New()

// Refresher runs one refresh cycle. force bypasses the in-progress gate.
type Refresher interface {
	Refresh(ctx context.Context, force bool) bool
}

// Deps bundles what the handlers need.
type Deps struct {
	Cache     *cache.Cache
	History   *store.History
	Refresher Refresher
	Logger    *slog.Logger

	// StaleAfter is the age past which a reading triggers a background
	// refresh on read.
	StaleAfter time.Duration

	// WaitTimeout bounds how long a request blocks on an in-flight refresh.
	WaitTimeout time.Duration
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.StaleAfter <= 0 {
		d.StaleAfter = 10 * time.Minute
	}
	if d.WaitTimeout <= 0 {
		d.WaitTimeout = 15 * time.Second
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/fire-risk", func(c *fiber.Ctx) error {
		return handleFireRisk(c, d)
	})

	app.Get("/history", func(c *fiber.Ctx) error {
		return handleHistory(c, d)
	})
}

func handleFireRisk(c *fiber.Ctx, d Deps) error {
	waitForFresh := c.QueryBool("wait_for_fresh", false)
	ctx := c.Context()

	// A cold start has nothing to serve; fetch synchronously rather than
	// answer with an empty body.
	if d.Cache.Snapshot() == nil {
		d.Logger.Info("no cached data available, refreshing synchronously")
		d.Refresher.Refresh(ctx, false)
		if d.Cache.Snapshot() == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable,
				"weather data is not available yet; please retry shortly")
		}
	}

	switch {
	case d.Cache.IsStale(d.StaleAfter) && (waitForFresh || d.Cache.IsCriticallyStale()):
		// Block this request on a fresh fetch, up to the wait budget. The
		// signal must be re-armed here, before the fetch starts, or the
		// previous cycle's completion satisfies the wait immediately and
		// the caller gets the stale snapshot back. At most one forced
		// cycle is started; concurrent callers wait on the in-flight one,
		// which re-armed the signal itself when it began.
		if !d.Cache.UpdateInProgress() {
			d.Cache.ResetUpdateEvent()
			go d.Refresher.Refresh(context.Background(), true)
		}
		// On timeout the stale snapshot is served and flagged as such.
		if !d.Cache.WaitForUpdate(d.WaitTimeout) {
			d.Cache.MarkStale()
		}
	case d.Cache.IsStale(d.StaleAfter):
		// Serve what we have now; refresh for the next caller. The request
		// context dies with the handler, so the detached cycle gets its own.
		d.Logger.Info("cached data is stale, refreshing in background")
		go d.Refresher.Refresh(context.Background(), false)
	}

	snap := d.Cache.Snapshot()
	if snap == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable,
			"weather data is not available yet; please retry shortly")
	}
	return c.JSON(buildFireRiskResponse(snap, d))
}

func handleHistory(c *fiber.Ctx, d Deps) error {
	var req historyQuery
	if err := req.bind(c); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	snaps, err := d.History.Range(req.From, req.To)
	if err != nil {
		if errors.Is(err, store.ErrNoHistory) {
			return fiber.NewError(fiber.StatusNotFound, "no snapshots recorded for requested range")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch history")
	}

	entries := make([]historyEntry, 0, len(snaps))
	for _, s := range snaps {
		entries = append(entries, historyEntry{
			Risk:      string(s.Risk),
			Weather:   buildWeatherBody(s),
			Timestamp: s.Timestamp,
		})
	}
	return c.JSON(fiber.Map{
		"from":      req.From,
		"to":        req.To,
		"snapshots": entries,
	})
}

// fireRiskResponse is the wire shape of GET /fire-risk.
type fireRiskResponse struct {
	Risk        string          `json:"risk"`
	Explanation string          `json:"explanation"`
	Weather     weatherBody     `json:"weather"`
	CacheInfo   cacheInfoBody   `json:"cache_info"`
	CachedData  *cachedDataBody `json:"cached_data,omitempty"`
}

type weatherBody struct {
	AirTemp          float64                `json:"air_temp"`
	RelativeHumidity float64                `json:"relative_humidity"`
	WindSpeed        float64                `json:"wind_speed"`
	SoilMoisture15cm float64                `json:"soil_moisture_15cm"`
	WindGust         float64                `json:"wind_gust"`
	WindGustStations map[string]gustStation `json:"wind_gust_stations,omitempty"`
	DataStatus       weather.DataStatus     `json:"data_status"`
}

type gustStation struct {
	Value     *float64  `json:"value"`
	IsCached  bool      `json:"is_cached"`
	Timestamp time.Time `json:"timestamp"`
}

type cacheInfoBody struct {
	LastUpdated       time.Time `json:"last_updated"`
	IsFresh           bool      `json:"is_fresh"`
	RefreshInProgress bool      `json:"refresh_in_progress"`
	UsingCachedData   bool      `json:"using_cached_data"`
	LastAlert         string    `json:"last_alert,omitempty"`
}

type cachedDataBody struct {
	IsCached          bool            `json:"is_cached"`
	OriginalTimestamp time.Time       `json:"original_timestamp"`
	Age               string          `json:"age"`
	CachedFields      map[string]bool `json:"cached_fields"`
}

type historyEntry struct {
	Risk      string      `json:"risk"`
	Weather   weatherBody `json:"weather"`
	Timestamp time.Time   `json:"timestamp"`
}

func buildFireRiskResponse(snap *cache.Snapshot, d Deps) fireRiskResponse {
	resp := fireRiskResponse{
		Risk:        string(snap.Risk),
		Explanation: snap.Explanation,
		Weather:     buildWeatherBody(snap),
		CacheInfo: cacheInfoBody{
			LastUpdated:       d.Cache.LastUpdated(),
			IsFresh:           !d.Cache.IsStale(d.StaleAfter),
			RefreshInProgress: d.Cache.UpdateInProgress(),
			UsingCachedData:   d.Cache.UsingCachedData(),
			LastAlert:         d.Cache.LastAlertOutcome(),
		},
	}

	if d.Cache.UsingCachedData() {
		lastValid := d.Cache.LastValidAt()
		flags := d.Cache.CachedFields()
		cachedFields := make(map[string]bool, len(flags))
		for m, flagged := range flags {
			cachedFields[string(m)] = flagged
		}
		resp.CachedData = &cachedDataBody{
			IsCached:          true,
			OriginalTimestamp: lastValid,
			Age:               weather.FormatAge(time.Now(), lastValid),
			CachedFields:      cachedFields,
		}
	}
	return resp
}

func buildWeatherBody(snap *cache.Snapshot) weatherBody {
	body := weatherBody{
		AirTemp:          snap.Values[weather.MetricTemperature],
		RelativeHumidity: snap.Values[weather.MetricHumidity],
		WindSpeed:        snap.Values[weather.MetricWindSpeed],
		SoilMoisture15cm: snap.Values[weather.MetricSoilMoisture],
		WindGust:         snap.Values[weather.MetricWindGust],
		DataStatus:       snap.Status,
	}
	if len(snap.GustStations) > 0 {
		body.WindGustStations = make(map[string]gustStation, len(snap.GustStations))
		for id, e := range snap.GustStations {
			body.WindGustStations[id] = gustStation{
				Value:     e.Value,
				IsCached:  e.Cached,
				Timestamp: e.Timestamp,
			}
		}
	}
	return body
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
