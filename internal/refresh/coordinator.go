// Package refresh orchestrates one refresh cycle: fetch from all providers
// concurrently, merge, fill gaps from the cache's fallback tiers, compute
// fire risk, dispatch any due alert, and commit the result — with bounded
// retries and a wall-clock budget for the whole cycle.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/alert"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/cache"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/observability"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/risk"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

// SynopticFetcher performs one round-trip to the primary weather provider.
type SynopticFetcher interface {
	Name() string
	Fetch(ctx context.Context) (*weather.SynopticPayload, error)
}

// GustFetcher performs one round-trip to the wind gust provider.
type GustFetcher interface {
	Name() string
	Fetch(ctx context.Context) (*weather.GustPayload, error)
}

// Config tunes the refresh cycle. Zero values fall back to production
// defaults.
type Config struct {
	MaxRetries   int
	RetryDelay   time.Duration
	CycleTimeout time.Duration

	// Interval paces the optional self-scheduling chain.
	Interval time.Duration

	Stations   weather.Stations
	Thresholds risk.Thresholds
}

// Coordinator drives refresh cycles against the snapshot cache.
type Coordinator struct {
	cache      *cache.Cache
	synoptic   SynopticFetcher
	gusts      GustFetcher
	notifier   alert.Notifier
	recipients alert.RecipientSource
	logger     *slog.Logger
	metrics    *observability.Metrics
	cfg        Config

	mu               sync.Mutex
	overrides        *risk.Overrides
	ignoreDailyLimit bool
	selfSchedule     bool
}

// New creates a Coordinator. The gust fetcher, notifier and recipient source
// are optional.
func New(
	c *cache.Cache,
	synoptic SynopticFetcher,
	gusts GustFetcher,
	notifier alert.Notifier,
	recipients alert.RecipientSource,
	logger *slog.Logger,
	metrics *observability.Metrics,
	cfg Config,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NewMetricsForTesting()
	}
	if notifier == nil {
		notifier = &alert.LogNotifier{Logger: logger}
	}
	if recipients == nil {
		recipients = alert.StaticRecipients(nil)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 15 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}

	return &Coordinator{
		cache:      c,
		synoptic:   synoptic,
		gusts:      gusts,
		notifier:   notifier,
		recipients: recipients,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// SetOverrides installs manual substitutions applied to future risk
// calculations. Pass nil to clear.
func (c *Coordinator) SetOverrides(o *risk.Overrides) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides = o
}

// SetIgnoreDailyLimit toggles the once-per-calendar-day alert ceiling for
// future cycles.
func (c *Coordinator) SetIgnoreDailyLimit(ignore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ignoreDailyLimit = ignore
}

// EnableSelfSchedule makes each completed refresh queue the next one after
// the configured interval. Leave disabled when an external scheduler paces
// refreshes.
func (c *Coordinator) EnableSelfSchedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selfSchedule = true
}

// Refresh runs one refresh cycle and reports whether it committed a new
// snapshot. When an update is already in progress and force is unset it
// returns false immediately without fetching anything.
func (c *Coordinator) Refresh(ctx context.Context, force bool) bool {
	// Reset-before-fetch: a late signal from the previous cycle must not be
	// mistaken for this one's completion.
	c.cache.ResetUpdateEvent()

	if !c.cache.TryBeginUpdate(force) {
		c.logger.Info("data refresh already in progress, skipping")
		c.metrics.RefreshCycles.WithLabelValues("skipped").Inc()
		return false
	}
	c.logger.Info("starting data cache refresh")

	start := time.Now()
	success := false
	aborted := false

	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if elapsed := time.Since(start); elapsed > c.cfg.CycleTimeout {
			c.logger.Warn("refresh cycle over wall-clock budget, aborting",
				"elapsed", elapsed, "budget", c.cfg.CycleTimeout)
			aborted = true
			break
		}

		err := c.runCycle(ctx, start)
		if err == nil {
			success = true
			break
		}

		c.logger.Error("refresh attempt failed",
			"attempt", attempt, "max_retries", c.cfg.MaxRetries, "error", err)
		if attempt < c.cfg.MaxRetries {
			if !sleepWithContext(ctx, c.cfg.RetryDelay) {
				break
			}
		}
	}

	c.cache.EndUpdate(success)

	c.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	switch {
	case success:
		c.metrics.RefreshCycles.WithLabelValues("success").Inc()
		c.logger.Info("data cache refresh successful")
	case aborted:
		c.metrics.RefreshCycles.WithLabelValues("aborted").Inc()
	default:
		c.metrics.RefreshCycles.WithLabelValues("failure").Inc()
		c.logger.Error("all data refresh attempts failed")
	}
	c.metrics.FallbackFields.Set(float64(countFlagged(c.cache.CachedFields())))

	if c.selfScheduleEnabled() {
		c.scheduleNext(ctx)
	}
	return success
}

// runCycle performs one fetch-merge-calculate-commit attempt.
func (c *Coordinator) runCycle(ctx context.Context, cycleStart time.Time) error {
	budget := c.cfg.CycleTimeout - time.Since(cycleStart)
	if budget <= 0 {
		return errors.New("cycle budget exhausted")
	}
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	syn, gusts := c.fetchAll(cctx)

	reading := weather.Combine(syn, gusts, c.cfg.Stations, time.Now())
	reading = c.cache.EnsureComplete(reading, false)

	level, explanation := risk.Calculate(readingInput(reading), c.cfg.Thresholds, c.overridesSnapshot())

	c.dispatchAlert(cctx, level, reading)
	c.cache.UpdateRiskLevel(level)

	if syn == nil {
		// Nothing fresh came back; the previous snapshot stays authoritative
		// and the attempt counts as failed so the retry loop runs again.
		return errors.New("no fresh provider data obtained")
	}

	c.cache.UpdateCache(&cache.Snapshot{
		Risk:         level,
		Explanation:  explanation,
		Values:       derefValues(reading),
		GustStations: reading.GustStations,
		Status:       reading.Status,
		CachedFields: c.cache.CachedFields(),
	})
	return nil
}

// fetchAll issues both provider calls concurrently. Each provider fails
// independently; a failure is logged and treated as "no data from this
// provider" rather than aborting the cycle.
func (c *Coordinator) fetchAll(ctx context.Context) (*weather.SynopticPayload, *weather.GustPayload) {
	var (
		wg    sync.WaitGroup
		syn   *weather.SynopticPayload
		gusts *weather.GustPayload
	)

	if c.synoptic != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.synoptic.Fetch(ctx)
			if err != nil {
				c.logger.Error("provider fetch failed", "provider", c.synoptic.Name(), "error", err)
				c.metrics.ProviderFetches.WithLabelValues(c.synoptic.Name(), "error").Inc()
				return
			}
			c.metrics.ProviderFetches.WithLabelValues(c.synoptic.Name(), "success").Inc()
			syn = p
		}()
	}

	if c.gusts != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.gusts.Fetch(ctx)
			if err != nil {
				c.logger.Error("provider fetch failed", "provider", c.gusts.Name(), "error", err)
				c.metrics.ProviderFetches.WithLabelValues(c.gusts.Name(), "error").Inc()
				return
			}
			c.metrics.ProviderFetches.WithLabelValues(c.gusts.Name(), "success").Inc()
			gusts = p
		}()
	}

	wg.Wait()
	return syn, gusts
}

// dispatchAlert sends the escalation notice when the dedup state machine
// says one is due. Delivery trouble is logged and swallowed; the refresh
// cycle never fails because email did.
func (c *Coordinator) dispatchAlert(ctx context.Context, level risk.Level, reading weather.Reading) {
	if !c.cache.ShouldAlert(level, c.ignoreDailyLimitSnapshot()) {
		return
	}
	c.logger.Info("risk transition detected, preparing alert",
		"from", c.cache.PreviousRiskLevel(), "to", level)

	recipients, err := c.recipients.ActiveRecipients(ctx)
	if err != nil {
		c.logger.Error("fetching alert recipients failed", "error", err)
		return
	}
	if len(recipients) == 0 {
		c.logger.Warn("orange-to-red transition detected but no active recipients")
		return
	}

	id, err := c.notifier.SendOrangeToRedAlert(ctx, recipients, derefValues(reading))
	if err != nil {
		c.logger.Error("sending orange-to-red alert failed", "error", err)
		c.cache.NoteAlertOutcome(fmt.Sprintf("alert delivery failed: %v", err))
		return
	}

	c.cache.RecordAlertSent()
	c.cache.NoteAlertOutcome(fmt.Sprintf("alert %s sent to %d recipient(s)", id, len(recipients)))
	c.metrics.AlertsSent.Inc()
	c.logger.Info("orange-to-red alert sent", "message_id", id, "recipients", len(recipients))
}

// scheduleNext queues the next background refresh, ensuring at most one
// self-scheduled chain is live at a time.
func (c *Coordinator) scheduleNext(ctx context.Context) {
	if !c.cache.ClaimRefreshTask() {
		return
	}
	c.logger.Info("scheduling next background refresh", "interval", c.cfg.Interval)

	go func() {
		timer := time.NewTimer(c.cfg.Interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			c.cache.ReleaseRefreshTask()
			return
		case <-timer.C:
		}
		// Release before re-entering Refresh so the chained cycle can claim
		// the slot for its own successor.
		c.cache.ReleaseRefreshTask()
		c.Refresh(ctx, false)
	}()
}

func (c *Coordinator) overridesSnapshot() *risk.Overrides {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overrides
}

func (c *Coordinator) ignoreDailyLimitSnapshot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignoreDailyLimit
}

func (c *Coordinator) selfScheduleEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfSchedule
}

func readingInput(r weather.Reading) risk.Input {
	return risk.Input{
		TempC:        deref(r.Values[weather.MetricTemperature]),
		HumidityPct:  deref(r.Values[weather.MetricHumidity]),
		WindSpeedMPH: deref(r.Values[weather.MetricWindSpeed]),
		WindGustMPH:  deref(r.Values[weather.MetricWindGust]),
		SoilPct:      deref(r.Values[weather.MetricSoilMoisture]),
	}
}

func derefValues(r weather.Reading) map[weather.Metric]float64 {
	out := make(map[weather.Metric]float64, len(r.Values))
	for m, v := range r.Values {
		if v != nil {
			out[m] = *v
		}
	}
	return out
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func countFlagged(flags map[weather.Metric]bool) int {
	n := 0
	for _, flagged := range flags {
		if flagged {
			n++
		}
	}
	return n
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
