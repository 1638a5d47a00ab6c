package cache

import (
	"time"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/risk"
)

// ShouldAlert decides whether an escalation notice is due for the freshly
// computed risk level. Only the Orange→Red transition is alertable, each
// transition instance alerts at most once, and at most one alert goes out
// per civil calendar day in the configured timezone unless the daily limit
// is explicitly ignored.
func (c *Cache) ShouldAlert(current risk.Level, ignoreDailyLimit bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current != risk.LevelRed || c.prevRisk != risk.LevelOrange {
		return false
	}

	// First observation of risk at all: nothing recorded yet to dedup on.
	if c.riskTS.IsZero() {
		return true
	}

	// Already alerted for this exact transition instance.
	if !c.lastAlertedTS.IsZero() && !c.riskTS.After(c.lastAlertedTS) {
		return false
	}

	if !ignoreDailyLimit && !c.lastAlertedTS.IsZero() {
		// Calendar-day comparison must use zoned dates, not duration
		// arithmetic, so it stays correct across DST transitions.
		if sameCivilDay(c.clock.Now(), c.lastAlertedTS, c.loc) {
			return false
		}
	}

	return true
}

// UpdateRiskLevel records the newly computed level. The transition timestamp
// moves only when the level actually changed, and the change is persisted
// immediately so a crash cannot lose it before the next periodic save.
func (c *Cache) UpdateRiskLevel(level risk.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if level == c.prevRisk {
		return
	}
	c.logger.Info("risk level transition", "from", c.prevRisk, "to", level)
	c.prevRisk = level
	c.riskTS = c.clock.Now().In(c.loc)
	c.saveLocked()
}

// RecordAlertSent stamps the alert timestamp and persists it immediately.
func (c *Cache) RecordAlertSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAlertedTS = c.clock.Now().In(c.loc)
	c.saveLocked()
}

// NoteAlertOutcome records a human-readable outcome of the most recent alert
// delivery attempt, surfaced on the dashboard next to the risk level.
func (c *Cache) NoteAlertOutcome(note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alertNote = note
}

// LastAlertOutcome returns the most recent delivery outcome note, or "".
func (c *Cache) LastAlertOutcome() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alertNote
}

// PreviousRiskLevel returns the last recorded risk level.
func (c *Cache) PreviousRiskLevel() risk.Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prevRisk
}

// SetAlertState overrides the alert-dedup state, seeding scenarios in tests
// and administrative resets.
func (c *Cache) SetAlertState(prev risk.Level, riskTS, lastAlertedTS time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevRisk = prev
	c.riskTS = riskTS
	c.lastAlertedTS = lastAlertedTS
}

func sameCivilDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
