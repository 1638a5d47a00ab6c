// Package alert defines the boundary to the escalation-notice transport.
// Actual email rendering and delivery live outside this service; the
// coordinator only ever talks to these interfaces.
package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

// Notifier delivers an Orange→Red escalation notice and returns a delivery
// identifier on success.
type Notifier interface {
	SendOrangeToRedAlert(ctx context.Context, recipients []string, values map[weather.Metric]float64) (string, error)
}

// RecipientSource yields the recipients an alert should go to.
type RecipientSource interface {
	ActiveRecipients(ctx context.Context) ([]string, error)
}

// StaticRecipients is a RecipientSource backed by a fixed list from config.
type StaticRecipients []string

func (s StaticRecipients) ActiveRecipients(context.Context) ([]string, error) {
	return s, nil
}

// LogNotifier records the alert in the log instead of delivering it,
// fabricating a delivery identifier. Used until a real transport is wired
// in, and in tests.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) SendOrangeToRedAlert(_ context.Context, recipients []string, values map[weather.Metric]float64) (string, error) {
	if len(recipients) == 0 {
		return "", fmt.Errorf("no recipients")
	}
	id := uuid.NewString()
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("orange-to-red alert dispatched",
		"message_id", id,
		"recipients", len(recipients),
		"temperature", values[weather.MetricTemperature],
		"humidity", values[weather.MetricHumidity],
		"wind_speed", values[weather.MetricWindSpeed],
		"wind_gust", values[weather.MetricWindGust],
		"soil_moisture", values[weather.MetricSoilMoisture])
	return id, nil
}
