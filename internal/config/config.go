package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/risk"
	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

// AppConfig holds all service settings, populated from environment variables.
type AppConfig struct {
	// Upstream providers.
	SynopticAPIKey      string
	SynopticBaseURL     string
	WundergroundAPIKey  string
	WundergroundBaseURL string
	HTTPTimeout         time.Duration

	// Fixed station wiring.
	Stations weather.Stations

	// Risk thresholds.
	Thresholds risk.Thresholds

	// Cache tuning.
	DataDir       string
	StaleAfter    time.Duration // background refresh past this age
	CriticalAfter time.Duration // synchronous refresh past this age
	WaitTimeout   time.Duration // max wait for an in-flight refresh

	// Refresh cycle tuning.
	MaxRetries      int
	RetryDelay      time.Duration
	CycleTimeout    time.Duration
	RefreshInterval time.Duration

	// AlignedMinutes, when non-empty, schedules refreshes at these fixed
	// clock-minutes each hour instead of a plain interval, to align with the
	// upstream station's update cadence.
	AlignedMinutes string

	// TimezoneName is the civil timezone for calendar-day alert limits.
	TimezoneName string

	AlertRecipients []string
	HistorySize     int

	Port      string
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{
		SynopticAPIKey:      os.Getenv("SYNOPTICDATA_API_KEY"),
		SynopticBaseURL:     getenvDefault("SYNOPTIC_BASE_URL", "https://api.synopticdata.com/v2"),
		WundergroundAPIKey:  os.Getenv("WUNDERGROUND_API_KEY"),
		WundergroundBaseURL: getenvDefault("WUNDERGROUND_BASE_URL", "https://api.weather.com/v2/pws"),

		DataDir:      getenvDefault("DATA_DIR", "data"),
		TimezoneName: getenvDefault("TIMEZONE", "America/Los_Angeles"),

		MaxRetries:  getenvInt("REFRESH_MAX_RETRIES", 5),
		HistorySize: getenvInt("HISTORY_SIZE", 24),

		AlignedMinutes: getenvDefault("ALIGNED_MINUTES", "1,21,41"),

		Port:      getenvDefault("PORT", "8080"),
		LogLevel:  getenvDefault("LOG_LEVEL", "info"),
		LogFormat: getenvDefault("LOG_FORMAT", "json"),
	}

	cfg.Stations = weather.Stations{
		Weather: getenvDefault("WEATHER_STATION_ID", "SEYC1"),
		Soil:    getenvDefault("SOIL_MOISTURE_STATION_ID", "C3DLA"),
		Gusts:   splitList(getenvDefault("WIND_GUST_STATION_IDS", "KCASIERR68,KCASIERR63,KCASIERR72")),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = getenvDuration("STALE_AFTER", "10m"); err != nil {
		return nil, err
	}
	if cfg.CriticalAfter, err = getenvDuration("CRITICAL_AFTER", "30m"); err != nil {
		return nil, err
	}
	if cfg.WaitTimeout, err = getenvDuration("WAIT_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.RetryDelay, err = getenvDuration("REFRESH_RETRY_DELAY", "5s"); err != nil {
		return nil, err
	}
	if cfg.CycleTimeout, err = getenvDuration("REFRESH_CYCLE_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval, err = getenvDuration("REFRESH_INTERVAL", "10m"); err != nil {
		return nil, err
	}

	cfg.Thresholds = loadThresholds()
	cfg.AlertRecipients = splitList(os.Getenv("ALERT_RECIPIENTS"))

	if cfg.SynopticAPIKey == "" {
		log.Printf("WARNING: No API key provided. Set SYNOPTICDATA_API_KEY environment variable.")
	}

	return cfg, nil
}

// loadThresholds reads the five risk thresholds. Temperature is configured in
// Fahrenheit for operator familiarity and converted to Celsius internally.
func loadThresholds() risk.Thresholds {
	tempF := getenvFloat("THRESH_TEMP", 75)
	return risk.Thresholds{
		TempC:       (tempF - 32) * 5 / 9,
		HumidityPct: getenvFloat("THRESH_HUMID", 15),
		WindMPH:     getenvFloat("THRESH_WIND", 15),
		GustMPH:     getenvFloat("THRESH_GUSTS", 20),
		SoilPct:     getenvFloat("THRESH_SOIL_MOIST", 10),
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
