package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

// WundergroundProvider fetches per-station wind gust observations from the
// Weather Underground PWS API. Each station fails independently; a payload
// is returned as long as the provider itself is reachable.
type WundergroundProvider struct {
	name     string
	apiKey   string
	baseURL  string
	stations []string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

// NewWundergroundProvider creates a provider reading the given gust stations.
func NewWundergroundProvider(client *http.Client, apiKey string, stations []string) *WundergroundProvider {
	return &WundergroundProvider{
		name:     "wunderground",
		apiKey:   apiKey,
		baseURL:  "https://api.weather.com/v2/pws",
		stations: stations,
		httpCfg:  defaultHTTPConfig(client),
		circuit:  newCircuit("wunderground"),
	}
}

// WithBaseURL overrides the API endpoint, used by tests.
func (p *WundergroundProvider) WithBaseURL(base string) *WundergroundProvider {
	p.baseURL = base
	return p
}

func (p *WundergroundProvider) Name() string {
	return p.name
}

// Fetch returns current wind gust observations for every station that
// responds. It errors only when no station could be read at all.
func (p *WundergroundProvider) Fetch(ctx context.Context) (*weather.GustPayload, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("wunderground api key is not configured")
	}

	out := &weather.GustPayload{}
	var lastErr error

	for _, station := range p.stations {
		obs, err := p.fetchStation(ctx, station)
		if err != nil {
			lastErr = fmt.Errorf("station %s: %w", station, err)
			continue
		}
		out.Observations = append(out.Observations, obs)
	}

	if len(out.Observations) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func (p *WundergroundProvider) fetchStation(ctx context.Context, stationID string) (weather.GustObservation, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("stationId", stationID)
		values.Set("apiKey", p.apiKey)
		values.Set("format", "json")
		values.Set("units", "e")
		u := fmt.Sprintf("%s/observations/current?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.GustObservation{}, err
	}
	defer resp.Body.Close()

	var payload struct {
		Observations []struct {
			ObsTimeUtc string `json:"obsTimeUtc"`
			Imperial   struct {
				WindGust *float64 `json:"windGust"`
			} `json:"imperial"`
		} `json:"observations"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.GustObservation{}, err
	}
	if len(payload.Observations) == 0 {
		return weather.GustObservation{}, fmt.Errorf("no current observation")
	}

	current := payload.Observations[0]
	obs := weather.GustObservation{
		StationID: stationID,
		GustMPH:   current.Imperial.WindGust,
	}
	if ts, err := time.Parse(time.RFC3339, current.ObsTimeUtc); err == nil {
		obs.ObservedAt = ts
	}
	return obs, nil
}
