package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/overpitch/fire-risk-dashboard-sub000/internal/weather"
)

// SynopticProvider fetches temperature, humidity, wind speed and soil
// moisture from the Synoptic Data API. It performs one logical round-trip
// per Fetch: a short-lived token exchange followed by a latest-observations
// query for the configured stations. No retry policy beyond the shared
// resilience helper lives here.
type SynopticProvider struct {
	name     string
	apiKey   string
	baseURL  string
	stations []string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
}

// NewSynopticProvider creates a provider reading the given station IDs.
func NewSynopticProvider(client *http.Client, apiKey string, stations []string) *SynopticProvider {
	return &SynopticProvider{
		name:     "synoptic",
		apiKey:   apiKey,
		baseURL:  "https://api.synopticdata.com/v2",
		stations: stations,
		httpCfg:  defaultHTTPConfig(client),
		circuit:  newCircuit("synoptic"),
	}
}

// WithBaseURL overrides the API endpoint, used by tests.
func (p *SynopticProvider) WithBaseURL(base string) *SynopticProvider {
	p.baseURL = base
	return p
}

func (p *SynopticProvider) Name() string {
	return p.name
}

// Fetch returns the latest observations for the configured stations.
// Ordinary failures come back as an error; the coordinator treats them as
// "no data from this provider".
func (p *SynopticProvider) Fetch(ctx context.Context) (*weather.SynopticPayload, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("synoptic api key is not configured")
	}

	token, err := p.fetchToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching synoptic token: %w", err)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("token", token)
		values.Set("stid", strings.Join(p.stations, ","))
		values.Set("vars", "air_temp,relative_humidity,wind_speed,wind_gust,soil_moisture")
		values.Set("units", "english")
		u := fmt.Sprintf("%s/stations/latest?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Station []struct {
			STID         string `json:"STID"`
			Observations map[string]struct {
				Value    *float64 `json:"value"`
				DateTime string   `json:"date_time"`
			} `json:"OBSERVATIONS"`
		} `json:"STATION"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	out := &weather.SynopticPayload{}
	for _, st := range payload.Station {
		obs := weather.StationObservation{StationID: st.STID}

		for key, o := range st.Observations {
			if o.Value == nil {
				continue
			}
			if obs.ObservedAt.IsZero() {
				if ts, err := time.Parse(time.RFC3339, o.DateTime); err == nil {
					obs.ObservedAt = ts
				}
			}
			switch {
			case strings.HasPrefix(key, "air_temp"):
				obs.AirTempC = o.Value
			case strings.HasPrefix(key, "relative_humidity"):
				obs.RelativeHumidity = o.Value
			case strings.HasPrefix(key, "wind_speed"):
				obs.WindSpeedMPH = o.Value
			case strings.Contains(key, "soil_moisture"):
				// Prefer the 0.15m depth measurement when several depths
				// report; soil_moisture_value_1 is the station default.
				if obs.SoilMoisture == nil || strings.Contains(key, "0.15") || strings.Contains(key, "15cm") {
					obs.SoilMoisture = o.Value
				}
			}
		}

		out.Stations = append(out.Stations, obs)
	}
	return out, nil
}

// fetchToken exchanges the permanent API key for a temporary token.
func (p *SynopticProvider) fetchToken(ctx context.Context) (string, error) {
	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/auth?apikey=%s", p.baseURL, url.QueryEscape(p.apiKey))
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var payload struct {
		Token string `json:"TOKEN"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token missing in auth response")
	}
	return payload.Token, nil
}
