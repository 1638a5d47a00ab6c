package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWundergroundFetchToleratesPartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("apiKey"))
		switch r.URL.Query().Get("stationId") {
		case "KCASIERR68":
			fmt.Fprint(w, `{
				"observations": [
					{
						"obsTimeUtc": "2025-06-01T12:00:00Z",
						"imperial": {"windGust": 23.5}
					}
				]
			}`)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	p := NewWundergroundProvider(srv.Client(), "key", []string{"KCASIERR68", "KCASIERR63"}).WithBaseURL(srv.URL)
	p.httpCfg.Backoff = fastBackoff()

	payload, err := p.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, payload.Observations, 1)

	obs := payload.Observations[0]
	assert.Equal(t, "KCASIERR68", obs.StationID)
	require.NotNil(t, obs.GustMPH)
	assert.Equal(t, 23.5, *obs.GustMPH)
	assert.False(t, obs.ObservedAt.IsZero())
}

func TestWundergroundFetchAllStationsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewWundergroundProvider(srv.Client(), "key", []string{"KCASIERR68", "KCASIERR63"}).WithBaseURL(srv.URL)
	p.httpCfg.Backoff = fastBackoff()

	_, err := p.Fetch(context.Background())
	assert.Error(t, err)
}

func TestWundergroundFetchRequiresAPIKey(t *testing.T) {
	p := NewWundergroundProvider(http.DefaultClient, "", []string{"KCASIERR68"})
	_, err := p.Fetch(context.Background())
	assert.Error(t, err)
}

func TestWundergroundFetchEmptyObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"observations": []}`)
	}))
	defer srv.Close()

	p := NewWundergroundProvider(srv.Client(), "key", []string{"KCASIERR68"}).WithBaseURL(srv.URL)
	p.httpCfg.Backoff = fastBackoff()

	_, err := p.Fetch(context.Background())
	assert.ErrorContains(t, err, "no current observation")
}
