// Package fred downloads economic time series from the St. Louis Fed's FRED graph service.
package fred

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aristath/bondladder/internal/data"
	"github.com/rs/zerolog"
)

// DefaultBaseURL serves any series as CSV without an API key.
const DefaultBaseURL = "https://fred.stlouisfed.org/graph/fredgraph.csv"

// Client for fredgraph.csv
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a new FRED client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "fred").Logger(),
	}
}

// Series fetches the observations of series id between from and to inclusive.
// Missing values are skipped.
func (c *Client) Series(ctx context.Context, id string, from, to time.Time) ([]data.Observation, error) {
	query := url.Values{}
	query.Set("id", id)
	query.Set("cosd", from.Format("2006-01-02"))
	query.Set("coed", to.Format("2006-01-02"))
	reqURL := c.baseURL + "?" + query.Encode()

	c.log.Debug().Str("url", reqURL).Msg("Fetching series")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, id)
	}

	df, err := data.ReadSeriesCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", id, err)
	}
	column := id
	if names := df.Names(); names[1] != id {
		// older exports label the value column VALUE
		column = names[1]
	}
	obs, err := data.Observations(df, column)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, err)
	}

	c.log.Info().
		Str("series", id).
		Int("observations", len(obs)).
		Msg("Fetched series")

	return obs, nil
}
