package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/sowhat82/cravemap/internal/types"
)

// PlacesConfig holds the configuration for creating a PlacesClient.
type PlacesConfig struct {
	BaseURL string
	APIKey  types.SecretString
	Timeout time.Duration
	Logger  *slog.Logger
}

// PlacesClient resolves free-text venue queries against a places lookup
// API (Google Places text-search shape). The entitlement core never reads
// the results; this exists so the search endpoint can return something
// useful alongside the admission decision.
type PlacesClient struct {
	base   *BaseClient
	cfg    PlacesConfig
	logger *slog.Logger
}

// NewPlacesClient creates a PlacesClient.
func NewPlacesClient(cfg PlacesConfig, opts ...BaseClientOption) *PlacesClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PlacesClient{
		base:   NewBaseClient(&http.Client{Timeout: timeout}, "places", DefaultRetryPolicy(), opts...),
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

type placesSearchResponse struct {
	Status  string `json:"status"`
	Results []struct {
		PlaceID  string  `json:"place_id"`
		Name     string  `json:"name"`
		Rating   float64 `json:"rating"`
		Address  string  `json:"formatted_address"`
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}

type placesDetailsResponse struct {
	Status string `json:"status"`
	Result struct {
		Reviews []struct {
			AuthorName string `json:"author_name"`
			Rating     int    `json:"rating"`
			Text       string `json:"text"`
		} `json:"reviews"`
		Photos []struct {
			PhotoReference string `json:"photo_reference"`
		} `json:"photos"`
	} `json:"result"`
}

// VenueReview is one review returned by the details lookup.
type VenueReview struct {
	Author string `json:"author"`
	Rating int    `json:"rating"`
	Text   string `json:"text"`
}

// Search runs a text search for venues matching the query near the given
// location string.
func (p *PlacesClient) Search(ctx context.Context, query, location string) ([]types.VenueSummary, error) {
	q := url.Values{}
	q.Set("query", query+" in "+location)
	q.Set("key", p.cfg.APIKey.Unmask())

	var out placesSearchResponse
	if err := p.get(ctx, "/maps/api/place/textsearch/json", q, &out); err != nil {
		return nil, err
	}
	if out.Status != "OK" && out.Status != "ZERO_RESULTS" {
		return nil, types.NewAppError(types.ErrCodeUpstreamPlaces,
			fmt.Sprintf("places search returned status %s", out.Status), nil)
	}

	venues := make([]types.VenueSummary, 0, len(out.Results))
	for _, r := range out.Results {
		venues = append(venues, types.VenueSummary{
			ID:      r.PlaceID,
			Name:    r.Name,
			Rating:  r.Rating,
			Address: r.Address,
			Lat:     r.Geometry.Location.Lat,
			Lon:     r.Geometry.Location.Lng,
		})
	}
	return venues, nil
}

// Reviews fetches reviews for a venue by its place ID.
func (p *PlacesClient) Reviews(ctx context.Context, venueID string) ([]VenueReview, error) {
	q := url.Values{}
	q.Set("place_id", venueID)
	q.Set("fields", "reviews,photos")
	q.Set("key", p.cfg.APIKey.Unmask())

	var out placesDetailsResponse
	if err := p.get(ctx, "/maps/api/place/details/json", q, &out); err != nil {
		return nil, err
	}
	if out.Status != "OK" {
		return nil, types.NewAppError(types.ErrCodeUpstreamPlaces,
			fmt.Sprintf("places details returned status %s", out.Status), nil)
	}

	reviews := make([]VenueReview, 0, len(out.Result.Reviews))
	for _, r := range out.Result.Reviews {
		reviews = append(reviews, VenueReview{
			Author: r.AuthorName,
			Rating: r.Rating,
			Text:   r.Text,
		})
	}
	return reviews, nil
}

func (p *PlacesClient) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build places request", err)
	}

	resp, err := p.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamPlaces, "places lookup failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamPlaces, "failed to read places response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.NewAppError(types.ErrCodeUpstreamPlaces,
			fmt.Sprintf("places endpoint returned %d", resp.StatusCode), nil)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamPlaces, "malformed places payload", err)
	}
	return nil
}
