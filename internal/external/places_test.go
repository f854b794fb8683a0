package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sowhat82/cravemap/internal/types"
)

func newTestPlaces(t *testing.T, handler http.HandlerFunc) *PlacesClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPlacesClient(PlacesConfig{
		BaseURL: srv.URL,
		APIKey:  types.SecretString("key"),
		Timeout: time.Second,
		Logger:  discardLogger(),
	}, noSleep())
}

func TestPlacesSearch(t *testing.T) {
	c := newTestPlaces(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/place/textsearch/json", r.URL.Path)
		assert.Equal(t, "laksa in Singapore", r.URL.Query().Get("query"))
		w.Write([]byte(`{
			"status": "OK",
			"results": [
				{
					"place_id": "p1",
					"name": "Katong Laksa",
					"rating": 4.4,
					"formatted_address": "51 East Coast Rd",
					"geometry": {"location": {"lat": 1.3039, "lng": 103.9018}}
				}
			]
		}`))
	})

	venues, err := c.Search(context.Background(), "laksa", "Singapore")
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, types.VenueSummary{
		ID:      "p1",
		Name:    "Katong Laksa",
		Rating:  4.4,
		Address: "51 East Coast Rd",
		Lat:     1.3039,
		Lon:     103.9018,
	}, venues[0])
}

func TestPlacesSearch_ZeroResults(t *testing.T) {
	c := newTestPlaces(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS", "results": []}`))
	})

	venues, err := c.Search(context.Background(), "unobtainium", "nowhere")
	require.NoError(t, err)
	assert.Empty(t, venues)
}

func TestPlacesSearch_ErrorStatus(t *testing.T) {
	c := newTestPlaces(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status": "REQUEST_DENIED"}`))
	})

	_, err := c.Search(context.Background(), "laksa", "Singapore")
	assert.Error(t, err)
}

func TestPlacesReviews(t *testing.T) {
	c := newTestPlaces(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/maps/api/place/details/json", r.URL.Path)
		assert.Equal(t, "p1", r.URL.Query().Get("place_id"))
		w.Write([]byte(`{
			"status": "OK",
			"result": {
				"reviews": [
					{"author_name": "A", "rating": 5, "text": "great"}
				]
			}
		}`))
	})

	reviews, err := c.Reviews(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	assert.Equal(t, VenueReview{Author: "A", Rating: 5, Text: "great"}, reviews[0])
}
