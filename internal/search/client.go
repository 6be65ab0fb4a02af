// Package search wraps Elasticsearch for smart-search candidate queries.
// The engine tolerates a missing search backend: a nil *Client is valid and
// returns empty results.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v9"

	"github.com/resoundfm/resound/internal/models"
)

// IndexTracks is the track search index name.
const IndexTracks = "tracks"

// Client wraps the Elasticsearch client with track-specific functionality.
type Client struct {
	es *elasticsearch.Client
}

// NewClient connects to the Elasticsearch instance at esURL.
func NewClient(esURL string) (*Client, error) {
	if esURL == "" {
		esURL = "http://localhost:9200"
	}

	cfg := elasticsearch.Config{
		Addresses: []string{esURL},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	if _, err := es.Info(); err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}

	return &Client{es: es}, nil
}

// trackToDoc converts a track to its search document.
func trackToDoc(track *models.Track) map[string]interface{} {
	doc := map[string]interface{}{
		"id":      track.ID,
		"title":   track.Title,
		"artists": []string(track.Artists),
		"genres":  []string(track.Genres),
		"moods":   []string(track.Moods),
	}
	if f := track.Features; f != nil {
		doc["bpm"] = f.BPM
		doc["key"] = f.Key
		doc["energy"] = f.Energy
	}
	return doc
}

// IndexTrack indexes a track document so smart-search queries can find it.
func (c *Client) IndexTrack(ctx context.Context, track *models.Track) error {
	if c == nil {
		return nil
	}

	body, err := json.Marshal(trackToDoc(track))
	if err != nil {
		return fmt.Errorf("failed to marshal track document: %w", err)
	}

	res, err := c.es.Index(IndexTracks, bytes.NewReader(body),
		c.es.Index.WithDocumentID(track.ID),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index track: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("error indexing track: [%s]", res.Status())
	}
	return nil
}

// SearchTracks runs a smart-search query across title, artists, genres and
// moods, returning matching track ids best-first.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]string, error) {
	if c == nil || query == "" {
		return nil, nil
	}

	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"title^2", "artists", "genres", "moods"},
				"fuzziness": "AUTO",
			},
		},
	}

	queryJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(IndexTracks),
		c.es.Search.WithBody(bytes.NewReader(queryJSON)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("error searching tracks: [%s]", res.Status())
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				ID string `json:"_id"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	ids := make([]string, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}
