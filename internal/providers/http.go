package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/resoundfm/resound/internal/models"
)

// defaultTimeout bounds provider requests when no timeout is configured.
const defaultTimeout = 10 * time.Second

// HTTPProvider talks to a REST recommendation service. All calls share one
// request timeout; there is no other cancellation of in-flight calls.
type HTTPProvider struct {
	name    string
	baseURL string
	apiKey  string
	caps    []Capability
	client  *http.Client
}

// NewHTTPProvider creates a provider for the service at baseURL declaring
// the given capabilities. A non-positive timeout falls back to the default.
func NewHTTPProvider(name, baseURL, apiKey string, timeout time.Duration, caps []Capability) *HTTPProvider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		caps:    caps,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Timeout reports the configured per-request timeout.
func (p *HTTPProvider) Timeout() time.Duration { return p.client.Timeout }

func (p *HTTPProvider) Name() string               { return p.name }
func (p *HTTPProvider) Capabilities() []Capability { return p.caps }

func (p *HTTPProvider) has(c Capability) bool {
	for _, cc := range p.caps {
		if cc == c {
			return true
		}
	}
	return false
}

// getJSON performs a GET against the provider and decodes the response.
func (p *HTTPProvider) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider %s: status %d", p.name, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (p *HTTPProvider) GetSimilarTracks(ctx context.Context, trackID string, limit int) ([]string, error) {
	if !p.has(CapabilitySimilar) {
		return nil, ErrUnsupported
	}

	var ids []string
	endpoint := fmt.Sprintf("/api/tracks/%s/similar?n=%d", url.PathEscape(trackID), limit)
	if err := p.getJSON(ctx, endpoint, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *HTTPProvider) GetAudioFeatures(ctx context.Context, trackID string) (*models.AudioFeatures, error) {
	if !p.has(CapabilityAudioFeatures) {
		return nil, ErrUnsupported
	}

	var features models.AudioFeatures
	endpoint := fmt.Sprintf("/api/tracks/%s/features", url.PathEscape(trackID))
	if err := p.getJSON(ctx, endpoint, &features); err != nil {
		return nil, err
	}
	return &features, nil
}

func (p *HTTPProvider) GetRecommendations(ctx context.Context, userID string, limit int) ([]string, error) {
	if !p.has(CapabilityRecommend) {
		return nil, ErrUnsupported
	}

	var ids []string
	endpoint := fmt.Sprintf("/api/recommend/%s?n=%d", url.PathEscape(userID), limit)
	if err := p.getJSON(ctx, endpoint, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (p *HTTPProvider) ScoreTrack(ctx context.Context, userID, trackID string) (float64, error) {
	if !p.has(CapabilityScore) {
		return 0, ErrUnsupported
	}

	var out struct {
		Score float64 `json:"score"`
	}
	endpoint := fmt.Sprintf("/api/score/%s/%s", url.PathEscape(userID), url.PathEscape(trackID))
	if err := p.getJSON(ctx, endpoint, &out); err != nil {
		return 0, err
	}
	return out.Score, nil
}
