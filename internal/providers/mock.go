package providers

import (
	"context"

	"github.com/resoundfm/resound/internal/models"
)

// Mock is a configurable in-memory provider for tests.
type Mock struct {
	ProviderName string
	Caps         []Capability

	Similar  map[string][]string
	Features map[string]*models.AudioFeatures
	Recs     map[string][]string
	Scores   map[string]float64
	Err      error
}

// NewMock creates a mock declaring the given capabilities.
func NewMock(name string, caps ...Capability) *Mock {
	return &Mock{
		ProviderName: name,
		Caps:         caps,
		Similar:      make(map[string][]string),
		Features:     make(map[string]*models.AudioFeatures),
		Recs:         make(map[string][]string),
		Scores:       make(map[string]float64),
	}
}

func (m *Mock) Name() string               { return m.ProviderName }
func (m *Mock) Capabilities() []Capability { return m.Caps }

func (m *Mock) GetSimilarTracks(ctx context.Context, trackID string, limit int) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	ids := m.Similar[trackID]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Mock) GetAudioFeatures(ctx context.Context, trackID string) (*models.AudioFeatures, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Features[trackID], nil
}

func (m *Mock) GetRecommendations(ctx context.Context, userID string, limit int) ([]string, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	ids := m.Recs[userID]
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Mock) ScoreTrack(ctx context.Context, userID, trackID string) (float64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return m.Scores[trackID], nil
}
