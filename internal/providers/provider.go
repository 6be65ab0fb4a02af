// Package providers defines the optional external collaborators the engine
// can pull candidates, audio features and plugin scores from. The engine
// must tolerate absence or failure of any provider.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/resoundfm/resound/internal/models"
)

// Capability is an optional feature a provider declares once at
// registration. Callers check the registry instead of asking per call.
type Capability string

const (
	CapabilitySimilar       Capability = "similar-tracks"
	CapabilityAudioFeatures Capability = "audio-features"
	CapabilityRecommend     Capability = "recommendations"
	CapabilityScore         Capability = "score"
)

// ErrUnsupported is returned when a provider is asked for a capability it
// did not declare.
var ErrUnsupported = errors.New("providers: capability not supported")

// FeatureProvider is the collaborator contract. Methods for undeclared
// capabilities return ErrUnsupported.
type FeatureProvider interface {
	Name() string
	Capabilities() []Capability

	GetSimilarTracks(ctx context.Context, trackID string, limit int) ([]string, error)
	GetAudioFeatures(ctx context.Context, trackID string) (*models.AudioFeatures, error)
	GetRecommendations(ctx context.Context, userID string, limit int) ([]string, error)
	ScoreTrack(ctx context.Context, userID, trackID string) (float64, error)
}

// Registry holds registered providers bucketed by declared capability.
type Registry struct {
	mu         sync.RWMutex
	providers  []FeatureProvider
	byCapacity map[Capability][]FeatureProvider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byCapacity: make(map[Capability][]FeatureProvider)}
}

// Register adds a provider, indexing its declared capabilities.
func (r *Registry) Register(p FeatureProvider) error {
	caps := p.Capabilities()
	if len(caps) == 0 {
		return fmt.Errorf("provider %q declares no capabilities", p.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.providers = append(r.providers, p)
	for _, c := range caps {
		r.byCapacity[c] = append(r.byCapacity[c], p)
	}
	return nil
}

// With returns providers that declared the capability.
func (r *Registry) With(c Capability) []FeatureProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FeatureProvider, len(r.byCapacity[c]))
	copy(out, r.byCapacity[c])
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
