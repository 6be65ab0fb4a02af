// Package engine is the facade over the recommendation subsystems: it owns
// wiring, the event ingestion path and state persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resoundfm/resound/internal/config"
	"github.com/resoundfm/resound/internal/cooccur"
	"github.com/resoundfm/resound/internal/embedding"
	"github.com/resoundfm/resound/internal/logger"
	"github.com/resoundfm/resound/internal/metrics"
	"github.com/resoundfm/resound/internal/models"
	"github.com/resoundfm/resound/internal/prefs"
	"github.com/resoundfm/resound/internal/providers"
	"github.com/resoundfm/resound/internal/queue"
	"github.com/resoundfm/resound/internal/scoring"
	"github.com/resoundfm/resound/internal/search"
	"github.com/resoundfm/resound/internal/storage"
	"github.com/resoundfm/resound/internal/taste"
	"github.com/resoundfm/resound/internal/vectorindex"
)

// Snapshot state keys.
const (
	stateKeyTaste   = "state:taste"
	stateKeyPrefs   = "state:prefs"
	stateKeyCoOccur = "state:cooccur"
)

// ErrTrackNotFound wraps a library miss on the event path.
var ErrTrackNotFound = errors.New("engine: track not found")

// Engine composes the subsystems and serializes per-user mutation.
type Engine struct {
	Library   *storage.DB
	Index     *vectorindex.Index
	Embedder  *embedding.Engine
	Taste     *taste.Manager
	CoOccur   *cooccur.Matrix
	Prefs     *prefs.Store
	Scorer    *scoring.Engine
	Providers *providers.Registry
	Search    *search.Client
	Queue     *queue.Controller
	Metrics   *metrics.Metrics

	state storage.Adapter

	// Per-user mutation lock. Reads take no user lock; subsystems guard
	// themselves internally.
	userLocks sync.Map
}

// New wires an engine from configuration. search and provider backends are
// optional; missing ones leave their candidate sources empty.
func New(cfg *config.Config, db *storage.DB, state storage.Adapter, rng *rand.Rand) (*Engine, error) {
	idxCfg := vectorindex.Config{
		Dim:                 cfg.EmbeddingDim,
		Capacity:            cfg.IndexCapacity,
		BruteForceThreshold: cfg.BruteForceThreshold,
		EFConstruction:      cfg.EFConstruction,
		EFSearch:            cfg.EFSearch,
		MMax:                cfg.MMax,
		MMax0:               cfg.MMax0,
	}

	prefStore := prefs.NewStore()

	e := &Engine{
		Library:   db,
		Index:     vectorindex.New(idxCfg, rng),
		Embedder:  embedding.NewEngine(),
		Taste:     taste.NewManager(),
		CoOccur:   cooccur.NewMatrix(),
		Prefs:     prefStore,
		Scorer:    scoring.NewEngine(prefStore, rng),
		Providers: providers.NewRegistry(),
		Metrics:   metrics.Get(),
		state:     state,
	}

	if cfg.ElasticsearchURL != "" {
		es, err := search.NewClient(cfg.ElasticsearchURL)
		if err != nil {
			return nil, fmt.Errorf("search client: %w", err)
		}
		e.Search = es
	}

	if cfg.ProviderURL != "" {
		p := providers.NewHTTPProvider("resound-ml", cfg.ProviderURL, cfg.ProviderAPIKey, cfg.ProviderTimeout, []providers.Capability{
			providers.CapabilitySimilar,
			providers.CapabilityAudioFeatures,
			providers.CapabilityRecommend,
			providers.CapabilityScore,
		})
		if err := e.Providers.Register(p); err != nil {
			return nil, err
		}
	}

	e.Queue = queue.New(queue.Deps{
		Library:   db,
		Index:     e.Index,
		Embedder:  e.Embedder,
		Taste:     e.Taste,
		CoOccur:   e.CoOccur,
		Prefs:     e.Prefs,
		Scorer:    e.Scorer,
		Providers: e.Providers,
		Search:    e.Search,
		Metrics:   e.Metrics,
	}, queue.Config{
		ReplenishThreshold: cfg.ReplenishThreshold,
		Cooldown:           cfg.ReplenishCooldown,
		MaxPerArtist:       cfg.MaxPerArtist,
		SeedWeight:         cfg.RadioSeedWeight,
	})

	return e, nil
}

func (e *Engine) userLock(userID string) *sync.Mutex {
	mu, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// AddTrack stores a track, embeds it and adds it to the vector index and the
// search backend. Unembeddable tracks are stored but stay out of the index.
func (e *Engine) AddTrack(ctx context.Context, track *models.Track) error {
	if track.Features == nil {
		track.Features = e.fetchAudioFeatures(ctx, track.ID)
	}

	if err := e.Library.SaveTrack(ctx, track); err != nil {
		return err
	}

	emb, err := e.Embedder.Embed(track)
	if err != nil {
		if errors.Is(err, embedding.ErrUnembeddable) {
			logger.Log.Debug("Track stored without embedding", logger.WithTrackID(track.ID))
			return nil
		}
		return err
	}

	if !e.Index.Contains(track.ID) {
		if err := e.Index.Insert(track.ID, emb.Vector); err != nil {
			logger.Log.Warn("Index insert failed", logger.WithTrackID(track.ID), zap.Error(err))
		} else {
			e.Metrics.SetIndexSize(e.Index.Len())
		}
	}

	if e.Search != nil {
		if err := e.Search.IndexTrack(ctx, track); err != nil {
			// Search indexing is best effort; the track is still queryable
			// through the vector index.
			logger.Log.Warn("Search index failed", logger.WithTrackID(track.ID), zap.Error(err))
		}
	}
	return nil
}

// fetchAudioFeatures asks feature providers for a track's audio analysis.
// Providers without data, or failing ones, leave the track feature-less.
func (e *Engine) fetchAudioFeatures(ctx context.Context, trackID string) *models.AudioFeatures {
	for _, p := range e.Providers.With(providers.CapabilityAudioFeatures) {
		features, err := p.GetAudioFeatures(ctx, trackID)
		if err != nil {
			logger.Log.Debug("Audio features lookup failed",
				logger.WithTrackID(trackID), logger.WithSource(p.Name()), zap.Error(err))
			continue
		}
		if features != nil {
			return features
		}
	}
	return nil
}

// RecordEvent ingests one user interaction: taste profile, preference
// affinities, co-occurrence and engagement counters all advance here.
func (e *Engine) RecordEvent(ctx context.Context, event *models.UserEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	track, err := e.Library.GetTrack(ctx, event.TrackID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTrackNotFound, event.TrackID)
		}
		return err
	}

	mu := e.userLock(event.UserID)
	mu.Lock()
	defer mu.Unlock()

	emb, embErr := e.Embedder.Embed(track)
	if embErr == nil {
		e.Taste.RecordInteraction(event.UserID, emb, event, track.Duration)
		if !e.Index.Contains(track.ID) {
			if err := e.Index.Insert(track.ID, emb.Vector); err == nil {
				e.Metrics.SetIndexSize(e.Index.Len())
			}
		}
	} else if !errors.Is(embErr, embedding.ErrUnembeddable) {
		logger.Log.Warn("Embedding failed on event path",
			logger.WithTrackID(track.ID), zap.Error(embErr))
	}

	e.Prefs.RecordEvent(event.UserID, track, event)

	switch event.Type {
	case models.EventListen:
		e.Queue.RecordPlay(event.UserID, track, event.Timestamp)
		if err := e.Library.IncrementPlayCount(ctx, track.ID); err != nil {
			logger.Log.Warn("Play count update failed", logger.WithTrackID(track.ID), zap.Error(err))
		}
	case models.EventLike:
		if err := e.Library.IncrementLikeCount(ctx, track.ID); err != nil {
			logger.Log.Warn("Like count update failed", logger.WithTrackID(track.ID), zap.Error(err))
		}
	}

	e.CoOccur.Maintain()
	e.Metrics.EventRecorded(string(event.Type))

	logger.Log.Debug("Event recorded",
		logger.WithUserID(event.UserID),
		logger.WithTrackID(event.TrackID),
		zap.String("type", string(event.Type)))
	return nil
}

// RecordPlaylistPair notes two tracks placed together on a playlist, which
// feeds the co-occurrence matrix outside the session path.
func (e *Engine) RecordPlaylistPair(trackA, trackB string) {
	e.CoOccur.Record(trackA, trackB, cooccur.ContextPlaylist)
}

// SimilarTracks returns index neighbors of a track, resolved to full tracks.
func (e *Engine) SimilarTracks(ctx context.Context, trackID string, limit int) ([]models.ScoredTrack, error) {
	track, err := e.Library.GetTrack(ctx, trackID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTrackNotFound, trackID)
		}
		return nil, err
	}

	emb, err := e.Embedder.Embed(track)
	if err != nil {
		return nil, err
	}

	hits, err := e.Index.Search(emb.Vector, limit+1, nil)
	if err != nil {
		return nil, err
	}

	out := make([]models.ScoredTrack, 0, limit)
	for _, h := range hits {
		if h.ID == trackID {
			continue
		}
		t, err := e.Library.GetTrack(ctx, h.ID)
		if err != nil {
			continue
		}
		out = append(out, models.ScoredTrack{
			Track: *t,
			Score: h.Score * 100,
			Source: models.QueueSource{
				Type:        models.SourceSimilar,
				Label:       "Similar to " + track.Title,
				Score:       h.Score * 100,
				SeedTrackID: trackID,
			},
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ProfileSummary is the introspection view of a user's learned state.
type ProfileSummary struct {
	UserID       string   `json:"user_id"`
	Valid        bool     `json:"valid"`
	SampleCount  int      `json:"sample_count"`
	LikedGenres  []string `json:"liked_genres"`
	QueueMode    string   `json:"queue_mode"`
	IndexedItems int      `json:"indexed_items"`
}

// Profile returns a summary of what the engine has learned about a user.
func (e *Engine) Profile(userID string) ProfileSummary {
	return ProfileSummary{
		UserID:       userID,
		Valid:        e.Taste.Valid(userID),
		SampleCount:  e.Taste.SampleCount(userID),
		LikedGenres:  e.Prefs.LikedGenres(userID),
		QueueMode:    string(e.Queue.Mode(userID)),
		IndexedItems: e.Index.Len(),
	}
}

// SaveState persists learned state (taste, preferences, co-occurrence)
// through the state adapter. Track data lives in the library and is not
// part of the snapshot.
func (e *Engine) SaveState(ctx context.Context) error {
	parts := []struct {
		key  string
		snap func() ([]byte, error)
	}{
		{stateKeyTaste, e.Taste.Snapshot},
		{stateKeyPrefs, e.Prefs.Snapshot},
		{stateKeyCoOccur, e.CoOccur.Snapshot},
	}

	for _, p := range parts {
		data, err := p.snap()
		if err != nil {
			return fmt.Errorf("snapshot %s: %w", p.key, err)
		}
		if err := e.state.Set(ctx, p.key, data); err != nil {
			return fmt.Errorf("persist %s: %w", p.key, err)
		}
	}

	logger.Log.Info("Engine state saved")
	return nil
}

// LoadState restores learned state. A missing key is a fresh start; a
// corrupt payload resets that subsystem and keeps going.
func (e *Engine) LoadState(ctx context.Context) error {
	parts := []struct {
		key     string
		restore func([]byte) error
	}{
		{stateKeyTaste, e.Taste.Restore},
		{stateKeyPrefs, e.Prefs.Restore},
		{stateKeyCoOccur, e.CoOccur.Restore},
	}

	for _, p := range parts {
		data, err := e.state.Get(ctx, p.key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return fmt.Errorf("load %s: %w", p.key, err)
		}
		if err := p.restore(data); err != nil {
			logger.Log.Warn("Corrupt state discarded", zap.String("key", p.key), zap.Error(err))
		}
	}
	return nil
}

// RebuildIndex embeds every library track into a fresh vector index. Used at
// startup since the index itself is not persisted.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	tracks, err := e.Library.ListTracks(ctx, 0)
	if err != nil {
		return err
	}

	indexed := 0
	for i := range tracks {
		emb, err := e.Embedder.Embed(&tracks[i])
		if err != nil {
			continue
		}
		if err := e.Index.Insert(tracks[i].ID, emb.Vector); err != nil {
			return fmt.Errorf("index rebuild at %s: %w", tracks[i].ID, err)
		}
		indexed++
	}

	e.Metrics.SetIndexSize(e.Index.Len())
	logger.Log.Info("Vector index rebuilt",
		zap.Int("tracks", len(tracks)),
		zap.Int("indexed", indexed))
	return nil
}
