package embedding

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"github.com/resoundfm/resound/internal/models"
	"github.com/resoundfm/resound/internal/musickey"
)

// ErrUnembeddable is returned for tracks with no audio features, genres or
// moods. Such tracks must be excluded from indexing and embedding-based
// scoring rather than silently normalized.
var ErrUnembeddable = errors.New("embedding: track has no usable sources")

// Source confidence weights. Mood confidence varies with tag coverage.
const (
	audioConfidence = 0.8
	genreConfidence = 0.6
)

// goldenRatio drives the irrational dimension spacing that decorrelates
// audio-feature regions across the vector.
const goldenRatio = 1.618033988749895

// Confidence records how much each source contributed to an embedding.
type Confidence struct {
	Audio float64 `json:"audio"`
	Genre float64 `json:"genre"`
	Mood  float64 `json:"mood"`
}

// TrackEmbedding is a unit-length vector representation of a track.
type TrackEmbedding struct {
	TrackID    string     `json:"track_id"`
	Vector     []float64  `json:"vector"`
	Confidence Confidence `json:"confidence"`
}

// Engine builds and caches track embeddings. Embeddings are created on first
// request and invalidated when source audio features change (the cache key
// fingerprints the sources).
type Engine struct {
	mu    sync.RWMutex
	cache map[string]cachedEmbedding
}

type cachedEmbedding struct {
	fingerprint uint64
	emb         *TrackEmbedding
}

// NewEngine creates an embedding engine with an empty cache.
func NewEngine() *Engine {
	return &Engine{cache: make(map[string]cachedEmbedding)}
}

// Embed returns the embedding for track, building it on first request.
// Returns ErrUnembeddable when no source contributes.
func (e *Engine) Embed(track *models.Track) (*TrackEmbedding, error) {
	fp := sourceFingerprint(track)

	e.mu.RLock()
	if c, ok := e.cache[track.ID]; ok && c.fingerprint == fp {
		e.mu.RUnlock()
		return c.emb, nil
	}
	e.mu.RUnlock()

	emb, err := build(track)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[track.ID] = cachedEmbedding{fingerprint: fp, emb: emb}
	e.mu.Unlock()

	return emb, nil
}

// Invalidate drops a cached embedding, forcing a rebuild on next request.
func (e *Engine) Invalidate(trackID string) {
	e.mu.Lock()
	delete(e.cache, trackID)
	e.mu.Unlock()
}

// CacheSize reports how many embeddings are currently cached.
func (e *Engine) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// build constructs the embedding from audio features, genre tags and mood
// tags, each weighted by its source confidence, then L2-normalizes.
func build(track *models.Track) (*TrackEmbedding, error) {
	vec := make([]float64, Dim)
	conf := Confidence{}

	if fv := ExtractFeatures(track); fv.HasAudio {
		audio := audioVector(fv)
		Scale(audio, audioConfidence)
		Add(vec, audio)
		conf.Audio = audioConfidence
	}

	if len(track.Genres) > 0 {
		genre := tagVector("genre", track.Genres)
		Scale(genre, genreConfidence)
		Add(vec, genre)
		conf.Genre = genreConfidence
	}

	if len(track.Moods) > 0 {
		// Mood tagging is noisier than genre; confidence grows with coverage.
		mc := moodConfidence(len(track.Moods))
		mood := tagVector("mood", track.Moods)
		Scale(mood, mc)
		Add(vec, mood)
		conf.Mood = mc
	}

	if !Normalize(vec) {
		return nil, fmt.Errorf("%w: track %s", ErrUnembeddable, track.ID)
	}

	return &TrackEmbedding{TrackID: track.ID, Vector: vec, Confidence: conf}, nil
}

// hasSignal reports whether the feature snapshot carries any information.
func hasSignal(f *models.AudioFeatures) bool {
	return f.Energy != 0 || f.Valence != 0 || f.Danceability != 0 || f.BPM != 0 || f.Key != ""
}

func moodConfidence(tags int) float64 {
	if tags > 3 {
		tags = 3
	}
	return 0.3 + 0.1*float64(tags)
}

// audioVector maps each extracted audio feature to a distinct region of the
// vector using golden-ratio spacing, plus second-order interaction terms in
// their own dimensions.
func audioVector(fv FeatureVector) []float64 {
	vec := make([]float64, Dim)

	features := []float64{
		fv.Energy,
		fv.Valence,
		fv.Danceability,
		fv.BPMNorm,
		fv.KeyPos,
		// Interaction terms occupy their own regions so the index can
		// separate "energetic and happy" from the two signals alone.
		fv.Energy * fv.Valence,
		fv.Danceability * fv.BPMNorm,
	}

	for i, value := range features {
		spread(vec, i, value)
	}

	return vec
}

// spread writes a feature value into a region of the vector chosen by
// golden-ratio spacing. Each feature touches a small window of dimensions so
// that nearby features stay decorrelated.
func spread(vec []float64, featureIdx int, value float64) {
	const window = 8

	offset := math.Mod(float64(featureIdx)*goldenRatio, 1.0)
	start := int(offset * Dim)

	for j := 0; j < window; j++ {
		dim := (start + j) % Dim
		// Taper contribution across the window.
		weight := 1.0 - float64(j)/window
		vec[dim] += value * weight
	}
}

// tagVector expands tags into the full dimensionality via a deterministic
// per-tag base vector, averaged so tag count does not inflate magnitude.
func tagVector(kind string, tags []string) []float64 {
	vec := make([]float64, Dim)
	for _, tag := range tags {
		base := baseVector(kind + ":" + tag)
		Add(vec, base)
	}
	Scale(vec, 1.0/float64(len(tags)))
	return vec
}

// baseVector derives a fixed pseudo-random unit vector from a tag name. The
// same tag always yields the same vector, on any platform.
func baseVector(name string) []float64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	state := h.Sum64()

	vec := make([]float64, Dim)
	for i := range vec {
		// xorshift64 chain keyed by the tag hash
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		vec[i] = float64(int64(state)) / math.MaxInt64
	}
	Normalize(vec)
	return vec
}

// sourceFingerprint hashes the embedding sources so cached vectors are
// rebuilt when features, genres or moods change.
func sourceFingerprint(track *models.Track) uint64 {
	h := fnv.New64a()
	if f := track.Features; f != nil {
		fmt.Fprintf(h, "%g|%g|%g|%g|%s", f.Energy, f.Valence, f.Danceability, f.BPM, f.Key)
	}
	for _, g := range track.Genres {
		h.Write([]byte("|g:" + g))
	}
	for _, m := range track.Moods {
		h.Write([]byte("|m:" + m))
	}
	return h.Sum64()
}

// keyPosition maps a musical key name onto [0,1] by its circle-of-fifths
// position, so harmonically close keys land near each other.
func keyPosition(key string) float64 {
	pos, ok := musickey.Position(key)
	if !ok {
		return 0
	}
	return float64(pos) / 12.0
}
