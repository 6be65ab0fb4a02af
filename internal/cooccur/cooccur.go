// Package cooccur tracks pairwise track co-occurrence across playback
// contexts for collaborative-filtering signal, independent of embeddings.
package cooccur

import (
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"
)

// Context names where two tracks appeared together.
type Context string

const (
	ContextQueue    Context = "queue"
	ContextPlaylist Context = "playlist"
	ContextSession  Context = "session"
	ContextRadio    Context = "radio"
)

const (
	// maxPairs caps the store; the lowest-count pair is evicted first,
	// ties broken by oldest last-seen.
	maxPairs = 50000
	// minCount prunes pairs whose decayed count falls below it.
	minCount = 2.0
	// dailyDecay is applied per elapsed day, batched at read and
	// maintenance time rather than per write.
	dailyDecay = 0.98

	// sessionWindow and sessionMaxTracks bound the session context.
	sessionWindow    = 30 * time.Minute
	sessionMaxTracks = 20
)

// Merge weights used when combining embedding-derived and collaborative
// scores for seeded recommendations.
const (
	embeddingMergeWeight = 0.6
	cooccurMergeWeight   = 0.4
)

type pairKey struct {
	A   string  `json:"a"`
	B   string  `json:"b"`
	Ctx Context `json:"ctx"`
}

type pair struct {
	Key      pairKey   `json:"key"`
	Count    float64   `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// Pair is a co-occurring track with its decayed count.
type Pair struct {
	TrackID string  `json:"track_id"`
	Count   float64 `json:"count"`
	Context Context `json:"context"`
}

type sessionEntry struct {
	trackID string
	at      time.Time
}

// Matrix owns all co-occurrence pairs and the rolling session windows that
// feed the session context.
type Matrix struct {
	mu        sync.Mutex
	pairs     map[pairKey]*pair
	sessions  map[string][]sessionEntry // keyed by user/session id
	lastDecay time.Time
	now       func() time.Time
}

// NewMatrix creates an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{
		pairs:     make(map[pairKey]*pair),
		sessions:  make(map[string][]sessionEntry),
		lastDecay: time.Now(),
		now:       time.Now,
	}
}

// SetClock overrides the time source and re-anchors the decay clock, for
// tests.
func (m *Matrix) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	if now().Before(m.lastDecay) {
		m.lastDecay = now()
	}
	m.mu.Unlock()
}

func orderedKey(a, b string, ctx Context) pairKey {
	if b < a {
		a, b = b, a
	}
	return pairKey{A: a, B: b, Ctx: ctx}
}

// Record increments the symmetric pair counter for two tracks seen together
// in a context.
func (m *Matrix) Record(trackA, trackB string, ctx Context) {
	if trackA == "" || trackB == "" || trackA == trackB {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordLocked(trackA, trackB, ctx)
}

func (m *Matrix) recordLocked(trackA, trackB string, ctx Context) {
	key := orderedKey(trackA, trackB, ctx)
	if p, ok := m.pairs[key]; ok {
		p.Count++
		p.LastSeen = m.now()
		return
	}

	if len(m.pairs) >= maxPairs {
		m.evictLocked()
	}
	m.pairs[key] = &pair{Key: key, Count: 1, LastSeen: m.now()}
}

// RecordSessionPlay adds a play to the session keyed by sessionID and
// records session co-occurrences with every track still inside the window.
func (m *Matrix) RecordSessionPlay(sessionID, trackID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := m.sessions[sessionID]

	// Drop entries outside the 30-minute window.
	cutoff := at.Add(-sessionWindow)
	kept := window[:0]
	for _, e := range window {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}

	for _, e := range kept {
		m.recordLocked(trackID, e.trackID, ContextSession)
	}

	kept = append(kept, sessionEntry{trackID: trackID, at: at})
	if len(kept) > sessionMaxTracks {
		kept = kept[len(kept)-sessionMaxTracks:]
	}
	m.sessions[sessionID] = kept
}

// GetCoOccurring returns the top tracks co-occurring with trackID by decayed
// count. An empty ctx matches all contexts (counts summed per track).
func (m *Matrix) GetCoOccurring(trackID string, ctx Context, limit int) []Pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.maybeDecayLocked()

	totals := make(map[string]float64)
	for key, p := range m.pairs {
		if ctx != "" && key.Ctx != ctx {
			continue
		}
		switch trackID {
		case key.A:
			totals[key.B] += p.Count
		case key.B:
			totals[key.A] += p.Count
		}
	}

	out := make([]Pair, 0, len(totals))
	for id, count := range totals {
		out = append(out, Pair{TrackID: id, Count: count, Context: ctx})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].TrackID < out[j].TrackID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of stored pairs.
func (m *Matrix) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pairs)
}

// Maintain applies pending decay and pruning. Also run lazily on reads.
func (m *Matrix) Maintain() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeDecayLocked()
}

// maybeDecayLocked multiplies every count by 0.98 per elapsed day since the
// last decay pass, then prunes pairs below the minimum count. Decay is
// continuous in elapsed time, consistent with taste-profile recency decay.
func (m *Matrix) maybeDecayLocked() {
	elapsed := m.now().Sub(m.lastDecay)
	if elapsed < 24*time.Hour {
		return
	}

	factor := math.Pow(dailyDecay, elapsed.Hours()/24.0)
	for key, p := range m.pairs {
		p.Count *= factor
		if p.Count < minCount {
			delete(m.pairs, key)
		}
	}
	m.lastDecay = m.now()
}

// evictLocked removes the lowest-count pair, ties broken by oldest
// last-seen.
func (m *Matrix) evictLocked() {
	var victim pairKey
	first := true
	for key, p := range m.pairs {
		if first {
			victim, first = key, false
			continue
		}
		v := m.pairs[victim]
		if p.Count < v.Count || (p.Count == v.Count && p.LastSeen.Before(v.LastSeen)) {
			victim = key
		}
	}
	if !first {
		delete(m.pairs, victim)
	}
}

// MergeScores combines embedding-derived and collaborative candidate scores
// for seeded recommendations: 60% embedding, 40% collaborative, plus a
// +log(score)·0.1 bonus for candidates present in both result sets.
func MergeScores(embScores, coScores map[string]float64) map[string]float64 {
	merged := make(map[string]float64, len(embScores)+len(coScores))

	for id, s := range embScores {
		merged[id] = s * embeddingMergeWeight
	}
	for id, s := range coScores {
		merged[id] += s * cooccurMergeWeight
	}
	for id, s := range merged {
		_, inEmb := embScores[id]
		_, inCo := coScores[id]
		if inEmb && inCo && s > 0 {
			merged[id] = s + math.Log(s)*0.1
		}
	}
	return merged
}

type snapshot struct {
	Pairs     []*pair   `json:"pairs"`
	LastDecay time.Time `json:"last_decay"`
}

// Snapshot serializes the pair store. Session windows are transient and not
// persisted.
func (m *Matrix) Snapshot() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := snapshot{LastDecay: m.lastDecay, Pairs: make([]*pair, 0, len(m.pairs))}
	for _, p := range m.pairs {
		s.Pairs = append(s.Pairs, p)
	}
	return json.Marshal(s)
}

// Restore replaces the pair store from a snapshot; corrupt data resets to
// empty state.
func (m *Matrix) Restore(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		m.mu.Lock()
		m.pairs = make(map[pairKey]*pair)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.pairs = make(map[pairKey]*pair, len(s.Pairs))
	for _, p := range s.Pairs {
		m.pairs[p.Key] = p
	}
	if !s.LastDecay.IsZero() {
		m.lastDecay = s.LastDecay
	}
	m.mu.Unlock()
	return nil
}
