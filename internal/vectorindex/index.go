// Package vectorindex provides approximate nearest-neighbor retrieval over
// track embeddings by cosine similarity, using an HNSW graph with an exact
// brute-force fallback for small corpora.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// ErrCapacityExceeded is returned when an insert would grow the index past
// its configured capacity. The existing index remains usable.
var ErrCapacityExceeded = errors.New("vectorindex: capacity exceeded")

// ErrDimensionMismatch is returned when a vector's length differs from the
// index dimensionality.
var ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")

// ErrDuplicateID is returned when a track id is inserted twice.
var ErrDuplicateID = errors.New("vectorindex: id already indexed")

// State describes the index lifecycle.
type State string

const (
	// StateEmpty means no vectors have been indexed.
	StateEmpty State = "empty"
	// StateBuilding means the corpus is below the brute-force threshold;
	// searches run as exact scans while the graph accumulates.
	StateBuilding State = "building"
	// StateReady means searches are served from the HNSW graph.
	StateReady State = "ready"
)

// Config holds the HNSW construction parameters.
type Config struct {
	Dim                 int
	EFConstruction      int
	EFSearch            int
	MMax                int // max neighbors on non-base layers
	MMax0               int // max neighbors on the base layer
	Capacity            int
	BruteForceThreshold int
}

// DefaultConfig returns the production configuration.
func DefaultConfig(dim int) Config {
	return Config{
		Dim:                 dim,
		EFConstruction:      200,
		EFSearch:            50,
		MMax:                16,
		MMax0:               32,
		Capacity:            100000,
		BruteForceThreshold: 1000,
	}
}

// Candidate is a search result: a track id with its cosine similarity to the
// query.
type Candidate struct {
	ID    string
	Score float64
}

type node struct {
	id        string
	vec       []float64
	level     int
	order     int     // insertion order, used for deterministic tie-breaks
	neighbors [][]int // per-layer neighbor node indices
}

// Index is an HNSW graph over unit vectors. Inserts are serialized by a
// write lock; searches run concurrently against a stable structure.
type Index struct {
	mu  sync.RWMutex
	cfg Config
	rng *rand.Rand
	mL  float64

	nodes    []*node
	byID     map[string]int
	entry    int // index into nodes, -1 when empty
	maxLevel int
}

// New creates an empty index. rng drives level assignment; pass a seeded
// source for reproducible graphs.
func New(cfg Config, rng *rand.Rand) *Index {
	return &Index{
		cfg:   cfg,
		rng:   rng,
		mL:    1.0 / math.Log(float64(cfg.MMax)),
		byID:  make(map[string]int),
		entry: -1,
	}
}

// Len returns the number of indexed vectors.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// State reports the index lifecycle state.
func (ix *Index) State() State {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	switch {
	case len(ix.nodes) == 0:
		return StateEmpty
	case len(ix.nodes) < ix.cfg.BruteForceThreshold:
		return StateBuilding
	default:
		return StateReady
	}
}

// Contains reports whether a track id is indexed.
func (ix *Index) Contains(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.byID[id]
	return ok
}

// Insert adds a vector under id. The graph is linked greedily per layer,
// top-down, with at most MMax (MMax0 at the base layer) neighbors per node.
func (ix *Index) Insert(id string, vec []float64) error {
	if len(vec) != ix.cfg.Dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), ix.cfg.Dim)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byID[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if len(ix.nodes) >= ix.cfg.Capacity {
		return ErrCapacityExceeded
	}

	level := ix.assignLevel()
	n := &node{
		id:        id,
		vec:       vec,
		level:     level,
		order:     len(ix.nodes),
		neighbors: make([][]int, level+1),
	}
	idx := len(ix.nodes)
	ix.nodes = append(ix.nodes, n)
	ix.byID[id] = idx

	if ix.entry < 0 {
		ix.entry = idx
		ix.maxLevel = level
		return nil
	}

	ep := ix.entry

	// Greedy descent through layers above the new node's level.
	for layer := ix.maxLevel; layer > level; layer-- {
		ep = ix.greedyClosest(vec, ep, layer)
	}

	// Link into each layer from min(level, maxLevel) down to 0.
	top := level
	if top > ix.maxLevel {
		top = ix.maxLevel
	}
	for layer := top; layer >= 0; layer-- {
		found := ix.searchLayer(vec, ep, ix.cfg.EFConstruction, layer)

		m := ix.cfg.MMax
		if layer == 0 {
			m = ix.cfg.MMax0
		}
		if len(found) > m {
			found = found[:m]
		}

		for _, f := range found {
			n.neighbors[layer] = append(n.neighbors[layer], f.idx)
			ix.nodes[f.idx].neighbors[layer] = append(ix.nodes[f.idx].neighbors[layer], idx)
			ix.shrinkNeighbors(f.idx, layer)
		}

		if len(found) > 0 {
			ep = found[0].idx
		}
	}

	if level > ix.maxLevel {
		ix.maxLevel = level
		ix.entry = idx
	}

	return nil
}

// Search returns the top-k ids by cosine similarity to query, skipping any
// id present in exclude. Below the brute-force threshold results are exact.
// Ties are broken by insertion order, earliest first, so repeated queries
// are deterministic.
func (ix *Index) Search(query []float64, k int, exclude map[string]bool) ([]Candidate, error) {
	if len(query) != ix.cfg.Dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), ix.cfg.Dim)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.nodes) == 0 || k <= 0 {
		return nil, nil
	}

	if len(ix.nodes) < ix.cfg.BruteForceThreshold {
		return ix.bruteForce(query, k, exclude), nil
	}

	// Greedy descent from the top layer to layer 1.
	ep := ix.entry
	for layer := ix.maxLevel; layer > 0; layer-- {
		ep = ix.greedyClosest(query, ep, layer)
	}

	ef := ix.cfg.EFSearch
	if ef < k {
		ef = k
	}
	found := ix.searchLayer(query, ep, ef, 0)

	out := make([]Candidate, 0, k)
	for _, f := range found {
		n := ix.nodes[f.idx]
		if exclude[n.id] {
			continue
		}
		out = append(out, Candidate{ID: n.id, Score: 1 - f.dist})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// levelCap bounds assigned layers. The exponential draw cannot reach it
// through ordinary randomness; it guards the allocation that follows.
const levelCap = 32

// assignLevel draws a layer from the standard exponential distribution.
// Float64 can return exactly 0, which the log cannot take.
func (ix *Index) assignLevel() int {
	r := ix.rng.Float64()
	for r == 0 {
		r = ix.rng.Float64()
	}
	level := int(math.Floor(-math.Log(r) * ix.mL))
	if level > levelCap {
		level = levelCap
	}
	return level
}

// distance converts cosine similarity to a distance in [0, 2].
func distance(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 2
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return 1 - sim
}

type scored struct {
	idx  int
	dist float64
}

// less orders candidates by distance, then by insertion order so equal
// distances resolve identically on every query.
func (ix *Index) less(a, b scored) bool {
	if a.dist != b.dist {
		return a.dist < b.dist
	}
	return ix.nodes[a.idx].order < ix.nodes[b.idx].order
}

// greedyClosest walks a single layer toward the query, one best-neighbor
// step at a time.
func (ix *Index) greedyClosest(query []float64, ep, layer int) int {
	cur := ep
	curDist := distance(query, ix.nodes[cur].vec)

	for {
		improved := false
		for _, nb := range ix.nodes[cur].neighbors[layer] {
			d := distance(query, ix.nodes[nb].vec)
			if d < curDist {
				cur, curDist = nb, d
				improved = true
			}
		}
		if !improved {
			return cur
		}
	}
}

// searchLayer runs a beam search of width ef over one layer, returning up to
// ef candidates sorted closest-first.
func (ix *Index) searchLayer(query []float64, ep, ef, layer int) []scored {
	visited := map[int]bool{ep: true}
	start := scored{idx: ep, dist: distance(query, ix.nodes[ep].vec)}

	// candidates: frontier to expand, closest first.
	candidates := []scored{start}
	// results: best ef found so far, farthest last.
	results := []scored{start}

	for len(candidates) > 0 {
		// Pop the closest frontier entry.
		best := 0
		for i := 1; i < len(candidates); i++ {
			if ix.less(candidates[i], candidates[best]) {
				best = i
			}
		}
		cur := candidates[best]
		candidates = append(candidates[:best], candidates[best+1:]...)

		// The frontier is exhausted when its best is farther than the
		// worst retained result.
		if len(results) >= ef && cur.dist > results[len(results)-1].dist {
			break
		}

		for _, nb := range ix.nodes[cur.idx].neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true

			d := scored{idx: nb, dist: distance(query, ix.nodes[nb].vec)}
			if len(results) < ef || ix.less(d, results[len(results)-1]) {
				candidates = append(candidates, d)
				results = insertSorted(results, d, ix.less)
				if len(results) > ef {
					results = results[:ef]
				}
			}
		}
	}

	return results
}

// insertSorted places d into the sorted slice keeping closest-first order.
func insertSorted(s []scored, d scored, less func(a, b scored) bool) []scored {
	i := sort.Search(len(s), func(i int) bool { return less(d, s[i]) })
	s = append(s, scored{})
	copy(s[i+1:], s[i:])
	s[i] = d
	return s
}

// shrinkNeighbors trims a node's neighbor list back to the per-layer limit,
// keeping the closest.
func (ix *Index) shrinkNeighbors(idx, layer int) {
	m := ix.cfg.MMax
	if layer == 0 {
		m = ix.cfg.MMax0
	}

	nbs := ix.nodes[idx].neighbors[layer]
	if len(nbs) <= m {
		return
	}

	ranked := make([]scored, len(nbs))
	for i, nb := range nbs {
		ranked[i] = scored{idx: nb, dist: distance(ix.nodes[idx].vec, ix.nodes[nb].vec)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ix.less(ranked[i], ranked[j]) })

	kept := make([]int, m)
	for i := 0; i < m; i++ {
		kept[i] = ranked[i].idx
	}
	ix.nodes[idx].neighbors[layer] = kept
}

// bruteForce scans every indexed vector exactly. Exactness matters more than
// speed at small scale; the graph's approximation error only amortizes once
// the corpus is large.
func (ix *Index) bruteForce(query []float64, k int, exclude map[string]bool) []Candidate {
	ranked := make([]scored, 0, len(ix.nodes))
	for i, n := range ix.nodes {
		if exclude[n.id] {
			continue
		}
		ranked = append(ranked, scored{idx: i, dist: distance(query, n.vec)})
	}

	sort.Slice(ranked, func(i, j int) bool { return ix.less(ranked[i], ranked[j]) })

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	out := make([]Candidate, len(ranked))
	for i, r := range ranked {
		out[i] = Candidate{ID: ix.nodes[r.idx].id, Score: 1 - r.dist}
	}
	return out
}
