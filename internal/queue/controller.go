// Package queue orchestrates candidate gathering, scoring and
// diversity-constrained selection for continuous playback.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/resoundfm/resound/internal/cooccur"
	"github.com/resoundfm/resound/internal/embedding"
	"github.com/resoundfm/resound/internal/logger"
	"github.com/resoundfm/resound/internal/metrics"
	"github.com/resoundfm/resound/internal/models"
	"github.com/resoundfm/resound/internal/prefs"
	"github.com/resoundfm/resound/internal/providers"
	"github.com/resoundfm/resound/internal/scoring"
	"github.com/resoundfm/resound/internal/search"
	"github.com/resoundfm/resound/internal/storage"
	"github.com/resoundfm/resound/internal/taste"
	"github.com/resoundfm/resound/internal/vectorindex"
)

// Playback modes. Auto-queue and radio are mutually exclusive; both return
// to manual when stopped.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto-queue"
	ModeRadio  Mode = "radio"
)

// ErrNoCandidates is surfaced when every source came back empty after
// filtering. It is a degraded condition, not a fatal error.
var ErrNoCandidates = errors.New("queue: no matching tracks")

// ErrRateLimited is returned when replenishment is requested again inside
// the cooldown window.
var ErrRateLimited = errors.New("queue: replenish rate limit")

// ErrRadioActive is returned when auto-queue is enabled during radio (or
// vice versa).
var ErrRadioActive = errors.New("queue: radio and auto-queue are mutually exclusive")

// Radio seed-blend drift: the seed weight starts at the configured value
// and decays per radio track played, floored so the seed never vanishes.
const (
	radioDriftStep  = 0.02
	radioWeightMin  = 0.3
	gatherBatchSize = 30
)

// Config tunes the controller.
type Config struct {
	ReplenishThreshold int
	Cooldown           time.Duration
	MaxPerArtist       int
	SeedWeight         float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ReplenishThreshold: 2,
		Cooldown:           5 * time.Second,
		MaxPerArtist:       2,
		SeedWeight:         0.7,
	}
}

// Deps are the collaborators the controller reads from. Library and the
// engine stores are required; Search may be nil and Providers may be empty.
type Deps struct {
	Library   *storage.DB
	Index     *vectorindex.Index
	Embedder  *embedding.Engine
	Taste     *taste.Manager
	CoOccur   *cooccur.Matrix
	Prefs     *prefs.Store
	Scorer    *scoring.Engine
	Providers *providers.Registry
	Search    *search.Client
	Metrics   *metrics.Metrics
}

type radioState struct {
	seed   models.RadioSeed
	weight float64
	played int
}

// userState is the per-user queue and session state. All access is guarded
// by the controller mutex.
type userState struct {
	mode        Mode
	queue       []models.ScoredTrack
	sources     map[string]models.QueueSource
	session     *SessionHistory
	radio       *radioState
	isFetching  bool
	lastFetch   time.Time
	failures    int
	lastPlayed  *models.Track
	searchCache []string // last successful smart-search result ids
}

// Controller owns session history and the queue-source provenance map, and
// drives replenishment.
type Controller struct {
	deps Deps
	cfg  Config
	now  func() time.Time

	mu    sync.Mutex
	users map[string]*userState
}

// New creates a controller.
func New(deps Deps, cfg Config) *Controller {
	return &Controller{
		deps:  deps,
		cfg:   cfg,
		now:   time.Now,
		users: make(map[string]*userState),
	}
}

// SetClock overrides the time source, for tests.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *Controller) userLocked(userID string) *userState {
	u, ok := c.users[userID]
	if !ok {
		u = &userState{
			mode:    ModeManual,
			sources: make(map[string]models.QueueSource),
			session: newSession(c.now()),
		}
		c.users[userID] = u
	}
	if u.session.expired(c.now()) {
		u.session = newSession(c.now())
	}
	return u
}

// Mode returns the user's playback mode.
func (c *Controller) Mode(userID string) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userLocked(userID).mode
}

// EnableAutoQueue switches manual → auto-queue.
func (c *Controller) EnableAutoQueue(userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.userLocked(userID)
	if u.mode == ModeRadio {
		return ErrRadioActive
	}
	u.mode = ModeAuto
	return nil
}

// DisableAutoQueue switches auto-queue → manual.
func (c *Controller) DisableAutoQueue(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.userLocked(userID)
	if u.mode == ModeAuto {
		u.mode = ModeManual
	}
}

// StartRadio begins a radio session from a seed. The seed lives for the
// session and is discarded on stop.
func (c *Controller) StartRadio(userID string, seed models.RadioSeed) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.userLocked(userID)
	if u.mode == ModeAuto {
		return ErrRadioActive
	}

	u.mode = ModeRadio
	u.radio = &radioState{seed: seed, weight: c.cfg.SeedWeight}
	u.queue = nil

	logger.Log.Info("Radio started",
		logger.WithUserID(userID),
		zap.String("seed_type", string(seed.Type)),
		zap.String("seed_id", seed.ID))
	return nil
}

// StopRadio ends the radio session and returns to manual mode.
func (c *Controller) StopRadio(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.userLocked(userID)
	if u.mode != ModeRadio {
		return
	}
	u.mode = ModeManual
	u.radio = nil
	u.queue = nil
}

// RecordPlay notes a track was played: session history, radio drift and
// co-occurrence all advance here.
func (c *Controller) RecordPlay(userID string, track *models.Track, at time.Time) {
	c.mu.Lock()
	u := c.userLocked(userID)
	prev := u.lastPlayed
	u.session.recordPlay(track.ID, track.Artists, track.Genres, at)
	u.lastPlayed = track

	var radioPrev string
	if u.radio != nil {
		if prev != nil {
			radioPrev = prev.ID
		}
		u.radio.played++
		u.radio.weight = c.cfg.SeedWeight - radioDriftStep*float64(u.radio.played)
		if u.radio.weight < radioWeightMin {
			u.radio.weight = radioWeightMin
		}
	}

	if src, ok := u.sources[track.ID]; ok {
		c.deps.Metrics.Click(string(src.Type))
	}
	c.mu.Unlock()

	if radioPrev != "" {
		// Consecutive plays within one radio session are a pairing signal.
		c.deps.CoOccur.Record(radioPrev, track.ID, cooccur.ContextRadio)
	}
	c.deps.CoOccur.RecordSessionPlay(userID, track.ID, at)
}

// ClearSession explicitly resets the user's session history.
func (c *Controller) ClearSession(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.userLocked(userID)
	u.session = newSession(c.now())
}

// Sources returns the provenance map for UI display.
func (c *Controller) Sources(userID string) map[string]models.QueueSource {
	c.mu.Lock()
	defer c.mu.Unlock()

	u := c.userLocked(userID)
	out := make(map[string]models.QueueSource, len(u.sources))
	for id, src := range u.sources {
		out[id] = src
	}
	return out
}

// ConsecutiveFailures returns how many replenish attempts in a row found
// nothing.
func (c *Controller) ConsecutiveFailures(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userLocked(userID).failures
}

// NextTracks returns up to n tracks from the queue, replenishing first when
// the remainder has dropped to the threshold.
func (c *Controller) NextTracks(ctx context.Context, userID string, n int) ([]models.ScoredTrack, error) {
	c.mu.Lock()
	u := c.userLocked(userID)
	shouldFetch := len(u.queue) < n || len(u.queue)-n <= c.cfg.ReplenishThreshold
	limited := false

	if shouldFetch {
		if u.isFetching {
			shouldFetch = false
		} else if c.now().Sub(u.lastFetch) < c.cfg.Cooldown && !u.lastFetch.IsZero() {
			// Inside the cooldown the existing queue is all we serve.
			shouldFetch = false
			limited = true
		} else {
			u.isFetching = true
			u.lastFetch = c.now()
		}
	}
	c.mu.Unlock()

	if shouldFetch {
		err := c.replenish(ctx, userID, gatherBatchSize)

		c.mu.Lock()
		u.isFetching = false
		empty := len(u.queue) == 0
		c.mu.Unlock()

		if err != nil && empty {
			return nil, err
		}
	}

	c.mu.Lock()
	if len(u.queue) == 0 {
		failures := u.failures
		c.mu.Unlock()
		if limited {
			return nil, ErrRateLimited
		}
		return nil, fmt.Errorf("%w after %d consecutive attempts", ErrNoCandidates, failures)
	}

	if n > len(u.queue) {
		n = len(u.queue)
	}
	out := u.queue[:n]
	u.queue = u.queue[n:]
	c.mu.Unlock()

	for i, t := range out {
		c.deps.Metrics.Impression(string(t.Source.Type))
		if i > 0 {
			// Tracks served in the same batch co-occur in queue context.
			c.deps.CoOccur.Record(out[i-1].Track.ID, t.Track.ID, cooccur.ContextQueue)
		}
	}
	return out, nil
}

// sourceResult is one candidate source's outcome in the gather fan-out.
type sourceResult struct {
	name  string
	class models.SourceType
	cands []models.QueueCandidate
	err   error
}

// replenish gathers candidates from every source concurrently, then
// dedupes, scores, applies the diversity cap and appends to the queue.
func (c *Controller) replenish(ctx context.Context, userID string, batch int) error {
	started := c.now()

	c.mu.Lock()
	u := c.userLocked(userID)
	mode := u.mode
	var radio *radioState
	if u.radio != nil {
		r := *u.radio
		radio = &r
	}
	lastPlayed := u.lastPlayed
	exclude := u.session.playedSet()
	for _, t := range u.queue {
		exclude[t.Track.ID] = true
	}
	sessionGenres := make(map[string]float64, len(u.session.GenrePlays))
	for g, n := range u.session.GenrePlays {
		sessionGenres[g] = n
	}
	genreTotal := u.session.genreTotal()
	sessionPlays := len(u.session.TrackIDs)
	queuedArtists := make(map[string]int)
	for _, t := range u.queue {
		if a := t.Track.PrimaryArtist(); a != "" {
			queuedArtists[a]++
		}
	}
	c.mu.Unlock()

	results := c.gather(ctx, userID, lastPlayed, radio, exclude, batch)

	var all []models.QueueCandidate
	var similarCount, discoveryCount, localCount int
	for _, r := range results {
		if r.err != nil {
			// One source failing must not abort the others.
			logger.Log.Warn("Candidate source failed",
				logger.WithUserID(userID),
				logger.WithSource(r.name),
				zap.Error(r.err))
			c.deps.Metrics.SourceFailure(r.name)
			continue
		}
		c.deps.Metrics.AddCandidates(r.name, len(r.cands))
		switch r.class {
		case models.SourceSimilar, models.SourceRadio:
			similarCount += len(r.cands)
		case models.SourceLocal:
			localCount += len(r.cands)
		default:
			discoveryCount += len(r.cands)
		}
		all = append(all, r.cands...)
	}

	interleaved := interleave(results)
	deduped := dedupe(interleaved, exclude)

	if len(deduped) == 0 {
		c.mu.Lock()
		u.failures++
		failures := u.failures
		c.mu.Unlock()

		c.deps.Metrics.ReplenishFailed()
		return fmt.Errorf("%w (%d consecutive failures)", ErrNoCandidates, failures)
	}

	// Mode follows the discovery/local balance of what was actually found.
	scoringMode := pickMode(mode, discoveryCount, localCount)

	snap := scoring.Snapshot{
		Now:               c.now(),
		Context:           embedding.ExtractContext(c.now(), sessionPlays),
		Mode:              scoringMode,
		PrevTrack:         lastPlayed,
		BatchArtistCounts: queuedArtists,
		SessionGenres:     sessionGenres,
		SessionGenreTotal: genreTotal,
	}
	if radio != nil {
		snap.Radio = &scoring.RadioState{Seed: &radio.seed, Weight: radio.weight}
	}

	profile, err := c.deps.Taste.GetProfile(userID, c.now())
	if err != nil && !errors.Is(err, taste.ErrProfileInvalid) {
		logger.Log.Warn("Taste profile unavailable", logger.WithUserID(userID), zap.Error(err))
	}

	scoringStarted := c.now()
	scored := make([]models.ScoredTrack, 0, len(deduped))
	for _, cand := range deduped {
		track := cand.Track

		var emb []float64
		if e, err := c.deps.Embedder.Embed(&track); err == nil {
			emb = e.Vector
		}

		result := c.deps.Scorer.Score(userID, scoring.Input{
			Track:       &track,
			Embedding:   emb,
			Profile:     profile,
			PluginScore: c.pluginScore(ctx, userID, track.ID),
		}, snap)

		src := cand.Source
		src.Score = result.Final
		src.Timestamp = c.now()

		scored = append(scored, models.ScoredTrack{
			Track:       track,
			Source:      src,
			Score:       result.Final,
			Components:  result.Components,
			Explanation: result.Explanation,
		})
	}

	c.deps.Metrics.ObserveScoring(c.now().Sub(scoringStarted).Seconds())

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	selected := diversityFilter(scored, batch, c.cfg.MaxPerArtist)

	c.mu.Lock()
	u.failures = 0
	u.queue = append(u.queue, selected...)
	for _, t := range selected {
		u.sources[t.Track.ID] = t.Source
	}
	c.mu.Unlock()

	c.deps.Metrics.ObserveReplenish(c.now().Sub(started).Seconds())
	c.deps.Metrics.SetIndexSize(c.deps.Index.Len())

	logger.Log.Debug("Queue replenished",
		logger.WithUserID(userID),
		zap.Int("gathered", len(all)),
		zap.Int("selected", len(selected)),
		zap.String("mode", string(scoringMode)))
	return nil
}

// RankCandidates scores externally supplied candidates without touching the
// queue.
func (c *Controller) RankCandidates(ctx context.Context, userID string, cands []models.QueueCandidate) []models.ScoredTrack {
	c.mu.Lock()
	u := c.userLocked(userID)
	lastPlayed := u.lastPlayed
	sessionGenres := make(map[string]float64, len(u.session.GenrePlays))
	for g, n := range u.session.GenrePlays {
		sessionGenres[g] = n
	}
	genreTotal := u.session.genreTotal()
	sessionPlays := len(u.session.TrackIDs)
	var radio *scoring.RadioState
	if u.radio != nil {
		radio = &scoring.RadioState{Seed: &u.radio.seed, Weight: u.radio.weight}
	}
	c.mu.Unlock()

	snap := scoring.Snapshot{
		Now:               c.now(),
		Context:           embedding.ExtractContext(c.now(), sessionPlays),
		Mode:              scoring.ModeBalanced,
		Radio:             radio,
		PrevTrack:         lastPlayed,
		BatchArtistCounts: make(map[string]int),
		SessionGenres:     sessionGenres,
		SessionGenreTotal: genreTotal,
	}

	profile, _ := c.deps.Taste.GetProfile(userID, c.now())

	out := make([]models.ScoredTrack, 0, len(cands))
	for _, cand := range cands {
		track := cand.Track

		var emb []float64
		if e, err := c.deps.Embedder.Embed(&track); err == nil {
			emb = e.Vector
		}

		result := c.deps.Scorer.Score(userID, scoring.Input{
			Track:       &track,
			Embedding:   emb,
			Profile:     profile,
			PluginScore: c.pluginScore(ctx, userID, track.ID),
		}, snap)

		src := cand.Source
		src.Score = result.Final

		out = append(out, models.ScoredTrack{
			Track:       track,
			Source:      src,
			Score:       result.Final,
			Components:  result.Components,
			Explanation: result.Explanation,
		})

		if a := track.PrimaryArtist(); a != "" {
			snap.BatchArtistCounts[a]++
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// pickMode derives explore/exploit from the discovery-to-local candidate
// ratio.
func pickMode(mode Mode, discovery, local int) scoring.Mode {
	if local == 0 {
		if discovery > 0 {
			return scoring.ModeExploit
		}
		return scoring.ModeBalanced
	}
	ratio := float64(discovery) / float64(local)
	switch {
	case ratio > 0.6:
		return scoring.ModeExploit
	case ratio < 0.3:
		return scoring.ModeExplore
	default:
		return scoring.ModeBalanced
	}
}

// pluginScore asks the first registered score provider, tolerating absence
// and failure.
func (c *Controller) pluginScore(ctx context.Context, userID, trackID string) float64 {
	for _, p := range c.deps.Providers.With(providers.CapabilityScore) {
		score, err := p.ScoreTrack(ctx, userID, trackID)
		if err != nil {
			logger.Log.Debug("Score provider failed",
				logger.WithSource(p.Name()), zap.Error(err))
			continue
		}
		if score < 0 {
			score = 0
		} else if score > 100 {
			score = 100
		}
		return score
	}
	return 0
}

// interleave orders candidates by source priority: similar tracks first,
// then discovery and local alternating 2:1.
func interleave(results []sourceResult) []models.QueueCandidate {
	var similar, discovery, local []models.QueueCandidate
	for _, r := range results {
		if r.err != nil {
			continue
		}
		switch r.class {
		case models.SourceSimilar, models.SourceRadio:
			similar = append(similar, r.cands...)
		case models.SourceLocal:
			local = append(local, r.cands...)
		default:
			discovery = append(discovery, r.cands...)
		}
	}

	out := make([]models.QueueCandidate, 0, len(similar)+len(discovery)+len(local))
	out = append(out, similar...)

	di, li := 0, 0
	for di < len(discovery) || li < len(local) {
		for k := 0; k < 2 && di < len(discovery); k++ {
			out = append(out, discovery[di])
			di++
		}
		if li < len(local) {
			out = append(out, local[li])
			li++
		}
	}
	return out
}

// dedupe removes excluded ids, repeated ids and near-duplicate titles,
// keeping first occurrence (which interleave has already prioritized).
func dedupe(cands []models.QueueCandidate, exclude map[string]bool) []models.QueueCandidate {
	seen := make(map[string]bool, len(cands))
	var kept []models.QueueCandidate

	for _, cand := range cands {
		id := cand.Track.ID
		if id == "" || seen[id] || exclude[id] {
			continue
		}

		dup := false
		for _, k := range kept {
			if isNearDuplicateTitle(cand.Track.Title, k.Track.Title) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}

		seen[id] = true
		kept = append(kept, cand)
	}
	return kept
}

// diversityFilter caps same-artist tracks per batch. When the cap
// under-fills the requested size, remaining slots are back-filled with the
// highest-scoring leftovers regardless of artist.
func diversityFilter(sorted []models.ScoredTrack, size, maxPerArtist int) []models.ScoredTrack {
	if size > len(sorted) {
		size = len(sorted)
	}

	selected := make([]models.ScoredTrack, 0, size)
	var leftovers []models.ScoredTrack
	artistCounts := make(map[string]int)

	for _, t := range sorted {
		if len(selected) == size {
			break
		}
		artist := t.Track.PrimaryArtist()
		if artist != "" && artistCounts[artist] >= maxPerArtist {
			leftovers = append(leftovers, t)
			continue
		}
		artistCounts[artist]++
		selected = append(selected, t)
	}

	for _, t := range leftovers {
		if len(selected) == size {
			break
		}
		selected = append(selected, t)
	}
	return selected
}
