// Package scoring combines base preference, exploration, serendipity,
// diversity, flow, temporal and plugin signals into one final rank score
// with a per-track explanation.
package scoring

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/resoundfm/resound/internal/embedding"
	"github.com/resoundfm/resound/internal/models"
	"github.com/resoundfm/resound/internal/musickey"
	"github.com/resoundfm/resound/internal/prefs"
)

// Fixed component weights; they sum to 1.00.
const (
	weightBase        = 0.40
	weightExploration = 0.10
	weightSerendipity = 0.15
	weightDiversity   = 0.15
	weightFlow        = 0.10
	weightTemporal    = 0.05
	weightPlugin      = 0.05
)

// epsilon is the explore-anyway probability for epsilon-greedy exploration.
const epsilon = 0.15

// Mode selects the exploration/exploitation adjustment.
type Mode string

const (
	ModeBalanced Mode = "balanced"
	ModeExplore  Mode = "explore"
	ModeExploit  Mode = "exploit"
)

// RadioState carries the active radio seed and its current blend weight.
// The controller decays the weight as the session drifts.
type RadioState struct {
	Seed   *models.RadioSeed
	Weight float64
}

// Snapshot is the read-only context passed into scoring: batch and session
// state is copied in by the caller rather than read from shared stores.
type Snapshot struct {
	Now               time.Time
	Context           embedding.ContextVector // derived from Now when zero
	Mode              Mode
	Radio             *RadioState
	PrevTrack         *models.Track
	BatchArtistCounts map[string]int     // artists already chosen this batch
	SessionGenres     map[string]float64 // plays per genre this session
	SessionGenreTotal float64
}

// contextVector returns the snapshot's time features, deriving them from Now
// when the caller did not supply a ContextVector.
func (s Snapshot) contextVector() embedding.ContextVector {
	if s.Context != (embedding.ContextVector{}) {
		return s.Context
	}
	return embedding.ExtractContext(s.Now, 0)
}

// Input is one candidate to score. Embedding and Profile may be nil; the
// candidate then scores on affinity signal alone (taxonomy (c)).
type Input struct {
	Track       *models.Track
	Embedding   []float64
	Profile     []float64
	PluginScore float64 // externally supplied, 0-100
}

// Result is the scored outcome.
type Result struct {
	Final       float64
	Components  models.ScoreComponents
	Explanation string
}

// Engine scores candidates against a preference store. The injected rng
// drives epsilon-greedy exploration; seed it deterministically in tests.
type Engine struct {
	prefs *prefs.Store

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates a scoring engine.
func NewEngine(store *prefs.Store, rng *rand.Rand) *Engine {
	return &Engine{prefs: store, rng: rng}
}

// Score computes the final weighted score for one candidate.
func (e *Engine) Score(userID string, in Input, snap Snapshot) Result {
	track := in.Track

	c := models.ScoreComponents{
		Base:        e.baseScore(userID, in),
		Exploration: e.explorationScore(userID, track),
		Serendipity: e.serendipityScore(userID, track, snap),
		Diversity:   diversityScore(track, snap),
		Flow:        flowScore(track, snap.PrevTrack),
		Temporal:    e.temporalScore(userID, track, snap.contextVector()),
		Plugin:      in.PluginScore,
	}

	final := weightBase*c.Base +
		weightExploration*c.Exploration +
		weightSerendipity*c.Serendipity +
		weightDiversity*c.Diversity +
		weightFlow*c.Flow +
		weightTemporal*c.Temporal +
		weightPlugin*c.Plugin

	switch snap.Mode {
	case ModeExplore:
		final += c.Exploration * 0.5
	case ModeExploit:
		final += c.Base * 0.2
	}

	if r := snap.Radio; r != nil && r.Seed != nil {
		rel := SeedRelevance(r.Seed, track)
		final = final*(1-r.Weight) + rel*r.Weight
	}

	return Result{
		Final:       final,
		Components:  c,
		Explanation: explain(c, track),
	}
}

// Combine applies the documented component weights to a fixed component
// vector. Exposed so rank math stays in one place.
func Combine(c models.ScoreComponents) float64 {
	return weightBase*c.Base +
		weightExploration*c.Exploration +
		weightSerendipity*c.Serendipity +
		weightDiversity*c.Diversity +
		weightFlow*c.Flow +
		weightTemporal*c.Temporal +
		weightPlugin*c.Plugin
}

// baseScore fuses taste-profile similarity with artist/genre affinity into
// a 0-100 preference signal.
func (e *Engine) baseScore(userID string, in Input) float64 {
	similarity := 50.0 // neutral when embedding or profile is missing
	if in.Embedding != nil && in.Profile != nil {
		sim := embedding.Cosine(in.Embedding, in.Profile)
		similarity = (sim + 1) / 2 * 100
	}

	var affinity float64
	if artist := in.Track.PrimaryArtist(); artist != "" {
		affinity += e.prefs.ArtistAffinity(userID, artist)
	}
	if genre := in.Track.PrimaryGenre(); genre != "" {
		affinity += e.prefs.GenreAffinity(userID, genre)
	}
	if affinity > 100 {
		affinity = 100
	} else if affinity < -100 {
		affinity = -100
	}
	affinityScore := (affinity + 100) / 2 // map [-100,100] to [0,100]

	return 0.6*similarity + 0.4*affinityScore
}

// explorationScore rewards novelty, capped at +25: new artists, new genres,
// plus an epsilon-greedy "explore anyway" kick, all scaled by a 0.9^plays
// novelty decay.
func (e *Engine) explorationScore(userID string, track *models.Track) float64 {
	var score float64

	artist := track.PrimaryArtist()
	artistPlays := 0
	if artist != "" {
		artistPlays = e.prefs.ArtistPlayCount(userID, artist)
		if artistPlays == 0 {
			score += 15
		}
	}

	if genre := track.PrimaryGenre(); genre != "" && e.prefs.GenrePlayCount(userID, genre) == 0 {
		score += 10
	}

	e.mu.Lock()
	exploreAnyway := e.rng.Float64() < epsilon
	e.mu.Unlock()
	if exploreAnyway {
		score += 12.5
	}

	score *= math.Pow(0.9, float64(artistPlays))

	if score > 25 {
		score = 25
	}
	return score
}

// serendipityScore rewards surprising-but-relevant picks, capped at +30.
func (e *Engine) serendipityScore(userID string, track *models.Track, snap Snapshot) float64 {
	var score float64

	liked := make(map[string]bool)
	for _, g := range e.prefs.LikedGenres(userID) {
		liked[g] = true
	}

	genre := track.PrimaryGenre()

	// A jump to a genre the user likes but has not played this session.
	if genre != "" && liked[genre] && snap.SessionGenres[genre] == 0 {
		score += 15
	}

	// An artist the user has never played inside a genre they like.
	if artist := track.PrimaryArtist(); artist != "" && genre != "" {
		if liked[genre] && e.prefs.ArtistPlayCount(userID, artist) == 0 {
			score += 20
		}
	}

	// A track bridging two genres already in the user's history.
	if len(track.Genres) >= 2 {
		known := 0
		for _, g := range track.Genres {
			if e.prefs.GenrePlayCount(userID, g) > 0 {
				known++
			}
		}
		if known >= 2 {
			score += 10
		}
	}

	if score > 30 {
		score = 30
	}
	return score
}

// diversityScore penalizes batch and session repetition and rewards genres
// new to the session.
func diversityScore(track *models.Track, snap Snapshot) float64 {
	var score float64

	if artist := track.PrimaryArtist(); artist != "" {
		repeats := snap.BatchArtistCounts[artist]
		penalty := float64(repeats) * 30
		if penalty > 90 {
			penalty = 90
		}
		score -= penalty
	}

	if genre := track.PrimaryGenre(); genre != "" {
		if snap.SessionGenreTotal > 0 {
			ratio := snap.SessionGenres[genre] / snap.SessionGenreTotal
			if ratio > 0.4 {
				score -= 10 * (ratio - 0.4)
			}
		}
		if snap.SessionGenres[genre] == 0 {
			score += 15
		}
	}

	return score
}

// flowScore judges the transition from the previous track: energy delta,
// BPM delta and harmonic key compatibility.
func flowScore(track, prev *models.Track) float64 {
	if prev == nil || prev.Features == nil || track.Features == nil {
		return 0
	}

	cur, last := track.Features, prev.Features
	var score float64

	// Energy transition: smooth within 0.3, penalized beyond.
	diff := math.Abs(cur.Energy - last.Energy)
	if diff <= 0.3 {
		score += 15 * (1 - diff/0.3)
	} else {
		score -= 20 * (diff - 0.3)
	}

	// BPM transition.
	if cur.BPM > 0 && last.BPM > 0 {
		bpmDiff := math.Abs(cur.BPM-last.BPM) / last.BPM
		switch {
		case bpmDiff < 0.15:
			score += 10
		case bpmDiff < 0.30:
			score += 5
		default:
			score -= 10
		}
	}

	// Harmonic compatibility contributes up to +10.
	if cur.Key != "" && last.Key != "" {
		score += musickey.Compatibility(cur.Key, last.Key) * 10
	}

	return score
}

// temporalScore matches the track against the user's hour-of-day listening
// patterns plus flat bonuses for recognizable weekly patterns.
func (e *Engine) temporalScore(userID string, track *models.Track, cv embedding.ContextVector) float64 {
	var score float64
	hour := cv.Hour

	if genre := track.PrimaryGenre(); genre != "" {
		pref := e.prefs.GenrePreferenceAt(userID, hour, genre)
		score += pref * 100 * 0.25
	}

	if f := track.Features; f != nil {
		if preferred, ok := e.prefs.PreferredEnergyAt(userID, hour); ok {
			score += (1 - math.Abs(f.Energy-preferred)) * 50 * 0.25
		}

		weekend := cv.IsWeekend
		switch {
		case weekend && f.Energy > 0.7:
			score += 5 // weekend-high-energy
		case !weekend && hour >= 6 && hour < 12 && f.Energy >= 0.3 && f.Energy <= 0.6:
			score += 5 // weekday-morning-focus
		case !weekend && hour >= 18 && hour < 22 && f.Energy < 0.5:
			score += 5 // weekday-evening-relaxation
		}
	}

	return score
}

// SeedRelevance scores a candidate's closeness to a radio seed on a 0-100
// scale, from genre overlap and audio-feature proximity.
func SeedRelevance(seed *models.RadioSeed, track *models.Track) float64 {
	var score float64

	if len(seed.Genres) > 0 {
		seedGenres := make(map[string]bool, len(seed.Genres))
		for _, g := range seed.Genres {
			seedGenres[strings.ToLower(g)] = true
		}
		matched := 0
		for _, g := range track.Genres {
			if seedGenres[strings.ToLower(g)] {
				matched++
			}
		}
		if matched > 0 {
			score += 40
			if matched > 1 {
				score += 10
			}
		}
	}

	if sf := seed.Features; sf != nil && track.Features != nil {
		tf := track.Features

		// BPM within 10% of the seed earns the full bonus.
		if sf.BPM > 0 && tf.BPM > 0 {
			ratio := math.Abs(tf.BPM-sf.BPM) / sf.BPM
			if ratio <= 0.1 {
				score += 12
			} else if ratio <= 0.25 {
				score += 6
			}
		}

		score += (1 - math.Abs(tf.Energy-sf.Energy)) * 15
		score += (1 - math.Abs(tf.Valence-sf.Valence)) * 8

		if sf.Key != "" && tf.Key != "" {
			score += musickey.Compatibility(sf.Key, tf.Key) * 15
		}
	}

	if seed.Type == models.SeedArtist && track.PrimaryArtist() == seed.ID {
		score += 20
	}

	if score > 100 {
		score = 100
	}
	return score
}

// explain builds a short human-readable reason from the dominant positive
// components.
func explain(c models.ScoreComponents, track *models.Track) string {
	type part struct {
		value  float64
		reason string
	}

	varietyReason := "adds variety"
	if g := track.PrimaryGenre(); g != "" {
		varietyReason = fmt.Sprintf("adds variety with %s", g)
	}

	parts := []part{
		{c.Base, "matches your taste"},
		{c.Exploration, "something new for you"},
		{c.Serendipity, "a surprising pick you might like"},
		{c.Diversity, varietyReason},
		{c.Flow, "flows well from the last track"},
		{c.Temporal, "fits this time of day"},
		{c.Plugin, "recommended by a connected service"},
	}

	sort.SliceStable(parts, func(i, j int) bool { return parts[i].value > parts[j].value })

	reasons := make([]string, 0, 2)
	for _, p := range parts {
		if p.value <= 0 {
			break
		}
		reasons = append(reasons, p.reason)
		if len(reasons) == 2 {
			break
		}
	}

	if len(reasons) == 0 {
		return "in your library"
	}
	return strings.Join(reasons, " and ")
}
