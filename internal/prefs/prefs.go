// Package prefs ingests user events and maintains per-artist and per-genre
// affinities, plus the hour-of-day listening patterns used by temporal
// scoring.
package prefs

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/resoundfm/resound/internal/models"
)

const (
	// Affinity scores stay within [-100, 100].
	maxAffinity = 100.0
	minAffinity = -100.0
	// dailyDecay pulls affinities toward 0 by 0.98 per elapsed day,
	// applied lazily. Affinities are never deleted, only decay.
	dailyDecay = 0.98
)

// Affinity is a user's learned preference for one artist or genre.
type Affinity struct {
	Score       float64   `json:"score"`
	PlayCount   int       `json:"play_count"`
	LastUpdated time.Time `json:"last_updated"`
	// LastDecayed anchors the lazy decay. Serialized so a restored record
	// still decays for the time spent offline.
	LastDecayed time.Time `json:"last_decayed,omitempty"`
}

// hourPattern accumulates what a user listens to at a given hour of day.
type hourPattern struct {
	GenrePlays map[string]float64 `json:"genre_plays"`
	EnergySum  float64            `json:"energy_sum"`
	EnergyN    float64            `json:"energy_n"`
}

type userPrefs struct {
	Artists map[string]*Affinity `json:"artists"`
	Genres  map[string]*Affinity `json:"genres"`
	Hours   map[int]*hourPattern `json:"hours"`
}

// Store owns all affinity records. Affinities are created lazily on first
// interaction.
type Store struct {
	mu    sync.RWMutex
	users map[string]*userPrefs
	now   func() time.Time
}

// NewStore creates an empty preference store.
func NewStore() *Store {
	return &Store{users: make(map[string]*userPrefs), now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// eventDelta maps an event to its affinity adjustment. Points align with
// the taste-profile interaction weights; skips and dislikes push negative.
func eventDelta(event *models.UserEvent, trackDuration float64) float64 {
	switch event.Type {
	case models.EventLike:
		if event.Strength == "strong" {
			return 15
		}
		return 10
	case models.EventDownload:
		return 18
	case models.EventPlaylistAdd:
		return 12
	case models.EventListen:
		if event.Completed {
			return 5
		}
		if trackDuration > 0 && event.Duration > 0 {
			ratio := math.Min(event.Duration/trackDuration, 1)
			return ratio * 3
		}
		return 0
	case models.EventSkip:
		return -3
	case models.EventDislike:
		return -15
	default:
		return 0
	}
}

// RecordEvent folds an event into the user's artist and genre affinities
// and, for listens, the hour-of-day pattern.
func (s *Store) RecordEvent(userID string, track *models.Track, event *models.UserEvent) {
	delta := eventDelta(event, track.Duration)
	if delta == 0 {
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.userLocked(userID)

	for _, artist := range track.Artists {
		s.applyLocked(u.Artists, artist, delta, ts)
	}
	for _, genre := range track.Genres {
		s.applyLocked(u.Genres, genre, delta, ts)
	}

	if event.Type == models.EventListen && delta > 0 {
		s.recordHourLocked(u, track, ts)
	}
}

func (s *Store) userLocked(userID string) *userPrefs {
	u, ok := s.users[userID]
	if !ok {
		u = &userPrefs{
			Artists: make(map[string]*Affinity),
			Genres:  make(map[string]*Affinity),
			Hours:   make(map[int]*hourPattern),
		}
		s.users[userID] = u
	}
	return u
}

func (s *Store) applyLocked(m map[string]*Affinity, name string, delta float64, ts time.Time) {
	a, ok := m[name]
	if !ok {
		a = &Affinity{LastDecayed: ts}
		m[name] = a
	}

	s.decayLocked(a)

	a.Score = clamp(a.Score+delta, minAffinity, maxAffinity)
	a.PlayCount++
	a.LastUpdated = ts
}

// decayLocked applies pending elapsed-time decay toward 0.
func (s *Store) decayLocked(a *Affinity) {
	if a.LastDecayed.IsZero() {
		// Snapshots from before the anchor was serialized fall back to
		// the last write time.
		if a.LastUpdated.IsZero() {
			a.LastDecayed = s.now()
			return
		}
		a.LastDecayed = a.LastUpdated
	}
	elapsed := s.now().Sub(a.LastDecayed)
	if elapsed < 24*time.Hour {
		return
	}
	a.Score *= math.Pow(dailyDecay, elapsed.Hours()/24.0)
	a.LastDecayed = s.now()
}

func (s *Store) recordHourLocked(u *userPrefs, track *models.Track, ts time.Time) {
	hour := ts.Hour()
	hp, ok := u.Hours[hour]
	if !ok {
		hp = &hourPattern{GenrePlays: make(map[string]float64)}
		u.Hours[hour] = hp
	}
	for _, genre := range track.Genres {
		hp.GenrePlays[genre]++
	}
	if f := track.Features; f != nil {
		hp.EnergySum += f.Energy
		hp.EnergyN++
	}
}

// ArtistAffinity returns the decayed affinity score for an artist, 0 when
// none exists.
func (s *Store) ArtistAffinity(userID, artist string) float64 {
	return s.affinity(userID, artist, true)
}

// GenreAffinity returns the decayed affinity score for a genre.
func (s *Store) GenreAffinity(userID, genre string) float64 {
	return s.affinity(userID, genre, false)
}

func (s *Store) affinity(userID, name string, artist bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0
	}
	m := u.Genres
	if artist {
		m = u.Artists
	}
	a, ok := m[name]
	if !ok {
		return 0
	}
	s.decayLocked(a)
	return a.Score
}

// ArtistPlayCount returns how many scored interactions the user has with an
// artist, for novelty decay.
func (s *Store) ArtistPlayCount(userID, artist string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID]; ok {
		if a, ok := u.Artists[artist]; ok {
			return a.PlayCount
		}
	}
	return 0
}

// GenrePlayCount returns scored interactions with a genre.
func (s *Store) GenrePlayCount(userID, genre string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.users[userID]; ok {
		if a, ok := u.Genres[genre]; ok {
			return a.PlayCount
		}
	}
	return 0
}

// LikedGenres returns genres with positive affinity.
func (s *Store) LikedGenres(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	var out []string
	for genre, a := range u.Genres {
		if a.Score > 0 {
			out = append(out, genre)
		}
	}
	return out
}

// GenrePreferenceAt returns the share of the user's plays at the given hour
// that were in the genre, in [0,1].
func (s *Store) GenrePreferenceAt(userID string, hour int, genre string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return 0
	}
	hp, ok := u.Hours[hour]
	if !ok {
		return 0
	}
	var total float64
	for _, n := range hp.GenrePlays {
		total += n
	}
	if total == 0 {
		return 0
	}
	return hp.GenrePlays[genre] / total
}

// PreferredEnergyAt returns the user's average listened energy at the given
// hour; ok is false when no data exists.
func (s *Store) PreferredEnergyAt(userID string, hour int) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, false
	}
	hp, ok := u.Hours[hour]
	if !ok || hp.EnergyN == 0 {
		return 0, false
	}
	return hp.EnergySum / hp.EnergyN, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Snapshot serializes all affinity records.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s.users)
}

// Restore replaces state from a snapshot; corrupt data resets to empty.
func (s *Store) Restore(data []byte) error {
	var users map[string]*userPrefs
	if err := json.Unmarshal(data, &users); err != nil {
		s.mu.Lock()
		s.users = make(map[string]*userPrefs)
		s.mu.Unlock()
		return err
	}

	for _, u := range users {
		if u.Artists == nil {
			u.Artists = make(map[string]*Affinity)
		}
		if u.Genres == nil {
			u.Genres = make(map[string]*Affinity)
		}
		if u.Hours == nil {
			u.Hours = make(map[int]*hourPattern)
		}
	}

	s.mu.Lock()
	s.users = users
	s.mu.Unlock()
	return nil
}
