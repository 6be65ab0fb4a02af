// Package taste maintains per-user taste vectors in embedding space,
// blended from a main profile and time-of-day / day-of-week sub-profiles
// with continuous recency decay.
package taste

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/resoundfm/resound/internal/embedding"
	"github.com/resoundfm/resound/internal/models"
)

// ErrProfileInvalid is returned while a user has fewer than the minimum
// qualifying interactions; callers fall back to non-personalized defaults.
var ErrProfileInvalid = errors.New("taste: profile has too few interactions")

const (
	// minInteractions is the validity threshold.
	minInteractions = 5
	// maxContributions caps retained contributing tracks; oldest evicted first.
	maxContributions = 1000
	// halfLifeDays halves a contribution's weight every 30 days of elapsed
	// time, computed continuously rather than at calendar boundaries.
	halfLifeDays = 30.0

	// Blend weights for GetProfile.
	mainWeight    = 0.5
	slotWeight    = 0.3
	weekdayWeight = 0.2
)

// TimeSlot partitions the day for contextual sub-profiles.
type TimeSlot int

const (
	SlotMorning   TimeSlot = iota // 06-12
	SlotAfternoon                 // 12-18
	SlotEvening                   // 18-22
	SlotNight                     // 22-06, wraps midnight
)

// SlotFor returns the time slot containing t.
func SlotFor(t time.Time) TimeSlot {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return SlotMorning
	case h >= 12 && h < 18:
		return SlotAfternoon
	case h >= 18 && h < 22:
		return SlotEvening
	default:
		return SlotNight
	}
}

// contribution is one qualifying interaction's imprint on the profile.
type contribution struct {
	TrackID   string    `json:"track_id"`
	Vector    []float64 `json:"vector"`
	Weight    float64   `json:"weight"`
	Timestamp time.Time `json:"timestamp"`
	Slot      TimeSlot  `json:"slot"`
	Weekend   bool      `json:"weekend"`
}

// profile holds one user's contributing interactions. Vectors are
// recombined at read time so recency decay always reflects exact elapsed
// time.
type profile struct {
	Contributions []contribution `json:"contributions"`
	SampleCount   int            `json:"sample_count"`
	LastUpdate    time.Time      `json:"last_update"`
}

// Manager owns all user taste profiles.
type Manager struct {
	mu       sync.RWMutex
	profiles map[string]*profile
}

// NewManager creates an empty taste profile manager.
func NewManager() *Manager {
	return &Manager{profiles: make(map[string]*profile)}
}

// interactionWeight converts an event into contribution weight. Events that
// do not express positive taste (skips, dislikes) return 0 and are not
// recorded here; the preference store handles their negative signal.
func interactionWeight(event *models.UserEvent, trackDuration float64) float64 {
	switch event.Type {
	case models.EventLike:
		if event.Strength == "strong" {
			return 3.0 * 15
		}
		return 3.0 * 10
	case models.EventDownload:
		return 3.6 * 5
	case models.EventPlaylistAdd:
		return 2.4 * 5
	case models.EventListen:
		if event.Completed {
			return 1.0 * 5
		}
		if trackDuration > 0 && event.Duration > 0 {
			ratio := event.Duration / trackDuration
			if ratio > 1 {
				ratio = 1
			}
			return 1.0 * ratio * 3
		}
		return 0
	default:
		return 0
	}
}

// RecordInteraction folds a qualifying event into the user's profile. The
// track's unit embedding anchors the contribution in vector space.
func (m *Manager) RecordInteraction(userID string, emb *embedding.TrackEmbedding, event *models.UserEvent, trackDuration float64) {
	weight := interactionWeight(event, trackDuration)
	if weight <= 0 || emb == nil {
		return
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	c := contribution{
		TrackID:   emb.TrackID,
		Vector:    emb.Vector,
		Weight:    weight,
		Timestamp: ts,
		Slot:      SlotFor(ts),
		Weekend:   ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[userID]
	if !ok {
		p = &profile{}
		m.profiles[userID] = p
	}

	p.Contributions = append(p.Contributions, c)
	if len(p.Contributions) > maxContributions {
		p.Contributions = p.Contributions[len(p.Contributions)-maxContributions:]
	}
	p.SampleCount++
	p.LastUpdate = ts
}

// Valid reports whether the user has enough qualifying interactions for a
// personalized profile.
func (m *Manager) Valid(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	return ok && p.SampleCount >= minInteractions
}

// DecayWeight applies the continuous half-life: baseWeight halves every 30
// elapsed days, computed from exact elapsed time.
func DecayWeight(baseWeight float64, elapsed time.Duration) float64 {
	days := elapsed.Hours() / 24.0
	if days < 0 {
		days = 0
	}
	return baseWeight * math.Pow(0.5, days/halfLifeDays)
}

// GetProfile returns the blended taste vector for the given moment:
// 0.5·main + 0.3·time-slot + 0.2·weekday/weekend, unit-normalized.
// Returns ErrProfileInvalid below the interaction threshold.
func (m *Manager) GetProfile(userID string, at time.Time) ([]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID]
	if !ok || p.SampleCount < minInteractions {
		return nil, ErrProfileInvalid
	}

	slot := SlotFor(at)
	weekend := at.Weekday() == time.Saturday || at.Weekday() == time.Sunday

	main := make([]float64, embedding.Dim)
	slotVec := make([]float64, embedding.Dim)
	dayVec := make([]float64, embedding.Dim)

	for _, c := range p.Contributions {
		w := DecayWeight(c.Weight, at.Sub(c.Timestamp))
		if w <= 0 {
			continue
		}
		for i, v := range c.Vector {
			wv := w * v
			main[i] += wv
			if c.Slot == slot {
				slotVec[i] += wv
			}
			if c.Weekend == weekend {
				dayVec[i] += wv
			}
		}
	}

	embedding.Normalize(main)
	embedding.Normalize(slotVec)
	embedding.Normalize(dayVec)

	blended := make([]float64, embedding.Dim)
	for i := range blended {
		blended[i] = mainWeight*main[i] + slotWeight*slotVec[i] + weekdayWeight*dayVec[i]
	}

	if !embedding.Normalize(blended) {
		return nil, ErrProfileInvalid
	}
	return blended, nil
}

// SampleCount returns how many qualifying interactions a user has recorded.
func (m *Manager) SampleCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if p, ok := m.profiles[userID]; ok {
		return p.SampleCount
	}
	return 0
}

// Snapshot serializes all profiles for persistence.
func (m *Manager) Snapshot() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.profiles)
}

// Restore replaces in-memory state from a snapshot. Corrupt data resets to
// empty state rather than failing the caller.
func (m *Manager) Restore(data []byte) error {
	var profiles map[string]*profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		m.mu.Lock()
		m.profiles = make(map[string]*profile)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.profiles = profiles
	m.mu.Unlock()
	return nil
}
