package queue

import (
	"time"
)

const (
	sessionMaxTracks  = 200
	sessionMaxArtists = 400
	sessionTimeout    = 4 * time.Hour
)

// SessionHistory is the ordered play history for one user session. It
// resets after four hours of inactivity or an explicit clear.
type SessionHistory struct {
	TrackIDs   []string
	ArtistIDs  []string
	GenrePlays map[string]float64
	StartedAt  time.Time
	LastActive time.Time
}

func newSession(at time.Time) *SessionHistory {
	return &SessionHistory{
		GenrePlays: make(map[string]float64),
		StartedAt:  at,
		LastActive: at,
	}
}

// expired reports whether the session has been idle past the timeout.
func (s *SessionHistory) expired(at time.Time) bool {
	return at.Sub(s.LastActive) > sessionTimeout
}

// recordPlay appends a play, trimming the oldest entries past the caps.
func (s *SessionHistory) recordPlay(trackID string, artists, genres []string, at time.Time) {
	s.TrackIDs = append(s.TrackIDs, trackID)
	if len(s.TrackIDs) > sessionMaxTracks {
		s.TrackIDs = s.TrackIDs[len(s.TrackIDs)-sessionMaxTracks:]
	}

	s.ArtistIDs = append(s.ArtistIDs, artists...)
	if len(s.ArtistIDs) > sessionMaxArtists {
		s.ArtistIDs = s.ArtistIDs[len(s.ArtistIDs)-sessionMaxArtists:]
	}

	for _, g := range genres {
		s.GenrePlays[g]++
	}

	s.LastActive = at
}

// genreTotal sums session genre plays.
func (s *SessionHistory) genreTotal() float64 {
	var total float64
	for _, n := range s.GenrePlays {
		total += n
	}
	return total
}

// playedSet returns the played track ids as a lookup set.
func (s *SessionHistory) playedSet() map[string]bool {
	set := make(map[string]bool, len(s.TrackIDs))
	for _, id := range s.TrackIDs {
		set[id] = true
	}
	return set
}
