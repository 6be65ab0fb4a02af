package models

import "time"

// EventType classifies a user interaction with a track.
type EventType string

const (
	EventListen      EventType = "listen"
	EventSkip        EventType = "skip"
	EventLike        EventType = "like"
	EventDislike     EventType = "dislike"
	EventDownload    EventType = "download"
	EventPlaylistAdd EventType = "playlist-add"
)

// UserEvent is a single interaction in the event stream consumed by the
// engine. Duration/Completed only apply to listen events; Strength only to
// like events ("strong" gets extra points).
type UserEvent struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	TrackID       string    `json:"track_id"`
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Duration      float64   `json:"duration,omitempty"` // seconds actually played
	Completed     bool      `json:"completed,omitempty"`
	Strength      string    `json:"strength,omitempty"` // "strong" or "regular"
	DislikeReason string    `json:"dislike_reason,omitempty"`
}

// SourceType identifies where a queued track came from.
type SourceType string

const (
	SourceLocal     SourceType = "local"
	SourceSimilar   SourceType = "similar"
	SourceDiscovery SourceType = "discovery"
	SourceSearch    SourceType = "search"
	SourceTrending  SourceType = "trending"
	SourceRadio     SourceType = "radio"
)

// QueueSource is the provenance record attached to every queued track. It is
// surfaced to the UI and used to avoid re-explaining duplicates.
type QueueSource struct {
	Type        SourceType `json:"type"`
	Label       string     `json:"label"`
	Score       float64    `json:"score"`
	Timestamp   time.Time  `json:"timestamp"`
	SeedTrackID string     `json:"seed_track_id,omitempty"`
}

// QueueCandidate is a track under consideration for the queue, prior to
// scoring and selection.
type QueueCandidate struct {
	Track  Track       `json:"track"`
	Source QueueSource `json:"source"`
}

// ScoreComponents breaks the final score into its named signals.
type ScoreComponents struct {
	Base        float64 `json:"base"`
	Exploration float64 `json:"exploration"`
	Serendipity float64 `json:"serendipity"`
	Diversity   float64 `json:"diversity"`
	Flow        float64 `json:"flow"`
	Temporal    float64 `json:"temporal"`
	Plugin      float64 `json:"plugin"`
}

// ScoredTrack is a candidate with its final rank score, component breakdown
// and a human-readable explanation.
type ScoredTrack struct {
	Track       Track           `json:"track"`
	Source      QueueSource     `json:"source"`
	Score       float64         `json:"score"`
	Components  ScoreComponents `json:"components"`
	Explanation string          `json:"explanation,omitempty"`
}

// SeedType identifies what a radio session was started from.
type SeedType string

const (
	SeedTrack  SeedType = "track"
	SeedArtist SeedType = "artist"
	SeedGenre  SeedType = "genre"
)

// RadioSeed anchors a radio session. It lives for the session and is
// discarded on stop.
type RadioSeed struct {
	Type     SeedType       `json:"type"`
	ID       string         `json:"id"`
	Genres   []string       `json:"genres,omitempty"`
	Features *AudioFeatures `json:"features,omitempty"`
}
