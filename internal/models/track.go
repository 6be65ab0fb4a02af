package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// StringArray is a custom type stored as a JSON text column so the same
// model works against both the sqlite and postgres drivers.
type StringArray []string

// Scan implements the sql.Scanner interface for reading from database
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		*a = nil
		return nil
	}

	if len(data) == 0 {
		*a = []string{}
		return nil
	}

	return json.Unmarshal(data, a)
}

// Value implements the driver.Valuer interface for writing to database
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// AudioFeatures is the opaque feature snapshot supplied by an upstream
// extractor. All values except BPM are normalized to [0,1].
type AudioFeatures struct {
	Energy       float64 `json:"energy"`
	Valence      float64 `json:"valence"`
	Danceability float64 `json:"danceability"`
	BPM          float64 `json:"bpm"`
	Key          string  `json:"key"` // e.g. "C", "F#", "A minor"
}

// Track is a library track as supplied by metadata collaborators.
type Track struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	Title     string         `gorm:"not null" json:"title"`
	Artists   StringArray    `gorm:"type:text" json:"artists"`
	Genres    StringArray    `gorm:"type:text" json:"genres"`
	Moods     StringArray    `gorm:"type:text" json:"moods"`
	Features  *AudioFeatures `gorm:"serializer:json" json:"features,omitempty"`
	Duration  float64        `json:"duration"` // seconds
	PlayCount int            `gorm:"default:0" json:"play_count"`
	LikeCount int            `gorm:"default:0" json:"like_count"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// PrimaryArtist returns the first artist, or "" for an artist-less track.
func (t *Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// PrimaryGenre returns the first genre tag, or "".
func (t *Track) PrimaryGenre() string {
	if len(t.Genres) == 0 {
		return ""
	}
	return t.Genres[0]
}
