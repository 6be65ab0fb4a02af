package embedding

import (
	"math"
	"time"

	"github.com/resoundfm/resound/internal/models"
)

// FeatureVector is the raw per-track numeric feature row produced by the
// extractor, before embedding. Missing audio features yield zeros with
// HasAudio false so downstream consumers can tell "zero" from "unknown".
type FeatureVector struct {
	Energy       float64
	Valence      float64
	Danceability float64
	BPMNorm      float64 // BPM / 200, clamped to [0,1]
	KeyPos       float64 // circle-of-fifths position / 12
	GenreCount   int
	MoodCount    int
	HasAudio     bool
}

// ContextVector captures the time and session features that accompany a
// feature vector. Cyclical encoding keeps 23:00 adjacent to 00:00.
type ContextVector struct {
	Hour         int
	HourSin      float64
	HourCos      float64
	DaySin       float64
	DayCos       float64
	IsWeekend    bool
	SessionPlays int
}

// ExtractFeatures maps a track's metadata and optional audio features into a
// FeatureVector.
func ExtractFeatures(track *models.Track) FeatureVector {
	fv := FeatureVector{
		GenreCount: len(track.Genres),
		MoodCount:  len(track.Moods),
	}

	if f := track.Features; f != nil && hasSignal(f) {
		fv.HasAudio = true
		fv.Energy = f.Energy
		fv.Valence = f.Valence
		fv.Danceability = f.Danceability
		fv.BPMNorm = math.Min(f.BPM/200.0, 1.0)
		fv.KeyPos = keyPosition(f.Key)
	}

	return fv
}

// ExtractContext builds the context features for a moment in time and the
// current session length.
func ExtractContext(at time.Time, sessionPlays int) ContextVector {
	hour := float64(at.Hour()) + float64(at.Minute())/60.0
	day := float64(at.Weekday())

	return ContextVector{
		Hour:         at.Hour(),
		HourSin:      math.Sin(2 * math.Pi * hour / 24),
		HourCos:      math.Cos(2 * math.Pi * hour / 24),
		DaySin:       math.Sin(2 * math.Pi * day / 7),
		DayCos:       math.Cos(2 * math.Pi * day / 7),
		IsWeekend:    at.Weekday() == time.Saturday || at.Weekday() == time.Sunday,
		SessionPlays: sessionPlays,
	}
}
