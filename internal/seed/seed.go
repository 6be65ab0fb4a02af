// Package seed populates a development database with realistic tracks and
// listening history.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"

	"github.com/resoundfm/resound/internal/engine"
	"github.com/resoundfm/resound/internal/models"
)

var genres = []string{
	"techno", "house", "ambient", "drum and bass", "dubstep",
	"hip hop", "jazz", "funk", "soul", "indie rock",
	"synthwave", "lo-fi", "trance", "garage", "breakbeat",
}

var moods = []string{
	"energetic", "chill", "dark", "uplifting", "melancholic",
	"dreamy", "aggressive", "groovy", "hypnotic", "warm",
}

var keys = []string{
	"C", "G", "D", "A", "E", "B", "F#", "C#", "Ab", "Eb", "Bb", "F",
	"Am", "Em", "Bm", "Dm", "Gm", "Cm",
}

// Seeder writes generated data through the engine so tracks are embedded
// and indexed the same way production ingestion does it.
type Seeder struct {
	engine *engine.Engine
}

// NewSeeder creates a seeder.
func NewSeeder(e *engine.Engine) *Seeder {
	return &Seeder{engine: e}
}

// SeedTracks generates n tracks with plausible audio features and tags.
func (s *Seeder) SeedTracks(ctx context.Context, n int) ([]string, error) {
	ids := make([]string, 0, n)

	for i := 0; i < n; i++ {
		genre := gofakeit.RandomString(genres)

		track := &models.Track{
			ID:      uuid.New().String(),
			Title:   trackTitle(),
			Artists: models.StringArray{gofakeit.Name()},
			Genres:  models.StringArray{genre},
			Moods:   models.StringArray{gofakeit.RandomString(moods)},
			Features: &models.AudioFeatures{
				Energy:       gofakeit.Float64Range(0, 1),
				Valence:      gofakeit.Float64Range(0, 1),
				Danceability: gofakeit.Float64Range(0, 1),
				BPM:          bpmFor(genre),
				Key:          gofakeit.RandomString(keys),
			},
			Duration: gofakeit.Float64Range(120, 420),
		}

		// A second tag on roughly a third of tracks keeps the tag
		// distribution uneven, like real catalogs.
		if gofakeit.Number(0, 2) == 0 {
			track.Genres = append(track.Genres, gofakeit.RandomString(genres))
			track.Moods = append(track.Moods, gofakeit.RandomString(moods))
		}

		if err := s.engine.AddTrack(ctx, track); err != nil {
			return ids, fmt.Errorf("seed track %d: %w", i, err)
		}
		ids = append(ids, track.ID)
	}

	return ids, nil
}

// SeedListeners simulates listening history for users users, each with
// roughly eventsPerUser interactions spread over the last 30 days.
func (s *Seeder) SeedListeners(ctx context.Context, trackIDs []string, users, eventsPerUser int) error {
	if len(trackIDs) == 0 {
		return fmt.Errorf("no tracks to listen to")
	}

	for u := 0; u < users; u++ {
		userID := gofakeit.Username()

		for i := 0; i < eventsPerUser; i++ {
			trackID := trackIDs[gofakeit.Number(0, len(trackIDs)-1)]
			ts := gofakeit.DateRange(time.Now().AddDate(0, 0, -30), time.Now())

			event := &models.UserEvent{
				ID:        uuid.New().String(),
				UserID:    userID,
				TrackID:   trackID,
				Timestamp: ts,
			}

			switch gofakeit.Number(0, 9) {
			case 0:
				event.Type = models.EventLike
				if gofakeit.Bool() {
					event.Strength = "strong"
				}
			case 1:
				event.Type = models.EventSkip
			case 2:
				event.Type = models.EventPlaylistAdd
			default:
				event.Type = models.EventListen
				event.Completed = gofakeit.Bool()
				if !event.Completed {
					event.Duration = gofakeit.Float64Range(10, 200)
				}
			}

			if err := s.engine.RecordEvent(ctx, event); err != nil {
				return fmt.Errorf("seed event for %s: %w", userID, err)
			}
		}
	}

	return nil
}

func trackTitle() string {
	words := gofakeit.Number(1, 3)
	parts := make([]string, words)
	for i := range parts {
		parts[i] = strings.Title(gofakeit.HipsterWord())
	}
	return strings.Join(parts, " ")
}

// bpmFor keeps tempo roughly genre-appropriate so flow scoring has
// something realistic to work with.
func bpmFor(genre string) float64 {
	switch genre {
	case "drum and bass", "breakbeat":
		return gofakeit.Float64Range(160, 180)
	case "dubstep", "trance":
		return gofakeit.Float64Range(135, 145)
	case "techno", "house", "garage":
		return gofakeit.Float64Range(120, 135)
	case "ambient", "lo-fi":
		return gofakeit.Float64Range(60, 90)
	default:
		return gofakeit.Float64Range(80, 130)
	}
}
