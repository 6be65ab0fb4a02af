package prefs

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resoundfm/resound/internal/models"
)

func testTrack() *models.Track {
	return &models.Track{
		ID:       "t1",
		Title:    "Test Track",
		Artists:  models.StringArray{"Artist A"},
		Genres:   models.StringArray{"techno"},
		Duration: 240,
		Features: &models.AudioFeatures{Energy: 0.8},
	}
}

func event(kind models.EventType, ts time.Time) *models.UserEvent {
	return &models.UserEvent{UserID: "u1", TrackID: "t1", Type: kind, Timestamp: ts}
}

func TestEventDeltas(t *testing.T) {
	s := NewStore()
	now := time.Now()
	track := testTrack()

	s.RecordEvent("u1", track, event(models.EventLike, now))
	assert.Equal(t, 10.0, s.ArtistAffinity("u1", "Artist A"))
	assert.Equal(t, 10.0, s.GenreAffinity("u1", "techno"))

	strong := event(models.EventLike, now)
	strong.Strength = "strong"
	s.RecordEvent("u1", track, strong)
	assert.Equal(t, 25.0, s.ArtistAffinity("u1", "Artist A"))

	s.RecordEvent("u1", track, event(models.EventSkip, now))
	assert.Equal(t, 22.0, s.ArtistAffinity("u1", "Artist A"))

	s.RecordEvent("u1", track, event(models.EventDislike, now))
	assert.Equal(t, 7.0, s.ArtistAffinity("u1", "Artist A"))
}

func TestPartialListenScaledByCompletion(t *testing.T) {
	s := NewStore()
	track := testTrack() // 240s

	half := event(models.EventListen, time.Now())
	half.Duration = 120
	s.RecordEvent("u1", track, half)
	assert.InDelta(t, 1.5, s.GenreAffinity("u1", "techno"), 1e-9)

	// Zero-duration listen carries no signal at all.
	s2 := NewStore()
	s2.RecordEvent("u1", track, event(models.EventListen, time.Now()))
	assert.Zero(t, s2.GenreAffinity("u1", "techno"))
	assert.Zero(t, s2.GenrePlayCount("u1", "techno"))
}

func TestAffinityClamped(t *testing.T) {
	s := NewStore()
	now := time.Now()
	track := testTrack()

	for i := 0; i < 50; i++ {
		s.RecordEvent("u1", track, event(models.EventDownload, now))
	}
	assert.Equal(t, 100.0, s.ArtistAffinity("u1", "Artist A"))

	for i := 0; i < 50; i++ {
		s.RecordEvent("u1", track, event(models.EventDislike, now))
	}
	assert.Equal(t, -100.0, s.ArtistAffinity("u1", "Artist A"))
}

func TestAffinityDecayTowardZero(t *testing.T) {
	s := NewStore()
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return start })

	s.RecordEvent("u1", testTrack(), event(models.EventLike, start))
	require.Equal(t, 10.0, s.ArtistAffinity("u1", "Artist A"))

	// Under a day: unchanged.
	s.SetClock(func() time.Time { return start.Add(12 * time.Hour) })
	assert.Equal(t, 10.0, s.ArtistAffinity("u1", "Artist A"))

	// Ten days: 10 * 0.98^10, decayed but present.
	s.SetClock(func() time.Time { return start.Add(10 * 24 * time.Hour) })
	got := s.ArtistAffinity("u1", "Artist A")
	assert.InDelta(t, 8.17, got, 0.01)
	assert.Greater(t, got, 0.0)
}

func TestPlayCounts(t *testing.T) {
	s := NewStore()
	now := time.Now()
	track := testTrack()

	assert.Equal(t, 0, s.ArtistPlayCount("u1", "Artist A"))

	s.RecordEvent("u1", track, event(models.EventLike, now))
	s.RecordEvent("u1", track, event(models.EventSkip, now)) // negative still counts as an interaction
	assert.Equal(t, 2, s.ArtistPlayCount("u1", "Artist A"))
	assert.Equal(t, 2, s.GenrePlayCount("u1", "techno"))
}

func TestLikedGenres(t *testing.T) {
	s := NewStore()
	now := time.Now()

	liked := testTrack()
	s.RecordEvent("u1", liked, event(models.EventLike, now))

	disliked := testTrack()
	disliked.Genres = models.StringArray{"polka"}
	s.RecordEvent("u1", disliked, event(models.EventDislike, now))

	genres := s.LikedGenres("u1")
	assert.Equal(t, []string{"techno"}, genres)
	assert.Empty(t, s.LikedGenres("unknown"))
}

func TestHourPatterns(t *testing.T) {
	s := NewStore()
	at9 := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

	listen := event(models.EventListen, at9)
	listen.Completed = true
	s.RecordEvent("u1", testTrack(), listen)

	ambient := testTrack()
	ambient.Genres = models.StringArray{"ambient"}
	ambient.Features = &models.AudioFeatures{Energy: 0.2}
	listen2 := event(models.EventListen, at9)
	listen2.Completed = true
	s.RecordEvent("u1", ambient, listen2)

	assert.InDelta(t, 0.5, s.GenrePreferenceAt("u1", 9, "techno"), 1e-9)
	assert.Zero(t, s.GenrePreferenceAt("u1", 10, "techno"))

	energy, ok := s.PreferredEnergyAt("u1", 9)
	require.True(t, ok)
	assert.InDelta(t, 0.5, energy, 1e-9)

	_, ok = s.PreferredEnergyAt("u1", 3)
	assert.False(t, ok)
}

func TestSkipsDoNotFeedHourPatterns(t *testing.T) {
	s := NewStore()
	at9 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	s.RecordEvent("u1", testTrack(), event(models.EventSkip, at9))
	assert.Zero(t, s.GenrePreferenceAt("u1", 9, "techno"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	now := time.Now()
	s.RecordEvent("u1", testTrack(), event(models.EventLike, now))

	data, err := s.Snapshot()
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, restored.Restore(data))
	assert.Equal(t, 10.0, restored.ArtistAffinity("u1", "Artist A"))
	assert.Equal(t, 1, restored.GenrePlayCount("u1", "techno"))
}

func TestDecaySurvivesSnapshotRestore(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	s := NewStore()
	s.SetClock(func() time.Time { return start })
	strong := event(models.EventLike, start)
	strong.Strength = "strong"
	s.RecordEvent("u1", testTrack(), strong)
	require.Equal(t, 15.0, s.ArtistAffinity("u1", "Artist A"))

	data, err := s.Snapshot()
	require.NoError(t, err)

	// Ten days offline decay the same as ten days live.
	restored := NewStore()
	restored.SetClock(func() time.Time { return start.Add(10 * 24 * time.Hour) })
	require.NoError(t, restored.Restore(data))

	want := 15.0 * math.Pow(0.98, 10)
	assert.InDelta(t, want, restored.ArtistAffinity("u1", "Artist A"), 0.01)
}

func TestRestoreWithoutDecayAnchorFallsBackToLastWrite(t *testing.T) {
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	s := NewStore()
	s.SetClock(func() time.Time { return start.Add(10 * 24 * time.Hour) })

	// Snapshot written before the anchor field existed.
	old := []byte(`{"u1":{"artists":{"Artist A":{"score":10,"play_count":1,"last_updated":"2026-03-02T12:00:00Z"}}}}`)
	require.NoError(t, s.Restore(old))

	want := 10.0 * math.Pow(0.98, 10)
	assert.InDelta(t, want, s.ArtistAffinity("u1", "Artist A"), 0.01)
}

func TestRestoreCorruptResetsState(t *testing.T) {
	s := NewStore()
	s.RecordEvent("u1", testTrack(), event(models.EventLike, time.Now()))

	assert.Error(t, s.Restore([]byte("%")))
	assert.Zero(t, s.ArtistAffinity("u1", "Artist A"))
}
