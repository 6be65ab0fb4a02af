package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resoundfm/resound/internal/config"
	"github.com/resoundfm/resound/internal/logger"
	"github.com/resoundfm/resound/internal/models"
	"github.com/resoundfm/resound/internal/providers"
	"github.com/resoundfm/resound/internal/storage"
)

func TestMain(m *testing.M) {
	logger.InitializeForTests()
	os.Exit(m.Run())
}

func newTestEngine(t *testing.T) (*Engine, *storage.DB, *storage.Memory) {
	t.Helper()

	cfg, err := config.Load()
	require.NoError(t, err)

	db, err := storage.OpenTest()
	require.NoError(t, err)

	state := storage.NewMemory()
	eng, err := New(cfg, db, state, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	return eng, db, state
}

func testTrack(id, artist, genre string) *models.Track {
	return &models.Track{
		ID:      id,
		Title:   "Track " + id,
		Artists: models.StringArray{artist},
		Genres:  models.StringArray{genre},
		Features: &models.AudioFeatures{
			Energy: 0.6, Valence: 0.5, Danceability: 0.5, BPM: 124, Key: "G",
		},
		Duration: 220,
	}
}

func TestAddTrackIndexes(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.AddTrack(ctx, testTrack("t1", "Artist", "techno")))
	assert.True(t, eng.Index.Contains("t1"))

	got, err := eng.Library.GetTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Track t1", got.Title)
}

func TestAddTrackFetchesMissingFeatures(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	analyzer := providers.NewMock("analyzer", providers.CapabilityAudioFeatures)
	analyzer.Features["t1"] = &models.AudioFeatures{
		Energy: 0.9, Valence: 0.3, Danceability: 0.8, BPM: 140, Key: "A",
	}
	require.NoError(t, eng.Providers.Register(analyzer))

	track := &models.Track{
		ID:      "t1",
		Title:   "Unanalyzed",
		Artists: models.StringArray{"Someone"},
		Genres:  models.StringArray{"dnb"},
	}
	require.NoError(t, eng.AddTrack(ctx, track))

	got, err := eng.Library.GetTrack(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.Features)
	assert.InDelta(t, 140.0, got.Features.BPM, 1e-9)
}

func TestAddTrackWithoutAnySignal(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	// No features, genres or moods: stored but not indexed.
	track := &models.Track{
		ID:      "bare",
		Title:   "Bare",
		Artists: models.StringArray{"Someone"},
	}
	require.NoError(t, eng.AddTrack(ctx, track))
	assert.False(t, eng.Index.Contains("bare"))

	_, err := eng.Library.GetTrack(ctx, "bare")
	assert.NoError(t, err)
}

func TestRecordEventUnknownTrack(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	err := eng.RecordEvent(context.Background(), &models.UserEvent{
		ID: "e1", UserID: "u1", TrackID: "ghost", Type: models.EventListen,
	})
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestRecordEventAdvancesProfile(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		require.NoError(t, eng.AddTrack(ctx, testTrack(id, "Artist", "techno")))
		require.NoError(t, eng.RecordEvent(ctx, &models.UserEvent{
			ID:      fmt.Sprintf("e%d", i),
			UserID:  "u1",
			TrackID: id,
			Type:    models.EventLike,
		}))
	}

	profile := eng.Profile("u1")
	assert.True(t, profile.Valid)
	assert.Equal(t, 5, profile.SampleCount)
	assert.Contains(t, profile.LikedGenres, "techno")
	assert.Equal(t, "manual", profile.QueueMode)
}

func TestListenEventBumpsPlayCount(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.AddTrack(ctx, testTrack("t1", "Artist", "house")))
	require.NoError(t, eng.RecordEvent(ctx, &models.UserEvent{
		ID: "e1", UserID: "u1", TrackID: "t1", Type: models.EventListen,
		Completed: true, Timestamp: time.Now(),
	}))

	got, err := eng.Library.GetTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.PlayCount)
}

func TestSimilarTracksExcludesSelf(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("t%d", i)
		require.NoError(t, eng.AddTrack(ctx, testTrack(id, fmt.Sprintf("Artist %d", i), "techno")))
	}

	similar, err := eng.SimilarTracks(ctx, "t0", 3)
	require.NoError(t, err)
	require.NotEmpty(t, similar)
	assert.LessOrEqual(t, len(similar), 3)
	for _, st := range similar {
		assert.NotEqual(t, "t0", st.Track.ID)
		assert.Equal(t, models.SourceSimilar, st.Source.Type)
	}

	_, err = eng.SimilarTracks(ctx, "ghost", 3)
	assert.ErrorIs(t, err, ErrTrackNotFound)
}

func TestStateRoundTrip(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	db, err := storage.OpenTest()
	require.NoError(t, err)
	state := storage.NewMemory()
	ctx := context.Background()

	first, err := New(cfg, db, state, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		require.NoError(t, first.AddTrack(ctx, testTrack(id, "Artist", "ambient")))
		require.NoError(t, first.RecordEvent(ctx, &models.UserEvent{
			ID: fmt.Sprintf("e%d", i), UserID: "u1", TrackID: id, Type: models.EventLike,
		}))
	}
	require.NoError(t, first.SaveState(ctx))

	// A second engine over the same library and state adapter picks the
	// learned profile back up; the index is rebuilt, not restored.
	second, err := New(cfg, db, state, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	require.NoError(t, second.LoadState(ctx))
	require.NoError(t, second.RebuildIndex(ctx))

	profile := second.Profile("u1")
	assert.True(t, profile.Valid)
	assert.Equal(t, 5, profile.SampleCount)
	assert.Equal(t, 5, second.Index.Len())
}

func TestLoadStateToleratesCorruptAndMissing(t *testing.T) {
	eng, _, state := newTestEngine(t)
	ctx := context.Background()

	// Missing keys are a fresh start.
	require.NoError(t, eng.LoadState(ctx))

	// Corrupt payloads are discarded, not fatal.
	require.NoError(t, state.Set(ctx, "state:taste", []byte("{broken")))
	require.NoError(t, eng.LoadState(ctx))
	assert.False(t, eng.Taste.Valid("u1"))
}

func TestRecordPlaylistPair(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	eng.RecordPlaylistPair("a", "b")
	eng.RecordPlaylistPair("a", "b")

	pairs := eng.CoOccur.GetCoOccurring("a", "", 10)
	require.Len(t, pairs, 1)
	assert.Equal(t, "b", pairs[0].TrackID)
}
