package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resoundfm/resound/internal/models"
)

func testTrack(id, title string) *models.Track {
	return &models.Track{
		ID:      id,
		Title:   title,
		Artists: models.StringArray{"Artist " + id},
		Genres:  models.StringArray{"techno", "acid"},
		Moods:   models.StringArray{"dark"},
		Features: &models.AudioFeatures{
			Energy: 0.8, Valence: 0.4, Danceability: 0.7, BPM: 132, Key: "F#",
		},
		Duration: 312,
	}
}

func TestBlobAdapterRoundTrip(t *testing.T) {
	db, err := OpenTest()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = db.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Set(ctx, "state:taste", []byte(`{"v":1}`)))
	value, err := db.Get(ctx, "state:taste")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), value)

	// Set overwrites in place.
	require.NoError(t, db.Set(ctx, "state:taste", []byte(`{"v":2}`)))
	value, err = db.Get(ctx, "state:taste")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":2}`), value)

	require.NoError(t, db.Delete(ctx, "state:taste"))
	_, err = db.Get(ctx, "state:taste")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, db.Delete(ctx, "state:taste"))
}

func TestBlobAdapterClear(t *testing.T) {
	db, err := OpenTest()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, db.Set(ctx, "a", []byte("1")))
	require.NoError(t, db.Set(ctx, "b", []byte("2")))
	require.NoError(t, db.Clear(ctx))

	_, err = db.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = db.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndGetTrack(t *testing.T) {
	db, err := OpenTest()
	require.NoError(t, err)
	ctx := context.Background()

	track := testTrack("t1", "Acid Rain")
	require.NoError(t, db.SaveTrack(ctx, track))

	got, err := db.GetTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Acid Rain", got.Title)
	assert.Equal(t, models.StringArray{"techno", "acid"}, got.Genres)
	require.NotNil(t, got.Features)
	assert.Equal(t, "F#", got.Features.Key)
	assert.InDelta(t, 132.0, got.Features.BPM, 1e-9)

	_, err = db.GetTrack(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveTrackUpserts(t *testing.T) {
	db, err := OpenTest()
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, db.SaveTrack(ctx, testTrack("t1", "Original")))
	require.NoError(t, db.SaveTrack(ctx, testTrack("t1", "Renamed")))

	got, err := db.GetTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	n, err := db.CountTracks(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestListTracksLimit(t *testing.T) {
	db, err := OpenTest()
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("t%d", i)
		require.NoError(t, db.SaveTrack(ctx, testTrack(id, "Track "+id)))
	}

	tracks, err := db.ListTracks(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, tracks, 3)

	// Zero means everything.
	tracks, err = db.ListTracks(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, tracks, 5)
}

func TestTrendingTracksOrdering(t *testing.T) {
	db, err := OpenTest()
	require.NoError(t, err)
	ctx := context.Background()

	quiet := testTrack("quiet", "Quiet")
	popular := testTrack("popular", "Popular")
	liked := testTrack("liked", "Liked")
	require.NoError(t, db.SaveTrack(ctx, quiet))
	require.NoError(t, db.SaveTrack(ctx, popular))
	require.NoError(t, db.SaveTrack(ctx, liked))

	for i := 0; i < 5; i++ {
		require.NoError(t, db.IncrementPlayCount(ctx, "popular"))
	}
	// Likes weigh double: 3 likes beat 5 plays.
	for i := 0; i < 3; i++ {
		require.NoError(t, db.IncrementLikeCount(ctx, "liked"))
	}

	tracks, err := db.TrendingTracks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tracks, 3)
	assert.Equal(t, "liked", tracks[0].ID)
	assert.Equal(t, "popular", tracks[1].ID)
	assert.Equal(t, "quiet", tracks[2].ID)
}

func TestMemoryAdapter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "k", []byte("abc")))

	// Stored bytes are isolated from caller mutation.
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	got[0] = 'x'
	again, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "a", []byte("1")))
	require.NoError(t, m.Clear(ctx))
	_, err = m.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}
