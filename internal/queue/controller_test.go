package queue

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resoundfm/resound/internal/cooccur"
	"github.com/resoundfm/resound/internal/embedding"
	"github.com/resoundfm/resound/internal/logger"
	"github.com/resoundfm/resound/internal/models"
	"github.com/resoundfm/resound/internal/prefs"
	"github.com/resoundfm/resound/internal/providers"
	"github.com/resoundfm/resound/internal/scoring"
	"github.com/resoundfm/resound/internal/storage"
	"github.com/resoundfm/resound/internal/taste"
	"github.com/resoundfm/resound/internal/vectorindex"
)

func TestMain(m *testing.M) {
	logger.InitializeForTests()
	os.Exit(m.Run())
}

type fixture struct {
	ctrl     *Controller
	db       *storage.DB
	index    *vectorindex.Index
	embedder *embedding.Engine
	registry *providers.Registry
	cooccur  *cooccur.Matrix
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := storage.OpenTest()
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	prefStore := prefs.NewStore()

	f := &fixture{
		db:       db,
		index:    vectorindex.New(vectorindex.DefaultConfig(embedding.Dim), rng),
		embedder: embedding.NewEngine(),
		registry: providers.NewRegistry(),
		cooccur:  cooccur.NewMatrix(),
	}

	f.ctrl = New(Deps{
		Library:   db,
		Index:     f.index,
		Embedder:  f.embedder,
		Taste:     taste.NewManager(),
		CoOccur:   f.cooccur,
		Prefs:     prefStore,
		Scorer:    scoring.NewEngine(prefStore, rng),
		Providers: f.registry,
	}, DefaultConfig())

	return f
}

// addTrack stores and indexes a generated track.
func (f *fixture) addTrack(t *testing.T, id, artist, genre string, energy float64) *models.Track {
	t.Helper()

	track := &models.Track{
		ID:      id,
		Title:   "Track " + id,
		Artists: models.StringArray{artist},
		Genres:  models.StringArray{genre},
		Features: &models.AudioFeatures{
			Energy: energy, Valence: 0.5, Danceability: 0.5, BPM: 125, Key: "C",
		},
		Duration: 200,
	}
	require.NoError(t, f.db.SaveTrack(context.Background(), track))

	emb, err := f.embedder.Embed(track)
	require.NoError(t, err)
	require.NoError(t, f.index.Insert(track.ID, emb.Vector))
	return track
}

func (f *fixture) seedLibrary(t *testing.T, n int) {
	t.Helper()
	genres := []string{"techno", "house", "ambient", "jazz"}
	for i := 0; i < n; i++ {
		f.addTrack(t,
			fmt.Sprintf("lib%02d", i),
			fmt.Sprintf("Artist %d", i),
			genres[i%len(genres)],
			0.3+0.02*float64(i%20),
		)
	}
}

func TestNextTracksColdStartUsesTrending(t *testing.T) {
	f := newFixture(t)
	f.seedLibrary(t, 20)

	tracks, err := f.ctrl.NextTracks(context.Background(), "newuser", 5)
	require.NoError(t, err)
	require.Len(t, tracks, 5)

	// With no history, candidates can only come from trending (and the
	// empty-profile sources contribute nothing).
	for _, st := range tracks {
		assert.Equal(t, models.SourceTrending, st.Source.Type)
		assert.NotEmpty(t, st.Source.Label)
	}
}

func TestNextTracksEmptyLibrary(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.NextTracks(context.Background(), "u1", 5)
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.Equal(t, 1, f.ctrl.ConsecutiveFailures("u1"))

	// Failures keep counting until something is found.
	f.ctrl.SetClock(func() time.Time { return time.Now().Add(time.Minute) })
	_, err = f.ctrl.NextTracks(context.Background(), "u1", 5)
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.Equal(t, 2, f.ctrl.ConsecutiveFailures("u1"))
}

func TestReplenishCooldown(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f.ctrl.SetClock(func() time.Time { return base })

	// Empty library: the first call fetches and fails.
	_, err := f.ctrl.NextTracks(context.Background(), "u1", 5)
	require.ErrorIs(t, err, ErrNoCandidates)
	require.Equal(t, 1, f.ctrl.ConsecutiveFailures("u1"))

	// Inside the cooldown no second fetch happens and the empty queue is
	// reported as rate limiting, not as a fresh failure.
	f.ctrl.SetClock(func() time.Time { return base.Add(2 * time.Second) })
	_, err = f.ctrl.NextTracks(context.Background(), "u1", 5)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, f.ctrl.ConsecutiveFailures("u1"))

	// Past the cooldown it fetches again.
	f.ctrl.SetClock(func() time.Time { return base.Add(6 * time.Second) })
	_, err = f.ctrl.NextTracks(context.Background(), "u1", 5)
	assert.ErrorIs(t, err, ErrNoCandidates)
	assert.Equal(t, 2, f.ctrl.ConsecutiveFailures("u1"))
}

func TestSourceFailureIsolation(t *testing.T) {
	f := newFixture(t)
	f.seedLibrary(t, 15)

	// A provider that always errors must not take down the batch.
	broken := providers.NewMock("broken", providers.CapabilitySimilar, providers.CapabilityRecommend)
	broken.Err = fmt.Errorf("connection refused")
	require.NoError(t, f.registry.Register(broken))

	tracks, err := f.ctrl.NextTracks(context.Background(), "u1", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, tracks)
}

func TestProviderRecommendationsFlowThrough(t *testing.T) {
	f := newFixture(t)
	f.seedLibrary(t, 10)

	rec := providers.NewMock("recommender", providers.CapabilityRecommend)
	rec.Recs = map[string][]string{"u1": {"lib03", "lib07"}}
	require.NoError(t, f.registry.Register(rec))

	tracks, err := f.ctrl.NextTracks(context.Background(), "u1", 10)
	require.NoError(t, err)

	byID := map[string]models.SourceType{}
	for _, st := range tracks {
		byID[st.Track.ID] = st.Source.Type
	}
	assert.Equal(t, models.SourceDiscovery, byID["lib03"])
}

func TestDiversityCapAcrossBatch(t *testing.T) {
	f := newFixture(t)
	// Ten tracks by one artist, a few by others.
	for i := 0; i < 10; i++ {
		f.addTrack(t, fmt.Sprintf("m%d", i), "Prolific", "techno", 0.5)
	}
	f.addTrack(t, "x1", "Other A", "house", 0.4)
	f.addTrack(t, "x2", "Other B", "ambient", 0.3)

	tracks, err := f.ctrl.NextTracks(context.Background(), "u1", 4)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, st := range tracks {
		counts[st.Track.PrimaryArtist()]++
	}
	assert.LessOrEqual(t, counts["Prolific"], 2)
}

func TestDedupeDropsRepeatsAndNearTitles(t *testing.T) {
	// Second "a" repeats an id, "b" is a near-duplicate title, "d" is in
	// the exclude set.
	cands := []models.QueueCandidate{
		{Track: models.Track{ID: "a", Title: "Midnight City"}},
		{Track: models.Track{ID: "a", Title: "Midnight City"}},
		{Track: models.Track{ID: "b", Title: "Midnight City (feat. Someone)"}},
		{Track: models.Track{ID: "c", Title: "Completely Different"}},
		{Track: models.Track{ID: "d", Title: "Excluded Song"}},
	}

	kept := dedupe(cands, map[string]bool{"d": true})
	require.Len(t, kept, 2)
	assert.Equal(t, "a", kept[0].Track.ID)
	assert.Equal(t, "c", kept[1].Track.ID)
}

func TestInterleaveOrdersSourceClasses(t *testing.T) {
	mk := func(id string) []models.QueueCandidate {
		return []models.QueueCandidate{{Track: models.Track{ID: id, Title: id}}}
	}
	results := []sourceResult{
		{name: "taste-local", class: models.SourceLocal, cands: append(mk("l1"), mk("l2")...)},
		{name: "trending", class: models.SourceTrending, cands: append(mk("d1"), append(mk("d2"), mk("d3")...)...)},
		{name: "index-similar", class: models.SourceSimilar, cands: mk("s1")},
		{name: "broken", err: fmt.Errorf("down")},
	}

	out := interleave(results)
	ids := make([]string, len(out))
	for i, c := range out {
		ids[i] = c.Track.ID
	}
	// Similar first, then discovery and local alternating 2:1.
	assert.Equal(t, []string{"s1", "d1", "d2", "l1", "d3", "l2"}, ids)
}

func TestPickMode(t *testing.T) {
	// Ratio above 0.6 leans exploit, below 0.3 leans explore.
	assert.Equal(t, scoring.ModeExploit, pickMode(ModeAuto, 10, 5))
	assert.Equal(t, scoring.ModeExplore, pickMode(ModeAuto, 1, 5))
	assert.Equal(t, scoring.ModeBalanced, pickMode(ModeAuto, 2, 5))

	// Discovery-only batches exploit; nothing found stays balanced.
	assert.Equal(t, scoring.ModeExploit, pickMode(ModeAuto, 3, 0))
	assert.Equal(t, scoring.ModeBalanced, pickMode(ModeAuto, 0, 0))
}

func TestRadioAutoQueueMutualExclusion(t *testing.T) {
	f := newFixture(t)
	seed := models.RadioSeed{Type: models.SeedGenre, ID: "techno", Genres: []string{"techno"}}

	require.NoError(t, f.ctrl.EnableAutoQueue("u1"))
	assert.Equal(t, ModeAuto, f.ctrl.Mode("u1"))
	assert.ErrorIs(t, f.ctrl.StartRadio("u1", seed), ErrRadioActive)

	f.ctrl.DisableAutoQueue("u1")
	assert.Equal(t, ModeManual, f.ctrl.Mode("u1"))

	require.NoError(t, f.ctrl.StartRadio("u1", seed))
	assert.Equal(t, ModeRadio, f.ctrl.Mode("u1"))
	assert.ErrorIs(t, f.ctrl.EnableAutoQueue("u1"), ErrRadioActive)

	f.ctrl.StopRadio("u1")
	assert.Equal(t, ModeManual, f.ctrl.Mode("u1"))
}

func TestRadioSeedWeightDrift(t *testing.T) {
	f := newFixture(t)
	track := f.addTrack(t, "seed1", "Artist", "techno", 0.6)

	require.NoError(t, f.ctrl.StartRadio("u1", models.RadioSeed{Type: models.SeedTrack, ID: track.ID}))

	f.ctrl.mu.Lock()
	u := f.ctrl.users["u1"]
	f.ctrl.mu.Unlock()
	require.NotNil(t, u.radio)
	assert.Equal(t, 0.7, u.radio.weight)

	now := time.Now()
	for i := 0; i < 5; i++ {
		f.ctrl.RecordPlay("u1", track, now)
	}
	assert.InDelta(t, 0.6, u.radio.weight, 1e-9)

	// The weight never drops below the floor.
	for i := 0; i < 50; i++ {
		f.ctrl.RecordPlay("u1", track, now)
	}
	assert.InDelta(t, radioWeightMin, u.radio.weight, 1e-9)
}

func TestRecordPlayFeedsSessionAndCoOccurrence(t *testing.T) {
	f := newFixture(t)
	a := f.addTrack(t, "pa", "Artist A", "techno", 0.5)
	b := f.addTrack(t, "pb", "Artist B", "house", 0.5)

	now := time.Now()
	f.ctrl.RecordPlay("u1", a, now)
	f.ctrl.RecordPlay("u1", b, now.Add(3*time.Minute))

	pairs := f.cooccur.GetCoOccurring("pa", cooccur.ContextSession, 10)
	require.Len(t, pairs, 1)
	assert.Equal(t, "pb", pairs[0].TrackID)

	// Manual-mode plays carry no radio signal.
	assert.Empty(t, f.cooccur.GetCoOccurring("pa", cooccur.ContextRadio, 10))

	// Played tracks are excluded from the next batch.
	f.seedLibrary(t, 10)
	tracks, err := f.ctrl.NextTracks(context.Background(), "u1", 10)
	require.NoError(t, err)
	for _, st := range tracks {
		assert.NotEqual(t, "pa", st.Track.ID)
		assert.NotEqual(t, "pb", st.Track.ID)
	}
}

func TestRadioPlaysRecordRadioCoOccurrence(t *testing.T) {
	f := newFixture(t)
	a := f.addTrack(t, "ra", "Artist A", "techno", 0.5)
	b := f.addTrack(t, "rb", "Artist B", "techno", 0.5)

	require.NoError(t, f.ctrl.StartRadio("u1", models.RadioSeed{Type: models.SeedTrack, ID: a.ID}))

	now := time.Now()
	f.ctrl.RecordPlay("u1", a, now)
	f.ctrl.RecordPlay("u1", b, now.Add(2*time.Minute))

	pairs := f.cooccur.GetCoOccurring("ra", cooccur.ContextRadio, 10)
	require.Len(t, pairs, 1)
	assert.Equal(t, "rb", pairs[0].TrackID)

	// Session pairing advances alongside the radio signal.
	session := f.cooccur.GetCoOccurring("ra", cooccur.ContextSession, 10)
	require.Len(t, session, 1)
	assert.Equal(t, "rb", session[0].TrackID)
}

func TestNextTracksRecordsQueueCoOccurrence(t *testing.T) {
	f := newFixture(t)
	f.seedLibrary(t, 10)

	tracks, err := f.ctrl.NextTracks(context.Background(), "u1", 4)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(tracks), 2)

	// Tracks served in one batch pair up in queue context.
	pairs := f.cooccur.GetCoOccurring(tracks[0].Track.ID, cooccur.ContextQueue, 10)
	require.NotEmpty(t, pairs)
	assert.Equal(t, tracks[1].Track.ID, pairs[0].TrackID)
}

func TestSessionExpiryResets(t *testing.T) {
	f := newFixture(t)
	track := f.addTrack(t, "s1", "Artist", "techno", 0.5)

	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	f.ctrl.SetClock(func() time.Time { return base })
	f.ctrl.RecordPlay("u1", track, base)

	f.ctrl.mu.Lock()
	played := len(f.ctrl.users["u1"].session.TrackIDs)
	f.ctrl.mu.Unlock()
	assert.Equal(t, 1, played)

	// Five hours idle: a fresh session starts.
	f.ctrl.SetClock(func() time.Time { return base.Add(5 * time.Hour) })
	assert.Equal(t, ModeManual, f.ctrl.Mode("u1"))

	f.ctrl.mu.Lock()
	played = len(f.ctrl.users["u1"].session.TrackIDs)
	f.ctrl.mu.Unlock()
	assert.Zero(t, played)
}

func TestSourcesMapTracksProvenance(t *testing.T) {
	f := newFixture(t)
	f.seedLibrary(t, 10)

	tracks, err := f.ctrl.NextTracks(context.Background(), "u1", 3)
	require.NoError(t, err)

	sources := f.ctrl.Sources("u1")
	for _, st := range tracks {
		src, ok := sources[st.Track.ID]
		require.True(t, ok, "missing provenance for %s", st.Track.ID)
		assert.Equal(t, st.Source.Type, src.Type)
	}
}

func TestRankCandidatesSortsWithoutQueueMutation(t *testing.T) {
	f := newFixture(t)
	a := f.addTrack(t, "ra", "Artist A", "techno", 0.5)
	b := f.addTrack(t, "rb", "Artist B", "house", 0.5)

	cands := []models.QueueCandidate{
		{Track: *a, Source: models.QueueSource{Type: models.SourceLocal}},
		{Track: *b, Source: models.QueueSource{Type: models.SourceLocal}},
	}

	ranked := f.ctrl.RankCandidates(context.Background(), "u1", cands)
	require.Len(t, ranked, 2)
	assert.GreaterOrEqual(t, ranked[0].Score, ranked[1].Score)

	f.ctrl.mu.Lock()
	queueLen := len(f.ctrl.users["u1"].queue)
	f.ctrl.mu.Unlock()
	assert.Zero(t, queueLen)
}
