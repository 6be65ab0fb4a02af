package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/resoundfm/resound/internal/cooccur"
	"github.com/resoundfm/resound/internal/models"
	"github.com/resoundfm/resound/internal/providers"
	"github.com/resoundfm/resound/internal/taste"
)

const perSourceLimit = 15

// gather fans out to every candidate source concurrently and collects the
// results. A failed source contributes an error, never aborts the batch.
func (c *Controller) gather(ctx context.Context, userID string, lastPlayed *models.Track, radio *radioState, exclude map[string]bool, batch int) []sourceResult {
	seed := c.seedTrack(ctx, lastPlayed, radio)

	type fetch struct {
		name  string
		class models.SourceType
		run   func(context.Context) ([]models.QueueCandidate, error)
	}

	fetches := []fetch{
		{"index-similar", models.SourceSimilar, func(ctx context.Context) ([]models.QueueCandidate, error) {
			return c.indexSimilar(ctx, seed, radio, exclude)
		}},
		{"provider-similar", models.SourceSimilar, func(ctx context.Context) ([]models.QueueCandidate, error) {
			return c.providerSimilar(ctx, seed)
		}},
		{"provider-recommendations", models.SourceDiscovery, func(ctx context.Context) ([]models.QueueCandidate, error) {
			return c.providerRecommendations(ctx, userID)
		}},
		{"smart-search", models.SourceSearch, func(ctx context.Context) ([]models.QueueCandidate, error) {
			return c.smartSearch(ctx, userID, seed, radio)
		}},
		{"trending", models.SourceTrending, func(ctx context.Context) ([]models.QueueCandidate, error) {
			return c.trending(ctx)
		}},
		{"taste-local", models.SourceLocal, func(ctx context.Context) ([]models.QueueCandidate, error) {
			return c.tasteLocal(ctx, userID, exclude)
		}},
	}

	results := make([]sourceResult, len(fetches))
	var wg sync.WaitGroup
	for i, f := range fetches {
		wg.Add(1)
		go func(i int, f fetch) {
			defer wg.Done()
			cands, err := f.run(ctx)
			results[i] = sourceResult{name: f.name, class: f.class, cands: cands, err: err}
		}(i, f)
	}
	wg.Wait()

	return results
}

// seedTrack picks the anchor for similarity sources: the radio seed when in
// radio mode, otherwise the last played track.
func (c *Controller) seedTrack(ctx context.Context, lastPlayed *models.Track, radio *radioState) *models.Track {
	if radio != nil {
		switch radio.seed.Type {
		case models.SeedTrack:
			if t, err := c.deps.Library.GetTrack(ctx, radio.seed.ID); err == nil {
				return t
			}
		case models.SeedArtist, models.SeedGenre:
			// Synthetic track carrying the seed's genres and features,
			// so the embedding sources have something to anchor on.
			return &models.Track{
				ID:       "seed:" + radio.seed.ID,
				Genres:   radio.seed.Genres,
				Features: radio.seed.Features,
			}
		}
	}
	return lastPlayed
}

// indexSimilar queries the vector index around the seed embedding and blends
// in co-occurrence evidence before resolving tracks.
func (c *Controller) indexSimilar(ctx context.Context, seed *models.Track, radio *radioState, exclude map[string]bool) ([]models.QueueCandidate, error) {
	if seed == nil {
		return nil, nil
	}

	emb, err := c.deps.Embedder.Embed(seed)
	if err != nil {
		return nil, fmt.Errorf("embed seed %s: %w", seed.ID, err)
	}

	searchStarted := c.now()
	hits, err := c.deps.Index.Search(emb.Vector, perSourceLimit*2, exclude)
	if err != nil {
		return nil, err
	}
	c.deps.Metrics.ObserveSearch(c.now().Sub(searchStarted).Seconds())

	embScores := make(map[string]float64, len(hits))
	for _, h := range hits {
		if h.ID == seed.ID {
			continue
		}
		embScores[h.ID] = h.Score
	}

	coScores := make(map[string]float64)
	for _, p := range c.deps.CoOccur.GetCoOccurring(seed.ID, "", perSourceLimit*2) {
		coScores[p.TrackID] = p.Count
	}

	merged := cooccur.MergeScores(embScores, coScores)

	ids := make([]string, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if merged[ids[i]] != merged[ids[j]] {
			return merged[ids[i]] > merged[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > perSourceLimit {
		ids = ids[:perSourceLimit]
	}

	srcType := models.SourceSimilar
	label := "Similar to " + seedLabel(seed)
	if radio != nil {
		srcType = models.SourceRadio
		label = "Radio: " + seedLabel(seed)
	}

	return c.resolve(ctx, ids, models.QueueSource{
		Type:        srcType,
		Label:       label,
		SeedTrackID: seed.ID,
	}), nil
}

// providerSimilar asks external similar-track providers around the seed.
func (c *Controller) providerSimilar(ctx context.Context, seed *models.Track) ([]models.QueueCandidate, error) {
	if seed == nil || seed.ID == "" || strings.HasPrefix(seed.ID, "seed:") {
		return nil, nil
	}

	var out []models.QueueCandidate
	var lastErr error
	for _, p := range c.deps.Providers.With(providers.CapabilitySimilar) {
		ids, err := p.GetSimilarTracks(ctx, seed.ID, perSourceLimit)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, c.resolve(ctx, ids, models.QueueSource{
			Type:        models.SourceSimilar,
			Label:       "Similar to " + seedLabel(seed),
			SeedTrackID: seed.ID,
		})...)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// providerRecommendations asks external recommenders for personalized picks.
func (c *Controller) providerRecommendations(ctx context.Context, userID string) ([]models.QueueCandidate, error) {
	var out []models.QueueCandidate
	var lastErr error
	for _, p := range c.deps.Providers.With(providers.CapabilityRecommend) {
		ids, err := p.GetRecommendations(ctx, userID, perSourceLimit)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, c.resolve(ctx, ids, models.QueueSource{
			Type:  models.SourceDiscovery,
			Label: "Recommended by " + p.Name(),
		})...)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

// smartSearch builds a text query from the listening context and runs it
// against the search backend. On failure it falls back to the last
// successful result set so a search outage degrades instead of dropping the
// source.
func (c *Controller) smartSearch(ctx context.Context, userID string, seed *models.Track, radio *radioState) ([]models.QueueCandidate, error) {
	query := c.searchQuery(userID, seed, radio)
	if query == "" {
		return nil, nil
	}

	ids, err := c.deps.Search.SearchTracks(ctx, query, perSourceLimit)
	if err != nil {
		c.mu.Lock()
		cached := c.userLocked(userID).searchCache
		c.mu.Unlock()
		if len(cached) == 0 {
			return nil, err
		}
		return c.resolve(ctx, cached, models.QueueSource{
			Type:  models.SourceSearch,
			Label: "From your scene (cached)",
		}), nil
	}

	if len(ids) > 0 {
		c.mu.Lock()
		c.userLocked(userID).searchCache = ids
		c.mu.Unlock()
	}

	return c.resolve(ctx, ids, models.QueueSource{
		Type:  models.SourceSearch,
		Label: "From your scene",
	}), nil
}

// searchQuery derives search terms: radio seed genres first, then seed
// track genres, then the user's liked genres.
func (c *Controller) searchQuery(userID string, seed *models.Track, radio *radioState) string {
	if radio != nil && len(radio.seed.Genres) > 0 {
		return strings.Join(radio.seed.Genres, " ")
	}
	if seed != nil && len(seed.Genres) > 0 {
		return strings.Join(seed.Genres, " ")
	}
	liked := c.deps.Prefs.LikedGenres(userID)
	if len(liked) > 3 {
		liked = liked[:3]
	}
	return strings.Join(liked, " ")
}

// trending is the cold-start fallback: library tracks ranked by engagement.
func (c *Controller) trending(ctx context.Context) ([]models.QueueCandidate, error) {
	tracks, err := c.deps.Library.TrendingTracks(ctx, perSourceLimit)
	if err != nil {
		return nil, err
	}

	out := make([]models.QueueCandidate, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, models.QueueCandidate{
			Track:  t,
			Source: models.QueueSource{Type: models.SourceTrending, Label: "Trending now"},
		})
	}
	return out, nil
}

// tasteLocal searches the vector index around the user's taste profile.
func (c *Controller) tasteLocal(ctx context.Context, userID string, exclude map[string]bool) ([]models.QueueCandidate, error) {
	profile, err := c.deps.Taste.GetProfile(userID, c.now())
	if err != nil {
		if err == taste.ErrProfileInvalid {
			return nil, nil
		}
		return nil, err
	}

	searchStarted := c.now()
	hits, err := c.deps.Index.Search(profile, perSourceLimit, exclude)
	if err != nil {
		return nil, err
	}
	c.deps.Metrics.ObserveSearch(c.now().Sub(searchStarted).Seconds())

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return c.resolve(ctx, ids, models.QueueSource{
		Type:  models.SourceLocal,
		Label: "More of what you love",
	}), nil
}

// resolve loads tracks for ids, dropping ids the library no longer has.
func (c *Controller) resolve(ctx context.Context, ids []string, src models.QueueSource) []models.QueueCandidate {
	out := make([]models.QueueCandidate, 0, len(ids))
	for _, id := range ids {
		track, err := c.deps.Library.GetTrack(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, models.QueueCandidate{Track: *track, Source: src})
	}
	return out
}

func seedLabel(seed *models.Track) string {
	if seed.Title != "" {
		return seed.Title
	}
	if g := seed.PrimaryGenre(); g != "" {
		return g
	}
	return seed.ID
}
