package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/moovie-recommender/internal/model"
)

type fakeMovies struct {
	byID   map[int]model.Movie
	top    []model.Movie
	avg    float64
	minWR  float64
	avgErr error
}

func (f *fakeMovies) FindByIDs(_ context.Context, ids []int) ([]model.Movie, error) {
	var out []model.Movie
	for _, id := range ids {
		if m, ok := f.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMovies) TopByWeightedRating(_ context.Context, minWR float64, limit int) ([]model.Movie, error) {
	f.minWR = minWR
	if len(f.top) > limit {
		return f.top[:limit], nil
	}
	return f.top, nil
}

func (f *fakeMovies) AverageWR(context.Context) (float64, error) { return f.avg, f.avgErr }

type fakePrefs map[int]*model.UserPreference

func (f fakePrefs) FindByUser(_ context.Context, userID int) (*model.UserPreference, error) {
	return f[userID], nil
}

func (f fakePrefs) Upsert(_ context.Context, p *model.UserPreference) error {
	f[p.UserID] = p
	return nil
}

// fakeHistory 最近观看的在前
type fakeHistory map[int][]int

func (f fakeHistory) ListMovieIDs(_ context.Context, userID, limit int) ([]int, error) {
	ids := f[userID]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f fakeHistory) Add(_ context.Context, userID, movieID int) error {
	f[userID] = append([]int{movieID}, f[userID]...)
	return nil
}

type fakeSearcher struct {
	requests []SearchRequest
	results  []ScoredMovie
	err      error
}

func (f *fakeSearcher) Search(_ context.Context, req SearchRequest) ([]ScoredMovie, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var out []ScoredMovie
	for _, r := range f.results {
		if req.Exclude[r.MovieID] {
			continue
		}
		out = append(out, r)
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

func wr(v float64) *float64 { return &v }

func catalogue() *fakeMovies {
	return &fakeMovies{
		byID: map[int]model.Movie{
			1: {ID: 1, Title: "Heat", Genres: `[{"name": "Crime"}]`, Crew: `[{"name": "Michael Mann", "job": "Director"}]`},
			2: {ID: 2, Title: "Collateral", Genres: `[{"name": "Crime"}]`, Crew: `[{"name": "Michael Mann", "job": "Director"}]`},
			3: {ID: 3, Title: "Toy Story", Genres: `[{"name": "Animation"}]`},
		},
		top: []model.Movie{{ID: 9, Title: "Top", WR: wr(8.5)}, {ID: 8, Title: "Next", WR: wr(8.1)}},
		avg: 6.4,
	}
}

func newRecommender(movies *fakeMovies, prefs fakePrefs, history fakeHistory, search *fakeSearcher) *RecommendationService {
	return NewRecommendationService(RecommendConfig{DefaultLimit: 10, MaxLimit: 50}, movies, prefs, history, search)
}

func TestNoPreferenceUsesWeightedRating(t *testing.T) {
	movies := catalogue()
	search := &fakeSearcher{}
	s := newRecommender(movies, fakePrefs{}, fakeHistory{}, search)

	res, err := s.ForUser(context.Background(), 7, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, StageWeightedRating, res.Stage)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Top", res.Items[0].Movie.Title)
	assert.Equal(t, ReasonPopular, res.Items[0].Type)
	require.NotNil(t, res.MinWR)
	assert.InDelta(t, 6.4, *res.MinWR, 1e-9)
	assert.InDelta(t, 6.4, movies.minWR, 1e-9)
	assert.Empty(t, search.requests)
}

func TestExplicitMinWR(t *testing.T) {
	movies := catalogue()
	movies.avgErr = errors.New("should not be called")
	s := newRecommender(movies, fakePrefs{}, fakeHistory{}, &fakeSearcher{})

	res, err := s.ForUser(context.Background(), 7, 5, wr(7.5))
	require.NoError(t, err)
	assert.InDelta(t, 7.5, movies.minWR, 1e-9)
	assert.InDelta(t, 7.5, *res.MinWR, 1e-9)
}

func TestPreferenceOnlySearchesPreferences(t *testing.T) {
	search := &fakeSearcher{results: []ScoredMovie{{MovieID: 3, Similarity: 0.9}, {MovieID: 99, Similarity: 0.8}}}
	prefs := fakePrefs{7: {UserID: 7, FavoriteGenres: "Animation", FavoriteActors: "Tom Hanks"}}
	s := newRecommender(catalogue(), prefs, fakeHistory{}, search)

	res, err := s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, StagePreferences, res.Stage)
	require.Len(t, search.requests, 1)
	assert.Equal(t, "Animation,Tom Hanks", search.requests[0].Query)
	assert.Empty(t, search.requests[0].Exclude)

	// 99 不在库中，被跳过
	require.Len(t, res.Items, 1)
	assert.Equal(t, "Toy Story", res.Items[0].Movie.Title)
	require.NotNil(t, res.Items[0].Similarity)
	assert.InDelta(t, 0.9, *res.Items[0].Similarity, 1e-9)
	assert.Equal(t, ReasonPreference, res.Items[0].Type)
	assert.Equal(t, "Matches your favorite genres and actors", res.Items[0].Text)
}

func TestEmptyPreferencesSkipSearch(t *testing.T) {
	search := &fakeSearcher{results: []ScoredMovie{{MovieID: 3}}}
	prefs := fakePrefs{7: {UserID: 7, FavoriteGenres: " "}}
	s := newRecommender(catalogue(), prefs, fakeHistory{}, search)

	res, err := s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, StagePreferences, res.Stage)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
	assert.Empty(t, search.requests)
}

func TestHistoryExcludesWatchedAndExplains(t *testing.T) {
	search := &fakeSearcher{results: []ScoredMovie{
		{MovieID: 1, Similarity: 0.99},
		{MovieID: 2, Similarity: 0.95},
		{MovieID: 3, Similarity: 0.50},
	}}
	prefs := fakePrefs{7: {UserID: 7, FavoriteDirectors: "Michael Mann"}}
	s := newRecommender(catalogue(), prefs, fakeHistory{7: {1}}, search)

	res, err := s.ForUser(context.Background(), 7, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, StageHistory, res.Stage)

	require.Len(t, search.requests, 1)
	req := search.requests[0]
	assert.Equal(t, map[int]bool{1: true}, req.Exclude)
	assert.Equal(t, 2, req.Limit)
	assert.Contains(t, req.Query, "Movies: Heat")
	assert.Contains(t, req.Query, "Favorite Directors: Michael Mann")

	require.Len(t, res.Items, 2)
	assert.Equal(t, "Collateral", res.Items[0].Movie.Title)
	assert.Equal(t, ReasonDirector, res.Items[0].Type)
	assert.Contains(t, res.Items[0].Text, "Michael Mann")
	assert.Equal(t, "Toy Story", res.Items[1].Movie.Title)
}

func TestHistoryExcludesEntireWatchedSet(t *testing.T) {
	search := &fakeSearcher{results: []ScoredMovie{
		{MovieID: 3, Similarity: 0.99},
		{MovieID: 2, Similarity: 0.90},
		{MovieID: 9, Similarity: 0.80},
	}}
	movies := catalogue()
	movies.byID[9] = model.Movie{ID: 9, Title: "Thief"}
	prefs := fakePrefs{7: {UserID: 7, FavoriteGenres: "Crime"}}
	s := NewRecommendationService(RecommendConfig{DefaultLimit: 10, MaxLimit: 50, HistoryLimit: 2},
		movies, prefs, fakeHistory{7: {1, 2, 3}}, search)

	res, err := s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	require.Len(t, search.requests, 1)
	req := search.requests[0]
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, req.Exclude)

	// 查询文本只用最近两部
	assert.Contains(t, req.Query, "Heat")
	assert.Contains(t, req.Query, "Collateral")
	assert.NotContains(t, req.Query, "Toy Story")

	require.Len(t, res.Items, 1)
	assert.Equal(t, "Thief", res.Items[0].Movie.Title)
}

func TestSavePreferencesInvalidatesCache(t *testing.T) {
	search := &fakeSearcher{results: []ScoredMovie{{MovieID: 3, Similarity: 0.9}}}
	prefs := fakePrefs{}
	s := NewRecommendationService(RecommendConfig{CacheTTL: time.Minute}, catalogue(), prefs, fakeHistory{}, search)

	res, err := s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, StageWeightedRating, res.Stage)

	pref, err := s.SavePreferences(context.Background(), 7, " Animation ", "", "")
	require.NoError(t, err)
	assert.Equal(t, "Animation", pref.FavoriteGenres)

	res, err = s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, StagePreferences, res.Stage)
	assert.Len(t, search.requests, 1)
}

func TestRecordWatchMovesUserToHistoryStage(t *testing.T) {
	search := &fakeSearcher{results: []ScoredMovie{{MovieID: 2, Similarity: 0.9}}}
	prefs := fakePrefs{7: {UserID: 7, FavoriteGenres: "Crime"}}
	history := fakeHistory{}
	s := NewRecommendationService(RecommendConfig{CacheTTL: time.Minute}, catalogue(), prefs, history, search)

	res, err := s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, StagePreferences, res.Stage)

	require.NoError(t, s.RecordWatch(context.Background(), 7, 1))
	assert.Equal(t, []int{1}, history[7])

	res, err = s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, StageHistory, res.Stage)
	assert.Equal(t, map[int]bool{1: true}, search.requests[len(search.requests)-1].Exclude)
}

func TestRecordWatchUnknownMovie(t *testing.T) {
	history := fakeHistory{}
	s := newRecommender(catalogue(), fakePrefs{}, history, &fakeSearcher{})

	err := s.RecordWatch(context.Background(), 7, 404)
	assert.ErrorIs(t, err, ErrMovieNotFound)
	assert.Empty(t, history[7])
}

func TestSearchErrorPropagates(t *testing.T) {
	prefs := fakePrefs{7: {UserID: 7, FavoriteGenres: "Drama"}}
	s := newRecommender(catalogue(), prefs, fakeHistory{}, &fakeSearcher{err: errors.New("metadata position out of range")})

	_, err := s.ForUser(context.Background(), 7, 5, nil)
	assert.Error(t, err)
}

func TestResultsAreCachedPerUser(t *testing.T) {
	search := &fakeSearcher{results: []ScoredMovie{{MovieID: 3, Similarity: 0.9}}}
	prefs := fakePrefs{7: {UserID: 7, FavoriteGenres: "Animation"}}
	s := NewRecommendationService(RecommendConfig{CacheTTL: time.Minute}, catalogue(), prefs, fakeHistory{}, search)

	_, err := s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	_, err = s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	assert.Len(t, search.requests, 1)

	s.Invalidate(7)
	_, err = s.ForUser(context.Background(), 7, 5, nil)
	require.NoError(t, err)
	assert.Len(t, search.requests, 2)
}

func TestNormalizeLimit(t *testing.T) {
	s := newRecommender(catalogue(), fakePrefs{}, fakeHistory{}, &fakeSearcher{})
	assert.Equal(t, 10, s.NormalizeLimit(0))
	assert.Equal(t, 3, s.NormalizeLimit(3))
	assert.Equal(t, 50, s.NormalizeLimit(500))
}
