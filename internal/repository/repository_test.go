package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/moovie-recommender/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestFindByIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMovieRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "movies" WHERE id IN ($1,$2)`)).
		WithArgs(3, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).
			AddRow(1, "Toy Story").
			AddRow(3, "Heat"))

	movies, err := repo.FindByIDs(context.Background(), []int{3, 1})
	require.NoError(t, err)
	require.Len(t, movies, 2)
	assert.Equal(t, "Toy Story", movies[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDsEmptySkipsQuery(t *testing.T) {
	db, mock := newMockDB(t)
	movies, err := NewMovieRepository(db).FindByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, movies)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExistingIDs(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "movies" WHERE id IN ($1,$2,$3)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(862).AddRow(8844))

	found, err := NewMovieRepository(db).ExistingIDs(context.Background(), []int{862, 8844, 5})
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{862: true, 8844: true}, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIDsByIMDb(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM "movies" WHERE imdb_id = ANY($1)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "imdb_id"}).AddRow(862, "tt0114709"))

	found, err := NewMovieRepository(db).IDsByIMDb(context.Background(), []string{"tt0114709", "tt0000000"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"tt0114709": 862}, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopByWeightedRating(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "movies" WHERE wr IS NOT NULL AND wr > $1 ORDER BY wr DESC,id LIMIT $2`)).
		WithArgs(6.5, 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "wr"}).
			AddRow(10, "A", 8.1).
			AddRow(11, "B", 7.4))

	movies, err := NewMovieRepository(db).TopByWeightedRating(context.Background(), 6.5, 2)
	require.NoError(t, err)
	require.Len(t, movies, 2)
	require.NotNil(t, movies[0].WR)
	assert.InDelta(t, 8.1, *movies[0].WR, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAverageWR(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(AVG(wr), 0) FROM "movies" WHERE wr IS NOT NULL`)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(6.25))

	avg, err := NewMovieRepository(db).AverageWR(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 6.25, avg, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWeightedRatingsRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "movies" SET "wr"=$1`)).
		WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err := NewMovieRepository(db).UpdateWeightedRatings(context.Background(), map[int]float64{1: 7.5})
	assert.ErrorContains(t, err, "deadlock")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPreferenceNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "user_preferences" WHERE user_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id"}))

	pref, err := NewPreferenceRepository(db).FindByUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, pref)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindPreference(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "user_preferences" WHERE user_id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "favorite_genres", "favorite_actors", "favorite_directors"}).
			AddRow(1, 42, "Action", "", "Nolan"))

	pref, err := NewPreferenceRepository(db).FindByUser(context.Background(), 42)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.Equal(t, "Action", pref.FavoriteGenres)
	assert.False(t, pref.IsEmpty())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMovieIDsDedupesKeepingMostRecent(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "user_watch_history" WHERE user_id = $1 ORDER BY watched_at DESC,id DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "movie_id", "watched_at"}).
			AddRow(9, 7, 300, now).
			AddRow(8, 7, 200, now.Add(-time.Hour)).
			AddRow(5, 7, 300, now.Add(-2*time.Hour)))

	ids, err := NewHistoryRepository(db).ListMovieIDs(context.Background(), 7, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{300, 200}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPreferenceOnUserConflict(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "user_preferences"`) +
		`.*` + regexp.QuoteMeta(`ON CONFLICT ("user_id") DO UPDATE SET "favorite_genres"="excluded"."favorite_genres"`) +
		`.*` + regexp.QuoteMeta(`RETURNING "id"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3))
	mock.ExpectCommit()

	pref := &model.UserPreference{UserID: 42, FavoriteGenres: "Crime"}
	require.NoError(t, NewPreferenceRepository(db).Upsert(context.Background(), pref))
	assert.Equal(t, 3, pref.ID)
	assert.False(t, pref.UpdatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddHistory(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "user_watch_history" ("user_id","movie_id","watched_at","created_at")`)).
		WithArgs(7, 862, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, NewHistoryRepository(db).Add(context.Background(), 7, 862))
	assert.NoError(t, mock.ExpectationsWereMet())
}
