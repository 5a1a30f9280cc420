package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/model"
)

// ErrMissingColumn CSV 缺少必需列
var ErrMissingColumn = errors.New("缺少必需列")

var requiredColumns = []string{"id", "title"}

// LoadCSV 读取处理后的电影表
func LoadCSV(path string) ([]model.RawMovie, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	movies, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	return movies, nil
}

// ReadCSV 按表头映射列，未知列忽略，可选列缺失时为空
func ReadCSV(r io.Reader) ([]model.RawMovie, error) {
	log := logging.Component("Importer")

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	idx := headerIndex(header)
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, col)
		}
	}

	var movies []model.RawMovie
	line := 1
	for {
		row, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, csv.ErrFieldCount) {
				continue
			}
			return nil, err
		}

		m := model.RawMovie{
			ID:                  field(row, idx, "id"),
			TMDBID:              field(row, idx, "tmdb_id"),
			IMDbID:              field(row, idx, "imdb_id"),
			Title:               field(row, idx, "title"),
			OriginalTitle:       field(row, idx, "original_title"),
			Overview:            field(row, idx, "overview"),
			Genres:              field(row, idx, "genres"),
			Cast:                field(row, idx, "cast"),
			Crew:                field(row, idx, "crew"),
			Keywords:            field(row, idx, "keywords"),
			ProductionCompanies: field(row, idx, "production_companies"),
			ReleaseDate:         field(row, idx, "release_date"),
			VoteAverage:         number(row, idx, "vote_average"),
			VoteCount:           number(row, idx, "vote_count"),
			PosterPath:          field(row, idx, "poster_path"),
			BackdropPath:        field(row, idx, "backdrop_path"),
		}
		if m.ID == "" {
			log.Debug().Int("line", line).Msg("跳过无 ID 的行")
			continue
		}
		movies = append(movies, m)
	}

	log.Info().Int("count", len(movies)).Msg("CSV 读取完成")
	return movies, nil
}

func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func field(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func number(row []string, idx map[string]int, col string) *float64 {
	s := field(row, idx, col)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
