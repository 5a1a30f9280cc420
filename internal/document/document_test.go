package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/moovie-recommender/internal/model"
)

func floatPtr(v float64) *float64 { return &v }

func toyStory() model.RawMovie {
	return model.RawMovie{
		ID:                  "862",
		TMDBID:              "862",
		IMDbID:              "tt0114709",
		Title:               "Toy Story",
		Overview:            "Led by Woody, Andy's toys live happily in his room.",
		Genres:              `[{"id": 16, "name": "Animation"}, {"id": 35, "name": "Comedy"}]`,
		Cast:                `[{"name": "Tom Hanks", "character": "Woody"}, {"name": "Tim Allen"}, {"name": "Don Rickles"}]`,
		Crew:                `[{"name": "John Lasseter", "job": "Director"}, {"name": "Joss Whedon", "job": "Screenplay"}]`,
		Keywords:            `[{"id": 931, "name": "jealousy"}, {"id": 4290, "name": "toy"}]`,
		ProductionCompanies: `[{"name": "Pixar Animation Studios", "id": 3}]`,
		ReleaseDate:         "1995-10-30",
		VoteAverage:         floatPtr(7.7),
		VoteCount:           floatPtr(5415),
	}
}

func TestNormalizeWellFormed(t *testing.T) {
	n := NewNormalizer(Options{CastLimit: 2})
	doc := n.Normalize(toyStory())

	assert.Equal(t, []string{"Animation", "Comedy"}, doc.Genres)
	assert.Equal(t, []string{"Tom Hanks", "Tim Allen"}, doc.Cast)
	assert.Equal(t, []string{"John Lasseter"}, doc.Crew)
	assert.Equal(t, []string{"jealousy", "toy"}, doc.Keywords)
	assert.Equal(t, []string{"Pixar Animation Studios"}, doc.ProductionCompanies)
}

func TestTextSectionOrder(t *testing.T) {
	doc := NewNormalizer(Options{}).Normalize(toyStory())

	want := "Title: Toy Story\n" +
		"Overview: Led by Woody, Andy's toys live happily in his room.\n" +
		"Genres: Animation, Comedy\n" +
		"Release Date: 1995-10-30\n" +
		"Rating: 7.7\n" +
		"Votes: 5415\n" +
		"Production Companies: Pixar Animation Studios\n" +
		"Keywords: jealousy, toy\n" +
		"Cast: Tom Hanks, Tim Allen, Don Rickles\n" +
		"Crew: John Lasseter"
	assert.Equal(t, want, doc.Text())
}

func TestTextOmitsEmptySections(t *testing.T) {
	doc := NewNormalizer(Options{}).Normalize(model.RawMovie{ID: "1", Title: "Untitled"})
	assert.Equal(t, "Title: Untitled", doc.Text())
}

func TestTextIsDeterministic(t *testing.T) {
	n := NewNormalizer(Options{})
	first := n.Normalize(toyStory()).Text()
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, n.Normalize(toyStory()).Text())
	}
}

func TestMalformedFieldsDegradeToEmpty(t *testing.T) {
	cases := map[string]string{
		"single quoted with apostrophe": `[{'name': 'Chris O'Donnell', 'character': 'Robin'}]`,
		"truncated json":                `[{"name": "Tom Hanks"}, {"name": "Tim`,
		"bare string":                   `Tom Hanks, Tim Allen`,
	}

	n := NewNormalizer(Options{})
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			in := model.RawMovie{
				ID:       "1",
				Title:    "Broken",
				Cast:     raw,
				Crew:     raw,
				Genres:   raw,
				Keywords: raw,
			}

			var doc MovieDocument
			require.NotPanics(t, func() { doc = n.Normalize(in) })
			assert.Empty(t, doc.Cast)
			assert.Empty(t, doc.Crew)
			assert.Empty(t, doc.Genres)
			assert.Empty(t, doc.Keywords)
			assert.Equal(t, "Title: Broken", doc.Text())
		})
	}
}

func TestSingleQuotedListIsRecovered(t *testing.T) {
	n := NewNormalizer(Options{})
	doc := n.Normalize(model.RawMovie{
		ID:     "2",
		Genres: `[{'id': 18, 'name': 'Drama'}]`,
		Crew:   `[{'name': 'Greta Gerwig', 'job': 'Director'}{'name': 'Noah Baumbach', 'job': 'Writer'}]`,
	})

	assert.Equal(t, []string{"Drama"}, doc.Genres)
	assert.Equal(t, []string{"Greta Gerwig"}, doc.Crew)
}

func TestMetadataNeverHasNilLists(t *testing.T) {
	rec := NewNormalizer(Options{}).Normalize(model.RawMovie{ID: "862.0"}).Metadata()

	assert.Equal(t, "862.0", rec.RawID)
	assert.NotNil(t, rec.Genres)
	assert.NotNil(t, rec.Cast)
	assert.NotNil(t, rec.Crew)
}
