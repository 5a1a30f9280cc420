package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListShortCircuits(t *testing.T) {
	calls := 0
	strategies := []Strategy{
		{Name: "first", Parse: func(string) ([]Entry, bool) {
			calls++
			return []Entry{Freeform("a")}, true
		}},
		{Name: "second", Parse: func(string) ([]Entry, bool) {
			calls++
			return nil, true
		}},
	}

	entries, ok := ParseList("x", strategies)
	require.True(t, ok)
	assert.Equal(t, []Entry{Freeform("a")}, entries)
	assert.Equal(t, 1, calls)
}

func TestParseListBlankValues(t *testing.T) {
	for _, raw := range []string{"", "  ", "[]", "NaN", "null"} {
		entries, ok := ParseList(raw, DocumentStrategies)
		assert.True(t, ok, raw)
		assert.Empty(t, entries, raw)
	}
}

func TestMixedEntryKinds(t *testing.T) {
	entries, ok := ParseList(`["Action", {"name": "Drama"}, {"id": 3}, 42, ""]`, DocumentStrategies)
	require.True(t, ok)
	require.Len(t, entries, 5)

	assert.Equal(t, EntryFreeform, entries[0].Kind)
	assert.Equal(t, EntryStructured, entries[1].Kind)
	assert.Equal(t, EntryEmpty, entries[2].Kind)
	assert.Equal(t, EntryEmpty, entries[3].Kind)
	assert.Equal(t, EntryEmpty, entries[4].Kind)
	assert.Equal(t, []string{"Action", "Drama"}, Names(entries))
}

func TestLenientRegexRecoversNames(t *testing.T) {
	raw := `[{'name': 'Chris O'Donnell', 'job': 'Director'}, {"name": "Val Kilmer", "job": "Actor"`

	_, ok := ParseList(raw, DocumentStrategies)
	assert.False(t, ok)

	entries, ok := ParseList(raw, LenientStrategies)
	require.True(t, ok)
	assert.Equal(t, []string{"Chris O", "Val Kilmer"}, Names(entries))
	assert.Equal(t, []string{"Chris O"}, Directors(entries))
}

func TestDirectorsWithoutJobsKeepsAll(t *testing.T) {
	entries := []Entry{Freeform("Hayao Miyazaki"), Structured("Isao Takahata", "")}
	assert.Equal(t, []string{"Hayao Miyazaki", "Isao Takahata"}, Directors(entries))
}
