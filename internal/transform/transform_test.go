package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scraped = `[
  {"url": "https://e.com/1", "title": "Legs", "scraped_at": "2024-05-01T12:00:00Z",
   "sections": [{"heading": "Warm up", "lines": ["row", "swings, leg"]}, {"heading": "Main", "lines": ["squat"]}]},
  {"url": "https://e.com/2", "title": "", "sections": []}
]`

func TestWorkoutTreeParse(t *testing.T) {
	tables, err := WorkoutTree{}.Parse([]byte(scraped))
	require.NoError(t, err)

	require.Len(t, tables[Workouts], 1)
	assert.Equal(t, Record{
		"url":         "https://e.com/1",
		"title":       "Legs",
		"description": "",
		"sections":    "2",
		"scraped_at":  "2024-05-01T12:00:00Z",
	}, tables[Workouts][0])

	assert.Len(t, tables[Sections], 2)
	require.Len(t, tables[Lines], 3)
	assert.Equal(t, Record{"url": "https://e.com/1", "section": "1", "line": "0", "text": "squat"}, tables[Lines][2])
}

func TestWorkoutTreeParseEmptyArray(t *testing.T) {
	tables, err := WorkoutTree{}.Parse([]byte(`[]`))
	require.NoError(t, err)
	assert.Len(t, tables, 3)
	assert.Empty(t, tables[Workouts])
}

func TestWorkoutTreeParseInvalid(t *testing.T) {
	_, err := WorkoutTree{}.Parse([]byte(`{"url": 1}`))
	assert.Error(t, err)
}

func TestEncodeCSV(t *testing.T) {
	out, err := EncodeCSV([]Record{
		{"url": "u1", "text": "swings, leg", "line": "1"},
		{"url": "u2", "line": "0"},
	})
	require.NoError(t, err)
	assert.Equal(t, "url,line,text\nu1,1,\"swings, leg\"\nu2,0,\n", string(out))
}

func TestEncodeCSVNoRecords(t *testing.T) {
	out, err := EncodeCSV(nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
