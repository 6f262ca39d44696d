package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workoutPage = `<!DOCTYPE html>
<html>
<head>
  <title>Page title</title>
  <meta property="og:title" content="Leg Day">
  <meta name="description" content="Squats and friends">
  <style>li { color: red }</style>
</head>
<body>
  <h1>Warm up</h1>
  <ul><li>5 min row</li><li>  Leg   swings </li></ul>
  <h2>Main</h2>
  <ol><li>Back squat <b>5x5</b></li></ol>
  <h3>Notes</h3>
  <script>var li = "<li>nope</li>";</script>
</body>
</html>`

func TestParse(t *testing.T) {
	w, err := Parse("https://example.com/w/1", strings.NewReader(workoutPage))
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/w/1", w.URL)
	assert.Equal(t, "Leg Day", w.Title)
	assert.Equal(t, "Squats and friends", w.Description)
	assert.Equal(t, []Section{
		{Heading: "Warm up", Lines: []string{"5 min row", "Leg swings"}},
		{Heading: "Main", Lines: []string{"Back squat 5x5"}},
	}, w.Sections)
	assert.False(t, w.Empty())
}

func TestParseListWithoutHeading(t *testing.T) {
	w, err := Parse("u", strings.NewReader(`<ul><li>a</li></ul>`))
	require.NoError(t, err)
	require.Len(t, w.Sections, 1)
	assert.Equal(t, "", w.Sections[0].Heading)
	assert.Equal(t, []string{"a"}, w.Sections[0].Lines)
}

func TestWorkoutEmpty(t *testing.T) {
	var nilWorkout *Workout
	assert.True(t, nilWorkout.Empty())
	assert.True(t, (&Workout{URL: "u"}).Empty())
	assert.False(t, (&Workout{Title: "t"}).Empty())
}

func TestScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
		switch r.URL.Path {
		case "/ok":
			fmt.Fprint(w, workoutPage)
		case "/private":
			w.WriteHeader(http.StatusForbidden)
		case "/gone":
			w.WriteHeader(http.StatusGone)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := New(time.Second, 0)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	w, err := c.Scrape(context.Background(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Equal(t, "Leg Day", w.Title)
	assert.Equal(t, fixed, w.ScrapedAt)

	for _, path := range []string{"/private", "/gone"} {
		w, err = c.Scrape(context.Background(), srv.URL+path)
		assert.NoError(t, err, path)
		assert.Nil(t, w, path)
	}

	_, err = c.Scrape(context.Background(), srv.URL+"/boom")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusInternalServerError, statusErr.Status)
}

func TestScrapeCancelled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(time.Second, 1).Scrape(ctx, srv.URL)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, hits.Load())
}

func TestScrapeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, workoutPage)
	}))
	defer srv.Close()

	c := New(time.Second, 20)
	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Scrape(context.Background(), srv.URL)
		require.NoError(t, err)
	}
	// burst of one, then two waits of 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}
