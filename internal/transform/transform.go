// Package transform flattens scraped workout files into CSV tables.
package transform

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/sheiva/sheiva-cloud/internal/scrape"
)

// Component names, also used as output sub-prefixes.
const (
	Workouts = "workouts"
	Sections = "sections"
	Lines    = "lines"
)

// Record is one CSV row keyed by column name.
type Record map[string]string

// WorkoutTree splits a JSON array of scraped workouts into one table per
// level of the workout tree.
type WorkoutTree struct{}

func (WorkoutTree) Parse(raw []byte) (map[string][]Record, error) {
	var workouts []scrape.Workout
	if err := json.Unmarshal(raw, &workouts); err != nil {
		return nil, fmt.Errorf("decoding workouts: %w", err)
	}

	out := map[string][]Record{
		Workouts: {},
		Sections: {},
		Lines:    {},
	}
	for _, w := range workouts {
		if w.Empty() {
			continue
		}
		scrapedAt := ""
		if !w.ScrapedAt.IsZero() {
			scrapedAt = w.ScrapedAt.UTC().Format(time.RFC3339)
		}
		out[Workouts] = append(out[Workouts], Record{
			"url":         w.URL,
			"title":       w.Title,
			"description": w.Description,
			"sections":    strconv.Itoa(len(w.Sections)),
			"scraped_at":  scrapedAt,
		})
		for si, s := range w.Sections {
			out[Sections] = append(out[Sections], Record{
				"url":     w.URL,
				"section": strconv.Itoa(si),
				"heading": s.Heading,
				"lines":   strconv.Itoa(len(s.Lines)),
			})
			for li, line := range s.Lines {
				out[Lines] = append(out[Lines], Record{
					"url":     w.URL,
					"section": strconv.Itoa(si),
					"line":    strconv.Itoa(li),
					"text":    line,
				})
			}
		}
	}
	return out, nil
}

// EncodeCSV renders records with a header row. Columns are the sorted union
// of all record keys; "url" always comes first when present.
func EncodeCSV(records []Record) ([]byte, error) {
	var columns []string
	seen := map[string]bool{}
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	slices.SortFunc(columns, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == "url":
			return -1
		case b == "url":
			return 1
		case a < b:
			return -1
		default:
			return 1
		}
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if len(columns) > 0 {
		if err := w.Write(columns); err != nil {
			return nil, err
		}
	}
	row := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			row[i] = r[c]
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
