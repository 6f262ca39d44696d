// Package scrape fetches workout pages and extracts their visible structure.
package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/time/rate"
)

const userAgent = "sheiva-scraper/1.0"

type Workout struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Sections    []Section `json:"sections"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// Section is a heading and the list items that follow it.
type Section struct {
	Heading string   `json:"heading"`
	Lines   []string `json:"lines"`
}

// Empty reports whether nothing was extracted from the page.
func (w *Workout) Empty() bool {
	return w == nil || (w.Title == "" && len(w.Sections) == 0)
}

// StatusError is returned for responses that are neither successful nor an
// inaccessible page.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Status)
}

type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// New returns a client whose requests time out after timeout. When
// perSecond is positive, requests across all goroutines are limited to that
// rate.
func New(timeout time.Duration, perSecond float64) *Client {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		now:     time.Now,
	}
}

// Scrape fetches url. A page that is gone or private yields a nil workout
// and no error.
func (c *Client) Scrape(ctx context.Context, url string) (*Workout, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusGone:
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, Status: resp.StatusCode}
	}

	w, err := Parse(url, resp.Body)
	if err != nil {
		return nil, err
	}
	w.ScrapedAt = c.now().UTC()
	return w, nil
}

// Parse extracts a workout from an HTML document.
func Parse(url string, r io.Reader) (*Workout, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", url, err)
	}

	w := &Workout{URL: url}
	var current *Section

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if w.Title == "" {
					w.Title = text(n)
				}
				return
			case atom.Meta:
				name, content := attr(n, "name"), attr(n, "content")
				if name == "" {
					name = attr(n, "property")
				}
				switch name {
				case "description", "og:description":
					if w.Description == "" {
						w.Description = content
					}
				case "og:title":
					if content != "" {
						w.Title = content
					}
				}
				return
			case atom.H1, atom.H2, atom.H3:
				w.Sections = append(w.Sections, Section{Heading: text(n)})
				current = &w.Sections[len(w.Sections)-1]
				return
			case atom.Li:
				line := text(n)
				if line == "" {
					return
				}
				if current == nil {
					w.Sections = append(w.Sections, Section{})
					current = &w.Sections[len(w.Sections)-1]
				}
				current.Lines = append(current.Lines, line)
				return
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	// headings without any lines carry no workout content
	sections := w.Sections[:0]
	for _, s := range w.Sections {
		if len(s.Lines) > 0 {
			sections = append(sections, s)
		}
	}
	w.Sections = sections
	return w, nil
}

func text(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
