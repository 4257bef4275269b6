// Package search fetches web search results from SerpAPI and condenses them
// into a short text block a language model can answer from.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/Klingefjord/chatgpt-telegram/internal/resilience"
)

// DefaultEndpoint is the SerpAPI JSON search endpoint.
const DefaultEndpoint = "https://serpapi.com/search.json"

// MaxResultLen is the rune budget of a formatted result before "..." is
// appended.
const MaxResultLen = 500

// Searcher runs a web search and returns condensed text.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

// Client queries SerpAPI's Google engine.
type Client struct {
	apiKey   string
	endpoint string
	hl, gl   string
	http     *http.Client
	breaker  *resilience.CircuitBreaker
}

var _ Searcher = (*Client)(nil)

// Option configures a [Client].
type Option func(*Client)

// WithEndpoint overrides the search endpoint.
func WithEndpoint(u string) Option { return func(c *Client) { c.endpoint = u } }

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithLocale sets the interface language (hl) and country (gl).
func WithLocale(hl, gl string) Option {
	return func(c *Client) {
		if hl != "" {
			c.hl = hl
		}
		if gl != "" {
			c.gl = gl
		}
	}
}

// WithCircuitBreaker guards requests with a breaker configured by cfg.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) {
		if cfg.Name == "" {
			cfg.Name = "serpapi"
		}
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// New returns a Client using apiKey. Results default to English with German
// locale (hl=en, gl=de).
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("search: api key is required")
	}
	c := &Client{
		apiKey:   apiKey,
		endpoint: DefaultEndpoint,
		hl:       "en",
		gl:       "de",
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Search runs query and returns the formatted, truncated results.
func (c *Client) Search(ctx context.Context, query string) (string, error) {
	var raw []byte
	fetch := func(ctx context.Context) error {
		var err error
		raw, err = c.fetch(ctx, query)
		return err
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		return "", err
	}
	return Format(query, raw), nil
}

func (c *Client) fetch(ctx context.Context, query string) ([]byte, error) {
	q := url.Values{}
	q.Set("engine", "google")
	q.Set("q", query)
	q.Set("hl", c.hl)
	q.Set("gl", c.gl)
	q.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("search: read body: %w", err)
	}
	if msg := gjson.GetBytes(raw, "error"); msg.Exists() {
		return nil, fmt.Errorf("search: serpapi: %s", msg.String())
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

// Format folds the relevant sections of a SerpAPI response into text.
func Format(query string, raw []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for `%s`:\n", query)

	res := gjson.ParseBytes(raw)
	if qa := res.Get("questions_and_answers"); qa.Exists() {
		b.WriteString("Questions and Answers:\n")
		for _, item := range qa.Array() {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", orNA(item.Get("question")), orNA(item.Get("answer")))
		}
	}
	if box := res.Get("answer_box"); box.Exists() {
		fmt.Fprintf(&b, "Answer Box: %s\n", box.Get("@ugly").Raw)
	}
	if organic := res.Get("organic_results"); organic.Exists() {
		b.WriteString("Organic Results:\n")
		for _, item := range organic.Array() {
			fmt.Fprintf(&b, "Title: %s\nSnippet: %s\n", orNA(item.Get("title")), orNA(item.Get("snippet")))
		}
	}
	if kg := res.Get("knowledge_graph"); kg.Exists() {
		fmt.Fprintf(&b, "Knowledge Graph: %s\n", kg.Get("@ugly").Raw)
	}
	return Truncate(b.String(), MaxResultLen)
}

func orNA(r gjson.Result) string {
	if !r.Exists() {
		return "NA"
	}
	return r.String()
}

// Truncate cuts s to n runes and appends "..." if anything was cut.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "..."
		}
		i++
	}
	return s
}
