// Package mendable implements backend.Chat on the Mendable hosted Q&A API.
package mendable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
)

// DefaultBaseURL is the Mendable API root.
const DefaultBaseURL = "https://api.mendable.ai/v0"

// maxSources caps the number of source links appended to an answer.
const maxSources = 3

type exchange struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

// Chat is a Mendable conversation. The conversation is created lazily on the
// first Send and discarded by Reset.
type Chat struct {
	apiKey  string
	baseURL string
	http    *http.Client

	mu             sync.Mutex
	conversationID string
	history        []exchange
	closed         bool
}

var _ backend.Chat = (*Chat)(nil)

// Option configures a [Chat].
type Option func(*Chat)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(c *Chat) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Chat) { c.http = hc }
}

// New returns a Chat authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Chat, error) {
	if apiKey == "" {
		return nil, errors.New("mendable: api key is required")
	}
	c := &Chat{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Send implements [backend.Chat]. Up to three source links are appended to
// the answer, one per line.
func (c *Chat) Send(ctx context.Context, message string, liveness backend.Liveness) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", backend.ErrClosed
	}
	liveness.Ping(ctx)

	if c.conversationID == "" {
		id, err := c.newConversation(ctx)
		if err != nil {
			return "", err
		}
		c.conversationID = id
	}

	body, err := jsonBody(
		field{"question", message},
		field{"shouldStream", false},
		field{"conversation_id", c.conversationID},
		field{"history", append([]exchange{}, c.history...)},
		field{"api_key", c.apiKey},
	)
	if err != nil {
		return "", err
	}

	raw, err := c.post(ctx, "/mendableChat", body)
	if err != nil {
		return "", err
	}
	answer := gjson.GetBytes(raw, "answer.text")
	if !answer.Exists() {
		return "", errors.New("mendable: chat: response has no answer")
	}
	text := answer.String()
	c.history = append(c.history, exchange{Prompt: message, Response: text})

	var links []string
	for _, src := range gjson.GetBytes(raw, "sources").Array() {
		if len(links) == maxSources {
			break
		}
		if link := src.Get("link").String(); link != "" {
			links = append(links, link)
		}
	}
	if len(links) > 0 {
		text += "\n\n" + strings.Join(links, "\n")
	}
	return text, nil
}

func (c *Chat) newConversation(ctx context.Context) (string, error) {
	body, err := jsonBody(field{"api_key", c.apiKey})
	if err != nil {
		return "", err
	}
	raw, err := c.post(ctx, "/newConversation", body)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(raw, "conversation_id")
	if !id.Exists() {
		return "", errors.New("mendable: newConversation: response has no conversation_id")
	}
	return id.String(), nil
}

func (c *Chat) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	op := strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("mendable: %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mendable: %s: %w", op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mendable: %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mendable: %s: http %d: %s", op, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("mendable: %s: invalid JSON response", op)
	}
	return raw, nil
}

// Reset implements [backend.Chat]. The next Send starts a new conversation.
func (c *Chat) Reset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversationID = ""
	c.history = nil
	return nil
}

// Close implements [backend.Chat].
func (c *Chat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.http.CloseIdleConnections()
	return nil
}

// field is one path/value pair of a request body.
type field struct {
	path  string
	value any
}

// jsonBody builds a request body, stopping at the first value that cannot be
// encoded.
func jsonBody(fields ...field) ([]byte, error) {
	var body []byte
	for _, f := range fields {
		var err error
		if body, err = sjson.SetBytes(body, f.path, f.value); err != nil {
			return nil, fmt.Errorf("mendable: encode %s: %w", f.path, err)
		}
	}
	return body, nil
}
