// Package webchat implements backend.Chat by driving a chat web page in a
// headless browser: it logs in, types the user's message, waits for the
// streaming reply to finish, and scrapes the last response.
package webchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Klingefjord/chatgpt-telegram/internal/backend"
	"github.com/Klingefjord/chatgpt-telegram/internal/observe"
	"github.com/Klingefjord/chatgpt-telegram/internal/poll"
)

// ErrLoginFailed is returned when every login attempt failed.
var ErrLoginFailed = errors.New("webchat: login failed")

// DefaultUserAgent is sent by the browser unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 12_3_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.4896.75 Safari/537.36"

// Defaults applied to a zero [Config].
const (
	DefaultURL              = "https://chat.openai.com/"
	DefaultMaxLoginAttempts = 3
	DefaultStepDelay        = time.Second
	maxModalSteps           = 10
)

// Selectors locate the page elements the backend interacts with.
type Selectors struct {
	Input     string `yaml:"input"`
	Response  string `yaml:"response"`
	Streaming string `yaml:"streaming"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Continue  string `yaml:"continue"`

	// Button captions, matched by substring.
	LoginText    string `yaml:"login_text"`
	ContinueText string `yaml:"continue_text"`
	NextText     string `yaml:"next_text"`
	DoneText     string `yaml:"done_text"`
}

// DefaultSelectors matches the chat.openai.com layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Input:        "textarea",
		Response:     "div[class*='prose']",
		Streaming:    "div[class*='prose'][class*='result-streaming']",
		Username:     "input[id='username']",
		Password:     "input[id='password']",
		Continue:     "button[value='default']",
		LoginText:    "Log in",
		ContinueText: "Continue",
		NextText:     "Next",
		DoneText:     "Done",
	}
}

// Config configures a [Chat].
type Config struct {
	URL      string
	Username string
	Password string

	Headless    bool
	UserDataDir string
	UserAgent   string

	// Selectors overrides individual entries of [DefaultSelectors].
	Selectors Selectors

	PollInterval   time.Duration
	TypingInterval time.Duration
	Timeout        time.Duration

	MaxLoginAttempts int

	// ScreenshotDir receives login_fail_<n>.png on failed login attempts.
	// Defaults to UserDataDir.
	ScreenshotDir string

	// StepDelay is the pause between login form steps.
	StepDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.UserDataDir == "" {
		c.UserDataDir = filepath.Join(os.TempDir(), "lydia-chrome")
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ScreenshotDir == "" {
		c.ScreenshotDir = c.UserDataDir
	}
	if c.PollInterval <= 0 {
		c.PollInterval = poll.DefaultInterval
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = poll.DefaultLivenessInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = poll.DefaultTimeout
	}
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = DefaultMaxLoginAttempts
	}
	if c.StepDelay <= 0 {
		c.StepDelay = DefaultStepDelay
	}

	def := DefaultSelectors()
	s := &c.Selectors
	type field struct {
		dst *string
		def string
	}
	for _, f := range []field{
		{&s.Input, def.Input},
		{&s.Response, def.Response},
		{&s.Streaming, def.Streaming},
		{&s.Username, def.Username},
		{&s.Password, def.Password},
		{&s.Continue, def.Continue},
		{&s.LoginText, def.LoginText},
		{&s.ContinueText, def.ContinueText},
		{&s.NextText, def.NextText},
		{&s.DoneText, def.DoneText},
	} {
		if *f.dst == "" {
			*f.dst = f.def
		}
	}
}

// Chat is a web-page backend. Calls are serialised on an internal mutex.
type Chat struct {
	cfg  Config
	page Page

	mu       sync.Mutex
	loggedIn bool
	closed   bool
}

var _ backend.Chat = (*Chat)(nil)

// New returns a Chat driving page. It does not log in; see [Chat.Login].
func New(cfg Config, page Page) (*Chat, error) {
	if page == nil {
		return nil, errors.New("webchat: page must not be nil")
	}
	cfg.applyDefaults()
	return &Chat{cfg: cfg, page: page}, nil
}

// Open launches a Chrome page for cfg and logs in.
func Open(ctx context.Context, cfg Config) (*Chat, error) {
	cfg.applyDefaults()
	if err := os.MkdirAll(cfg.UserDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("webchat: create user data dir: %w", err)
	}
	page, err := NewChromePage(ctx, BrowserOptions{
		Headless:    cfg.Headless,
		UserDataDir: cfg.UserDataDir,
		UserAgent:   cfg.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	c, err := New(cfg, page)
	if err != nil {
		page.Close()
		return nil, err
	}
	if err := c.Login(ctx); err != nil {
		page.Close()
		return nil, err
	}
	return c, nil
}

// Login signs in to the chat page. A session that is already signed in only
// dismisses the welcome modal. Each failed attempt saves a screenshot; after
// MaxLoginAttempts failures Login returns [ErrLoginFailed].
func (c *Chat) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

func (c *Chat) login(ctx context.Context) error {
	var last error
	for attempt := 1; attempt <= c.cfg.MaxLoginAttempts; attempt++ {
		last = c.tryLogin(ctx)
		if last == nil {
			c.loggedIn = true
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("webchat: login attempt failed", "attempt", attempt, "err", last)

		shot := filepath.Join(c.cfg.ScreenshotDir, fmt.Sprintf("login_fail_%d.png", attempt))
		if err := c.page.Screenshot(ctx, shot); err != nil {
			slog.Warn("webchat: screenshot failed", "path", shot, "err", err)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrLoginFailed, c.cfg.MaxLoginAttempts, last)
}

func (c *Chat) tryLogin(ctx context.Context) error {
	sel := c.cfg.Selectors

	if err := c.page.Navigate(ctx, c.cfg.URL); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	if ok, err := c.hasInput(ctx); err != nil {
		return err
	} else if ok {
		slog.Debug("webchat: already logged in")
		return c.clickThroughModal(ctx)
	}

	if err := c.pause(ctx); err != nil {
		return err
	}
	if err := c.clickRequired(ctx, "button", sel.LoginText); err != nil {
		return err
	}
	if err := c.pause(ctx); err != nil {
		return err
	}

	for _, step := range []struct{ selector, value string }{
		{sel.Username, c.cfg.Username},
		{sel.Password, c.cfg.Password},
	} {
		if err := c.page.Fill(ctx, step.selector, step.value); err != nil {
			return fmt.Errorf("fill %s: %w", step.selector, err)
		}
		if err := c.clickRequired(ctx, sel.Continue, sel.ContinueText); err != nil {
			return err
		}
		if err := c.pause(ctx); err != nil {
			return err
		}
	}

	ok, err := c.hasInput(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("input box not present after login")
	}
	return c.clickThroughModal(ctx)
}

func (c *Chat) hasInput(ctx context.Context) (bool, error) {
	n, err := c.page.Count(ctx, c.cfg.Selectors.Input)
	if err != nil {
		return false, fmt.Errorf("find input: %w", err)
	}
	return n > 0, nil
}

func (c *Chat) clickRequired(ctx context.Context, selector, text string) error {
	ok, err := c.page.ClickButton(ctx, selector, text)
	if err != nil {
		return fmt.Errorf("click %q: %w", text, err)
	}
	if !ok {
		return fmt.Errorf("button %q not found", text)
	}
	return nil
}

// clickThroughModal presses "Next" until "Done" appears, then presses it.
func (c *Chat) clickThroughModal(ctx context.Context) error {
	sel := c.cfg.Selectors
	for range maxModalSteps {
		done, err := c.page.ClickButton(ctx, "button", sel.DoneText)
		if err != nil || done {
			return err
		}
		next, err := c.page.ClickButton(ctx, "button", sel.NextText)
		if err != nil || !next {
			return err
		}
		if err := c.pause(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Chat) pause(ctx context.Context) error {
	t := time.NewTimer(c.cfg.StepDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send implements [backend.Chat]. It types message into the page and waits
// for the reply to stop streaming. A timed-out wait returns whatever partial
// reply is on the page; a failed page probe returns [poll.Sentinel].
func (c *Chat) Send(ctx context.Context, message string, liveness backend.Liveness) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", backend.ErrClosed
	}
	if !c.loggedIn {
		if err := c.login(ctx); err != nil {
			return "", err
		}
	}

	sel := c.cfg.Selectors
	if err := c.page.Click(ctx, sel.Input); err != nil {
		return "", fmt.Errorf("webchat: focus input: %w", err)
	}
	if err := c.page.Fill(ctx, sel.Input, message); err != nil {
		return "", fmt.Errorf("webchat: fill input: %w", err)
	}
	if err := c.page.Submit(ctx, sel.Input); err != nil {
		return "", fmt.Errorf("webchat: submit: %w", err)
	}

	p := &poll.Poller{
		Interval:         c.cfg.PollInterval,
		Timeout:          c.cfg.Timeout,
		LivenessInterval: c.cfg.TypingInterval,
		Liveness:         liveness,
	}
	res := p.Wait(ctx, func(ctx context.Context) (bool, error) {
		n, err := c.page.Count(ctx, sel.Streaming)
		return n == 0, err
	})
	observe.DefaultMetrics().RecordPoll(ctx, res.Outcome.String(), res.Elapsed)

	switch res.Outcome {
	case poll.OutcomeProbeError:
		slog.Warn("webchat: probe failed", "err", res.Err, "polls", res.Polls)
		return poll.Sentinel, nil
	case poll.OutcomeTimedOut:
		slog.Info("webchat: reply still streaming, using partial text", "elapsed", res.Elapsed)
	}

	text, found, err := c.page.LastResponse(ctx, sel.Response)
	if err != nil || !found {
		slog.Warn("webchat: no response on page", "err", err)
		return poll.Sentinel, nil
	}
	return strings.TrimSpace(text), nil
}

// Reset implements [backend.Chat] by reloading the page, which starts a new
// conversation.
func (c *Chat) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return backend.ErrClosed
	}
	if err := c.page.Reload(ctx); err != nil {
		return fmt.Errorf("webchat: reload: %w", err)
	}
	return nil
}

// Close implements [backend.Chat]. It is idempotent.
func (c *Chat) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.page.Close()
}
