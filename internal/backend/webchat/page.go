package webchat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Page is the subset of browser-tab operations the webchat backend needs.
// Selectors are CSS selectors.
type Page interface {
	Navigate(ctx context.Context, url string) error

	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)

	// ClickButton clicks the first element matching selector whose visible
	// text contains text. It reports false if no such element exists.
	ClickButton(ctx context.Context, selector, text string) (bool, error)

	Click(ctx context.Context, selector string) error

	// Fill replaces the value of the element matching selector.
	Fill(ctx context.Context, selector, value string) error

	// Submit presses Enter in the element matching selector.
	Submit(ctx context.Context, selector string) error

	// LastResponse extracts the text of the last element matching selector.
	// Code blocks are rendered as fenced code and inline code as backticks.
	LastResponse(ctx context.Context, selector string) (text string, found bool, err error)

	// Screenshot writes a PNG of the viewport to path.
	Screenshot(ctx context.Context, path string) error

	Reload(ctx context.Context) error
	Close() error
}

// BrowserOptions configures the Chrome process behind a [ChromePage].
type BrowserOptions struct {
	Headless    bool
	UserDataDir string
	UserAgent   string
}

// ChromePage drives a single Chrome tab through the DevTools protocol.
type ChromePage struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

var _ Page = (*ChromePage)(nil)

// NewChromePage launches Chrome with a persistent profile and opens a tab.
// The browser lives until Close is called; ctx only bounds the launch.
func NewChromePage(ctx context.Context, opts BrowserOptions) (*ChromePage, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.UserDataDir(opts.UserDataDir),
		chromedp.UserAgent(opts.UserAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tab, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			slog.Debug("chromedp: " + fmt.Sprintf(format, args...))
		}),
	)
	p := &ChromePage{tab: tab, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	// The first Run starts the browser and binds its lifetime to the context
	// it receives, so it must get the tab itself rather than a derived one.
	if err := ctx.Err(); err != nil {
		p.Close()
		return nil, fmt.Errorf("webchat: start browser: %w", err)
	}
	if err := chromedp.Run(tab); err != nil {
		p.Close()
		return nil, fmt.Errorf("webchat: start browser: %w", err)
	}
	return p, nil
}

// run executes actions on the tab, aborting when ctx ends. Cancelling the
// derived context does not close the tab.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate implements [Page].
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

// Count implements [Page].
func (p *ChromePage) Count(ctx context.Context, selector string) (int, error) {
	var n int
	js := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
	if err := p.run(ctx, chromedp.Evaluate(js, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// ClickButton implements [Page].
func (p *ChromePage) ClickButton(ctx context.Context, selector, text string) (bool, error) {
	const script = `(() => {
	const el = [...document.querySelectorAll(%s)].find(e => e.innerText.includes(%s));
	if (!el) return false;
	el.click();
	return true;
})()`
	var clicked bool
	js := fmt.Sprintf(script, jsString(selector), jsString(text))
	if err := p.run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

// Click implements [Page].
func (p *ChromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Fill implements [Page].
func (p *ChromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Submit implements [Page].
func (p *ChromePage) Submit(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery))
}

const extractScript = `(() => {
	const all = document.querySelectorAll(%s);
	if (all.length === 0) return {found: false, text: ""};
	const el = all[all.length - 1];
	if (!el.querySelector("pre")) return {found: true, text: el.innerText};
	let out = "";
	for (const child of el.querySelectorAll("p,pre")) {
		if (child.tagName === "PRE") {
			const code = child.querySelector("code");
			out += "\n\n` + "```" + `\n" + (code ? code.innerText : child.innerText) + "\n` + "```" + `";
		} else {
			const tmp = document.createElement("div");
			tmp.innerHTML = child.innerHTML.replace(/<\/?code>/g, "` + "`" + `");
			out += tmp.innerText;
		}
	}
	return {found: true, text: out};
})()`

type extracted struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

// LastResponse implements [Page].
func (p *ChromePage) LastResponse(ctx context.Context, selector string) (string, bool, error) {
	var res extracted
	js := fmt.Sprintf(extractScript, jsString(selector))
	if err := p.run(ctx, chromedp.Evaluate(js, &res)); err != nil {
		return "", false, err
	}
	return res.Text, res.Found, nil
}

// Screenshot implements [Page].
func (p *ChromePage) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o600)
}

// Reload implements [Page].
func (p *ChromePage) Reload(ctx context.Context) error {
	return p.run(ctx, chromedp.Reload())
}

// Close closes the tab and terminates the browser.
func (p *ChromePage) Close() error {
	p.cancelTab()
	p.cancelAlloc()
	return nil
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
