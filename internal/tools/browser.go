package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const maxPageChars = 50000

// BrowserTool drives one long-lived Chrome instance. The window stays open
// between actions until "close".
type BrowserTool struct {
	mu            sync.Mutex
	allocCtx      context.Context
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc

	Headless      bool
	ScreenshotDir string
	ActionTimeout time.Duration
	Reader        *PageReader

	searchOnce sync.Once
	search     *duckduckgo.Tool
	searchErr  error
}

func NewBrowserTool(screenshotDir string, headless bool) *BrowserTool {
	return &BrowserTool{
		Headless:      headless,
		ScreenshotDir: screenshotDir,
		ActionTimeout: 60 * time.Second,
		Reader:        NewPageReader(),
	}
}

func (b *BrowserTool) Domain() ActionType { return ActionBrowser }

func (b *BrowserTool) Tools() []string {
	return []string{
		"navigate", "click", "type", "press", "scroll", "wait", "back",
		"forward", "reload", "screenshot", "content", "read_page", "search", "close",
	}
}

func (b *BrowserTool) initBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browserCtx != nil {
		select {
		case <-b.browserCtx.Done():
			b.cleanup()
		default:
			return nil
		}
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", b.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	b.browserCtx, b.browserCancel = chromedp.NewContext(b.allocCtx)

	return chromedp.Run(b.browserCtx)
}

func (b *BrowserTool) cleanup() {
	if b.browserCancel != nil {
		b.browserCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.browserCtx = nil
	b.allocCtx = nil
}

// Close shuts the browser down.
func (b *BrowserTool) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
}

func (b *BrowserTool) Execute(ctx context.Context, tool string, params Params) (any, error) {
	switch tool {
	case "close":
		b.Close()
		return map[string]any{"status": "closed"}, nil
	case "search":
		return b.webSearch(ctx, params)
	case "read_page":
		if u := params.String("url"); u != "" {
			return b.Reader.Fetch(ctx, u)
		}
	}

	if err := b.initBrowser(); err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}

	// The caller's deadline (a replay timeout hint) wins over the default.
	timeout := b.ActionTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	actionCtx, cancel := context.WithTimeout(b.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	switch tool {
	case "navigate":
		url, err := params.Require("url")
		if err != nil {
			return nil, err
		}
		if err := chromedp.Run(actionCtx, chromedp.Navigate(url)); err != nil {
			return nil, err
		}
		return map[string]any{"status": "navigated", "url": url}, nil

	case "content":
		html, err := outerHTML(actionCtx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"html": truncateText(html, maxPageChars)}, nil

	case "read_page":
		var location string
		html, err := outerHTML(actionCtx)
		if err == nil {
			err = chromedp.Run(actionCtx, chromedp.Location(&location))
		}
		if err != nil {
			return nil, err
		}
		return b.Reader.Extract(html, location)

	case "click":
		sel, err := params.Require("selector")
		if err != nil {
			return nil, err
		}
		if err := chromedp.Run(actionCtx, chromedp.Click(sel, chromedp.ByQuery)); err != nil {
			return nil, err
		}
		return map[string]any{"status": "clicked", "found": true}, nil

	case "type":
		sel, err := params.Require("selector")
		if err != nil {
			return nil, err
		}
		text, err := params.Require("text")
		if err != nil {
			return nil, err
		}
		if err := chromedp.Run(actionCtx, chromedp.SendKeys(sel, text, chromedp.ByQuery)); err != nil {
			return nil, err
		}
		return map[string]any{"status": "typed"}, nil

	case "press":
		key, err := params.Require("key")
		if err != nil {
			return nil, err
		}
		if err := chromedp.Run(actionCtx, chromedp.KeyEvent(key)); err != nil {
			return nil, err
		}
		return map[string]any{"status": "pressed", "key": key}, nil

	case "scroll":
		if sel := params.String("selector"); sel != "" {
			if err := chromedp.Run(actionCtx, chromedp.ScrollIntoView(sel, chromedp.ByQuery)); err != nil {
				return nil, err
			}
			return map[string]any{"status": "scrolled", "selector": sel}, nil
		}
		if err := chromedp.Run(actionCtx, chromedp.Evaluate("window.scrollTo(0, document.body.scrollHeight)", nil)); err != nil {
			return nil, err
		}
		return map[string]any{"status": "scrolled"}, nil

	case "wait":
		if sel := params.String("selector"); sel != "" {
			if err := chromedp.Run(actionCtx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
				return nil, err
			}
			return map[string]any{"status": "visible", "visible": true}, nil
		}
		secs := params.Int("wait_seconds", 0)
		select {
		case <-time.After(time.Duration(secs) * time.Second):
		case <-actionCtx.Done():
			return nil, actionCtx.Err()
		}
		return map[string]any{"status": "waited"}, nil

	case "back":
		return simpleNav(actionCtx, "back", chromedp.NavigateBack())
	case "forward":
		return simpleNav(actionCtx, "forward", chromedp.NavigateForward())
	case "reload":
		return simpleNav(actionCtx, "reloaded", chromedp.Reload())

	case "screenshot":
		var buf []byte
		if err := chromedp.Run(actionCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return nil, err
		}
		path, err := writeScreenshot(b.ScreenshotDir, "browser", buf)
		if err != nil {
			return nil, err
		}
		return map[string]any{"status": "captured", "path": path}, nil

	default:
		return nil, fmt.Errorf("%w: browser.%s", ErrUnknownTool, tool)
	}
}

func (b *BrowserTool) webSearch(ctx context.Context, params Params) (any, error) {
	query, err := params.Require("query")
	if err != nil {
		return nil, err
	}
	b.searchOnce.Do(func() {
		b.search, b.searchErr = duckduckgo.New(10, duckduckgo.DefaultUserAgent)
	})
	if b.searchErr != nil {
		return nil, fmt.Errorf("search unavailable: %w", b.searchErr)
	}
	res, err := b.search.Call(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return map[string]any{"query": query, "results": res}, nil
}

func simpleNav(ctx context.Context, status string, action chromedp.Action) (any, error) {
	if err := chromedp.Run(ctx, action); err != nil {
		return nil, err
	}
	return map[string]any{"status": status}, nil
}

func outerHTML(ctx context.Context) (string, error) {
	var html string
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	return html, err
}

func writeScreenshot(dir, prefix string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", prefix, time.Now().UnixMilli()))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n... (truncated)"
}
