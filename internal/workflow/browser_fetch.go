package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/chatforge/core/internal/corekind"
	"github.com/chatforge/core/internal/net/ssrf"
	"github.com/chatforge/core/internal/objectstore"
	"github.com/chatforge/core/pkg/chatmodels"
)

const (
	defaultBrowserFetchTimeout = 15 * time.Second
	maxBrowserFetchTimeout     = 60 * time.Second
	defaultBrowserWidth        = 1280
	defaultBrowserHeight       = 800
)

// BrowserFetchArgs is browser_fetch's argument shape: load a page in a
// headless browser and return its rendered text, optionally with a
// screenshot.
type BrowserFetchArgs struct {
	URL            string `json:"url"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Screenshot     bool   `json:"screenshot,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
}

// BrowserFetchResult is browser_fetch's structured response. A screenshot is
// stored as a binary artifact when a Store is configured; ScreenshotB64 is
// only populated as a fallback when it isn't.
type BrowserFetchResult struct {
	Title         string `json:"title"`
	Text          string `json:"text"`
	ScreenshotRef string `json:"screenshot_ref,omitempty"`
	ScreenshotB64 string `json:"screenshot_base64,omitempty"`
}

// BrowserFetch returns a handler that loads a page in a headless, disposable
// Chrome instance and returns its rendered body text (and, optionally, a PNG
// screenshot). It is an SSRF-guarded alternative to call_api for pages that
// need JavaScript rendering before their content is readable. When store is
// non-nil, a requested screenshot is persisted there and the result carries
// a reference instead of an inline base64 payload, keeping large binary
// output out of conversation history.
func BrowserFetch(store objectstore.Store) func(ctx context.Context, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	return func(ctx context.Context, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
		return browserFetch(ctx, store, rawArgs)
	}
}

func browserFetch(ctx context.Context, store objectstore.Store, rawArgs json.RawMessage) (chatmodels.ToolResult, error) {
	var args BrowserFetchArgs
	if err := json.Unmarshal(rawArgs, &args); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: unmarshal browser_fetch args", err)
	}

	parsed, err := url.Parse(args.URL)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: invalid browser_fetch url", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return chatmodels.ToolResult{}, corekind.New(corekind.Validation, "workflow: browser_fetch url scheme must be http or https")
	}
	if err := ssrf.ValidatePublicHostname(parsed.Hostname()); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Validation, "workflow: browser_fetch blocked by SSRF guard", err)
	}

	width, height := args.Width, args.Height
	if width <= 0 {
		width = defaultBrowserWidth
	}
	if height <= 0 {
		height = defaultBrowserHeight
	}
	timeout := defaultBrowserFetchTimeout
	if args.TimeoutSeconds > 0 {
		timeout = time.Duration(args.TimeoutSeconds) * time.Second
	}
	if timeout > maxBrowserFetchTimeout {
		timeout = maxBrowserFetchTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("window-size", fmt.Sprintf("%d,%d", width, height)),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	var title, text string
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(args.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Text("body", &text, chromedp.ByQuery),
	}

	var png []byte
	if args.Screenshot {
		tasks = append(tasks, chromedp.FullScreenshot(&png, 90))
	}

	if err := chromedp.Run(runCtx, tasks); err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.UpstreamTransient, "workflow: browser_fetch navigation failed", err)
	}

	result := BrowserFetchResult{Title: title, Text: text}
	if args.Screenshot {
		if store != nil {
			ref, putErr := store.Put(ctx, uuid.NewString()+".png", bytes.NewReader(png), objectstore.PutOptions{MimeType: "image/png"})
			if putErr != nil {
				return chatmodels.ToolResult{}, corekind.Wrap(corekind.UpstreamTransient, "workflow: store browser_fetch screenshot", putErr)
			}
			result.ScreenshotRef = ref
		} else {
			result.ScreenshotB64 = base64.StdEncoding.EncodeToString(png)
		}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return chatmodels.ToolResult{}, corekind.Wrap(corekind.Invariant, "workflow: marshal browser_fetch result", err)
	}
	return chatmodels.ToolResult{Status: chatmodels.ToolStatusSuccess, Name: "browser_fetch", Data: data}, nil
}
