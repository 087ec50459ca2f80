// Package headless renders portal pages in headless Chrome via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/fetcher"
	"github.com/JakeFAU/tender-watch/internal/metrics"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettle            = 500 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	UserAgent string
	// AcceptLanguage is sent with every navigation; the portals localise on it.
	AcceptLanguage    string
	NavigationTimeout time.Duration
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// Settle is how long to wait after the page is ready before capturing it.
	Settle time.Duration
}

// Fetcher implements fetcher.Fetcher on top of one Chrome process. Every
// Fetch opens a tab in that browser; Terminate kills the whole process tree.
// A Fetcher belongs to one unit and renders one page at a time.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger

	allocator   context.Context
	allocCancel context.CancelFunc

	mu            sync.Mutex
	browser       context.Context
	browserCancel context.CancelFunc
	terminated    bool
	// busy serialises tabs.
	busy sync.Mutex
}

// NewChromedp prepares a headless fetcher. Chrome is started lazily by the
// first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.NavigationTimeout < 0 || cfg.Settle < 0 {
		return nil, errors.New("headless: timeouts must be >= 0")
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close shuts the browser down gracefully.
func (f *Fetcher) Close() {
	f.mu.Lock()
	cancel := f.browserCancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.allocCancel()
}

// Terminate kills the browser process tree. In-flight and later fetches
// fail with fetcher.ErrTerminated.
func (f *Fetcher) Terminate() {
	f.mu.Lock()
	if f.terminated {
		f.mu.Unlock()
		return
	}
	f.terminated = true
	f.mu.Unlock()

	f.logger.Warn("killing headless browser")
	metrics.ObserveBrowserTermination()
	f.allocCancel()
}

func (f *Fetcher) isTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// browserContext starts Chrome on first use and returns its root context.
func (f *Fetcher) browserContext() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminated {
		return nil, fetcher.ErrTerminated
	}
	if f.browser != nil {
		return f.browser, nil
	}
	ctx, cancel := chromedp.NewContext(f.allocator)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	f.logger.Debug("chrome started")
	f.browser, f.browserCancel = ctx, cancel
	return ctx, nil
}

// Fetch renders request.URL in a fresh tab and returns the DOM.
func (f *Fetcher) Fetch(ctx context.Context, request fetcher.Request) (fetcher.Response, error) {
	f.busy.Lock()
	defer f.busy.Unlock()

	browserCtx, err := f.browserContext()
	if err != nil {
		return fetcher.Response{}, err
	}
	tabCtx, closeTab := chromedp.NewContext(browserCtx)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	// The unit context still governs the navigation.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentStatus{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	html, finalURL, err := f.render(tabCtx, request)
	if err != nil {
		metrics.ObservePage(request.URL, fetcher.RendererHeadless, "error", 0)
		switch {
		case f.isTerminated():
			return fetcher.Response{}, errors.Join(fetcher.ErrTerminated, err)
		case ctx.Err() != nil:
			return fetcher.Response{}, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		default:
			return fetcher.Response{}, err
		}
	}

	status := doc.code()
	metrics.ObservePage(request.URL, fetcher.RendererHeadless, strconv.Itoa(status), len(html))
	if status >= http.StatusBadRequest {
		return fetcher.Response{}, &fetcher.StatusError{URL: request.URL, StatusCode: status}
	}
	return fetcher.Response{
		URL:          finalURL,
		StatusCode:   status,
		Headers:      http.Header{},
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) render(ctx context.Context, request fetcher.Request) (string, string, error) {
	var html, finalURL string
	wait := request.WaitSelector
	if wait == "" {
		wait = "body"
	}
	err := chromedp.Run(ctx,
		f.prepareTab(request.Headers),
		chromedp.Navigate(request.URL),
		chromedp.WaitReady(wait, chromedp.ByQuery),
		chromedp.Sleep(f.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", request.URL, err)
	}
	if finalURL == "" {
		finalURL = request.URL
	}
	return html, finalURL, nil
}

func (f *Fetcher) prepareTab(extra http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			ua := emulation.SetUserAgentOverride(f.cfg.UserAgent)
			if f.cfg.AcceptLanguage != "" {
				ua = ua.WithAcceptLanguage(f.cfg.AcceptLanguage)
			}
			if err := ua.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if headers := requestHeaders(f.cfg.AcceptLanguage, extra); len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

// requestHeaders flattens extra into CDP headers, adding Accept-Language
// unless the caller set one.
func requestHeaders(acceptLanguage string, extra http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range extra {
		if len(values) > 0 {
			headers[http.CanonicalHeaderKey(key)] = values[len(values)-1]
		}
	}
	if _, ok := headers["Accept-Language"]; !ok && acceptLanguage != "" {
		headers["Accept-Language"] = acceptLanguage
	}
	return headers
}

// documentStatus records the HTTP status of the first document a tab
// receives, which is the page itself rather than an iframe.
type documentStatus struct {
	status atomic.Int64
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.status.CompareAndSwap(0, resp.Response.Status)
}

// code returns the captured status, 200 when Chrome reported none.
func (d *documentStatus) code() int {
	if s := d.status.Load(); s > 0 {
		return int(s)
	}
	return http.StatusOK
}
