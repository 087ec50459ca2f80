package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/fetcher"
)

// ErrNoBrowser is returned when a source is configured for headless
// rendering but no browser is available.
var ErrNoBrowser = errors.New("headless rendering requested but disabled")

// portal is embedded by every unit. It owns the page transport and, for
// headless sources, the browser the supervisor may kill.
type portal struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu      sync.Mutex
	browser Browser
}

func newPortal(cfg Config, deps Deps) *portal {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &portal{cfg: cfg, deps: deps, logger: logger.Named(cfg.Name)}
}

// Name implements tender.Unit.
func (p *portal) Name() string { return p.cfg.Name }

// Terminate implements tender.Terminator.
func (p *portal) Terminate() {
	p.mu.Lock()
	b := p.browser
	p.mu.Unlock()
	if b != nil {
		b.Terminate()
	}
}

// Close releases the browser, if one was started.
func (p *portal) Close() error {
	p.mu.Lock()
	b := p.browser
	p.browser = nil
	p.mu.Unlock()
	if b != nil {
		b.Close()
	}
	return nil
}

func (p *portal) transport() (fetcher.Fetcher, error) {
	if p.cfg.Renderer != fetcher.RendererHeadless {
		return p.deps.HTTP, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		return p.browser, nil
	}
	if p.deps.NewBrowser == nil {
		return nil, ErrNoBrowser
	}
	b, err := p.deps.NewBrowser()
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	p.browser = b
	return b, nil
}

// load fetches rawURL and parses it.
func (p *portal) load(ctx context.Context, rawURL, waitSelector string) (*goquery.Document, *url.URL, error) {
	f, err := p.transport()
	if err != nil {
		return nil, nil, err
	}
	p.logger.Debug("loading page", zap.String("url", rawURL), zap.String("renderer", p.cfg.Renderer))
	resp, err := f.Fetch(ctx, fetcher.Request{
		URL:          rawURL,
		Headers:      map[string][]string{"Accept-Language": {"de-DE,de;q=0.9"}},
		WaitSelector: waitSelector,
	})
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	base, err := url.Parse(resp.URL)
	if err != nil || resp.URL == "" {
		base, _ = url.Parse(rawURL)
	}
	return doc, base, nil
}

// cleanText collapses runs of whitespace and trims.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolve turns href into an absolute URL relative to base.
func resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
