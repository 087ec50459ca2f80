// Package sources holds the procurement portal units and the registry that
// maps configured source names to their constructors.
package sources

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/fetcher"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Config is the per-source configuration handed to a constructor.
type Config struct {
	Name     string
	URL      string
	Renderer string
}

// Browser is a headless page fetcher that can be hard-killed.
type Browser interface {
	fetcher.Fetcher
	Terminate()
	Close()
}

// Deps are the shared collaborators of every unit.
type Deps struct {
	HTTP fetcher.Fetcher
	// NewBrowser starts a browser for a unit rendering headless. Nil when
	// headless rendering is disabled.
	NewBrowser func() (Browser, error)
	Logger     *zap.Logger
}

// Entry describes one registered portal.
type Entry struct {
	URL      string
	Renderer string
	New      func(cfg Config, deps Deps) tender.Unit
}

// Registry maps source names to portal entries.
var Registry = map[string]Entry{
	"bge": {
		URL:      "https://www.bge.de/de/aktuelles/ausschreibungen/",
		Renderer: fetcher.RendererHTTP,
		New:      NewBGE,
	},
	"ewn": {
		URL:      "https://www.ewn-gmbh.de/ausschreibungen",
		Renderer: fetcher.RendererHTTP,
		New:      NewEWN,
	},
	"fraunhofer": {
		URL:      "https://vergabe.fraunhofer.de/NetServer/PublicationSearchControllerServlet",
		Renderer: fetcher.RendererHeadless,
		New:      NewFraunhofer,
	},
}

// Names lists the registered sources in sorted order.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enabled resolves the enabled list minus the disabled list, keeping order
// and dropping duplicates. An empty enabled list means every source.
func Enabled(enabled, disabled []string) []string {
	if len(enabled) == 0 {
		enabled = Names()
	}
	out := make([]string, 0, len(enabled))
	for _, name := range enabled {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || slices.Contains(disabled, name) || slices.Contains(out, name) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Build constructs units for names in order. Unknown names are logged and
// skipped; they are returned so callers can report them.
func Build(names []string, overrides map[string]Config, deps Deps) ([]tender.Unit, []string, error) {
	if deps.HTTP == nil {
		return nil, nil, fmt.Errorf("sources: http fetcher is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	var (
		units   []tender.Unit
		unknown []string
	)
	for _, name := range names {
		entry, ok := Registry[name]
		if !ok {
			deps.Logger.Warn("unknown source, skipping", zap.String("source", name))
			unknown = append(unknown, name)
			continue
		}
		cfg := Config{Name: name, URL: entry.URL, Renderer: entry.Renderer}
		if o, found := overrides[name]; found {
			if o.URL != "" {
				cfg.URL = o.URL
			}
			if o.Renderer != "" {
				cfg.Renderer = strings.ToLower(o.Renderer)
			}
		}
		if cfg.Renderer != fetcher.RendererHTTP && cfg.Renderer != fetcher.RendererHeadless {
			return nil, nil, fmt.Errorf("sources: %s: unknown renderer %q", name, cfg.Renderer)
		}
		units = append(units, entry.New(cfg, deps))
	}
	return units, unknown, nil
}
