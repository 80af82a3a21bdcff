// Package sources maps source names to scraper factories.
package sources

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/sources/thecrag"
	"github.com/JakeFAU/crag-crawler/internal/sources/twentyseven"
)

// Config is the per-source block of the run configuration.
type Config struct {
	Name    string
	BaseURL string
	Options map[string]string
}

// Deps are the shared collaborators handed to every factory.
type Deps struct {
	Fetcher harvest.Fetcher
	Clock   harvest.Clock
	Logger  *zap.Logger
}

// Factory builds a scraper from its configuration.
type Factory func(cfg Config, deps Deps) (harvest.Scraper, error)

// Registry holds named factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default returns a registry with the built-in sources.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(thecrag.Name, newTheCrag)
	r.MustRegister(twentyseven.Name, newTwentySeven)
	return r
}

// Register adds a factory. Names must be unique.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("register source: name and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("register source %q: already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Names lists registered sources in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the scraper registered under cfg.Name.
func (r *Registry) Build(cfg Config, deps Deps) (harvest.Scraper, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, &harvest.ConfigError{Field: "sources.name", Reason: fmt.Sprintf("unknown source %q", cfg.Name)}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	scraper, err := factory(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("build source %s: %w", cfg.Name, err)
	}
	return scraper, nil
}

func newTheCrag(cfg Config, deps Deps) (harvest.Scraper, error) {
	maxPages, err := intOption(cfg, "max_pages")
	if err != nil {
		return nil, err
	}
	return thecrag.New(thecrag.Config{
		BaseURL:  cfg.BaseURL,
		MaxPages: maxPages,
		Fetcher:  deps.Fetcher,
		Clock:    deps.Clock,
		Logger:   deps.Logger,
	})
}

func newTwentySeven(cfg Config, deps Deps) (harvest.Scraper, error) {
	maxPages, err := intOption(cfg, "max_pages")
	if err != nil {
		return nil, err
	}
	enrich, err := boolOption(cfg, "enrich_html")
	if err != nil {
		return nil, err
	}
	return twentyseven.New(twentyseven.Config{
		BaseURL:    cfg.BaseURL,
		MaxPages:   maxPages,
		EnrichHTML: enrich,
		Fetcher:    deps.Fetcher,
		Clock:      deps.Clock,
		Logger:     deps.Logger,
	})
}

func intOption(cfg Config, key string) (int, error) {
	raw, ok := cfg.Options[key]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &harvest.ConfigError{Field: "sources." + cfg.Name + ".options." + key, Reason: "must be a non-negative integer", Err: err}
	}
	return v, nil
}

func boolOption(cfg Config, key string) (bool, error) {
	raw, ok := cfg.Options[key]
	if !ok || raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &harvest.ConfigError{Field: "sources." + cfg.Name + ".options." + key, Reason: "must be a boolean", Err: err}
	}
	return v, nil
}
