package provider

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Factory builds a provider from caller configuration. Factories merge
// their own defaults into cfg.
type Factory func(cfg Config, deps Deps) Provider

// Registry maps lowercase provider identifiers to factories.
type Registry struct {
	factories map[string]Factory
	defaultID string
	logger    *slog.Logger
}

// NewRegistry creates an empty registry that falls back to defaultID for
// unknown identifiers. defaultID must be registered before Initialize is
// asked for an identifier the registry does not know.
func NewRegistry(defaultID string, logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		defaultID: strings.ToLower(defaultID),
		logger:    logger,
	}
}

// NewDefaultRegistry returns a registry holding every built-in provider,
// defaulting to WeatherAPI.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(WeatherAPIID, logger)
	r.Register(WeatherAPIID, NewWeatherAPI)
	r.Register(OpenWeatherMapID, NewOpenWeatherMap)
	return r
}

// Register adds or replaces the factory for id.
func (r *Registry) Register(id string, f Factory) {
	r.factories[strings.ToLower(id)] = f
}

// Lookup returns the factory for id, matched case-insensitively.
func (r *Registry) Lookup(id string) (Factory, error) {
	f, ok := r.factories[strings.ToLower(id)]
	if !ok {
		return nil, &UnknownProviderError{ID: id}
	}
	return f, nil
}

// Initialize builds the provider registered under id. Unknown identifiers
// are logged and replaced by the default provider.
func (r *Registry) Initialize(id string, cfg Config, deps Deps) Provider {
	f, err := r.Lookup(id)
	if err != nil {
		r.logger.Warn("falling back to default provider", "error", err, "default", r.defaultID)
		var ok bool
		if f, ok = r.factories[r.defaultID]; !ok {
			panic(fmt.Sprintf("provider: default provider %q is not registered", r.defaultID))
		}
	}
	if deps.Logger == nil {
		deps.Logger = r.logger
	}
	return f(cfg, deps)
}

// IDs lists the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
