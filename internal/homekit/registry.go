package homekit

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	hapaccessory "github.com/brutella/hap/accessory"
	hapservice "github.com/brutella/hap/service"
	"github.com/cybre/deskbridge/internal/config"
)

// Plugin is an accessory implementation the bridge can host.
type Plugin interface {
	Info() hapaccessory.Info
	Services() []*hapservice.S
}

// Factory creates a plugin from its accessory block. It must not fail: a
// misconfigured accessory logs and returns an inert plugin instead.
type Factory func(ctx context.Context, logger *slog.Logger, cfg config.Accessory) Plugin

type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// RegisterAccessory makes an accessory type available under both its bare
// identifier and "plugin.accessory".
func (r *Registry) RegisterAccessory(pluginID, accessoryID string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[accessoryID] = factory
	r.factories[pluginID+"."+accessoryID] = factory
}

// Build creates a plugin for every accessory block with a registered type.
// Unknown types are logged and skipped.
func (r *Registry) Build(ctx context.Context, logger *slog.Logger, accessories []config.Accessory) []Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	plugins := make([]Plugin, 0, len(accessories))
	for _, cfg := range accessories {
		factory, ok := r.factories[strings.TrimSpace(cfg.Accessory)]
		if !ok {
			logger.Warn("no accessory registered for type", slog.String("accessory", cfg.Accessory), slog.String("name", cfg.Name))
			continue
		}

		plugins = append(plugins, factory(ctx, logger, cfg))
	}

	return plugins
}
