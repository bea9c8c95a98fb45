// Package catalog holds the static model catalog: builtin descriptors,
// memoized derived views, and the per-user access filter.
package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chatforge/core/internal/cacheshim"
	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/pkg/chatmodels"
)

// Catalog is the read-only, in-memory model catalog. It is safe for
// concurrent use; derived views are computed once and memoized.
type Catalog struct {
	byMatchingModel map[string]*chatmodels.ModelDescriptor

	once struct {
		models           sync.Once
		free             sync.Once
		featured         sync.Once
		includedInRouter sync.Once
	}
	models           []*chatmodels.ModelDescriptor
	free             []*chatmodels.ModelDescriptor
	featured         []*chatmodels.ModelDescriptor
	includedInRouter []*chatmodels.ModelDescriptor

	byCapability map[string][]*chatmodels.ModelDescriptor
	byModality   map[chatmodels.Modality][]*chatmodels.ModelDescriptor
	mu           sync.Mutex // guards byCapability/byModality memoization
}

// New builds a catalog from the given descriptors, indexed by
// MatchingModel.
func New(descriptors []*chatmodels.ModelDescriptor) *Catalog {
	c := &Catalog{
		byMatchingModel: make(map[string]*chatmodels.ModelDescriptor, len(descriptors)),
		byCapability:    make(map[string][]*chatmodels.ModelDescriptor),
		byModality:      make(map[chatmodels.Modality][]*chatmodels.ModelDescriptor),
	}
	for _, d := range descriptors {
		c.byMatchingModel[d.MatchingModel] = d
	}
	return c
}

// NewDefault builds a catalog from the builtin descriptor set.
func NewDefault() *Catalog {
	return New(BuiltinDescriptors())
}

// Register adds or replaces a descriptor. It must only be called during
// startup, before any derived view (GetModels, GetFreeModels, ...) has been
// read — those views are computed once and memoized, so a Register call
// after first read would not be reflected in them.
func (c *Catalog) Register(d *chatmodels.ModelDescriptor) {
	c.byMatchingModel[d.MatchingModel] = d
}

// GetModelConfigByMatchingModel returns the descriptor for a matching-model
// id, or false if unknown.
func (c *Catalog) GetModelConfigByMatchingModel(m string) (*chatmodels.ModelDescriptor, bool) {
	d, ok := c.byMatchingModel[m]
	return d, ok
}

// GetModelConfigByMatchingModelCached is the cache-through variant, keyed
// per spec's `model-by-matching:{m}` schema. The catalog itself never
// changes after load, so the cache tier only saves the map lookup under
// concurrent load — it exists to satisfy the cache-through contract
// uniformly across all per-model lookups.
func (c *Catalog) GetModelConfigByMatchingModelCached(ctx context.Context, cache cacheshim.Store, m string) (*chatmodels.ModelDescriptor, error) {
	return cacheshim.CacheQuery(ctx, cache, cacheshim.Key("model-by-matching", m), cacheshim.QueryOptions{TTL: time.Hour},
		func(context.Context) (*chatmodels.ModelDescriptor, error) {
			d, _ := c.GetModelConfigByMatchingModel(m)
			return d, nil
		})
}

// GetModelConfig is an alias lookup by provider-native model id, cache-through
// under `model-config:{m}`.
func (c *Catalog) GetModelConfig(ctx context.Context, cache cacheshim.Store, modelID string) (*chatmodels.ModelDescriptor, error) {
	return cacheshim.CacheQuery(ctx, cache, cacheshim.Key("model-config", modelID), cacheshim.QueryOptions{TTL: time.Hour},
		func(context.Context) (*chatmodels.ModelDescriptor, error) {
			for _, d := range c.allModels() {
				if d.MatchingModel == modelID {
					return d, nil
				}
			}
			return nil, nil
		})
}

// GetModelConfigByModel is the by-provider-model-string lookup,
// cache-through under `model-by-model:{m}`.
func (c *Catalog) GetModelConfigByModel(ctx context.Context, cache cacheshim.Store, model string) (*chatmodels.ModelDescriptor, error) {
	return cacheshim.CacheQuery(ctx, cache, cacheshim.Key("model-by-model", model), cacheshim.QueryOptions{TTL: time.Hour},
		func(context.Context) (*chatmodels.ModelDescriptor, error) {
			d, _ := c.GetModelConfigByMatchingModel(model)
			return d, nil
		})
}

func (c *Catalog) allModels() []*chatmodels.ModelDescriptor {
	c.once.models.Do(func() {
		out := make([]*chatmodels.ModelDescriptor, 0, len(c.byMatchingModel))
		for _, d := range c.byMatchingModel {
			if !d.IsBeta {
				out = append(out, d)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].MatchingModel < out[j].MatchingModel })
		c.models = out
	})
	return c.models
}

// GetModels returns every non-beta model, memoized.
func (c *Catalog) GetModels() []*chatmodels.ModelDescriptor { return c.allModels() }

// GetFreeModels returns every free model, memoized.
func (c *Catalog) GetFreeModels() []*chatmodels.ModelDescriptor {
	c.once.free.Do(func() {
		for _, d := range c.allModels() {
			if d.IsFree {
				c.free = append(c.free, d)
			}
		}
	})
	return c.free
}

// GetFeaturedModels returns every featured model, memoized.
func (c *Catalog) GetFeaturedModels() []*chatmodels.ModelDescriptor {
	c.once.featured.Do(func() {
		for _, d := range c.allModels() {
			if d.IsFeatured {
				c.featured = append(c.featured, d)
			}
		}
	})
	return c.featured
}

// GetIncludedInRouterModels returns every router-eligible model, memoized.
func (c *Catalog) GetIncludedInRouterModels() []*chatmodels.ModelDescriptor {
	c.once.includedInRouter.Do(func() {
		for _, d := range c.allModels() {
			if d.IncludedInRouter {
				c.includedInRouter = append(c.includedInRouter, d)
			}
		}
	})
	return c.includedInRouter
}

// GetModelsByCapability returns models whose Strengths include capability,
// memoized per capability string.
func (c *Catalog) GetModelsByCapability(capability string) []*chatmodels.ModelDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if out, ok := c.byCapability[capability]; ok {
		return out
	}
	var out []*chatmodels.ModelDescriptor
	for _, d := range c.allModels() {
		if d.HasStrength(capability) {
			out = append(out, d)
		}
	}
	c.byCapability[capability] = out
	return out
}

// GetModelsByModality returns models that accept modality as input,
// memoized per modality.
func (c *Catalog) GetModelsByModality(modality chatmodels.Modality) []*chatmodels.ModelDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	if out, ok := c.byModality[modality]; ok {
		return out
	}
	var out []*chatmodels.ModelDescriptor
	for _, d := range c.allModels() {
		for _, in := range d.Modalities.Input {
			if in == modality {
				out = append(out, d)
				break
			}
		}
	}
	c.byModality[modality] = out
	return out
}

// FilterModelsForUserAccess implements spec's filterModelsForUserAccess:
// given the router-eligible model set, an always-enabled provider set
// parsed from config, and an optional user id, returns the subset of
// models the caller may use.
//
// With no userID: a model is visible if it is free or its provider is in
// alwaysEnabled. With a userID: the enabled-provider set additionally
// includes every provider the user has turned on and supplied credentials
// for, read through the cache under `user-models:{userId}`. A settings
// store error degrades to the anonymous rule rather than failing the call.
func FilterModelsForUserAccess(
	ctx context.Context,
	cache cacheshim.Store,
	store repository.Store,
	allRouterModels []*chatmodels.ModelDescriptor,
	alwaysEnabled map[string]bool,
	userID uint64,
) []*chatmodels.ModelDescriptor {
	if userID == 0 {
		return filterByProviders(allRouterModels, alwaysEnabled, nil)
	}

	key := cacheshim.Key("user-models", fmtUint(userID))
	result, _ := cacheshim.CacheQuery(ctx, cache, key, cacheshim.QueryOptions{TTL: 5 * time.Minute},
		func(ctx context.Context) ([]*chatmodels.ModelDescriptor, error) {
			enabled := map[string]bool{}
			settings, err := store.GetUserSettings(ctx, userID)
			if err != nil {
				// Backend errors (including NotFound) degrade to the
				// anonymous rule — never fatal.
				return filterByProviders(allRouterModels, alwaysEnabled, nil), nil
			}
			for provider, on := range settings.EnabledProviders {
				if !on {
					continue
				}
				if _, err := store.GetProviderKey(ctx, userID, provider); err == nil {
					enabled[provider] = true
				}
			}
			return filterByProviders(allRouterModels, alwaysEnabled, enabled), nil
		})
	return result
}

func filterByProviders(models []*chatmodels.ModelDescriptor, alwaysEnabled, userEnabled map[string]bool) []*chatmodels.ModelDescriptor {
	var out []*chatmodels.ModelDescriptor
	for _, m := range models {
		if userEnabled == nil {
			if m.IsFree || alwaysEnabled[m.Provider] {
				out = append(out, m)
			}
			continue
		}
		if alwaysEnabled[m.Provider] || userEnabled[m.Provider] {
			out = append(out, m)
		}
	}
	return out
}

// ParseAlwaysEnabledProviders parses the comma-separated always-enabled
// provider list from configuration once at startup.
func ParseAlwaysEnabledProviders(csv string) map[string]bool {
	out := map[string]bool{}
	for _, p := range strings.Split(csv, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out[p] = true
		}
	}
	return out
}

func fmtUint(u uint64) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}
