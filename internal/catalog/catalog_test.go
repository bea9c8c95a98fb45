package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/chatforge/core/internal/cacheshim"
	"github.com/chatforge/core/internal/repository"
	"github.com/chatforge/core/internal/repository/memory"
	"github.com/chatforge/core/pkg/chatmodels"
)

func testCatalog() *Catalog { return NewDefault() }

func TestGetModelsExcludesBeta(t *testing.T) {
	descriptors := append(BuiltinDescriptors(), &chatmodels.ModelDescriptor{
		MatchingModel: "beta-model-x",
		Provider:      "anthropic",
		IsBeta:        true,
	})
	c := New(descriptors)
	for _, m := range c.GetModels() {
		if m.MatchingModel == "beta-model-x" {
			t.Fatal("GetModels should exclude beta models")
		}
	}
}

func TestGetModelsMemoizesAcrossCalls(t *testing.T) {
	c := testCatalog()
	first := c.GetModels()
	second := c.GetModels()
	if len(first) == 0 {
		t.Fatal("expected non-empty model list")
	}
	if len(first) != len(second) {
		t.Fatalf("GetModels length changed across calls: %d vs %d", len(first), len(second))
	}
}

func TestGetFreeModelsOnlyReturnsFree(t *testing.T) {
	c := testCatalog()
	for _, m := range c.GetFreeModels() {
		if !m.IsFree {
			t.Errorf("GetFreeModels returned non-free model %s", m.MatchingModel)
		}
	}
	if len(c.GetFreeModels()) == 0 {
		t.Error("expected at least one free builtin model")
	}
}

func TestGetFeaturedModelsOnlyReturnsFeatured(t *testing.T) {
	c := testCatalog()
	for _, m := range c.GetFeaturedModels() {
		if !m.IsFeatured {
			t.Errorf("GetFeaturedModels returned non-featured model %s", m.MatchingModel)
		}
	}
}

func TestGetIncludedInRouterModels(t *testing.T) {
	c := testCatalog()
	all := c.GetModels()
	inRouter := c.GetIncludedInRouterModels()
	if len(inRouter) == 0 || len(inRouter) > len(all) {
		t.Fatalf("unexpected included-in-router count: %d of %d", len(inRouter), len(all))
	}
	for _, m := range inRouter {
		if !m.IncludedInRouter {
			t.Errorf("GetIncludedInRouterModels returned %s which is not flagged", m.MatchingModel)
		}
	}
}

func TestGetModelsByCapabilityIsMemoizedPerKey(t *testing.T) {
	c := testCatalog()
	reasoning := c.GetModelsByCapability("reasoning")
	if len(reasoning) == 0 {
		t.Fatal("expected at least one reasoning model")
	}
	again := c.GetModelsByCapability("reasoning")
	if len(again) != len(reasoning) {
		t.Fatalf("capability view changed across calls")
	}
	unknown := c.GetModelsByCapability("nonexistent-capability")
	if len(unknown) != 0 {
		t.Errorf("expected no models for unknown capability, got %d", len(unknown))
	}
}

func TestGetModelsByModality(t *testing.T) {
	c := testCatalog()
	images := c.GetModelsByModality("image")
	if len(images) == 0 {
		t.Fatal("expected at least one image-capable model")
	}
	for _, m := range images {
		if !m.Multimodal {
			t.Errorf("model %s accepts image input but is not flagged multimodal", m.MatchingModel)
		}
	}
}

func TestGetModelConfigCacheThroughHitsCacheOnSecondCall(t *testing.T) {
	c := testCatalog()
	cache := cacheshim.NewLRUStore(16)
	ctx := context.Background()

	d1, err := c.GetModelConfig(ctx, cache, "claude-3.5-sonnet")
	if err != nil || d1 == nil {
		t.Fatalf("GetModelConfig = (%v, %v)", d1, err)
	}

	if !cacheshim.Has(ctx, cache, cacheshim.Key("model-config", "claude-3.5-sonnet")) {
		t.Error("expected model-config entry to be cached after first lookup")
	}

	d2, err := c.GetModelConfig(ctx, cache, "claude-3.5-sonnet")
	if err != nil || d2.MatchingModel != d1.MatchingModel {
		t.Fatalf("second GetModelConfig mismatch: %v, %v", d2, err)
	}
}

func TestGetModelConfigByModelUnknownReturnsNilNoError(t *testing.T) {
	c := testCatalog()
	cache := cacheshim.NewLRUStore(16)
	d, err := c.GetModelConfigByModel(context.Background(), cache, "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != nil {
		t.Errorf("expected nil descriptor for unknown model, got %+v", d)
	}
}

func TestFilterModelsForUserAccessAnonymousSeesFreeAndAlwaysEnabled(t *testing.T) {
	c := testCatalog()
	cache := cacheshim.NewLRUStore(16)
	store := memory.New()
	alwaysEnabled := ParseAlwaysEnabledProviders("anthropic")

	visible := FilterModelsForUserAccess(context.Background(), cache, store, c.GetIncludedInRouterModels(), alwaysEnabled, 0)

	sawFree, sawAnthropic, sawGoogleNonFree := false, false, false
	for _, m := range visible {
		if m.IsFree {
			sawFree = true
		}
		if m.Provider == "anthropic" {
			sawAnthropic = true
		}
		if m.Provider == "openai" && !m.IsFree {
			sawGoogleNonFree = true
		}
	}
	if !sawFree {
		t.Error("expected anonymous access to include free models")
	}
	if !sawAnthropic {
		t.Error("expected anonymous access to include always-enabled provider models")
	}
	if sawGoogleNonFree {
		t.Error("anonymous access should not include non-free, non-always-enabled provider models")
	}
}

func TestFilterModelsForUserAccessAuthenticatedUserSeesEnabledProviders(t *testing.T) {
	c := testCatalog()
	cache := cacheshim.NewLRUStore(16)
	store := memory.New()
	alwaysEnabled := ParseAlwaysEnabledProviders("")

	const userID = uint64(42)
	if err := store.PutUserSettings(context.Background(), &repository.UserSettings{
		UserID:           userID,
		EnabledProviders: map[string]bool{"openai": true},
		UpdatedAt:        time.Now(),
	}); err != nil {
		t.Fatalf("PutUserSettings: %v", err)
	}
	if err := store.PutProviderKey(context.Background(), &repository.ProviderKey{
		UserID:      userID,
		Provider:    "openai",
		Credentials: "sk-test",
		CreatedAt:   time.Now(),
	}); err != nil {
		t.Fatalf("PutProviderKey: %v", err)
	}

	visible := FilterModelsForUserAccess(context.Background(), cache, store, c.GetIncludedInRouterModels(), alwaysEnabled, userID)

	sawOpenAI, sawAnthropic := false, false
	for _, m := range visible {
		if m.Provider == "openai" {
			sawOpenAI = true
		}
		if m.Provider == "anthropic" && !m.IsFree {
			sawAnthropic = true
		}
	}
	if !sawOpenAI {
		t.Error("expected enabled+credentialed provider to be visible")
	}
	if sawAnthropic {
		t.Error("non-enabled, non-free provider should not be visible")
	}
}

func TestFilterModelsForUserAccessDegradesToAnonymousOnSettingsError(t *testing.T) {
	c := testCatalog()
	cache := cacheshim.NewLRUStore(16)
	store := memory.New() // no settings for this user -> NotFound -> degrade
	alwaysEnabled := ParseAlwaysEnabledProviders("anthropic")

	visible := FilterModelsForUserAccess(context.Background(), cache, store, c.GetIncludedInRouterModels(), alwaysEnabled, 999)

	for _, m := range visible {
		if !m.IsFree && m.Provider != "anthropic" {
			t.Errorf("expected degrade-to-anonymous rule, got unexpected model %s", m.MatchingModel)
		}
	}
}

func TestParseAlwaysEnabledProvidersTrimsAndSkipsEmpty(t *testing.T) {
	got := ParseAlwaysEnabledProviders(" anthropic ,, openai,")
	if !got["anthropic"] || !got["openai"] {
		t.Fatalf("unexpected parse result: %+v", got)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(got))
	}
}
