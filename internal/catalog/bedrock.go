package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"

	"github.com/chatforge/core/pkg/chatmodels"
)

const (
	// DefaultBedrockRefreshInterval is how often Discover re-queries AWS.
	DefaultBedrockRefreshInterval = time.Hour
	// DefaultBedrockContextWindow is used when a discovered model doesn't
	// report one.
	DefaultBedrockContextWindow = 32_000
	// DefaultBedrockMaxTokens is used when a discovered model doesn't report
	// one.
	DefaultBedrockMaxTokens = 4096
)

// BedrockDiscoveryConfig configures dynamic Bedrock model discovery.
type BedrockDiscoveryConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Region               string        `yaml:"region"`
	RefreshInterval      time.Duration `yaml:"refresh_interval"`
	ProviderFilter       []string      `yaml:"provider_filter"`
	DefaultContextWindow int           `yaml:"default_context_window"`
	DefaultMaxTokens     int           `yaml:"default_max_tokens"`
}

// BedrockClient is the subset of the Bedrock SDK client used for discovery.
type BedrockClient interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

// BedrockDiscovery periodically lists AWS Bedrock foundation models and
// registers them into a Catalog as provider "bedrock" descriptors.
type BedrockDiscovery struct {
	config BedrockDiscoveryConfig
	logger *slog.Logger

	mu        sync.RWMutex
	cache     []*chatmodels.ModelDescriptor
	expiresAt time.Time
	inFlight  bool

	clientFactory func(region string) BedrockClient
}

// NewBedrockDiscovery builds a BedrockDiscovery with defaults applied.
func NewBedrockDiscovery(cfg BedrockDiscoveryConfig, logger *slog.Logger) *BedrockDiscovery {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultBedrockRefreshInterval
	}
	if cfg.DefaultContextWindow <= 0 {
		cfg.DefaultContextWindow = DefaultBedrockContextWindow
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = DefaultBedrockMaxTokens
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &BedrockDiscovery{config: cfg, logger: logger}
}

// SetClientFactory overrides how the Bedrock client is constructed, for
// tests.
func (d *BedrockDiscovery) SetClientFactory(factory func(region string) BedrockClient) {
	d.clientFactory = factory
}

// ClearCache discards the cached model list, forcing the next Discover call
// to re-query AWS.
func (d *BedrockDiscovery) ClearCache() {
	d.mu.Lock()
	d.cache = nil
	d.expiresAt = time.Time{}
	d.mu.Unlock()
}

// Discover returns the current model list, refreshing from AWS if the cache
// has expired. A refresh failure falls back to the last good cache.
func (d *BedrockDiscovery) Discover(ctx context.Context) ([]*chatmodels.ModelDescriptor, error) {
	if !d.config.Enabled {
		return nil, nil
	}

	d.mu.RLock()
	if d.cache != nil && time.Now().Before(d.expiresAt) {
		cached := d.cache
		d.mu.RUnlock()
		return cached, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	if d.cache != nil && time.Now().Before(d.expiresAt) {
		cached := d.cache
		d.mu.Unlock()
		return cached, nil
	}
	if d.inFlight {
		d.mu.Unlock()
		time.Sleep(100 * time.Millisecond)
		d.mu.RLock()
		cached := d.cache
		d.mu.RUnlock()
		return cached, nil
	}
	d.inFlight = true
	d.mu.Unlock()

	descriptors, err := d.fetchModels(ctx)

	d.mu.Lock()
	d.inFlight = false
	if err == nil {
		d.cache = descriptors
		d.expiresAt = time.Now().Add(d.config.RefreshInterval)
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("bedrock discovery failed", "error", err)
		d.mu.RLock()
		cached := d.cache
		d.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}
	return descriptors, nil
}

// RegisterWithCatalog discovers Bedrock models and registers them. It must
// be called at startup, before the catalog's derived views are first read.
func (d *BedrockDiscovery) RegisterWithCatalog(ctx context.Context, c *Catalog) error {
	descriptors, err := d.Discover(ctx)
	if err != nil {
		return err
	}
	for _, desc := range descriptors {
		c.Register(desc)
	}
	d.logger.Info("registered bedrock models", "count", len(descriptors))
	return nil
}

func (d *BedrockDiscovery) fetchModels(ctx context.Context) ([]*chatmodels.ModelDescriptor, error) {
	client, err := d.createClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create bedrock client: %w", err)
	}

	output, err := client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return nil, fmt.Errorf("list foundation models: %w", err)
	}

	providerFilter := normalizeProviderFilter(d.config.ProviderFilter)
	var descriptors []*chatmodels.ModelDescriptor
	for _, summary := range output.ModelSummaries {
		if !d.shouldInclude(summary, providerFilter) {
			continue
		}
		if desc := d.toDescriptor(summary); desc != nil {
			descriptors = append(descriptors, desc)
		}
	}

	d.logger.Debug("discovered bedrock models", "total", len(output.ModelSummaries), "included", len(descriptors))
	return descriptors, nil
}

func (d *BedrockDiscovery) createClient(ctx context.Context) (BedrockClient, error) {
	if d.clientFactory != nil {
		return d.clientFactory(d.config.Region), nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(d.config.Region))
	if err != nil {
		return nil, err
	}
	return bedrock.NewFromConfig(cfg), nil
}

func (d *BedrockDiscovery) shouldInclude(summary types.FoundationModelSummary, providerFilter []string) bool {
	if summary.ModelId == nil || *summary.ModelId == "" {
		return false
	}
	if summary.ResponseStreamingSupported == nil || !*summary.ResponseStreamingSupported {
		return false
	}
	if !hasTextModality(summary.OutputModalities) {
		return false
	}
	if summary.ModelLifecycle == nil || summary.ModelLifecycle.Status != types.FoundationModelLifecycleStatusActive {
		return false
	}
	if len(providerFilter) > 0 {
		providerName := extractProviderName(summary)
		if providerName == "" {
			return false
		}
		found := false
		for _, p := range providerFilter {
			if strings.EqualFold(p, providerName) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (d *BedrockDiscovery) toDescriptor(summary types.FoundationModelSummary) *chatmodels.ModelDescriptor {
	if summary.ModelId == nil {
		return nil
	}
	id := *summary.ModelId
	name := id
	if summary.ModelName != nil && *summary.ModelName != "" {
		name = *summary.ModelName
	}

	desc := &chatmodels.ModelDescriptor{
		MatchingModel: id,
		Name:          name,
		Provider:      "bedrock",
		ContextWindow: d.config.DefaultContextWindow,
		MaxTokens:     d.config.DefaultMaxTokens,
		Modalities: chatmodels.Modalities{
			Input:  inputModalities(summary),
			Output: []chatmodels.Modality{chatmodels.ModalityText},
		},
		Strengths:         inferStrengths(summary),
		ContextComplexity: 3,
		Reliability:       3,
		Speed:             3,
		SupportsStreaming: true,
		IncludedInRouter:  true,
	}
	for _, s := range desc.Strengths {
		if s == "tool-use" {
			desc.SupportsToolCalls = true
		}
	}
	for _, m := range desc.Modalities.Input {
		if m == chatmodels.ModalityImage {
			desc.Multimodal = true
		}
	}
	return desc
}

func hasTextModality(modalities []types.ModelModality) bool {
	for _, m := range modalities {
		if m == types.ModelModalityText {
			return true
		}
	}
	return false
}

func inputModalities(summary types.FoundationModelSummary) []chatmodels.Modality {
	out := []chatmodels.Modality{chatmodels.ModalityText}
	for _, m := range summary.InputModalities {
		if m == types.ModelModalityImage {
			out = append(out, chatmodels.ModalityImage)
		}
	}
	return out
}

func inferStrengths(summary types.FoundationModelSummary) []string {
	var strengths []string
	for _, inf := range summary.InferenceTypesSupported {
		if inf == types.InferenceTypeOnDemand {
			strengths = append(strengths, "tool-use")
		}
	}
	if summary.ModelId != nil {
		lower := strings.ToLower(*summary.ModelId)
		if strings.Contains(lower, "reason") || strings.Contains(lower, "think") {
			strengths = append(strengths, "reasoning")
		}
	}
	return strengths
}

func extractProviderName(summary types.FoundationModelSummary) string {
	if summary.ProviderName != nil && *summary.ProviderName != "" {
		return strings.ToLower(*summary.ProviderName)
	}
	if summary.ModelId != nil {
		parts := strings.SplitN(*summary.ModelId, ".", 2)
		if len(parts) > 0 {
			return strings.ToLower(parts[0])
		}
	}
	return ""
}

func normalizeProviderFilter(filter []string) []string {
	if len(filter) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var result []string
	for _, p := range filter {
		p = strings.TrimSpace(strings.ToLower(p))
		if p != "" && !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
