// Package rag implements the embedding service and the augmentPrompt
// retrieval pipeline: generating and storing embedding records, searching
// them back out under a namespace, and turning a query plus its retrieved
// context into an augmented prompt.
package rag

import (
	"context"
	"fmt"

	"github.com/chatforge/core/internal/provider"
	"github.com/chatforge/core/pkg/chatmodels"
)

// InsertStatus is the outcome of a vector-store write.
type InsertStatus struct {
	Inserted int
}

// MatchOptions bounds a getMatches/searchSimilar call.
type MatchOptions struct {
	TopK           int
	ScoreThreshold float32
	Namespace      string
	Type           string // optional record-type filter
}

// Matches is a getMatches result: the hits plus how many were returned.
type Matches struct {
	Hits  []chatmodels.Doc
	Count int
}

// Store is the embedding service's storage half: insert, delete, and
// similarity search against a vector backend, scoped by namespace.
type Store interface {
	Insert(ctx context.Context, records []chatmodels.EmbeddingRecord, namespace string) (InsertStatus, error)
	Delete(ctx context.Context, ids []string, namespace string) error
	GetMatches(ctx context.Context, vector []float32, opts MatchOptions) (Matches, error)
}

// Service is the embedding service: polymorphic over an embedding provider,
// a vector store, and the caller's env/user scope.
type Service struct {
	registry *provider.Registry
	store    Store

	// EmbeddingProvider/EmbeddingModel select which registered provider and
	// model generate vectors. Empty values fall back to the registry's
	// default embedding provider.
	EmbeddingProvider string
	EmbeddingModel    string
}

// NewService builds a Service over a vector Store and a provider registry
// used for vector generation.
func NewService(registry *provider.Registry, store Store) *Service {
	return &Service{registry: registry, store: store}
}

// Generate implements generate(type, content, id, meta) -> vector: it calls
// the configured embedding provider for a single content string and returns
// the resulting record, ready for Insert.
func (s *Service) Generate(ctx context.Context, recordType, content, id string, meta map[string]any) (chatmodels.EmbeddingRecord, error) {
	p, err := provider.GetEmbeddingProvider(s.registry, s.EmbeddingProvider)
	if err != nil {
		return chatmodels.EmbeddingRecord{}, fmt.Errorf("rag: generate: %w", err)
	}
	resp, err := p.Embed(ctx, provider.EmbeddingRequest{Model: s.EmbeddingModel, Texts: []string{content}})
	if err != nil {
		return chatmodels.EmbeddingRecord{}, fmt.Errorf("rag: generate: %w", err)
	}
	if len(resp.Vectors) == 0 {
		return chatmodels.EmbeddingRecord{}, fmt.Errorf("rag: generate: provider returned no vector")
	}
	return chatmodels.EmbeddingRecord{
		ID:       id,
		Type:     recordType,
		Content:  content,
		Metadata: meta,
		Vector:   resp.Vectors[0],
	}, nil
}

// Insert implements insert(vectors, {namespace}) -> {status}. The namespace
// is derived by the caller via Namespace/NamespaceForWrite so a user-scoped
// write can never be misrouted to another user's namespace.
func (s *Service) Insert(ctx context.Context, records []chatmodels.EmbeddingRecord, namespace string) (InsertStatus, error) {
	return s.store.Insert(ctx, records, namespace)
}

// Delete implements delete(ids).
func (s *Service) Delete(ctx context.Context, ids []string, namespace string) error {
	return s.store.Delete(ctx, ids, namespace)
}

// GetQuery implements getQuery(text) -> vector: embeds a query string with
// the configured embedding provider.
func (s *Service) GetQuery(ctx context.Context, text string) ([]float32, error) {
	p, err := provider.GetEmbeddingProvider(s.registry, s.EmbeddingProvider)
	if err != nil {
		return nil, fmt.Errorf("rag: getQuery: %w", err)
	}
	resp, err := p.Embed(ctx, provider.EmbeddingRequest{Model: s.EmbeddingModel, Texts: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("rag: getQuery: %w", err)
	}
	if len(resp.Vectors) == 0 {
		return nil, fmt.Errorf("rag: getQuery: provider returned no vector")
	}
	return resp.Vectors[0], nil
}

// GetMatches implements getMatches(vector, {topK, scoreThreshold, namespace,
// type?}) -> {matches, count}.
func (s *Service) GetMatches(ctx context.Context, vector []float32, opts MatchOptions) (Matches, error) {
	return s.store.GetMatches(ctx, vector, opts)
}

// SearchSimilar implements searchSimilar(query, opts) -> [Doc]: embeds the
// query then retrieves its matches.
func (s *Service) SearchSimilar(ctx context.Context, query string, opts MatchOptions) ([]chatmodels.Doc, error) {
	vector, err := s.GetQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("rag: searchSimilar: %w", err)
	}
	matches, err := s.GetMatches(ctx, vector, opts)
	if err != nil {
		return nil, fmt.Errorf("rag: searchSimilar: %w", err)
	}
	return matches.Hits, nil
}

// Namespace derivations per the documented convention.
const (
	namespaceShared = "kb"
)

// UserKBNamespace returns the per-user knowledge-base namespace.
func UserKBNamespace(userID string) string {
	return "user_kb_" + userID
}

// MemoryUserNamespace returns the per-user memory namespace.
func MemoryUserNamespace(userID string) string {
	return "memory_user_" + userID
}

// SharedNamespace is the public/shared knowledge namespace.
func SharedNamespace() string {
	return namespaceShared
}

// WriteNamespace enforces namespace safety for a write: a caller-requested
// user-scoped namespace (user_kb_{N}) is only honored when N equals the
// writing user's own id; any mismatch is downgraded to the shared namespace.
func WriteNamespace(requested, userID string) string {
	if requested == UserKBNamespace(userID) {
		return requested
	}
	if len(requested) > len("user_kb_") && requested[:len("user_kb_")] == "user_kb_" {
		return namespaceShared
	}
	return requested
}
