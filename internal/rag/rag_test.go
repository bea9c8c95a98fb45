package rag

import (
	"context"
	"strings"
	"testing"

	"github.com/chatforge/core/internal/provider"
	"github.com/chatforge/core/pkg/chatmodels"
)

// fakeStore is an in-memory rag.Store keyed by namespace.
type fakeStore struct {
	byNamespace map[string][]chatmodels.Doc
	deleted     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{byNamespace: make(map[string][]chatmodels.Doc)}
}

func (f *fakeStore) Insert(ctx context.Context, records []chatmodels.EmbeddingRecord, namespace string) (InsertStatus, error) {
	for _, r := range records {
		f.byNamespace[namespace] = append(f.byNamespace[namespace], chatmodels.Doc{Record: r, Score: 1})
	}
	return InsertStatus{Inserted: len(records)}, nil
}

func (f *fakeStore) Delete(ctx context.Context, ids []string, namespace string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeStore) GetMatches(ctx context.Context, vector []float32, opts MatchOptions) (Matches, error) {
	hits := f.byNamespace[opts.Namespace]
	if opts.TopK > 0 && len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}
	return Matches{Hits: hits, Count: len(hits)}, nil
}

// fakeEmbedder returns a fixed-length vector for any input, ignoring content.
type fakeEmbedder struct{}

func (fakeEmbedder) Name() string { return "fake-embedder" }
func (fakeEmbedder) Embed(ctx context.Context, req provider.EmbeddingRequest) (provider.EmbeddingResponse, error) {
	vecs := make([][]float32, len(req.Texts))
	for i := range vecs {
		vecs[i] = []float32{0.1, 0.2, 0.3}
	}
	return provider.EmbeddingResponse{Vectors: vecs}, nil
}

// scriptedChat returns queued responses in order, one per Complete call.
type scriptedChat struct {
	responses []string
	err       error
	calls     int
}

func (s *scriptedChat) Name() string { return "scripted" }
func (s *scriptedChat) Complete(ctx context.Context, req provider.ChatRequest) (provider.ChatResponse, error) {
	if s.err != nil {
		return provider.ChatResponse{}, s.err
	}
	resp := s.responses[s.calls%len(s.responses)]
	s.calls++
	return provider.ChatResponse{Content: resp}, nil
}
func (s *scriptedChat) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatChunk, error) {
	return nil, nil
}

func newTestService(store Store, chat *scriptedChat) *Service {
	r := provider.NewRegistry(nil)
	r.RegisterEmbedding(fakeEmbedder{}, true)
	if chat != nil {
		r.RegisterChat(chat, true)
	}
	return NewService(r, store)
}

func TestAugmentPromptPassesThroughOnZeroHits(t *testing.T) {
	s := newTestService(newFakeStore(), nil)
	got := s.AugmentPrompt(context.Background(), "hello there", AugmentOptions{}, "", nil)
	if got != "hello there" {
		t.Errorf("expected unchanged query on zero hits, got %q", got)
	}
}

func TestAugmentPromptFormatsContextsAsJSONArray(t *testing.T) {
	store := newFakeStore()
	store.byNamespace[SharedNamespace()] = []chatmodels.Doc{
		{Record: chatmodels.EmbeddingRecord{ID: "doc-1", Content: "short content"}, Score: 0.9},
	}
	s := newTestService(store, nil)

	got := s.AugmentPrompt(context.Background(), "what is doc-1 about", AugmentOptions{TopK: 1}, "", nil)
	if !strings.HasPrefix(got, "Contexts (JSON array): ") {
		t.Fatalf("expected contexts prefix, got %q", got)
	}
	if !strings.Contains(got, `"doc-1"`) || !strings.Contains(got, "short content") {
		t.Errorf("expected context content embedded, got %q", got)
	}
	if !strings.HasSuffix(got, `using *only* these contexts.`) {
		t.Errorf("expected trailing instruction, got %q", got)
	}
}

func TestAugmentPromptRerankFailureFallsBackToDenseOrder(t *testing.T) {
	store := newFakeStore()
	store.byNamespace[SharedNamespace()] = []chatmodels.Doc{
		{Record: chatmodels.EmbeddingRecord{ID: "a", Content: "alpha"}, Score: 0.95},
		{Record: chatmodels.EmbeddingRecord{ID: "b", Content: "beta"}, Score: 0.9},
		{Record: chatmodels.EmbeddingRecord{ID: "c", Content: "gamma"}, Score: 0.8},
	}
	chat := &scriptedChat{responses: []string{"not valid json"}}
	s := newTestService(store, chat)

	got := s.AugmentPrompt(context.Background(), "a somewhat longer query about alpha", AugmentOptions{TopK: 1}, "", nil)
	if !strings.Contains(got, `"alpha"`) {
		t.Errorf("expected dense-order top hit 'alpha' to survive rerank failure, got %q", got)
	}
}

func TestAugmentPromptRerankReordersHits(t *testing.T) {
	store := newFakeStore()
	store.byNamespace[SharedNamespace()] = []chatmodels.Doc{
		{Record: chatmodels.EmbeddingRecord{ID: "a", Content: "alpha"}, Score: 0.95},
		{Record: chatmodels.EmbeddingRecord{ID: "b", Content: "beta"}, Score: 0.9},
	}
	chat := &scriptedChat{responses: []string{`["b", "a"]`}}
	s := newTestService(store, chat)

	got := s.AugmentPrompt(context.Background(), "a somewhat longer query about beta", AugmentOptions{TopK: 1}, "", nil)
	if !strings.Contains(got, `"beta"`) {
		t.Errorf("expected reranked top hit 'beta', got %q", got)
	}
}

func TestAugmentPromptSummarizesLongContentAboveThreshold(t *testing.T) {
	store := newFakeStore()
	long := strings.Repeat("x", 800)
	store.byNamespace[SharedNamespace()] = []chatmodels.Doc{
		{Record: chatmodels.EmbeddingRecord{ID: "a", Content: long}, Score: 0.9},
	}
	chat := &scriptedChat{responses: []string{"a short summary"}}
	s := newTestService(store, chat)

	got := s.AugmentPrompt(context.Background(), "summarize the long document please", AugmentOptions{TopK: 1}, "", nil)
	if !strings.Contains(got, "a short summary") {
		t.Errorf("expected summarized content, got %q", got)
	}
	if strings.Contains(got, long) {
		t.Errorf("expected original long content to be replaced, got %q", got)
	}
}

func TestAugmentPromptSummarizationFailureKeepsOriginalContent(t *testing.T) {
	store := newFakeStore()
	long := strings.Repeat("y", 800)
	store.byNamespace[SharedNamespace()] = []chatmodels.Doc{
		{Record: chatmodels.EmbeddingRecord{ID: "a", Content: long}, Score: 0.9},
	}
	r := provider.NewRegistry(nil)
	r.RegisterEmbedding(fakeEmbedder{}, true)
	// No chat provider registered at all: summarize fails outright.
	s := NewService(r, store)

	got := s.AugmentPrompt(context.Background(), "summarize the long document please", AugmentOptions{TopK: 1}, "", nil)
	if !strings.Contains(got, long) {
		t.Errorf("expected original content to survive summarization failure, got %q", got)
	}
}

func TestWriteNamespaceDowngradesMismatchedUserScope(t *testing.T) {
	if got := WriteNamespace(UserKBNamespace("42"), "42"); got != "user_kb_42" {
		t.Errorf("expected matching user namespace preserved, got %q", got)
	}
	if got := WriteNamespace(UserKBNamespace("42"), "7"); got != SharedNamespace() {
		t.Errorf("expected mismatched user namespace downgraded to shared, got %q", got)
	}
	if got := WriteNamespace("kb", "7"); got != "kb" {
		t.Errorf("expected non-user namespace passed through, got %q", got)
	}
}

func TestAugmentPromptAbortsToOriginalQueryOnSearchError(t *testing.T) {
	s := newTestService(newFakeStore(), nil)
	// An unresolvable embedding provider name forces GetQuery/searchSimilar
	// to fail, which must abort augmentation rather than propagate the error.
	s.EmbeddingProvider = "does-not-exist"
	got := s.AugmentPrompt(context.Background(), "hello", AugmentOptions{}, "", nil)
	if got != "hello" {
		t.Errorf("expected original query on search failure, got %q", got)
	}
}
