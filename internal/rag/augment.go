package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatforge/core/internal/provider"
	"github.com/chatforge/core/pkg/chatmodels"
)

// defaultScoreThreshold/defaultRerankCandidates/defaultSummaryThreshold are
// augmentPrompt's documented defaults.
const (
	defaultScoreThreshold   = 0.7
	defaultRerankCandidates = 10
	defaultSummaryThreshold = 750
	summaryWordLimit        = 100
)

// AugmentOptions configures one augmentPrompt call.
type AugmentOptions struct {
	// TopK defaults to 1 for short queries (<20 runes), else 3.
	TopK int
	// ScoreThreshold defaults to 0.7.
	ScoreThreshold float32
	// RerankCandidates is how many documents to retrieve before reranking;
	// defaults to 10.
	RerankCandidates int
	// SummaryThreshold is the content-length (in chars) above which a
	// surviving document is summarized; defaults to 750.
	SummaryThreshold int
	// RecordType optionally restricts retrieval to one record type.
	RecordType string
	// Namespace, if set, is used verbatim (subject to WriteNamespace-style
	// safety at call sites); otherwise it is derived from Scope/UserID.
	Namespace string

	// RerankerProvider/RerankerModel and SummarizerProvider/SummarizerModel
	// select which registered chat provider/model perform reranking and
	// summarization; empty values fall back to the registry default.
	RerankerProvider string
	RerankerModel    string
	SummarizerProvider string
	SummarizerModel    string
}

// Logger is used to warn on rerank/summarize fallback; defaults to
// slog.Default() when nil.
type Logger = *slog.Logger

// AugmentPrompt implements augmentPrompt(query, opts, env, userId) -> string.
// Any unexpected error aborts augmentation and returns the original query
// unchanged, rather than failing the caller's request.
func (s *Service) AugmentPrompt(ctx context.Context, query string, opts AugmentOptions, userID string, logger Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	augmented, err := s.augmentPrompt(ctx, query, opts, userID, logger)
	if err != nil {
		logger.Warn("rag: augmentation aborted, returning original query", "error", err)
		return query
	}
	return augmented
}

func (s *Service) augmentPrompt(ctx context.Context, query string, opts AugmentOptions, userID string, logger Logger) (string, error) {
	// Step 1: resolve defaults.
	topK := opts.TopK
	if topK == 0 {
		if len([]rune(query)) < 20 {
			topK = 1
		} else {
			topK = 3
		}
	}
	scoreThreshold := opts.ScoreThreshold
	if scoreThreshold == 0 {
		scoreThreshold = defaultScoreThreshold
	}
	candidates := opts.RerankCandidates
	if candidates == 0 {
		candidates = defaultRerankCandidates
	}
	summaryThreshold := opts.SummaryThreshold
	if summaryThreshold == 0 {
		summaryThreshold = defaultSummaryThreshold
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = Namespace(opts, userID)
	}

	// Step 2: retrieve candidates; zero hits passes the query through
	// unchanged.
	hits, err := s.SearchSimilar(ctx, query, MatchOptions{
		TopK:           candidates,
		ScoreThreshold: scoreThreshold,
		Namespace:      namespace,
		Type:           opts.RecordType,
	})
	if err != nil {
		return "", fmt.Errorf("search similar: %w", err)
	}
	if len(hits) == 0 {
		return query, nil
	}

	// Step 3: rerank if there are more hits than topK, falling back to dense
	// order on any failure.
	if len(hits) > topK {
		reranked, err := s.rerank(ctx, query, hits, opts)
		if err != nil {
			logger.Warn("rag: rerank failed, falling back to dense-score order", "error", err)
		} else {
			hits = reranked
		}
	}

	// Step 4: keep the first topK hits; summarize any whose content exceeds
	// the summary threshold.
	if len(hits) > topK {
		hits = hits[:topK]
	}
	contexts := make([]chatmodels.EmbeddingRecord, 0, len(hits))
	for _, hit := range hits {
		rec := hit.Record
		if len(rec.Content) > summaryThreshold {
			summary, err := s.summarize(ctx, rec.Content, opts)
			if err != nil {
				logger.Warn("rag: summarization failed, keeping original content", "id", rec.ID, "error", err)
			} else {
				rec.Content = summary
			}
		}
		contexts = append(contexts, rec)
	}

	// Step 5: format as a JSON array preceded/followed by the documented
	// wrapper text.
	return formatAugmentedPrompt(query, contexts)
}

// Namespace derives augmentPrompt's retrieval namespace. getNamespace isn't
// spec'd beyond the shared-vs-user convention, so callers that need a
// specific namespace should set AugmentOptions.Namespace directly; this
// derives the shared namespace as a safe default.
func Namespace(opts AugmentOptions, userID string) string {
	if userID != "" {
		return UserKBNamespace(userID)
	}
	return SharedNamespace()
}

type rerankItem struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (s *Service) rerank(ctx context.Context, query string, hits []chatmodels.Doc, opts AugmentOptions) ([]chatmodels.Doc, error) {
	items := make([]rerankItem, 0, len(hits))
	for _, h := range hits {
		items = append(items, rerankItem{ID: h.Record.ID, Content: h.Record.Content})
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal rerank items: %w", err)
	}

	resp, err := s.registry.Complete(ctx,
		provider.ResolveOptions{ExplicitModel: opts.RerankerModel, ExplicitProvider: opts.RerankerProvider},
		provider.MetricsContext{},
		provider.ChatRequest{
			Model: opts.RerankerModel,
			Messages: []provider.Message{
				{Role: "system", Content: "Rank these documents by relevance to the query. Respond with only a JSON array of their ids, most relevant first."},
				{Role: "user", Content: fmt.Sprintf("Query: %s\nDocuments: %s", query, payload)},
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("reranker completion: %w", err)
	}

	var order []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &order); err != nil {
		return nil, fmt.Errorf("parse reranker response: %w", err)
	}

	byID := make(map[string]chatmodels.Doc, len(hits))
	for _, h := range hits {
		byID[h.Record.ID] = h
	}
	reordered := make([]chatmodels.Doc, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, id := range order {
		doc, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("reranker returned unknown id %q", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		reordered = append(reordered, doc)
	}
	if len(reordered) != len(hits) {
		return nil, fmt.Errorf("reranker response covers %d of %d hits", len(reordered), len(hits))
	}
	return reordered, nil
}

func (s *Service) summarize(ctx context.Context, content string, opts AugmentOptions) (string, error) {
	resp, err := s.registry.Complete(ctx,
		provider.ResolveOptions{ExplicitModel: opts.SummarizerModel, ExplicitProvider: opts.SummarizerProvider},
		provider.MetricsContext{},
		provider.ChatRequest{
			Model: opts.SummarizerModel,
			Messages: []provider.Message{
				{Role: "system", Content: fmt.Sprintf("Summarize the following text in %d words or fewer.", summaryWordLimit)},
				{Role: "user", Content: content},
			},
		},
	)
	if err != nil {
		return "", fmt.Errorf("summarizer completion: %w", err)
	}
	return strings.TrimSpace(resp.Content), nil
}

func formatAugmentedPrompt(query string, contexts []chatmodels.EmbeddingRecord) (string, error) {
	type contextEntry struct {
		ID      string `json:"id"`
		Title   string `json:"title,omitempty"`
		Content string `json:"content"`
	}
	entries := make([]contextEntry, 0, len(contexts))
	for _, c := range contexts {
		entries = append(entries, contextEntry{ID: c.ID, Title: c.Title, Content: c.Content})
	}
	payload, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal contexts: %w", err)
	}
	var b strings.Builder
	b.WriteString("Contexts (JSON array): ")
	b.Write(payload)
	b.WriteString(fmt.Sprintf(" Answer the query %q using *only* these contexts.", query))
	return b.String(), nil
}
