// Package qdrantstore implements rag.Store against a Qdrant collection.
// Records are namespaced by storing the namespace as a payload field and
// filtering on it at query time, since a single collection holds every
// namespace's vectors.
package qdrantstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/chatforge/core/internal/rag"
	"github.com/chatforge/core/pkg/chatmodels"
)

// payloadNamespaceField/payloadOriginalIDField/payloadTypeField are the
// payload keys used to recover the namespace, original record id, and
// record type out of a point's opaque UUID and metadata.
const (
	payloadNamespaceField  = "_namespace"
	payloadOriginalIDField = "_original_id"
	payloadTypeField       = "_type"
	payloadContentField    = "_content"
	payloadTitleField      = "_title"
)

// Config configures a Store.
type Config struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string
	Dimension      int
	// Distance is one of cosine|l2|euclidean|ip|dot|manhattan; defaults to cosine.
	Distance string
}

// Store implements rag.Store against a single Qdrant collection shared
// across namespaces.
type Store struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

var _ rag.Store = (*Store)(nil)

// New connects to Qdrant and ensures the configured collection exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("qdrantstore: collection name is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("qdrantstore: dimension must be > 0")
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrantstore: create client: %w", err)
	}

	s := &Store{client: client, collection: cfg.CollectionName, dimension: cfg.Dimension}
	if err := s.ensureCollection(ctx, distanceOf(cfg.Distance)); err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrantstore: ensure collection: %w", err)
	}
	return s, nil
}

func distanceOf(metric string) qdrant.Distance {
	switch metric {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (s *Store) ensureCollection(ctx context.Context, distance qdrant.Distance) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimension),
			Distance: distance,
		}),
	})
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// pointID derives a deterministic Qdrant point UUID from a record id and
// namespace, since Qdrant only accepts UUIDs/integers as point ids and the
// same record id may exist independently in more than one namespace.
func pointID(namespace, id string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"\x00"+id)).String()
}

// Insert implements rag.Store.
func (s *Store) Insert(ctx context.Context, records []chatmodels.EmbeddingRecord, namespace string) (rag.InsertStatus, error) {
	if len(records) == 0 {
		return rag.InsertStatus{}, nil
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		payload := make(map[string]any, len(rec.Metadata)+4)
		for k, v := range rec.Metadata {
			payload[k] = v
		}
		payload[payloadNamespaceField] = namespace
		payload[payloadOriginalIDField] = rec.ID
		payload[payloadTypeField] = rec.Type
		payload[payloadContentField] = rec.Content
		if rec.Title != "" {
			payload[payloadTitleField] = rec.Title
		}

		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID(namespace, rec.ID)),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	}); err != nil {
		return rag.InsertStatus{}, fmt.Errorf("qdrantstore: upsert: %w", err)
	}
	return rag.InsertStatus{Inserted: len(points)}, nil
}

// Delete implements rag.Store.
func (s *Store) Delete(ctx context.Context, ids []string, namespace string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(pointID(namespace, id)))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrantstore: delete: %w", err)
	}
	return nil
}

// GetMatches implements rag.Store: a namespace (and optional record-type)
// filtered similarity search.
func (s *Store) GetMatches(ctx context.Context, vector []float32, opts rag.MatchOptions) (rag.Matches, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	must := []*qdrant.Condition{qdrant.NewMatch(payloadNamespaceField, opts.Namespace)}
	if opts.Type != "" {
		must = append(must, qdrant.NewMatch(payloadTypeField, opts.Type))
	}
	filter := &qdrant.Filter{Must: must}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(topK)

	scoreThreshold := opts.ScoreThreshold
	result, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         filter,
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: &scoreThreshold,
	})
	if err != nil {
		return rag.Matches{}, fmt.Errorf("qdrantstore: query: %w", err)
	}

	hits := make([]chatmodels.Doc, 0, len(result))
	for _, point := range result {
		rec := chatmodels.EmbeddingRecord{Vector: nil}
		metadata := make(map[string]any)
		if point.Payload != nil {
			for k, v := range point.Payload {
				switch k {
				case payloadOriginalIDField:
					rec.ID = v.GetStringValue()
				case payloadTypeField:
					rec.Type = v.GetStringValue()
				case payloadContentField:
					rec.Content = v.GetStringValue()
				case payloadTitleField:
					rec.Title = v.GetStringValue()
				case payloadNamespaceField:
					// internal bookkeeping only, not surfaced
				default:
					metadata[k] = v.GetStringValue()
				}
			}
		}
		rec.Metadata = metadata
		hits = append(hits, chatmodels.Doc{Record: rec, Score: point.Score})
	}
	return rag.Matches{Hits: hits, Count: len(hits)}, nil
}
