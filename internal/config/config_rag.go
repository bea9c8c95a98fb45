package config

// RAGConfig configures the embedding service and its retrieval pipeline.
type RAGConfig struct {
	EmbeddingProvider string `yaml:"embedding_provider"`
	EmbeddingModel    string `yaml:"embedding_model"`

	TopK           int     `yaml:"top_k"`
	ScoreThreshold float32 `yaml:"score_threshold"`

	// Qdrant configures the vector store, mirroring qdrantstore.Config.
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig mirrors qdrantstore.Config.
type QdrantConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	APIKey         string `yaml:"api_key"`
	UseTLS         bool   `yaml:"use_tls"`
	CollectionName string `yaml:"collection_name"`
	Dimension      int    `yaml:"dimension"`
	// Distance is one of cosine|l2|euclidean|ip|dot|manhattan.
	Distance string `yaml:"distance"`
}

func applyRAGDefaults(cfg *RAGConfig) {
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.ScoreThreshold == 0 {
		cfg.ScoreThreshold = 0.7
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.CollectionName == "" {
		cfg.Qdrant.CollectionName = "chatcore_embeddings"
	}
	if cfg.Qdrant.Distance == "" {
		cfg.Qdrant.Distance = "cosine"
	}
}
