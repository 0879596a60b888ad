package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Catalog.Path == "" {
		cfg.Catalog.Path = "/usr/local/var/dispict/data/artmuseums-clean.json"
	}
	if cfg.Storage.VectorStorePath == "" {
		cfg.Storage.VectorStorePath = "/usr/local/var/dispict/data/embeddings/artworks.dspv"
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "/usr/local/var/dispict/data/db/runs.db"
	}
	if cfg.Embedding.TextModelPath == "" {
		cfg.Embedding.TextModelPath = "/usr/local/var/dispict/data/models/clip-vit-b32-text.onnx"
	}
	if cfg.Embedding.ImageModelPath == "" {
		cfg.Embedding.ImageModelPath = "/usr/local/var/dispict/data/models/clip-vit-b32-vision.onnx"
	}
	if cfg.Embedding.TokenizerPath == "" {
		cfg.Embedding.TokenizerPath = "/usr/local/var/dispict/data/models/bpe_simple_vocab_16e6.txt.gz"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 512
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 77
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Fetch.Concurrency == 0 {
		cfg.Fetch.Concurrency = 10
	}
	if cfg.Fetch.MaxAttempts == 0 {
		cfg.Fetch.MaxAttempts = 5
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 8 * time.Second
	}
	if cfg.Fetch.NetworkBackoff == 0 {
		cfg.Fetch.NetworkBackoff = 3 * time.Second
	}
	if cfg.Fetch.StatusBackoff == 0 {
		cfg.Fetch.StatusBackoff = 100 * time.Millisecond
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "dispict/1.0"
	}
	if cfg.Batch.ChunkSize == 0 {
		cfg.Batch.ChunkSize = 32
	}
	if cfg.Batch.MaxConcurrentChunks == 0 {
		cfg.Batch.MaxConcurrentChunks = 20
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = "exact"
	}
	if cfg.Vector.NumTrees == 0 {
		cfg.Vector.NumTrees = 12
	}
	if cfg.Vector.LeafSize == 0 {
		cfg.Vector.LeafSize = 32
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 50
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 500
	}
	if cfg.Search.KeywordTitleBoost == 0 {
		cfg.Search.KeywordTitleBoost = 3.0
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
}
