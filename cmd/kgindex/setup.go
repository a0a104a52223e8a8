package kgindex

import (
	"fmt"
	"log/slog"

	"github.com/soundprediction/kgindex"
	"github.com/soundprediction/kgindex/pkg/config"
	"github.com/soundprediction/kgindex/pkg/embedder"
	"github.com/soundprediction/kgindex/pkg/extract"
	kglogger "github.com/soundprediction/kgindex/pkg/logger"
	"github.com/soundprediction/kgindex/pkg/store"
)

// buildIndex wires the store, extractor, and embedder from configuration.
func buildIndex(cfg *config.Config) (*kgindex.Index, *slog.Logger, error) {
	log, err := kglogger.New(cfg.Log, cfg.Telemetry.ParquetPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	graphStore, err := buildStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.LLM.APIKey == "" {
		return nil, nil, fmt.Errorf("an LLM API key is required (set OPENAI_API_KEY or llm.api_key)")
	}
	var extractor extract.Extractor = extract.NewOpenAIExtractor(cfg.LLM, log)
	if cfg.CircuitBreaker.Enabled {
		extractor = extract.NewBreakerExtractor(extractor, cfg.CircuitBreaker, log)
	}

	var embedderClient embedder.Client
	if cfg.Embedding.APIKey != "" {
		embedderClient = embedder.NewOpenAIClient(cfg.Embedding)
	} else {
		log.Warn("no embedding API key configured, fuzzy merging and retrieval are disabled")
	}

	index, err := kgindex.New(graphStore, extractor, embedderClient, cfg.Graph, log)
	if err != nil {
		graphStore.Close()
		return nil, nil, fmt.Errorf("failed to create index: %w", err)
	}

	log.Info("index initialized",
		"driver", cfg.Database.Driver,
		"model", cfg.LLM.Model,
		"graph_enabled", cfg.Graph.Enabled)
	return index, log, nil
}

func buildStore(cfg *config.Config) (store.GraphStore, error) {
	switch cfg.Database.Driver {
	case "memory", "":
		return store.NewMemoryStore(), nil
	case "badger":
		if cfg.Database.URI == "" {
			return nil, fmt.Errorf("badger driver requires a database path (database.uri)")
		}
		return store.NewBadgerStore(cfg.Database.URI)
	case "neo4j":
		if cfg.Database.URI == "" {
			return nil, fmt.Errorf("neo4j driver requires a bolt URI (database.uri)")
		}
		return store.NewNeo4jStore(cfg.Database.URI, cfg.Database.Username, cfg.Database.Password, cfg.Database.Database)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}
