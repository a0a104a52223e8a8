package kgindex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soundprediction/kgindex"
	"github.com/soundprediction/kgindex/pkg/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest text files into the knowledge graph",
	Long: `Ingest one or more text files into the knowledge graph. Each file is
split into chunks at paragraph boundaries, entities and relationships are
extracted per chunk, and the graph is updated. Chunks that were already
ingested are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)

	ingestCmd.Flags().Int("chunk-size", 2000, "Approximate chunk size in characters")
	ingestCmd.Flags().String("db-driver", "", "Database driver (memory, badger, neo4j)")
	ingestCmd.Flags().String("db-uri", "", "Database URI (bolt URI or badger path)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("db-driver") {
		cfg.Database.Driver, _ = cmd.Flags().GetString("db-driver")
	}
	if cmd.Flags().Changed("db-uri") {
		cfg.Database.URI, _ = cmd.Flags().GetString("db-uri")
	}
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")

	index, log, err := buildIndex(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	ctx := cmd.Context()
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		chunks := kgindex.SplitText(docID, string(data), chunkSize)
		log.Info("ingesting document", "path", path, "chunks", len(chunks))

		results, err := index.AddChunks(ctx, chunks)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}

		fmt.Printf("%s: %d processed, %d skipped, %d failed (%s)\n",
			path, results.Processed, results.Skipped, results.Failed, results.TotalDuration.Round(0))
		for _, r := range results.Results {
			if r.Failed() {
				fmt.Printf("  chunk %s failed: %s\n", r.ChunkID, r.Error)
			}
		}
	}

	stats, err := index.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read graph stats: %w", err)
	}
	fmt.Printf("graph: %d entities, %d relationships\n", stats.EntityCount, stats.RelationshipCount)
	return nil
}
