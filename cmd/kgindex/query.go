package kgindex

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soundprediction/kgindex"
	"github.com/soundprediction/kgindex/pkg/config"
)

var queryCmd = &cobra.Command{
	Use:   "query [text...]",
	Short: "Retrieve the subgraph relevant to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().Int("depth", kgindex.DefaultRetrieveDepth, "Traversal depth (0 returns seed entities only)")
	queryCmd.Flags().Int("limit", kgindex.DefaultRetrieveLimit, "Maximum entities to return")
	queryCmd.Flags().Bool("json", false, "Print the full subgraph as JSON")
	queryCmd.Flags().String("db-driver", "", "Database driver (memory, badger, neo4j)")
	queryCmd.Flags().String("db-uri", "", "Database URI (bolt URI or badger path)")
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	depth, _ := cmd.Flags().GetInt("depth")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	index, _, err := buildIndex(cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	query := strings.Join(args, " ")
	graph, err := index.Retrieve(cmd.Context(), query, &kgindex.RetrieveOptions{
		Depth: depth,
		Limit: limit,
	})
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(graph)
	}

	if len(graph.Entities) == 0 {
		fmt.Println("no matching entities")
		return nil
	}
	for _, e := range graph.Entities {
		fmt.Printf("%.3f  [%d] %s", e.Score, e.Depth, e.Entity.Name)
		if e.Entity.EntityType != "" {
			fmt.Printf(" (%s)", e.Entity.EntityType)
		}
		fmt.Println()
	}
	fmt.Printf("%d entities, %d relationships\n", len(graph.Entities), len(graph.Relationships))
	return nil
}
