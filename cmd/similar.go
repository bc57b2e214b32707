package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/cluster-sorter/internal/config"
	"github.com/kozaktomas/cluster-sorter/internal/store"
)

// similarCmd is a convenience surfaced beyond the core clustering
// contract: it exposes the Store's nearest-neighbor query directly,
// grounded on the corpus's "photo similar" command but backed by
// PostgresPersistence.FindSimilar.
var similarCmd = &cobra.Command{
	Use:   "similar [path]",
	Short: "Find the stored images most visually similar to path",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)
	similarCmd.Flags().Int("limit", 10, "Maximum number of results")
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	persistence := store.NewPostgresPersistence(pool)

	records, err := persistence.AllRecords(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}

	var query []float32
	for _, r := range records {
		if r.Path == args[0] {
			query = r.Vector
			break
		}
	}
	if query == nil {
		return fmt.Errorf("path %q has no stored embedding in project %q", args[0], project)
	}

	limit := mustGetInt(cmd, "limit")
	similar, distances, err := persistence.FindSimilar(ctx, project, query, limit+1)
	if err != nil {
		return fmt.Errorf("similarity query failed: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tDISTANCE")
	printed := 0
	for i, r := range similar {
		if r.Path == args[0] {
			continue
		}
		fmt.Fprintf(w, "%s\t%.4f\n", r.Path, distances[i])
		printed++
		if printed >= limit {
			break
		}
	}
	return w.Flush()
}
