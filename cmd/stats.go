package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/cluster-sorter/internal/config"
	"github.com/kozaktomas/cluster-sorter/internal/store"
)

// statsCmd is a supplemented convenience command: a one-shot summary of
// a project's manifest, without needing a running serve instance.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the processed/excluded/total counts for a project",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
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
	manifest, found, err := persistence.GetManifest(ctx, project)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}
	if !found {
		fmt.Printf("No prior session for project %q\n", project)
		return nil
	}

	fmt.Printf("Project:          %s\n", project)
	fmt.Printf("Processed:        %d\n", manifest.ProcessedCount)
	fmt.Printf("Total discovered: %d\n", manifest.TotalImagesFound)
	fmt.Printf("Excluded:         %d\n", len(manifest.ExcludedImages))
	fmt.Printf("Failed:           %d\n", len(manifest.FailedImages))
	fmt.Printf("Last updated:     %d\n", manifest.LastUpdated)
	return nil
}
