package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var project string

var rootCmd = &cobra.Command{
	Use:   "cluster-sorter",
	Short: "Continuously cluster a folder of images by visual similarity",
	Long: `cluster-sorter embeds every image in a project folder, groups them
into semantically coherent clusters with an incremental K-Means engine,
and lets you freeze clusters so their representative images survive
subsequent re-clustering passes.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&project, "project", "default", "Project name, used to namespace stored embeddings")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
