package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

type pathRequest struct {
	Path string `json:"path"`
}

var excludeCmd = &cobra.Command{
	Use:   "exclude [path]",
	Short: "Exclude an image path from clustering",
	Args:  cobra.ExactArgs(1),
	RunE:  runExclude,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [path]",
	Short: "Restore a previously excluded image path",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func init() {
	rootCmd.AddCommand(excludeCmd)
	rootCmd.AddCommand(restoreCmd)

	for _, c := range []*cobra.Command{excludeCmd, restoreCmd} {
		c.Flags().String("server", "http://localhost:8080", "Address of a running cluster-sorter serve instance")
	}
}

func runExclude(cmd *cobra.Command, args []string) error {
	server := mustGetString(cmd, "server")
	if err := postJSON(server+"/exclude", pathRequest{Path: args[0]}, nil); err != nil {
		return err
	}
	fmt.Printf("Excluded %s\n", args[0])
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	server := mustGetString(cmd, "server")
	if err := postJSON(server+"/restore", pathRequest{Path: args[0]}, nil); err != nil {
		return err
	}
	fmt.Printf("Restored %s\n", args[0])
	return nil
}
