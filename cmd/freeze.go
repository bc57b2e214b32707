package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var freezeCmd = &cobra.Command{
	Use:   "freeze [cluster-id]",
	Short: "Pin a cluster's representatives so they survive re-clustering",
	Args:  cobra.ExactArgs(1),
	RunE:  runFreeze,
}

var unfreezeCmd = &cobra.Command{
	Use:   "unfreeze [cluster-id]",
	Short: "Release a frozen cluster and recompute its representatives",
	Args:  cobra.ExactArgs(1),
	RunE:  runUnfreeze,
}

func init() {
	rootCmd.AddCommand(freezeCmd)
	rootCmd.AddCommand(unfreezeCmd)

	for _, c := range []*cobra.Command{freezeCmd, unfreezeCmd} {
		c.Flags().String("server", "http://localhost:8080", "Address of a running cluster-sorter serve instance")
	}
}

func runFreeze(cmd *cobra.Command, args []string) error {
	server := mustGetString(cmd, "server")
	url := fmt.Sprintf("%s/clusters/%s/freeze", server, args[0])
	if err := postJSON(url, nil, nil); err != nil {
		return err
	}
	fmt.Printf("Froze cluster %s\n", args[0])
	return nil
}

func runUnfreeze(cmd *cobra.Command, args []string) error {
	server := mustGetString(cmd, "server")
	url := fmt.Sprintf("%s/clusters/%s/unfreeze", server, args[0])
	if err := postJSON(url, nil, nil); err != nil {
		return err
	}
	fmt.Printf("Unfroze cluster %s\n", args[0])
	return nil
}
