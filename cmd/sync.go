package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/modulate-dev/modulate/internal/overlay"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Deploy the active mod stack to the working directory",
	Long: `Deploy the active mod stack. Computes the merged overlay tree, diffs it
against what was deployed last time and applies the difference with the
minimum number of filesystem operations. Pre-existing files that a mod
overwrites are preserved in the backup directory and restored when the
mod no longer claims them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(m *overlay.Manager) error {
			start := time.Now()
			if err := m.Sync(); err != nil {
				return err
			}
			fmt.Printf("Synchronized in %v.\n", time.Since(start).Round(time.Millisecond))
			return nil
		})
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the deployed overlay tree with file provenance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(m *overlay.Manager) error {
			m.RenderTree(os.Stdout)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(syncCmd, treeCmd)
}
