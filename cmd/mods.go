package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/modulate-dev/modulate/internal/overlay"
	"github.com/modulate-dev/modulate/internal/registry"
)

var addCmd = &cobra.Command{
	Use:   "add <dir>",
	Short: "Register a mod directory (inactive until enabled)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolve mod dir: %w", err)
		}
		return withManager(func(m *overlay.Manager) error {
			id, err := m.Add(dir)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <uuid>",
	Short: "Unregister an inactive mod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse uuid: %w", err)
		}
		return withManager(func(m *overlay.Manager) error {
			return m.Remove(id)
		})
	},
}

var enableCmd = &cobra.Command{
	Use:   "enable <uuid>",
	Short: "Activate a mod at the highest priority",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse uuid: %w", err)
		}
		return withManager(func(m *overlay.Manager) error {
			return m.Enable(id)
		})
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <uuid>",
	Short: "Deactivate a mod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse uuid: %w", err)
		}
		return withManager(func(m *overlay.Manager) error {
			return m.Disable(id)
		})
	},
}

var orderCmd = &cobra.Command{
	Use:   "order <uuid>...",
	Short: "Set the priority order of the active mods, lowest first",
	Long: `Set the priority order of the active mods. Every active mod must be
listed exactly once, lowest priority first: when two mods provide the
same file, the one listed later wins.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]uuid.UUID, 0, len(args))
		for _, arg := range args {
			id, err := uuid.Parse(arg)
			if err != nil {
				return fmt.Errorf("parse uuid %q: %w", arg, err)
			}
			ids = append(ids, id)
		}
		return withManager(func(m *overlay.Manager) error {
			return m.Reorder(ids)
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered mods and their activation state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(func(m *overlay.Manager) error {
			printMods := func(header string, mods []registry.Metadata) {
				fmt.Printf("%s:\n", header)
				if len(mods) == 0 {
					fmt.Println("  (none)")
					return
				}
				for i, meta := range mods {
					fmt.Printf("  %2d. %s %s  %s\n", i+1, meta.Name, meta.Version, meta.UUID)
				}
			}
			printMods("Active (lowest priority first)", m.Active())
			printMods("Inactive", m.Inactive())
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(addCmd, removeCmd, enableCmd, disableCmd, orderCmd, listCmd)
}
