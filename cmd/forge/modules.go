package main

import (
	"fmt"

	"github.com/nebulaforge/forge/internal/catalog"
	"github.com/nebulaforge/forge/internal/format"

	"github.com/spf13/cobra"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List engine modules from the capability catalog",
	Long:  `Loads the capability catalog and renders the available engine modules as a table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := loadCatalog()
		if err != nil {
			return err
		}

		formatter := format.NewTableFormatter()
		out, err := formatter.FormatCapabilities(registry.List())
		if err != nil {
			return fmt.Errorf("failed to render modules: %w", err)
		}

		fmt.Println(out)
		return nil
	},
}

var modulesShowCmd = &cobra.Command{
	Use:   "show <module-id>",
	Short: "Show details for a single engine module",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := loadCatalog()
		if err != nil {
			return err
		}

		capability, err := registry.Get(args[0])
		if err != nil {
			return fmt.Errorf("module %q: %w", args[0], err)
		}

		formatter := format.NewTableFormatter()
		out, err := formatter.FormatCapability(&capability)
		if err != nil {
			return fmt.Errorf("failed to render module: %w", err)
		}

		fmt.Println(out)
		return nil
	},
}

func loadCatalog() (*catalog.Registry, error) {
	registry := catalog.NewRegistry(nil)

	manifestPath := ""
	if cfg != nil {
		manifestPath = cfg.Catalog.Path
	}

	if err := registry.Initialize(manifestPath); err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	return registry, nil
}

func init() {
	modulesCmd.AddCommand(modulesShowCmd)
	rootCmd.AddCommand(modulesCmd)
}
