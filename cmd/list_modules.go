package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/praetorian-inc/oauthkitchen/internal/registry"
)

var listModulesCmd = &cobra.Command{
	Use:   "list-modules",
	Short: "Display available modules in a tree structure",
	Run: func(cmd *cobra.Command, args []string) {
		displayModuleTree()
	},
}

func displayModuleTree() {
	if noColorFlag {
		color.NoColor = true
	}
	bold := color.New(color.Bold)

	hierarchy := registry.GetHierarchy()

	platforms := make([]string, 0, len(hierarchy))
	for platform := range hierarchy {
		platforms = append(platforms, platform)
	}
	sort.Strings(platforms)

	for _, platform := range platforms {
		fmt.Printf("\n%s\n", bold.Sprint(platform))

		categories := make([]string, 0, len(hierarchy[platform]))
		for category := range hierarchy[platform] {
			categories = append(categories, category)
		}
		sort.Strings(categories)

		for _, category := range categories {
			fmt.Printf("├─ %s\n", category)

			names := append([]string{}, hierarchy[platform][category]...)
			sort.Strings(names)
			for _, name := range names {
				desc := ""
				if entry, ok := registry.GetRegistryEntry(name); ok {
					desc = entry.Module.Metadata().Description
				}
				fmt.Printf("  ├─ %s - %s\n", name, desc)
			}
		}
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(listModulesCmd)
}
