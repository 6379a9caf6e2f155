package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/oauthkitchen/pkg/rules"
)

var translateFlags struct {
	rulesFile string
	scenarios bool
}

var translateCmd = &cobra.Command{
	Use:   "translate <permission>",
	Short: "Translate an OAuth permission into plain language",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.Default()

		store := rules.NewStore(logger)
		if translateFlags.rulesFile != "" {
			store = rules.NewStoreFromFile(translateFlags.rulesFile, logger)
		}
		store.Load(context.Background())

		fmt.Print(store.FormatReport(args[0], translateFlags.scenarios))
		return nil
	},
}

func init() {
	translateCmd.Flags().StringVar(&translateFlags.rulesFile, "rules-file", "", "permission rules document to use instead of the bundled one")
	translateCmd.Flags().BoolVar(&translateFlags.scenarios, "scenarios", false, "include potential abuse scenarios")
	rootCmd.AddCommand(translateCmd)
}
