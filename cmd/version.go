package cmd

import (
	"github.com/spf13/cobra"

	"github.com/praetorian-inc/oauthkitchen/internal/message"
	"github.com/praetorian-inc/oauthkitchen/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of OAuthKitchen",
	Run: func(cmd *cobra.Command, args []string) {
		message.Info(version.FullVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
