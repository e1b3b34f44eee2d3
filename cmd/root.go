package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kinsync",
	Short: "journal sync tool",
	Example: `kinsync serve
kinsync pair generate
kinsync pair accept -c <code> -u <peer-url>
kinsync connections
kinsync sync run -n <connection-id>
kinsync sync backfill -n <connection-id>
kinsync mapping plan -n <connection-id>
kinsync conflicts
kinsync conflicts resolve -i <conflict-id> -r keep_local
kinsync merge -p <primary-id> -m <merged-id>`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(serveCmd())
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}
