package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/teranos/lookout/cmd/lookout/commands"
	"github.com/teranos/lookout/logger"
)

var rootCmd = &cobra.Command{
	Use:   "lookout",
	Short: "lookout - object detection runs for uploads and image searches",
	Long: `lookout accepts image uploads or search terms, runs an external object
detector over them in the background and publishes an HTML report per run.

Available commands:
  serve   - Start the HTTP server
  run     - Run detection once on local files or a search query
  config  - Show, validate and initialise configuration
  version - Show build information

Examples:
  lookout serve -v                     # Start the server with progress logs
  lookout run ./photos --conf 0.5      # One-off run over a directory
  lookout run --query "cat, red car"   # Download and detect
  lookout config where                 # Show the config cascade`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is normal; a malformed one is not
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to read .env: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file merged above the system/user/project cascade")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	err := rootCmd.Execute()
	logger.Cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
