package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/cmd/tally/commands"
	"github.com/teranos/tally/display"
	"github.com/teranos/tally/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "tally - Density clustering of financial transaction embeddings",
	Long: `tally - Density clustering of financial transaction embeddings.

tally imports bank transactions, embeds their descriptions and groups
them into clusters of similar spending with HDBSCAN. Points in no dense
region are reported as noise.

Available commands:
  am       - Show and validate configuration ("I am")
  ingest   - Import transactions from CSV
  cluster  - Run clustering over the current transactions
  clusters - Show the latest run grouped by cluster
  kdist    - Show the k-distance curve
  project  - Compute the 2D projection
  runs     - List clustering runs
  similar  - Find transactions similar to one transaction
  server   - Start the HTTP API

Examples:
  tally ingest statement.csv --embed    # Import and embed transactions
  tally cluster --min-cluster-size 8    # Cluster with a larger minimum size
  tally clusters --month 3 --year 2024  # Clusters for March 2024
  tally clusters --format yaml          # Export clusters as YAML
  tally server                          # Start the API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
			if err := am.UseFile(configPath); err != nil {
				return err
			}
			commands.ConfigPath = configPath
		}

		// 'am show' prints config to stdout and stays quiet otherwise
		if cmd.Name() == "show" {
			return nil
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.Initialize(display.ShouldOutputJSON(cmd), verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json", false, "Output results (and logs) as JSON")
	rootCmd.PersistentFlags().String("config", "", "Use this config file instead of the default search path")

	// Add commands
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.ClusterCmd)
	rootCmd.AddCommand(commands.ClustersCmd)
	rootCmd.AddCommand(commands.KDistCmd)
	rootCmd.AddCommand(commands.ProjectCmd)
	rootCmd.AddCommand(commands.RunsCmd)
	rootCmd.AddCommand(commands.SimilarCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
