package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/tally/display"
	"github.com/teranos/tally/ledger/pipeline"
)

// ClusterCmd runs clustering over the current transactions
var ClusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster the current transactions",
	Long: `Run density clustering over every transaction with a usable embedding
and commit the labels as a new run. Flags left unset take the configured
defaults (clustering.* in tally.toml).

Examples:
  tally cluster                          # Configured defaults
  tally cluster --min-cluster-size 10    # Fewer, larger clusters
  tally cluster --min-samples 1          # Less conservative, less noise
  tally cluster --normalize=false        # Cluster raw vectors`,
	Args: cobra.NoArgs,
	RunE: runCluster,
}

// ClustersCmd shows the latest run grouped by cluster
var ClustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Show transactions of the latest run grouped by cluster",
	Long: `Show the latest clustering run as one row per cluster with totals,
means and the most frequent category and counterparty. Transactions in
no cluster are counted in the totals and listed as a last group with
--include-noise.

Examples:
  tally clusters                            # All transactions
  tally clusters --month 3 --year 2024      # March 2024 only
  tally clusters --include-noise            # Also list the noise group
  tally clusters --format json              # Clusters only, as JSON
  tally clusters --format yaml > out.yaml   # Export with transactions`,
	Args: cobra.NoArgs,
	RunE: runClusters,
}

// KDistCmd shows the k-distance curve
var KDistCmd = &cobra.Command{
	Use:   "kdist",
	Short: "Show the k-distance curve",
	Long: `Show each point's distance to its k-th nearest neighbor, sorted
ascending, with k = min-samples - 1. The knee of the curve suggests the
density scale of the data. Table output summarizes the curve by quantile;
json and yaml include every distance.`,
	Args: cobra.NoArgs,
	RunE: runKDist,
}

// ProjectCmd computes and stores the 2D projection
var ProjectCmd = &cobra.Command{
	Use:   "project",
	Short: "Compute the 2D projection of the embeddings",
	Long: `Compute a 2D t-SNE projection of every usable embedding and replace
the stored projection. Coordinates are for visualization only.`,
	Args: cobra.NoArgs,
	RunE: runProject,
}

// RunsCmd lists clustering runs
var RunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List clustering runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

// SimilarCmd finds the nearest transactions to one transaction
var SimilarCmd = &cobra.Command{
	Use:   "similar <transaction-id>",
	Short: "Find transactions similar to one transaction",
	Args:  cobra.ExactArgs(1),
	RunE:  runSimilar,
}

func init() {
	ClusterCmd.Flags().Int("min-cluster-size", 0, "Smallest group reported as a cluster (default from config)")
	ClusterCmd.Flags().Int("min-samples", 0, "Neighbors used for core distances (default from config)")
	ClusterCmd.Flags().Float64("alpha", 0, "Distance scaling for mutual reachability (default from config)")
	ClusterCmd.Flags().Bool("normalize", true, "L2-normalize embeddings before clustering (default from config)")
	ClusterCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	ClustersCmd.Flags().Int("month", 0, "Only transactions in this month (1-12)")
	ClustersCmd.Flags().Int("year", 0, "Only transactions in this year")
	ClustersCmd.Flags().Bool("include-noise", false, "Add transactions in no cluster as a last group")
	ClustersCmd.Flags().Int("limit", pipeline.DefaultClusteredLimit, "Maximum transactions to read")
	ClustersCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	KDistCmd.Flags().Int("min-samples", 0, "k = min-samples - 1 (default from config)")
	KDistCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	ProjectCmd.Flags().Bool("show", false, "Print the stored points after computing")
	ProjectCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	RunsCmd.Flags().Int("limit", 20, "Maximum runs to list")
	RunsCmd.Flags().String("format", "table", "Output format: table, json, yaml")

	SimilarCmd.Flags().IntP("limit", "k", 10, "Number of similar transactions")
	SimilarCmd.Flags().String("format", "table", "Output format: table, json, yaml")
}

// withPipeline loads config, opens the store and calls fn with a pipeline
// over it
func withPipeline(fn func(p *pipeline.Pipeline) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, database, err := openStore(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(newPipeline(cfg, store))
}

func runCluster(cmd *cobra.Command, args []string) error {
	var req pipeline.ClusterRequest
	req.MinClusterSize, _ = cmd.Flags().GetInt("min-cluster-size")
	req.MinSamples, _ = cmd.Flags().GetInt("min-samples")
	req.Alpha, _ = cmd.Flags().GetFloat64("alpha")
	if cmd.Flags().Changed("normalize") {
		normalize, _ := cmd.Flags().GetBool("normalize")
		req.Normalize = &normalize
	}

	return withPipeline(func(p *pipeline.Pipeline) error {
		params := p.Resolve(req)
		stop := spinner(cmd, "Clustering transactions...")
		summary, err := p.Run(cmd.Context(), params)
		stop()
		if err != nil {
			return reportInsufficient(cmd, err)
		}
		return report(cmd, summary, func() (string, error) { return display.RunSummaryTable(summary) })
	})
}

func runClusters(cmd *cobra.Command, args []string) error {
	month, _ := cmd.Flags().GetInt("month")
	year, _ := cmd.Flags().GetInt("year")
	includeNoise, _ := cmd.Flags().GetBool("include-noise")
	limit, _ := cmd.Flags().GetInt("limit")

	return withPipeline(func(p *pipeline.Pipeline) error {
		view, err := p.Clustered(cmd.Context(), pipeline.ClusteredQuery{
			Month:        month,
			Year:         year,
			IncludeNoise: includeNoise,
			Limit:        limit,
		})
		if err != nil {
			return reportInsufficient(cmd, err)
		}
		return report(cmd, view, func() (string, error) { return display.ClusteredTable(view) })
	})
}

func runKDist(cmd *cobra.Command, args []string) error {
	minSamples, _ := cmd.Flags().GetInt("min-samples")

	return withPipeline(func(p *pipeline.Pipeline) error {
		result, err := p.KDistance(cmd.Context(), minSamples)
		if err != nil {
			return reportInsufficient(cmd, err)
		}
		return report(cmd, result, func() (string, error) { return display.KDistanceTable(result) })
	})
}

func runProject(cmd *cobra.Command, args []string) error {
	show, _ := cmd.Flags().GetBool("show")

	return withPipeline(func(p *pipeline.Pipeline) error {
		stop := spinner(cmd, "Computing projection...")
		summary, err := p.Project(cmd.Context())
		stop()
		if err != nil {
			return reportInsufficient(cmd, err)
		}
		if !show {
			return report(cmd, summary, nil)
		}
		points, err := p.Projections(cmd.Context())
		if err != nil {
			return err
		}
		return report(cmd, points, nil)
	})
}

func runRuns(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	return withPipeline(func(p *pipeline.Pipeline) error {
		runs, err := p.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return report(cmd, runs, func() (string, error) { return display.RunsTable(runs) })
	})
}

func runSimilar(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	return withPipeline(func(p *pipeline.Pipeline) error {
		result, err := p.Similar(cmd.Context(), args[0], limit)
		if err != nil {
			return err
		}
		return report(cmd, result, nil)
	})
}
