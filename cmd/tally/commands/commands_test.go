package commands

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/display"
	"github.com/teranos/tally/ledger/pipeline"
	"github.com/teranos/tally/version"
)

// writeConfig writes a config file pointing at a database in dir and pins
// the configuration to it.
func writeConfig(t *testing.T, dir string) {
	t.Helper()
	configPath := filepath.Join(dir, am.ConfigFileName)
	content := fmt.Sprintf(`[database]
path = %q

[clustering]
normalize = false

[embedding]
base_url = ""
`, filepath.Join(dir, "tally.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	require.NoError(t, am.UseFile(configPath))
	t.Cleanup(am.Reset)
}

// writeStatement writes a CSV export with three separated groups of
// embedded transactions.
func writeStatement(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "statement.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"id", "date", "description", "category", "counterparty", "amount", "embedding"}))
	groups := []struct {
		cx, cy   float64
		category string
	}{{0, 0, "groceries"}, {20, 0, "fuel"}, {0, 20, "salary"}}
	golden := math.Pi * (3 - math.Sqrt(5))
	for g, group := range groups {
		for i := 0; i < 15; i++ {
			r := math.Sqrt((float64(i) + 0.5) / 15)
			theta := float64(i) * golden
			embedding, err := vecmath.FormatJSON([]float64{group.cx + r*math.Cos(theta), group.cy + r*math.Sin(theta)})
			require.NoError(t, err)
			amount := fmt.Sprintf("-%d.50", 10+i)
			if group.category == "salary" {
				amount = "2500.00"
			}
			require.NoError(t, w.Write([]string{
				fmt.Sprintf("tx-%d-%02d", g, i),
				fmt.Sprintf("2024-03-%02d", i+1),
				group.category + " payment",
				group.category,
				group.category + " inc",
				amount,
				embedding,
			}))
		}
	}
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

func newTestRoot(out io.Writer) *cobra.Command {
	root := &cobra.Command{Use: "tally", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().Bool("json", false, "")
	root.PersistentFlags().CountP("verbose", "v", "")
	root.AddCommand(IngestCmd, ClusterCmd, ClustersCmd, KDistCmd, RunsCmd, SimilarCmd, AmCmd, VersionCmd)
	root.SetOut(out)
	root.SetErr(io.Discard)
	return root
}

func execute(t *testing.T, root *cobra.Command, out *bytes.Buffer, args ...string) string {
	t.Helper()
	out.Reset()
	root.SetArgs(args)
	require.NoError(t, root.ExecuteContext(context.Background()), "tally %v", args)
	return out.String()
}

func TestCLI_IngestClusterAndShow(t *testing.T) {
	t.Setenv(display.OutputEnv, "")
	dir := t.TempDir()
	writeConfig(t, dir)
	statement := writeStatement(t, dir)

	var out bytes.Buffer
	root := newTestRoot(&out)

	t.Run("clusters before any run is informational", func(t *testing.T) {
		text := execute(t, root, &out, "clusters", "--format", "json")
		assert.Contains(t, text, "no clustering run")
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		text := execute(t, root, &out, "ingest", statement, "--dry-run", "--format", "json")
		var result map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(text), &result))
		assert.EqualValues(t, 45, result["rows"])
		assert.Equal(t, true, result["dry_run"])

		text = execute(t, root, &out, "cluster", "--format", "json")
		assert.Contains(t, text, "have 0")
	})

	t.Run("ingest", func(t *testing.T) {
		text := execute(t, root, &out, "ingest", statement, "--dry-run=false", "--format", "table")
		assert.Contains(t, text, "Imported")
		assert.Contains(t, text, "45")
	})

	t.Run("cluster", func(t *testing.T) {
		text := execute(t, root, &out, "cluster", "--format", "json")
		var summary pipeline.RunSummary
		require.NoError(t, json.Unmarshal([]byte(text), &summary))
		assert.Equal(t, 3, summary.Clusters)
		assert.Equal(t, 45, summary.Transactions)
	})

	t.Run("clusters as yaml", func(t *testing.T) {
		text := execute(t, root, &out, "clusters", "--format", "yaml", "--month", "3", "--year", "2024")
		assert.Contains(t, text, "cluster_count: 3")
		assert.Contains(t, text, "top_category: salary")
	})

	t.Run("clusters as table", func(t *testing.T) {
		text := execute(t, root, &out, "clusters", "--format", "table", "--month", "0", "--year", "0")
		assert.Contains(t, text, "groceries")
		assert.Contains(t, text, "45 transactions")
	})

	t.Run("kdist", func(t *testing.T) {
		text := execute(t, root, &out, "kdist", "--format", "json")
		var result pipeline.KDistanceResult
		require.NoError(t, json.Unmarshal([]byte(text), &result))
		assert.Equal(t, 2, result.K)
		assert.Len(t, result.Distances, 45)
	})

	t.Run("runs", func(t *testing.T) {
		text := execute(t, root, &out, "runs", "--format", "json")
		var runs []map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(text), &runs))
		assert.Len(t, runs, 1)
	})

	t.Run("similar", func(t *testing.T) {
		text := execute(t, root, &out, "similar", "tx-1-00", "-k", "3", "--format", "json")
		var result pipeline.SimilarResult
		require.NoError(t, json.Unmarshal([]byte(text), &result))
		require.Len(t, result.Matches, 3)
		require.NotNil(t, result.NearestCluster)
	})
}

func TestCLI_IngestRejectsBadSince(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir)
	statement := writeStatement(t, dir)

	var out bytes.Buffer
	root := newTestRoot(&out)
	root.SetArgs([]string{"ingest", statement, "--since", "last tuesday"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid since value")

	// Reset for other tests sharing the command
	require.NoError(t, IngestCmd.Flags().Set("since", ""))
}

func TestCLI_AmShowAndVersion(t *testing.T) {
	t.Setenv(display.OutputEnv, "")
	dir := t.TempDir()
	writeConfig(t, dir)

	var out bytes.Buffer
	root := newTestRoot(&out)

	text := execute(t, root, &out, "am", "show", "--format", "toml")
	assert.Contains(t, text, "# tally configuration")
	assert.Contains(t, text, "min_cluster_size = 5")

	text = execute(t, root, &out, "am", "where")
	assert.Contains(t, text, am.ConfigFileName)

	text = execute(t, root, &out, "version", "--json")
	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(text), &info))
	assert.Equal(t, version.Version, info.Version)

	require.NoError(t, root.PersistentFlags().Set("json", "false"))
}

func TestOutputFormat(t *testing.T) {
	t.Setenv(display.OutputEnv, "")
	root := &cobra.Command{Use: "tally"}
	root.PersistentFlags().Bool("json", false, "")
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("format", "table", "")
	root.AddCommand(cmd)

	f, err := outputFormat(cmd)
	require.NoError(t, err)
	assert.Equal(t, display.FormatTable, f)

	require.NoError(t, cmd.Flags().Set("format", "yaml"))
	f, err = outputFormat(cmd)
	require.NoError(t, err)
	assert.Equal(t, display.FormatYAML, f)

	require.NoError(t, root.PersistentFlags().Set("json", "true"))
	f, err = outputFormat(cmd)
	require.NoError(t, err)
	assert.Equal(t, display.FormatJSON, f)

	require.NoError(t, cmd.Flags().Set("format", "csv"))
	require.NoError(t, root.PersistentFlags().Set("json", "false"))
	_, err = outputFormat(cmd)
	assert.Error(t, err)
}
