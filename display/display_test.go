package display

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/cluster/summary"
	"github.com/teranos/tally/internal/util"
	"github.com/teranos/tally/ledger/ingest"
	"github.com/teranos/tally/ledger/pipeline"
)

func sampleView() *pipeline.ClusteredView {
	group := func(label int, cluster *int, count int, out int64, category string) pipeline.ClusterGroup {
		return pipeline.ClusterGroup{
			Cluster: cluster,
			Group: summary.Group{Summary: summary.Summary{
				Label:         label,
				Count:         count,
				TotalOutgoing: decimal.NewFromInt(out),
				MeanOutgoing:  decimal.NewFromInt(out).Div(decimal.NewFromInt(int64(count))).Round(2),
				TopCategory:   category,
			}},
		}
	}
	return &pipeline.ClusteredView{
		RunID: "0123456789abcdef",
		Groups: []pipeline.ClusterGroup{
			group(0, util.Ptr(0), 3, 90, "groceries"),
			group(-1, nil, 1, 5, "fees"),
		},
		Overview: summary.Overview{Total: 4, Clustered: 3, Noise: 1, ClusterCount: 1},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" YAML ")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

func TestWrite_Formats(t *testing.T) {
	view := sampleView()
	table := func() (string, error) { return ClusteredTable(view) }

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, view, table))
	out := buf.String()
	assert.Contains(t, out, "groceries")
	assert.Contains(t, out, "noise")
	assert.Contains(t, out, "30.00")
	assert.Contains(t, out, "run 01234567")

	buf.Reset()
	require.NoError(t, Write(&buf, FormatJSON, view, table))
	assert.Contains(t, buf.String(), `"run_id": "0123456789abcdef"`)
	assert.Contains(t, buf.String(), `"cluster": null`)

	buf.Reset()
	require.NoError(t, Write(&buf, FormatYAML, view, table))
	assert.Contains(t, buf.String(), "run_id: 0123456789abcdef")
	assert.Contains(t, buf.String(), "top_category: groceries")
}

func TestWrite_TableFallsBackToYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatTable, map[string]int{"points": 3}, nil))
	assert.Equal(t, "points: 3\n", buf.String())
}

func TestKDistanceTable(t *testing.T) {
	out, err := KDistanceTable(&pipeline.KDistanceResult{
		K:         2,
		Distances: []float64{0.1, 0.2, 0.3, 0.4, 5},
		Usable:    5,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "2-distance")
	assert.Contains(t, out, "p50")
	assert.Contains(t, out, "5.0000")
	assert.Contains(t, out, "5 usable points")
}

func TestIngestTable_ListsSkippedRows(t *testing.T) {
	out, err := IngestTable(&ingest.Result{
		Source:   "bank.csv",
		Rows:     3,
		Imported: 2,
		Errors:   []ingest.RowError{{Line: 4, Message: "invalid amount"}},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "bank.csv")
	assert.Contains(t, out, "invalid amount")
}

func TestShouldOutputJSON(t *testing.T) {
	root := &cobra.Command{Use: "tally"}
	root.PersistentFlags().Bool("json", false, "")
	child := &cobra.Command{Use: "runs"}
	root.AddCommand(child)

	t.Setenv(OutputEnv, "")
	assert.False(t, ShouldOutputJSON(child))

	t.Setenv(OutputEnv, "json")
	assert.True(t, ShouldOutputJSON(child))
	assert.True(t, ShouldOutputJSON(nil))

	t.Setenv(OutputEnv, "")
	require.NoError(t, root.PersistentFlags().Set("json", "true"))
	assert.True(t, ShouldOutputJSON(child))
}
