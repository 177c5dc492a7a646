package display

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/teranos/tally/ledger/ingest"
	"github.com/teranos/tally/ledger/pipeline"
	"github.com/teranos/tally/ledger/storage"
)

func render(data pterm.TableData) (string, error) {
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// ClusteredTable renders one row per cluster, noise last
func ClusteredTable(view *pipeline.ClusteredView) (string, error) {
	data := pterm.TableData{{"Cluster", "Count", "Out", "In", "Mean out", "Mean in", "Top category", "Top counterparty"}}
	for _, g := range view.Groups {
		label := "noise"
		if g.Cluster != nil {
			label = strconv.Itoa(*g.Cluster)
		}
		data = append(data, []string{
			label,
			strconv.Itoa(g.Count),
			g.TotalOutgoing.StringFixed(2),
			g.TotalIncoming.StringFixed(2),
			g.MeanOutgoing.StringFixed(2),
			g.MeanIncoming.StringFixed(2),
			g.TopCategory,
			g.TopCounterparty,
		})
	}
	table, err := render(data)
	if err != nil {
		return "", err
	}
	footer := fmt.Sprintf("run %s: %d transactions, %d clustered, %d noise, %d clusters\n",
		shortID(view.RunID), view.Total, view.Clustered, view.Noise, view.ClusterCount)
	return table + "\n" + footer, nil
}

// RunsTable renders run history
func RunsTable(runs []storage.Run) (string, error) {
	data := pterm.TableData{{"Run", "Created", "Clusters", "Noise", "Usable", "Dropped", "Params", "Duration"}}
	for _, r := range runs {
		data = append(data, []string{
			shortID(r.ID),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(r.Clusters),
			strconv.Itoa(r.Noise),
			strconv.Itoa(r.Usable),
			strconv.Itoa(r.Dropped),
			fmt.Sprintf("mcs=%d ms=%d a=%g", r.MinClusterSize, r.MinSamples, r.Alpha),
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
		})
	}
	return render(data)
}

// RunSummaryTable renders a single run as key/value rows
func RunSummaryTable(s *pipeline.RunSummary) (string, error) {
	return render(pterm.TableData{
		{"Field", "Value"},
		{"Run", s.RunID},
		{"Clusters", strconv.Itoa(s.Clusters)},
		{"Transactions", strconv.Itoa(s.Transactions)},
		{"Noise", strconv.Itoa(s.Noise)},
		{"Dropped", strconv.Itoa(s.Dropped)},
		{"Cached", strconv.FormatBool(s.Cached)},
		{"Duration", (time.Duration(s.DurationMS) * time.Millisecond).String()},
	})
}

// kDistanceQuantiles are the points of the curve shown in table output
var kDistanceQuantiles = []float64{0, 0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1}

// KDistanceTable summarizes the sorted curve by quantile
func KDistanceTable(r *pipeline.KDistanceResult) (string, error) {
	data := pterm.TableData{{"Quantile", fmt.Sprintf("%d-distance", r.K)}}
	if len(r.Distances) > 0 {
		last := len(r.Distances) - 1
		for _, q := range kDistanceQuantiles {
			i := int(q * float64(last))
			data = append(data, []string{fmt.Sprintf("p%g", q*100), strconv.FormatFloat(r.Distances[i], 'f', 4, 64)})
		}
	}
	table, err := render(data)
	if err != nil {
		return "", err
	}
	return table + fmt.Sprintf("\n%d usable points, %d dropped\n", r.Usable, r.Dropped), nil
}

// IngestTable renders an import result and its skipped rows
func IngestTable(r *ingest.Result) (string, error) {
	table, err := render(pterm.TableData{
		{"Field", "Value"},
		{"Source", r.Source},
		{"Rows", strconv.Itoa(r.Rows)},
		{"Imported", strconv.Itoa(r.Imported)},
		{"Filtered", strconv.Itoa(r.Filtered)},
		{"Embedded", strconv.Itoa(r.Embedded)},
		{"Skipped", strconv.Itoa(len(r.Errors))},
		{"Dry run", strconv.FormatBool(r.DryRun)},
	})
	if err != nil || len(r.Errors) == 0 {
		return table, err
	}

	rows := pterm.TableData{{"Line", "Error"}}
	for _, e := range r.Errors {
		rows = append(rows, []string{strconv.Itoa(e.Line), e.Message})
	}
	skipped, err := render(rows)
	if err != nil {
		return "", err
	}
	return table + "\n" + skipped, nil
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
