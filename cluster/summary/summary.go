// Package summary aggregates transactions per cluster label.
package summary

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/teranos/tally/cluster/hdbscan"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ledger"
)

// Summary holds the aggregates of one cluster (or of the noise set).
type Summary struct {
	Label           int             `json:"-" yaml:"-"`
	Count           int             `json:"count" yaml:"count"`
	TotalOutgoing   decimal.Decimal `json:"total_outgoing" yaml:"total_outgoing"`
	TotalIncoming   decimal.Decimal `json:"total_incoming" yaml:"total_incoming"`
	MeanOutgoing    decimal.Decimal `json:"mean_outgoing" yaml:"mean_outgoing"`
	MeanIncoming    decimal.Decimal `json:"mean_incoming" yaml:"mean_incoming"`
	TopCategory     string          `json:"top_category" yaml:"top_category"`
	TopCounterparty string          `json:"top_counterparty" yaml:"top_counterparty"`
}

// IsNoise reports whether the summary covers unclustered transactions.
func (s Summary) IsNoise() bool { return s.Label == hdbscan.Noise }

// Group is a summary plus its member transactions in input order.
type Group struct {
	Summary      `yaml:",inline"`
	Transactions []ledger.Transaction `json:"transactions" yaml:"transactions"`
}

// Overview counts a whole labelled set.
type Overview struct {
	Total        int `json:"total" yaml:"total"`
	Clustered    int `json:"clustered" yaml:"clustered"`
	Noise        int `json:"noise" yaml:"noise"`
	ClusterCount int `json:"cluster_count" yaml:"cluster_count"`
}

// Means are rounded to cents.
const meanPlaces = 2

// Summarize groups txs by the aligned labels and aggregates each group.
// Groups come ordered by label with noise last; noise is included only
// when includeNoise is set. Ties for the most frequent category or
// counterparty go to the value met first; empty values are not counted.
func Summarize(txs []ledger.Transaction, labels []int, includeNoise bool) ([]Group, Overview, error) {
	if len(txs) != len(labels) {
		return nil, Overview{}, errors.MalformedInputf("got %d labels for %d transactions", len(labels), len(txs))
	}

	byLabel := make(map[int]*Group)
	var order []int
	overview := Overview{Total: len(txs)}

	for i, tx := range txs {
		lbl := labels[i]
		if lbl < hdbscan.Noise {
			return nil, Overview{}, errors.MalformedInputf("label %d of transaction %s is invalid", lbl, tx.ID)
		}
		if lbl == hdbscan.Noise {
			overview.Noise++
			if !includeNoise {
				continue
			}
		} else {
			overview.Clustered++
		}
		g, ok := byLabel[lbl]
		if !ok {
			g = &Group{Summary: Summary{Label: lbl}}
			byLabel[lbl] = g
			order = append(order, lbl)
		}
		g.Transactions = append(g.Transactions, tx)
	}

	slices.SortFunc(order, func(a, b int) int {
		// Noise sorts after every cluster
		switch {
		case a == b:
			return 0
		case a == hdbscan.Noise:
			return 1
		case b == hdbscan.Noise:
			return -1
		default:
			return a - b
		}
	})

	groups := make([]Group, 0, len(order))
	for _, lbl := range order {
		g := byLabel[lbl]
		g.Summary = aggregate(lbl, g.Transactions)
		if lbl != hdbscan.Noise {
			overview.ClusterCount++
		}
		groups = append(groups, *g)
	}

	return groups, overview, nil
}

func aggregate(label int, txs []ledger.Transaction) Summary {
	s := Summary{
		Label:         label,
		Count:         len(txs),
		TotalOutgoing: decimal.Zero,
		TotalIncoming: decimal.Zero,
		MeanOutgoing:  decimal.Zero,
		MeanIncoming:  decimal.Zero,
	}
	categories := newTally()
	counterparties := newTally()

	for _, tx := range txs {
		s.TotalOutgoing = s.TotalOutgoing.Add(tx.Withdrawal)
		s.TotalIncoming = s.TotalIncoming.Add(tx.Deposit)
		categories.add(tx.Category)
		counterparties.add(tx.Counterparty)
	}

	if s.Count > 0 {
		n := decimal.NewFromInt(int64(s.Count))
		s.MeanOutgoing = s.TotalOutgoing.DivRound(n, meanPlaces)
		s.MeanIncoming = s.TotalIncoming.DivRound(n, meanPlaces)
	}
	s.TopCategory = categories.top()
	s.TopCounterparty = counterparties.top()
	return s
}

// tally counts values and remembers first-seen order for tie breaks.
type tally struct {
	counts map[string]int
	order  []string
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) add(v string) {
	if v == "" {
		return
	}
	if _, seen := t.counts[v]; !seen {
		t.order = append(t.order, v)
	}
	t.counts[v]++
}

func (t *tally) top() string {
	best, bestCount := "", 0
	for _, v := range t.order {
		if t.counts[v] > bestCount {
			best, bestCount = v, t.counts[v]
		}
	}
	return best
}
