// Package ingest imports transactions from CSV exports and fills in
// missing embeddings through the embedding service.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ledger"
	"github.com/teranos/tally/logger"
)

// DefaultBatchSize is how many rows are written per database transaction.
const DefaultBatchSize = 500

// idNamespace seeds the ids derived for rows that carry none.
var idNamespace = uuid.MustParse("5d0e8f7a-3c61-4b4e-9a55-1f2c7b0de7a1")

// Store is the part of the transaction store ingestion writes to.
type Store interface {
	SaveBatch(ctx context.Context, txs []ledger.Transaction) error
	ListMissingEmbeddings(ctx context.Context, limit int) ([]ledger.Transaction, error)
	SetEmbedding(ctx context.Context, id, embedding string) error
}

// CSVProcessor reads bank-export style CSV files into the store.
//
// The first record is a header. Recognized columns (case-insensitive):
// id, date, description, category, counterparty, withdrawal, deposit,
// amount and embedding. date and description are required, and so is
// either amount or one of withdrawal/deposit. A signed amount is split
// into withdrawal (negative) or deposit (positive). Rows without an id get
// one derived from their content, so importing the same file twice
// updates instead of duplicating.
type CSVProcessor struct {
	store     Store
	dryRun    bool
	batchSize int
	logger    *zap.SugaredLogger
	sinceTime *time.Time
}

// Result summarizes one import.
type Result struct {
	Source    string     `json:"source" yaml:"source"`
	DryRun    bool       `json:"dry_run" yaml:"dry_run"`
	Rows      int        `json:"rows" yaml:"rows"`
	Imported  int        `json:"imported" yaml:"imported"`
	Filtered  int        `json:"filtered" yaml:"filtered"`
	Embedded  int        `json:"embedded" yaml:"embedded"`
	Errors    []RowError `json:"errors,omitempty" yaml:"errors,omitempty"`
	StartTime time.Time  `json:"start_time" yaml:"start_time"`
	EndTime   time.Time  `json:"end_time" yaml:"end_time"`
}

// RowError records a row that was skipped.
type RowError struct {
	Line    int    `json:"line" yaml:"line"`
	Message string `json:"message" yaml:"message"`
}

// NewCSVProcessor creates a CSV importer. In dry-run mode rows are parsed
// and counted but nothing is written.
func NewCSVProcessor(store Store, dryRun bool, log *zap.SugaredLogger) *CSVProcessor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CSVProcessor{
		store:     store,
		dryRun:    dryRun,
		batchSize: DefaultBatchSize,
		logger:    log.Named("ingest"),
	}
}

// SetBatchSize overrides DefaultBatchSize.
func (p *CSVProcessor) SetBatchSize(n int) {
	if n > 0 {
		p.batchSize = n
	}
}

// SetSince restricts the import to transactions dated on or after since.
// Accepts RFC3339 timestamps ("2025-01-01T00:00:00Z") and dates
// ("2025-01-01").
func (p *CSVProcessor) SetSince(since string) error {
	if since == "" {
		p.sinceTime = nil
		return nil
	}
	t, err := parseDate(since)
	if err != nil {
		return errors.NewInvalidRequestError("invalid since value %q (use RFC3339 timestamp or YYYY-MM-DD)", since)
	}
	p.sinceTime = &t
	p.logger.Infow("Filtering transactions since", "since", t.Format(time.RFC3339))
	return nil
}

// ProcessFile imports the CSV file at path.
func (p *CSVProcessor) ProcessFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return p.Process(ctx, f, path)
}

// Process imports CSV records from r. Rows that fail to parse are skipped
// and listed in Result.Errors; a bad header or a failed write aborts.
func (p *CSVProcessor) Process(ctx context.Context, r io.Reader, source string) (*Result, error) {
	result := &Result{
		Source:    source,
		DryRun:    p.dryRun,
		StartTime: time.Now(),
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.MalformedInputf("%s: empty file", source)
	}
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "%s: read header", source), errors.ErrMalformedInput)
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, errors.Wrap(err, source)
	}

	seen := make(map[string]int)
	batch := make([]ledger.Transaction, 0, p.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if !p.dryRun {
			if err := p.store.SaveBatch(ctx, batch); err != nil {
				return errors.Wrapf(err, "%s: save batch", source)
			}
		}
		result.Imported += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return result, errors.Wrapf(err, "%s: read", source)
			}
			result.Errors = append(result.Errors, RowError{Line: perr.Line, Message: perr.Err.Error()})
			continue
		}
		line, _ := reader.FieldPos(0)
		result.Rows++

		tx, err := cols.transaction(record)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: line, Message: err.Error()})
			continue
		}
		if p.sinceTime != nil && tx.Date.Before(*p.sinceTime) {
			result.Filtered++
			continue
		}
		if tx.ID == "" {
			key := derivedKey(tx)
			tx.ID = uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s|%d", key, seen[key]))).String()
			seen[key]++
		}
		if tx.HasEmbedding() {
			result.Embedded++
		}

		batch = append(batch, *tx)
		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	result.EndTime = time.Now()
	p.logger.Infow("CSV import completed",
		"source", source,
		"dry_run", p.dryRun,
		logger.FieldCount, result.Imported,
		"skipped", len(result.Errors),
		"filtered", result.Filtered,
		logger.FieldDurationMS, result.EndTime.Sub(result.StartTime).Milliseconds())
	return result, nil
}

// columns maps field names to record positions, -1 when absent.
type columns struct {
	id, date, description, category, counterparty int
	withdrawal, deposit, amount, embedding        int
}

func parseHeader(header []string) (*columns, error) {
	c := &columns{-1, -1, -1, -1, -1, -1, -1, -1, -1}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		switch name {
		case "id", "transaction_id":
			c.id = i
		case "date", "occurred_at", "transaction_date":
			c.date = i
		case "description", "memo":
			c.description = i
		case "category":
			c.category = i
		case "counterparty", "merchant", "payee":
			c.counterparty = i
		case "withdrawal", "debit":
			c.withdrawal = i
		case "deposit", "credit":
			c.deposit = i
		case "amount":
			c.amount = i
		case "embedding":
			c.embedding = i
		}
	}

	var missing []string
	if c.date < 0 {
		missing = append(missing, "date")
	}
	if c.description < 0 {
		missing = append(missing, "description")
	}
	if c.amount < 0 && c.withdrawal < 0 && c.deposit < 0 {
		missing = append(missing, "amount or withdrawal/deposit")
	}
	if len(missing) > 0 {
		return nil, errors.WithHint(
			errors.MalformedInputf("missing columns: %s", strings.Join(missing, ", ")),
			"expected a header like: date,description,category,counterparty,withdrawal,deposit")
	}
	return c, nil
}

func (c *columns) transaction(record []string) (*ledger.Transaction, error) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	date, err := parseDate(field(c.date))
	if err != nil {
		return nil, errors.Newf("bad date %q", field(c.date))
	}
	tx := &ledger.Transaction{
		ID:           field(c.id),
		Date:         date,
		Description:  field(c.description),
		Category:     field(c.category),
		Counterparty: field(c.counterparty),
	}
	if tx.Description == "" {
		return nil, errors.New("empty description")
	}

	if tx.Withdrawal, err = parseAmount(field(c.withdrawal)); err != nil {
		return nil, errors.Wrap(err, "withdrawal")
	}
	if tx.Deposit, err = parseAmount(field(c.deposit)); err != nil {
		return nil, errors.Wrap(err, "deposit")
	}
	amount, err := parseAmount(field(c.amount))
	if err != nil {
		return nil, errors.Wrap(err, "amount")
	}
	if amount.IsNegative() {
		tx.Withdrawal = tx.Withdrawal.Add(amount.Abs())
	} else {
		tx.Deposit = tx.Deposit.Add(amount)
	}
	if tx.Withdrawal.IsNegative() || tx.Deposit.IsNegative() {
		return nil, errors.New("withdrawal and deposit must not be negative")
	}

	if raw := field(c.embedding); raw != "" {
		v, err := vecmath.ParseJSON(raw)
		if err != nil {
			return nil, err
		}
		if !vecmath.IsFinite(v) {
			return nil, errors.New("embedding has non-finite components")
		}
		if tx.Embedding, err = vecmath.FormatJSON(v); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("unrecognized date %q", s)
}

// parseAmount accepts plain decimals with optional currency symbol,
// thousands separators and accounting parentheses for negatives.
func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Newf("bad amount %q", s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func derivedKey(tx *ledger.Transaction) string {
	return strings.Join([]string{
		tx.Date.Format(time.RFC3339),
		tx.Description,
		tx.Counterparty,
		tx.Withdrawal.String(),
		tx.Deposit.String(),
	}, "|")
}
