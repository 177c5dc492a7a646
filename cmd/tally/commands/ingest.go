package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tally/display"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/ledger/ingest"
	"github.com/teranos/tally/logger"
)

// IngestCmd imports transactions from a CSV export
var IngestCmd = &cobra.Command{
	Use:   "ingest <file.csv>",
	Short: "Import transactions from a CSV bank export",
	Long: `Import transactions from a CSV file into the ledger.

The header row names the columns. Recognized names (case-insensitive):
  id, transaction_id                    optional; derived from the row otherwise
  date, occurred_at, transaction_date   required
  description, memo                     required
  category
  counterparty, merchant, payee
  withdrawal, debit / deposit, credit   or a single signed amount column
  embedding                             optional JSON array of numbers

Rows that fail to parse are skipped and reported; the rest are imported.
Re-importing the same file updates rows instead of duplicating them.

Examples:
  tally ingest statement.csv                      # Import
  tally ingest statement.csv --embed              # Import and embed descriptions
  tally ingest statement.csv --since 2024-01-01   # Skip older rows
  tally ingest statement.csv --dry-run            # Parse and count only`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	IngestCmd.Flags().String("since", "", "Only import transactions on or after this date (YYYY-MM-DD or RFC3339)")
	IngestCmd.Flags().Bool("dry-run", false, "Parse and count rows without writing to the database")
	IngestCmd.Flags().Bool("embed", false, "Fetch embeddings for transactions that have none after importing")
	IngestCmd.Flags().Int("batch-size", ingest.DefaultBatchSize, "Rows written per database transaction")
	IngestCmd.Flags().String("format", "table", "Output format: table, json, yaml")
}

func runIngest(cmd *cobra.Command, args []string) error {
	path := args[0]
	since, _ := cmd.Flags().GetString("since")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	embed, _ := cmd.Flags().GetBool("embed")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var embedder ingest.Embedder
	if embed && !dryRun {
		embedder = newEmbedder(cfg)
		if embedder == nil {
			return errors.WithHint(
				errors.NewInvalidRequestError("--embed requires an embedding service"),
				"set embedding.base_url in tally.toml or TALLY_EMBEDDING_BASE_URL")
		}
	}

	store, database, err := openStore(cfg, "")
	if err != nil {
		return err
	}
	defer database.Close()

	useJSON := display.ShouldOutputJSON(cmd)
	if dryRun && !useJSON {
		pterm.Warning.Println("DRY RUN MODE: No transactions will be written")
	}

	processor := ingest.NewCSVProcessor(store, dryRun, logger.Logger)
	processor.SetBatchSize(batchSize)
	if err := processor.SetSince(since); err != nil {
		return err
	}

	stop := spinner(cmd, "Importing "+path+"...")
	result, err := processor.ProcessFile(cmd.Context(), path)
	stop()
	if err != nil {
		return err
	}

	if embedder != nil {
		stop := spinner(cmd, "Fetching embeddings...")
		filled, err := ingest.FillEmbeddings(cmd.Context(), store, embedder, cfg.Embedding.BatchSize, logger.Logger)
		stop()
		if filled != nil {
			result.Embedded = filled.Embedded
		}
		if err != nil {
			// Imported rows are kept; a later --embed run picks up the rest
			return errors.WithHint(errors.Wrap(err, "embedding failed"),
				"imported rows were saved, run 'tally ingest' again with --embed to retry")
		}
	}

	return report(cmd, result, func() (string, error) { return display.IngestTable(result) })
}
