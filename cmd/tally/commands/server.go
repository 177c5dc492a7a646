package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/server"
	"github.com/teranos/tally/version"
)

// ServerCmd starts the tally HTTP API
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the tally HTTP API",
	Long: `Start the HTTP API for clustering, clustered transactions, similarity
queries and the projection. Job completions are pushed to WebSocket
clients on /ws. When --config names a file, edits to it are applied
without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

var (
	serverPort   int
	serverDBPath string
)

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Port to listen on (default from config)")
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Custom database path (overrides config)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	port := cfg.Server.Port
	if serverPort != 0 {
		port = serverPort
	}
	dbPath := cfg.Database.Path
	if serverDBPath != "" {
		dbPath = serverDBPath
	}

	store, database, err := openStore(cfg, dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	embedder := newEmbedder(cfg)
	srv, err := server.NewTallyServer(server.Options{
		Store:      store,
		Config:     cfg,
		Embedder:   embedder,
		ConfigPath: watchedConfigPath(),
		Logger:     logger.Logger,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	printStartupBanner(cfg, dbPath, port, embedder != nil)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(port)
	}()

	// Wait for shutdown signal (Ctrl+C)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped unexpectedly")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return fmt.Errorf("shutdown error: %w", err)
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// watchedConfigPath is the config file to watch for changes: the --config
// file, or else the highest-precedence file found on the search path.
func watchedConfigPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	files := am.LoadedFiles()
	if len(files) == 0 {
		return ""
	}
	return files[len(files)-1]
}

// printStartupBanner prints the user-facing startup summary
func printStartupBanner(cfg *am.Config, dbPath string, port int, embedding bool) {
	versionInfo := version.Get()
	pterm.DefaultHeader.WithFullWidth().Printf("tally %s", versionInfo.Version)

	embeddingStatus := "disabled (set embedding.base_url)"
	if embedding {
		embeddingStatus = cfg.Embedding.Model + " @ " + cfg.Embedding.BaseURL
	}
	recluster := "manual"
	if cfg.Clustering.ReclusterInterval > 0 {
		recluster = fmt.Sprintf("every %ds", cfg.Clustering.ReclusterInterval)
	}

	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Database", dbPath},
		{"Port", fmt.Sprintf("%d (next free port if taken)", port)},
		{"Embedding", embeddingStatus},
		{"Clustering", fmt.Sprintf("min_cluster_size=%d min_samples=%d normalize=%t",
			cfg.Clustering.MinClusterSize, cfg.Clustering.MinSamples, cfg.Clustering.Normalize)},
		{"Recluster", recluster},
	}).Render()
	pterm.Println()
}
