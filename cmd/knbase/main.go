package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/knbase/pkg/config"
	"github.com/cuemby/knbase/pkg/filescanner"
	"github.com/cuemby/knbase/pkg/hub"
	"github.com/cuemby/knbase/pkg/log"
	"github.com/cuemby/knbase/pkg/metrics"
	"github.com/cuemby/knbase/pkg/passthrough"
	"github.com/cuemby/knbase/pkg/reporter"
	"github.com/cuemby/knbase/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "knbase",
	Short: "knbase - knowledge base ingestion and indexing engine",
	Long: `knbase watches registered root directories, deduplicates their
files by content hash, runs preprocessing on each unique content and
maintains search indexes over the derived documents. All state persists
in an embedded database, so an interrupted ingestion resumes correctly.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"knbase version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(baseCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
}

func initConfig() {
	configPath, _ := rootCmd.PersistentFlags().GetString("config")

	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Default()
	}

	if dataDir, _ := rootCmd.PersistentFlags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel, _ := rootCmd.PersistentFlags().GetString("log-level"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json"); logJSON {
		cfg.LogJSON = true
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}

// openHub wires the built-in modules and opens the engine
func openHub() (*hub.Hub, *filescanner.Module, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	scanner, err := filescanner.New(filescanner.Config{
		DBPath:            cfg.ScannerDBPath(),
		PreprocessModules: cfg.Preprocess,
	})
	if err != nil {
		return nil, nil, err
	}

	h, err := hub.New(hub.Config{
		DBPath:         cfg.DBPath(),
		WorkspacePath:  cfg.WorkspaceDir,
		ScanWorkers:    cfg.ScanWorkers,
		ProcessWorkers: cfg.ProcessWorkers,
		Modules: []types.Module{
			scanner,
			passthrough.New(),
		},
	})
	if err != nil {
		scanner.Close()
		return nil, nil, err
	}

	// surface engine events as log lines; the subscription lives for the
	// process lifetime
	go logEvents(h.EventBroker().Subscribe())

	if cfg.MetricsAddr != "" {
		if err := metrics.Register(); err != nil {
			log.Logger.Warn().Err(err).Msg("failed to register metrics")
		} else {
			go serveMetrics(cfg.MetricsAddr)
		}
	}
	return h, scanner, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}

// logEvents surfaces broker events as structured log lines
func logEvents(sub reporter.Subscriber) {
	logger := log.WithComponent("events")
	for event := range sub {
		switch e := event.(type) {
		case *reporter.ScanBeginEvent:
			logger.Info().Int64("base_id", e.Base.ID).Msg("scan started")
		case *reporter.ScanCompleteEvent:
			logger.Info().Int64("base_id", e.Base.ID).Msg("scan complete")
		case *reporter.ScanFailEvent:
			logger.Error().Err(e.Err).Int64("base_id", e.Base.ID).Msg("scan failed")
		case *reporter.ScanResourceEvent:
			logger.Debug().
				Int64("base_id", e.Base.ID).
				Str("path", e.Path).
				Str("updating", e.Updating.String()).
				Msg("resource event")
		case *reporter.PreprocessingCompleteEvent:
			logger.Info().
				Int64("base_id", e.Base.ID).
				Str("path", e.Path).
				Int("documents", len(e.DocumentHashes)).
				Msg("preprocessing complete")
		case *reporter.PreprocessingFailEvent:
			logger.Error().Err(e.Err).Int64("base_id", e.Base.ID).Str("path", e.Path).Msg("preprocessing failed")
		case *reporter.HandleIndexCompleteEvent:
			logger.Info().
				Int64("base_id", e.Base.ID).
				Str("hash", log.Hash(e.Hash)).
				Str("updating", e.Updating.String()).
				Msg("index operation complete")
		case *reporter.HandleIndexFailEvent:
			logger.Error().Err(e.Err).Int64("base_id", e.Base.ID).Str("hash", log.Hash(e.Hash)).Msg("index operation failed")
		}
	}
}
