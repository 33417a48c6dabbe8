package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dagflow/dagflow/pkg/broadcast"
	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/engine"
	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/metrics"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dagflow",
	Short: "dagflow - streaming DAG execution engine",
	Long: `dagflow runs a single-process streaming execution engine: it ingests
change events from an external source, threads them through a tiny
demo DAG, and serves the results over the broadcast fan-out and
Prometheus metrics until interrupted.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dagflow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)
	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// loadCheckpoints returns the most recently sealed epoch's per-source
// state, if one was ever persisted, so a restarted engine resumes every
// source from (txid, seqno) instead of re-snapshotting from scratch.
func loadCheckpoints(st *store.Store) (engine.Checkpoints, error) {
	txn, err := st.BeginTxn(false)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	epoch, ok, err := store.LoadLatestCheckpoint(txn)
	if err != nil {
		return nil, err
	}
	if !ok {
		return engine.Checkpoints{}, nil
	}

	checkpoints := make(engine.Checkpoints, len(epoch.SourceStates))
	for handle, state := range epoch.SourceStates {
		checkpoints[handle] = state
	}
	return checkpoints, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the demo DAG from a config file and run it until interrupted",
	RunE:  runDemo,
}

func init() {
	runCmd.Flags().StringP("config", "f", "", "YAML config describing the source to run (required)")
	_ = runCmd.MarkFlagRequired("config")
}

func runDemo(cmd *cobra.Command, args []string) error {
	runID := uuid.New().String()
	logger := log.WithComponent("cmd").With().Str("run_id", runID).Logger()

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	sourceFactory, err := buildSource(cfg.Source)
	if err != nil {
		return fmt.Errorf("build source: %w", err)
	}

	builder := dag.NewBuilder()
	sourceHandle := types.NodeHandle{Namespace: "demo", Name: "source"}
	sinkHandle := types.NodeHandle{Namespace: "demo", Name: "sink"}

	if err := builder.AddSource(sourceHandle, sourceFactory); err != nil {
		return fmt.Errorf("add source: %w", err)
	}
	if err := builder.AddSink(sinkHandle, &logSinkFactory{}); err != nil {
		return fmt.Errorf("add sink: %w", err)
	}
	if err := builder.Connect(sourceHandle, 0, sinkHandle, logSinkInputPort); err != nil {
		return fmt.Errorf("connect source to sink: %w", err)
	}

	builtDag, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build dag: %w", err)
	}

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer st.Close()

	broker := broadcast.NewBroker()

	checkpoints, err := loadCheckpoints(st)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	if len(checkpoints) > 0 {
		logger.Info().Int("sources", len(checkpoints)).Msg("resuming from last checkpoint")
	}

	opts := engine.Options{ChannelCapacity: cfg.ChannelBuffer, IdleEpochInterval: cfg.IdleEpoch}
	handle, err := engine.Start(builtDag, st, checkpoints, broker, opts)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", healthHandler(sourceChecker(cfg.Source)))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics and health endpoints")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().Str("source_kind", cfg.Source.Kind).Msg("dag running, press ctrl-c to stop")
	<-sigCh

	logger.Info().Msg("shutdown requested")
	handle.Stop()
	if err := handle.Join(); err != nil {
		logger.Error().Err(err).Msg("engine exited with error")
	}

	_ = metricsSrv.Close()
	logger.Info().Msg("shutdown complete")
	return nil
}
