// sciflow drives the research pipeline from the command line.
//
// Usage:
//
//	sciflow run --query "..." [--mode automated] [--config config.yaml]
//	sciflow resume --run <id> --checkpoint <name> [--reject] [--edits file.json]
//	sciflow state --run <id>
//	sciflow list
//	sciflow version
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/sciflow/config"
	"github.com/BaSui01/sciflow/docstore"
	"github.com/BaSui01/sciflow/internal/metrics"
	"github.com/BaSui01/sciflow/llm"
	"github.com/BaSui01/sciflow/retrieval"
	"github.com/BaSui01/sciflow/runstore"
	"github.com/BaSui01/sciflow/workflow"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "resume":
		err = cmdResume(os.Args[2:])
	case "state":
		err = cmdState(os.Args[2:])
	case "list":
		err = cmdList(os.Args[2:])
	case "version":
		fmt.Printf("sciflow %s (built %s)\n", Version, BuildTime)
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: sciflow <command> [flags]

commands:
  run      start a pipeline run and follow it
  resume   deliver a checkpoint decision
  state    print a run's current state
  list     list stored runs
  version  print version information`)
}

// app bundles everything a subcommand needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	engine *workflow.Engine
	store  workflow.RunStore
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.NewLoader().WithConfigPath(configPath).Load()
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	keys := cfg.Credentials.Keys
	if len(keys) == 0 {
		return nil, fmt.Errorf("no API keys configured (set SCIFLOW_CREDENTIALS_KEYS)")
	}
	pool := llm.NewCredentialPool(keys, logger, llm.WithDisableDurations(map[llm.ErrorKind]time.Duration{
		llm.KindRateLimited:    cfg.Credentials.RateLimitedWindow,
		llm.KindQuotaExhausted: cfg.Credentials.QuotaExhaustedWindow,
		llm.KindTimeout:        cfg.Credentials.TimeoutWindow,
		llm.KindOther:          cfg.Credentials.OtherWindow,
	}))

	completer := llm.NewHTTPCompleter(cfg.LLM.BaseURL, logger)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	executor := workflow.NewStageExecutor(completer, pool, workflow.ExecutorConfig{
		Model:         cfg.LLM.Model,
		MaxAttempts:   cfg.Pipeline.MaxAttempts,
		CallTimeout:   cfg.Pipeline.CallTimeout,
		RatePerSecond: cfg.Pipeline.RatePerSecond,
	}, collector, logger)

	store, err := runstore.OpenSQLite(cfg.Store.Path, logger)
	if err != nil {
		return nil, err
	}

	var retrievalOpts []retrieval.Option
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		retrievalOpts = append(retrievalOpts,
			retrieval.WithJudgmentCache(retrieval.NewJudgmentCache(rdb, cfg.Retrieval.CacheTTL, logger)))
	}

	engine := workflow.NewEngine(executor, docstore.NewMemoryStore(nil, logger), store, workflow.EngineConfig{
		MaxDomainAgents:         cfg.Pipeline.MaxDomainAgents,
		MaxCheckpointRejections: cfg.Pipeline.MaxCheckpointRejections,
		GraphStrategy:           workflow.Strategy(cfg.Graph.PathStrategy),
		GraphMaxSteps:           cfg.Graph.MaxSteps,
		GraphSeed:               cfg.Graph.Seed,
		Retrieval: retrieval.Config{
			MaxAttempts:   cfg.Retrieval.MaxAttempts,
			TopK:          cfg.Retrieval.TopK,
			MinDocuments:  cfg.Retrieval.MinDocuments,
			MinConfidence: cfg.Retrieval.MinConfidence,
		},
	}, logger,
		workflow.WithMetrics(collector),
		workflow.WithRetrievalOptions(retrievalOpts...),
	)

	return &app{cfg: cfg, logger: logger, engine: engine, store: store}, nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	query := fs.String("query", "", "research query")
	mode := fs.String("mode", "", "pipeline mode (structured or automated, default from config)")
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *query == "" {
		return fmt.Errorf("--query is required")
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	m := workflow.Mode(a.cfg.Pipeline.Mode)
	if *mode != "" {
		m = workflow.Mode(*mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runID, err := a.engine.Start(ctx, *query, m)
	if err != nil {
		return err
	}
	fmt.Println("run:", runID)

	return followRun(ctx, a, runID)
}

// followRun polls until the run reaches a terminal state or suspends
// at a checkpoint.
func followRun(ctx context.Context, a *app, runID string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	lastStage := workflow.Stage("")

	for {
		select {
		case <-ctx.Done():
			fmt.Println("interrupted; cancelling run")
			return a.engine.Cancel(context.Background(), runID)
		case <-ticker.C:
		}

		state, err := a.engine.CurrentState(ctx, runID)
		if err != nil {
			return err
		}
		if state.Stage != lastStage {
			fmt.Println("stage:", state.Stage)
			lastStage = state.Stage
		}

		switch state.Status {
		case workflow.StatusSuspended:
			fmt.Printf("suspended at checkpoint %q\n", state.PendingCheckpoint.Name)
			fmt.Printf("review payload:\n%s\n", state.PendingCheckpoint.Payload)
			fmt.Printf("resume with: sciflow resume --run %s --checkpoint %s\n", runID, state.PendingCheckpoint.Name)
			return nil
		case workflow.StatusCompleted:
			fmt.Println("\n=== synthesis ===")
			fmt.Println(state.Synthesis)
			return nil
		case workflow.StatusFailed:
			return fmt.Errorf("run failed at stage %s (%d errors recorded)", state.FailedStage, len(state.Errors))
		case workflow.StatusCancelled:
			fmt.Println("run cancelled")
			return nil
		}
	}
}

func cmdResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	runID := fs.String("run", "", "run ID")
	checkpoint := fs.String("checkpoint", "", "pending checkpoint name")
	reject := fs.Bool("reject", false, "reject instead of approve")
	editsPath := fs.String("edits", "", "JSON file replacing the payload (approve) or feedback (reject)")
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" || *checkpoint == "" {
		return fmt.Errorf("--run and --checkpoint are required")
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	var edits json.RawMessage
	if *editsPath != "" {
		raw, err := os.ReadFile(*editsPath)
		if err != nil {
			return err
		}
		edits = raw
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.engine.Resume(ctx, *runID, workflow.Stage(*checkpoint), !*reject, edits); err != nil {
		return err
	}
	return followRun(ctx, a, *runID)
}

func cmdState(args []string) error {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	runID := fs.String("run", "", "run ID")
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID == "" {
		return fmt.Errorf("--run is required")
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	state, err := a.store.Load(context.Background(), *runID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cmdList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := buildApp(*configPath)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	ids, err := a.store.List(context.Background())
	if err != nil {
		return err
	}
	for _, id := range ids {
		state, err := a.store.Load(context.Background(), id)
		if err != nil {
			continue
		}
		fmt.Printf("%s  %-10s  %-16s  %s\n", id, state.Status, state.Stage, state.Query)
	}
	return nil
}
