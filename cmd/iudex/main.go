package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	iudex "github.com/NicholasJacob1990/iudex"
)

// CLI configuration
type cliConfig struct {
	RequestFile    string
	ConfigFile     string
	CheckpointsDir string
	DocumentsDir   string
	CallLogsDir    string
	PostgresDSN    string
	ListJobID      string
	RewindID       string
	Timeout        time.Duration
	Verbose        bool
	JSON           bool
}

func main() {
	config := parseFlags()

	if config.ListJobID != "" {
		listCheckpoints(config)
		return
	}

	if config.RequestFile == "" && config.RewindID == "" {
		color.Red("Error: request file is required")
		flag.Usage()
		os.Exit(1)
	}
	if config.RequestFile != "" {
		if _, err := os.Stat(config.RequestFile); os.IsNotExist(err) {
			color.Red("Error: request file '%s' not found", config.RequestFile)
			os.Exit(1)
		}
	}

	logger := setupLogger(config.Verbose)

	var request iudex.DraftingRequest
	if config.RequestFile != "" {
		var err error
		request, err = loadRequest(config.RequestFile)
		if err != nil {
			log.Fatalf("Failed to load request: %v", err)
		}
		color.Cyan("Request: %s", request.Title)
	}

	pipelineConfig, err := loadPipelineConfig(config.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The CLI runs fully offline: every configured model gets a
	// deterministic local client
	models := offlineModels(pipelineConfig)
	color.Blue("Models: strategist=%s drafters=%v reviewers=%v",
		pipelineConfig.Models.Strategist,
		pipelineConfig.Models.Drafters,
		pipelineConfig.Models.Reviewers)

	opts := iudex.EngineOptions{
		Config:    pipelineConfig,
		Models:    models,
		Logger:    logger,
		Callbacks: &formatterCallbacks{formatter: newColorFormatter()},
	}

	if config.PostgresDSN != "" {
		db, err := sql.Open("postgres", config.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres: %v", err)
		}
		defer db.Close()
		ctx := context.Background()
		checkpoints, err := iudex.NewPostgresCheckpointStore(ctx, db)
		if err != nil {
			log.Fatalf("Failed to create postgres checkpoint store: %v", err)
		}
		states, err := iudex.NewPostgresWorkflowStateRepository(ctx, db)
		if err != nil {
			log.Fatalf("Failed to create postgres state repository: %v", err)
		}
		opts.Checkpoints = checkpoints
		opts.States = states
		color.Blue("Persistence: postgres")
	} else if config.CheckpointsDir != "" {
		checkpoints, err := iudex.NewFileCheckpointStore(config.CheckpointsDir)
		if err != nil {
			log.Fatalf("Failed to create checkpoint store: %v", err)
		}
		opts.Checkpoints = checkpoints
		color.Blue("Checkpoints: %s", config.CheckpointsDir)
	}
	if config.DocumentsDir != "" {
		documents, err := iudex.NewFileDocumentStore(config.DocumentsDir)
		if err != nil {
			log.Fatalf("Failed to create document store: %v", err)
		}
		opts.Documents = documents
		color.Blue("Documents: %s", config.DocumentsDir)
	}
	if config.CallLogsDir != "" {
		opts.ModelCalls = iudex.NewFileModelCallLogger(config.CallLogsDir)
		color.Blue("Model call logs: %s", config.CallLogsDir)
	}

	engine, err := iudex.NewEngine(opts)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	var handle *iudex.RunHandle
	if config.RewindID != "" {
		handle, err = engine.Rewind(ctx, config.RewindID)
		if err != nil {
			log.Fatalf("Failed to rewind from checkpoint %s: %v", config.RewindID, err)
		}
		color.Green("Rewound job %s into run %s from checkpoint %s\n",
			handle.JobID, handle.RunID, config.RewindID)
	} else {
		jobID := iudex.NewJobID()
		handle, err = engine.Start(ctx, jobID, request)
		if err != nil {
			log.Fatalf("Failed to start run: %v", err)
		}
		color.Green("Started run %s for job %s\n", handle.RunID, handle.JobID)
	}

	startTime := time.Now()
	record, runErr := handle.Wait(ctx)
	duration := time.Since(startTime)

	showResults(record, runErr, duration, config)
}

func parseFlags() *cliConfig {
	config := &cliConfig{}

	flag.StringVar(&config.RequestFile, "request", "", "Path to the YAML drafting request file (required)")
	flag.StringVar(&config.RequestFile, "r", "", "Path to the YAML drafting request file (shorthand)")

	flag.StringVar(&config.ConfigFile, "config", "", "Path to the YAML pipeline configuration file (optional)")
	flag.StringVar(&config.ConfigFile, "c", "", "Path to the YAML pipeline configuration file (shorthand)")

	flag.StringVar(&config.CheckpointsDir, "checkpoints", "", "Directory to store run checkpoints (optional)")
	flag.StringVar(&config.DocumentsDir, "documents", "", "Directory to store document snapshots (optional)")
	flag.StringVar(&config.CallLogsDir, "calls", "", "Directory to store model call logs (optional)")
	flag.StringVar(&config.PostgresDSN, "postgres", "", "Postgres DSN for checkpoint and record persistence (optional)")

	flag.StringVar(&config.ListJobID, "list", "", "List checkpoints of a prior job and exit")
	flag.StringVar(&config.RewindID, "rewind", "", "Rewind from a checkpoint ID instead of starting a new run")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Run timeout (e.g., 30s, 5m, 1h)")
	flag.DurationVar(&config.Timeout, "t", 0, "Run timeout (shorthand)")

	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")

	flag.BoolVar(&config.JSON, "json", false, "Output the report in JSON format")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `iudex - run a legal document drafting pipeline

Usage: %s [options] -request <request.yaml>

Examples:
  # Run a drafting request with defaults
  %s -request peticao.yaml

  # Run with a custom pipeline config and persistence
  %s -request peticao.yaml -config pipeline.yaml -checkpoints ./checkpoints

  # Persist checkpoints and final records to Postgres
  %s -request peticao.yaml -postgres "postgres://localhost/iudex?sslmode=disable"

  # List checkpoints of a prior job, then rewind from one
  %s -checkpoints ./checkpoints -list job_01h455vb4pex5vsknk084sn02q
  %s -checkpoints ./checkpoints -documents ./documents -rewind ckpt_01h455vb4pex5vsknk084sn02q

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
	return config
}

// listCheckpoints prints the checkpoints of a prior job straight from the
// configured store, newest first.
func listCheckpoints(config *cliConfig) {
	ctx := context.Background()

	var store iudex.CheckpointStore
	switch {
	case config.PostgresDSN != "":
		db, err := sql.Open("postgres", config.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to open postgres: %v", err)
		}
		defer db.Close()
		store, err = iudex.NewPostgresCheckpointStore(ctx, db)
		if err != nil {
			log.Fatalf("Failed to create postgres checkpoint store: %v", err)
		}
	case config.CheckpointsDir != "":
		var err error
		store, err = iudex.NewFileCheckpointStore(config.CheckpointsDir)
		if err != nil {
			log.Fatalf("Failed to create checkpoint store: %v", err)
		}
	default:
		color.Red("Error: -list requires -checkpoints or -postgres")
		os.Exit(1)
	}

	checkpoints, err := store.ListByJob(ctx, config.ListJobID)
	if err != nil {
		log.Fatalf("Failed to list checkpoints: %v", err)
	}
	if len(checkpoints) == 0 {
		color.Yellow("No checkpoints for job %s", config.ListJobID)
		return
	}

	color.Cyan("Checkpoints for job %s:", config.ListJobID)
	for _, cp := range checkpoints {
		restorable := "restorable"
		if !cp.IsRestorable {
			restorable = "non-restorable: " + cp.NonRestorableReason
		}
		fmt.Printf("  %s  %-8s  %-14s  %s  %s\n",
			cp.ID, cp.SnapshotType, cp.Stage,
			cp.CreatedAt.Format(time.RFC3339), restorable)
	}
}

func setupLogger(verbose bool) *slog.Logger {
	if verbose {
		return iudex.NewLogger()
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func loadRequest(path string) (iudex.DraftingRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return iudex.DraftingRequest{}, err
	}
	var request iudex.DraftingRequest
	if err := yaml.Unmarshal(data, &request); err != nil {
		return iudex.DraftingRequest{}, fmt.Errorf("failed to unmarshal request: %w", err)
	}
	if request.Title == "" {
		return iudex.DraftingRequest{}, fmt.Errorf("request title is required")
	}
	return request, nil
}

func loadPipelineConfig(path string) (iudex.Config, error) {
	if path != "" {
		return iudex.LoadConfigFile(path)
	}
	config := iudex.DefaultConfig()
	config.Models = iudex.ModelsConfig{
		Strategist: "offline-strategist",
		Drafters:   []string{"offline-drafter-a", "offline-drafter-b"},
		Reviewers:  []string{"offline-reviewer-a", "offline-reviewer-b"},
		Merger:     "offline-merger",
	}
	return config, nil
}

// offlineModels builds a deterministic client for every configured model.
func offlineModels(config iudex.Config) []iudex.ModelClient {
	seen := map[string]bool{}
	var models []iudex.ModelClient
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			models = append(models, iudex.NewOfflineModelClient(name))
		}
	}
	add(config.Models.Strategist)
	for _, name := range config.Models.Drafters {
		add(name)
	}
	for _, name := range config.Models.Reviewers {
		add(name)
	}
	add(config.Models.Merger)
	for _, rule := range config.DrafterRules {
		add(rule.Model)
	}
	return models
}

func showResults(record *iudex.WorkflowState, runErr error, duration time.Duration, config *cliConfig) {
	color.White("Run completed in %v", duration)
	if record == nil {
		color.Red("Error: %v", runErr)
		os.Exit(1)
	}
	color.White("Status: %s", record.Status)

	if runErr != nil {
		color.Red("Error: %v", runErr)
	} else {
		color.Green("Run successful!")
	}

	qualityReport := iudex.BuildReport(record)
	fmt.Printf("\n")
	if config.JSON {
		data, err := qualityReport.JSON()
		if err != nil {
			fmt.Printf("Error formatting report: %v\n", err)
		} else {
			fmt.Println(string(data))
		}
	} else {
		fmt.Println(qualityReport.Markdown())
	}

	if record.Status != iudex.RunStatusCompleted {
		os.Exit(1)
	}
}
