// Command worker runs the Temporal worker hosting the bridge, goal and
// matching workflows together with every activity they call.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.opentelemetry.io/otel"
	"go.temporal.io/sdk/activity"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"
	"goa.design/clue/log"

	"github.com/treatyline/subpack/internal/activities"
	"github.com/treatyline/subpack/internal/agent/goals"
	"github.com/treatyline/subpack/internal/config"
	"github.com/treatyline/subpack/internal/model"
	"github.com/treatyline/subpack/internal/model/anthropic"
	"github.com/treatyline/subpack/internal/model/middleware"
	"github.com/treatyline/subpack/internal/model/openai"
	"github.com/treatyline/subpack/internal/orchestrator"
	"github.com/treatyline/subpack/internal/planner"
	"github.com/treatyline/subpack/internal/store"
)

func main() {
	var (
		configF = flag.String("config", os.Getenv("SUBPACK_CONFIG"), "Path to YAML configuration file")
		debugF  = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *debugF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	if err := run(ctx, *configF); err != nil {
		log.Fatal(ctx, err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{
		Tracer: otel.Tracer("subpack-worker"),
	})
	if err != nil {
		return fmt.Errorf("configure tracing interceptor: %w", err)
	}
	tc, err := config.DialTemporal(cfg.Temporal, tracer)
	if err != nil {
		return err
	}
	defer tc.Close()

	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return fmt.Errorf("connect mongo %s: %w", cfg.Mongo.URI, err)
	}
	defer func() { _ = mc.Disconnect(ctx) }()
	st, err := store.New(store.Options{Client: mc, Database: cfg.Mongo.Database})
	if err != nil {
		return err
	}
	if err := store.Seed(ctx, st, cfg.Data.HistoricalCSV); err != nil {
		// A missing seed file is survivable when the collection is already
		// populated; matching fails loudly later if it is not.
		log.Warn(ctx, log.KV{K: "msg", V: "historical event seeding skipped"},
			log.KV{K: "err", V: err.Error()})
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()

	modelClient, err := newModelClient(ctx, cfg.Model, rdb)
	if err != nil {
		return err
	}

	pl, err := planner.New(planner.Options{
		Client: modelClient,
		Model:  cfg.Model.Model,
	})
	if err != nil {
		return err
	}

	bridge := activities.NewBridgeClient(tc)
	submission := activities.NewSubmission(cfg.Data.PacksDir, modelClient, cfg.Model.Model, bridge)
	matching := activities.NewMatching(st, tc, bridge)
	cedant := activities.NewCedant(st, tc, cfg.Data.ProgramMapCSV, cfg.Data.ExportDir)

	w := worker.New(tc, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Temporal.MaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Temporal.MaxConcurrentWorkflows,
	})

	w.RegisterWorkflow(orchestrator.BridgeWorkflow)
	w.RegisterWorkflow(orchestrator.GoalWorkflow)
	w.RegisterWorkflow(orchestrator.MatchBatchWorkflow)
	w.RegisterWorkflow(orchestrator.EventMatchWorkflow)

	register := func(name string, fn any) {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
	}
	register(orchestrator.ActivityPlanner, pl.DecideNextStep)
	register(orchestrator.ActivityMatchSingleEvent, matching.MatchSingleEvent)
	register(goals.ActivityLocateSubmissionPack, submission.LocateSubmissionPack)
	register(goals.ActivityGetSheetNames, submission.GetSheetNames)
	register(goals.ActivityReadSheet, submission.ReadSheet)
	register(goals.ActivityExtractAsOfYear, submission.ExtractAsOfYear)
	register(goals.ActivityExtractEvents, submission.ExtractCatastropheEvents)
	register(goals.ActivityRunMatchBatch, matching.RunMatchBatch)
	register(goals.ActivityPopulateCedantData, cedant.PopulateCedantData)
	register(goals.ActivityCompareCedantData, cedant.CompareToExistingCedantData)
	register(goals.ActivityGenerateDiffReport, cedant.GenerateDiffReport)
	register(goals.ActivityExportDiffReport, cedant.ExportDiffReport)

	log.Info(ctx, log.KV{K: "msg", V: "worker starting"},
		log.KV{K: "task_queue", V: cfg.Temporal.TaskQueue},
		log.KV{K: "temporal", V: cfg.Temporal.Address})

	if err := w.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}
	return nil
}

// newModelClient builds the provider client and wraps it with the shared
// adaptive rate limiter when a token budget is configured.
func newModelClient(ctx context.Context, cfg config.ModelConfig, rdb *redis.Client) (model.Client, error) {
	var (
		mc  model.Client
		err error
	)
	switch cfg.Provider {
	case "anthropic":
		mc, err = anthropic.NewFromAPIKey(cfg.APIKey, cfg.Model)
	default:
		mc, err = openai.NewFromAPIKey(cfg.APIKey, cfg.Model)
	}
	if err != nil {
		return nil, fmt.Errorf("build %s model client: %w", cfg.Provider, err)
	}
	if cfg.TokensPerMinute > 0 {
		tpm := float64(cfg.TokensPerMinute)
		limiter := middleware.NewAdaptiveRateLimiter(ctx, rdb, "subpack:model:tpm", tpm, 4*tpm)
		mc = limiter.Middleware()(mc)
	}
	return mc, nil
}
