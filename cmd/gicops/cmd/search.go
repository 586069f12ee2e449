package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/pcdslab/gicops/internal/exchange"
	"github.com/pcdslab/gicops/internal/index"
	"github.com/pcdslab/gicops/internal/msquery"
	"github.com/pcdslab/gicops/internal/output"
	"github.com/pcdslab/gicops/internal/pipeline"
	"github.com/pcdslab/gicops/internal/scoring"
	"github.com/pcdslab/gicops/internal/telemetry"
	"github.com/pcdslab/gicops/pkg/config"
	pkgerrors "github.com/pcdslab/gicops/pkg/errors"
	"github.com/pcdslab/gicops/pkg/health"
	"github.com/pcdslab/gicops/pkg/kafka"
	"github.com/pcdslab/gicops/pkg/logger"
	"github.com/pcdslab/gicops/pkg/metrics"
	"github.com/pcdslab/gicops/pkg/postgres"
	pkgredis "github.com/pcdslab/gicops/pkg/redis"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Run the peptide search over a dataset",
	RunE: func(cobraCmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		applyFlags(cobraCmd, cfg)
		cfg.Clamp()
		return runSearch(cfg)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// applyFlags overlays explicitly set command-line flags onto the config.
func applyFlags(c *cobra.Command, cfg *config.Config) {
	set := c.Flags().Changed
	if set("dbpath") {
		cfg.Paths.DBPath = dbPath
	}
	if set("dataset") {
		cfg.Paths.Dataset = dataset
	}
	if set("workspace") {
		cfg.Paths.Workspace = workspace
	}
	if set("threads") {
		cfg.Pipeline.Threads = threads
	}
	if set("prepthreads") {
		cfg.Pipeline.PrepThreads = prepThreads
	}
	if set("gputhreads") {
		cfg.Pipeline.GPUThreads = gpuThreads
	}
	if set("min_len") {
		cfg.Search.MinLen = minLen
	}
	if set("max_len") {
		cfg.Search.MaxLen = maxLen
	}
	if set("maxz") {
		cfg.Search.MaxZ = maxz
	}
	if set("res") {
		cfg.Search.Res = res
	}
	if set("dM") {
		cfg.Search.DM = dM
	}
	if set("dF") {
		cfg.Search.DF = dF
	}
	if set("min_mass") {
		cfg.Search.MinMass = minMass
	}
	if set("max_mass") {
		cfg.Search.MaxMass = maxMass
	}
	if set("min_shp") {
		cfg.Search.MinSHP = minShp
	}
	if set("min_cpsm") {
		cfg.Search.MinCPSM = minCpsm
	}
	if set("topmatches") {
		cfg.Search.TopMatches = topMatches
	}
	if set("expect_max") {
		cfg.Search.ExpectMax = expectMax
	}
	if set("spadmem") {
		cfg.Pipeline.SpadMemMB = spadMem
	}
	if set("policy") {
		cfg.Cluster.Policy = policy
	}
	if set("mods") {
		cfg.Search.Mods = mods
	}
	if set("nodes") {
		cfg.Cluster.Nodes = nodes
	}
	if set("myid") {
		cfg.Cluster.MyID = myID
	}
	if set("nogpuindex") {
		cfg.Pipeline.NoGPUIndex = noGPUIndex
	}
	if set("reindex") {
		cfg.Pipeline.Reindex = reindex
	}
	if set("nocache") {
		cfg.Pipeline.NoCache = noCache
	}
	if set("gumbelfit") {
		cfg.Search.GumbelFit = gumbelFit
	}
	if set("matchcharge") {
		cfg.Search.MatchCharge = matchCharge
	}
	if set("noprogress") {
		cfg.Pipeline.NoProgress = noProgress
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
}

func runSearch(cfg *config.Config) error {
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.WithRank(cfg.Cluster.MyID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	checker := health.NewChecker()
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(sctx)
		}()
	} else {
		m = metrics.Nop()
	}

	// Optional collaborators degrade gracefully when unreachable.
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled() && !cfg.Pipeline.NoCache {
		var err error
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, metadata caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
				if err := redisClient.Ping(ctx); err != nil {
					return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
				}
				return health.ComponentHealth{Status: health.StatusUp}
			})
		}
	}

	var events *telemetry.Collector
	if cfg.Kafka.Enabled() {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.SearchTopic)
		defer producer.Close()
		events = telemetry.New(producer, cfg.Cluster.MyID, 100, 5*time.Second)
		events.Start(ctx)
		// The flush loop exits on context cancellation, so cancel before
		// waiting on it.
		defer func() {
			stop()
			events.Close()
		}()
	}

	sink, err := buildSink(cfg, log)
	if err != nil {
		return err
	}

	log.Info("loading index", "dbpath", cfg.Paths.DBPath,
		"min_len", cfg.Search.MinLen, "max_len", cfg.Search.MaxLen)
	idx, err := index.Load(cfg.Paths.DBPath, cfg.Search.MinLen, cfg.Search.MaxLen)
	if err != nil {
		return pkgerrors.Newf(pkgerrors.ErrInvalidInput, 2, "loading index: %v", err)
	}

	backend, err := scoring.NewKernel(scoring.Config{
		Threads:    cfg.Pipeline.Threads,
		MaxZ:       cfg.Search.MaxZ,
		Scale:      cfg.Search.Scale(),
		MaxMass:    cfg.Search.MaxMass,
		DF:         cfg.Search.DFScaled(),
		DM:         cfg.Search.DM,
		MinSHP:     cfg.Search.MinSHP,
		TopMatches: cfg.Search.TopMatches,
		NoProgress: cfg.Pipeline.NoProgress,
	}, idx, m)
	if err != nil {
		return err
	}

	var exch *exchange.Exchange
	if cfg.Cluster.Nodes > 1 {
		exch, err = exchange.New(cfg.Paths.Workspace, cfg.Cluster.MyID,
			cfg.Cluster.Nodes, cfg.Pipeline.QChunk, m)
		if err != nil {
			return err
		}
	}

	cache := msquery.NewMetaCache(redisClient, cfg.Redis, cfg.Search, cfg.Pipeline.QChunk, m)
	if cfg.Pipeline.Reindex {
		if err := cache.Invalidate(ctx); err != nil {
			log.Warn("metadata cache invalidation failed", "error", err)
		}
	}

	mgr, err := pipeline.NewManager(pipeline.Options{
		Config:  cfg,
		Backend: backend,
		Sink:    sink,
		Exch:    exch,
		Cache:   cache,
		Events:  events,
		Metrics: m,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	if err := mgr.Run(ctx); err != nil {
		return err
	}
	log.Info("search complete", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// buildSink composes the TSV sink with the optional Postgres results store.
func buildSink(cfg *config.Config, log *slog.Logger) (output.Sink, error) {
	tsv, err := output.NewTSVSink(cfg.Paths.Workspace, cfg.Cluster.MyID)
	if err != nil {
		return nil, err
	}
	if !cfg.Postgres.Enabled() {
		return tsv, nil
	}
	client, err := postgres.New(cfg.Postgres)
	if err != nil {
		log.Warn("postgres unavailable, results store disabled", "error", err)
		return tsv, nil
	}
	pgSink, err := output.NewPostgresSink(client, 500)
	if err != nil {
		client.Close()
		log.Warn("postgres sink init failed, results store disabled", "error", err)
		return tsv, nil
	}
	return output.NewMultiSink(tsv, pgSink), nil
}
