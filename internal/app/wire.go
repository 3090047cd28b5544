package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sharpline/pipeline/internal/alert"
	"github.com/sharpline/pipeline/internal/collector"
	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/guard"
	"github.com/sharpline/pipeline/internal/handler"
	"github.com/sharpline/pipeline/internal/health"
	"github.com/sharpline/pipeline/internal/infra"
	"github.com/sharpline/pipeline/internal/orchestrator"
	"github.com/sharpline/pipeline/internal/repository"
	"github.com/sharpline/pipeline/internal/resolver"
	"github.com/sharpline/pipeline/internal/staging"
	"github.com/sharpline/pipeline/internal/timesync"
)

// App is the assembled pipeline: every long-lived service the process
// constructs exactly once.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Processor    *staging.Processor
	Alerts       *alert.Manager
	Synchronizer *timesync.Synchronizer
	Resolver     *resolver.Resolver
	Schedule     *collector.ScheduleClient
	HealthRepo   *repository.HealthRepository
	Outbox       *infra.AlertOutboxPoller
	Router       chi.Router
}

// Deps holds the external handles wiring needs.
type Deps struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client // nil when unconfigured
	Config   *infra.Config
	Logger   *slog.Logger
	Producer *infra.KafkaProducer
}

// Wire assembles the application graph.
func Wire(ctx context.Context, deps Deps) *App {
	pool, cfg, logger := deps.Pool, deps.Config, deps.Logger

	// Repositories
	rawRepo := repository.NewRawRepository(pool)
	stagingRepo := repository.NewStagingRepository(pool)
	gameRepo := repository.NewGameRepository(pool)
	bookRepo := repository.NewSportsbookRepository(pool)
	healthRepo := repository.NewHealthRepository(pool)
	alertRepo := repository.NewAlertRepository(pool, rawRepo, stagingRepo)

	// Collectors
	schedule := collector.NewScheduleClient(cfg.ScheduleBaseURL, cfg.UserAgent, logger)
	scheduleCol := collector.NewScheduleCollector(schedule, logger)
	anCol := collector.NewActionNetworkCollector(cfg.ActionNetworkBaseURL, cfg.UserAgent, logger)
	vsinCol := collector.NewVSINCollector(cfg.VSINBaseURL, cfg.UserAgent, logger)
	sbdCol := collector.NewSBDCollector(cfg.SBDBaseURL, cfg.UserAgent, logger)

	// Game-id resolver: the single instance every component shares. Warm
	// its memory tier from the games table.
	gameResolver := resolver.New(gameRepo, schedule, logger)
	if resolved, err := gameRepo.AllResolved(ctx); err == nil {
		for source, byExternal := range resolved {
			for externalID, canonicalID := range byExternal {
				gameResolver.Prime(source, externalID, canonicalID)
			}
		}
	}

	// Alerting
	var book alert.Bookkeeper
	if deps.Redis != nil {
		book = alert.NewRedisBookkeeper(deps.Redis)
	} else {
		book = alert.NewMemoryBookkeeper()
	}
	channels := []alert.Channel{
		alert.NewWebhookChannel(cfg.AlertWebhookURL),
		alert.NewChatChannel(deps.Producer, cfg.AlertTopicPrefix),
		alert.NewEmailChannel(cfg.SMTPAddr, cfg.AlertEmailTo),
	}
	alerts := alert.NewManager(alertRepo, book, channels, logger)

	// Collection engine
	limiter := guard.NewSourceLimiter(logger)
	breakers := guard.NewBreakerSet(guard.DefaultBreakerConfig(), logger)
	analyzer := health.NewAnalyzer(logger)
	syncCfg := timesync.Config{
		DefaultWindow:     time.Duration(cfg.SyncWindowSeconds) * time.Second,
		MaxSkew:           time.Duration(cfg.SyncMaxSkewSeconds) * time.Second,
		RequireAllSources: cfg.RequireAllSources,
	}

	orch := orchestrator.New(limiter, breakers, analyzer, alerts, gameResolver, nil,
		rawRepo, healthRepo,
		orchestrator.Options{
			MaxConcurrentTasks: cfg.MaxConcurrentTasks,
			PlanDeadline:       cfg.PlanDeadline,
		}, logger)

	// The synchronizer re-collects through the orchestrator when a consumer
	// needs fresher aligned data than the buffer holds.
	synchronizer := timesync.New(syncCfg, func(ctx context.Context, sources []string, deadline time.Time) error {
		plan, err := orch.CreatePlan("sync_recollect", sources, 0, time.Until(deadline))
		if err != nil {
			return err
		}
		_, err = orch.ExecutePlan(ctx, plan)
		return err
	}, logger)
	orch.SetSynchronizer(synchronizer)

	for _, sc := range orchestrator.DefaultSourceConfigs() {
		switch sc.Name {
		case domain.SourceMLBSchedule:
			orch.RegisterSource(sc, scheduleCol)
		case domain.SourceActionNetwork:
			orch.RegisterSource(sc, anCol)
		case domain.SourceVSIN:
			orch.RegisterSource(sc, vsinCol)
		case domain.SourceSBD:
			orch.RegisterSource(sc, sbdCol)
		}
	}

	// Staging
	processor := staging.NewProcessor(rawRepo, stagingRepo, bookRepo, gameResolver, logger)

	// Alert outbox → Kafka
	outbox := infra.NewAlertOutboxPoller(pool, deps.Producer, cfg.AlertTopicPrefix, logger)

	// HTTP API
	metricsHandler := handler.NewMetricsHandler(orch, healthRepo)
	alertsHandler := handler.NewAlertsHandler(alerts, cfg.GapThresholdHours)
	plansHandler := handler.NewPlansHandler(orch, processor, synchronizer)

	r := chi.NewRouter()
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(cfg.CORSAllowedOrigins))
	r.Use(handler.JSONContentType)

	r.Get("/health", handler.HealthHandler(pool))
	r.Get("/metrics", metricsHandler.GetEnhancedMetrics)
	r.Get("/sources/{source}/history", metricsHandler.GetHistory)
	r.Get("/sources/{source}/test", metricsHandler.TestConnection)
	r.Post("/sources/{source}/reset-breaker", metricsHandler.ResetBreaker)

	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", alertsHandler.ListActive)
		r.Post("/{id}/resolve", alertsHandler.Resolve)
		r.Get("/gaps", alertsHandler.CheckGaps)
		r.Get("/dead-tuples", alertsHandler.CheckDeadTuples)
		r.Get("/cascade", alertsHandler.CheckCascade)
	})
	r.Route("/rules", func(r chi.Router) {
		r.Get("/", alertsHandler.ListRules)
		r.Post("/{id}/{enabled}", alertsHandler.SetRuleEnabled)
	})

	r.Post("/plans", plansHandler.Execute)
	r.Get("/aligned", plansHandler.TimeAligned)

	return &App{
		Orchestrator: orch,
		Processor:    processor,
		Alerts:       alerts,
		Synchronizer: synchronizer,
		Resolver:     gameResolver,
		Schedule:     schedule,
		HealthRepo:   healthRepo,
		Outbox:       outbox,
		Router:       r,
	}
}
