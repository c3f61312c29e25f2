// Package server provides the public entry point for initializing the
// TripSage agent service.
//
// Usage:
//
//	srv, err := server.New(ctx, cfg)
//	go srv.Janitor.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/tripsage/tripsage-core/internal/api"
	"github.com/tripsage/tripsage-core/internal/api/handlers"
	"github.com/tripsage/tripsage-core/internal/approvals"
	"github.com/tripsage/tripsage-core/internal/catalog"
	"github.com/tripsage/tripsage-core/internal/config"
	"github.com/tripsage/tripsage-core/internal/guardrails"
	"github.com/tripsage/tripsage-core/internal/memory"
	"github.com/tripsage/tripsage-core/internal/model"
	"github.com/tripsage/tripsage-core/internal/notify"
	"github.com/tripsage/tripsage-core/internal/plans"
	"github.com/tripsage/tripsage-core/internal/providers"
	"github.com/tripsage/tripsage-core/internal/ratelimit"
	"github.com/tripsage/tripsage-core/internal/retention"
	"github.com/tripsage/tripsage-core/internal/store"
	"github.com/tripsage/tripsage-core/internal/telemetry"
	"github.com/tripsage/tripsage-core/internal/tokens"
	"github.com/tripsage/tripsage-core/internal/workflows"
)

// Server holds the initialized agent service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Records is the approval/booking/memory store (PostgreSQL or in-memory).
	Records store.RecordStore

	// Janitor sweeps expired cache entries and idle rate-limit windows.
	Janitor *retention.Janitor

	Config *config.Config

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes every component and returns a ready Server.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	file, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}

	records, err := newRecordStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	kv := store.NewMemoryKV()
	limiter := ratelimit.NewSlidingWindow()
	gate := approvals.NewGate(records)
	if cfg.ApprovalWebhookURL != "" {
		gate.SetNotifier(notify.NewService(notify.Channel{
			Name:   "approvals",
			URL:    cfg.ApprovalWebhookURL,
			Secret: cfg.ApprovalWebhookSecret,
		}))
		log.Info().Msg("✅ Approval webhook enabled")
	}
	mem := memory.NewService(records)

	hc := providers.NewHTTPClient()
	registry, err := catalog.Build(catalog.Deps{
		Guard:     guardrails.New(kv, limiter),
		Approvals: gate,
		Plans:     plans.NewService(kv),
		Memory:    mem,
		Bookings:  records,

		WebSearch:      providers.NewWebSearch(hc, cfg.WebSearchURL, cfg.WebSearchKey),
		Flights:        providers.NewFlights(hc, cfg.FlightsURL, cfg.FlightsKey),
		Accommodations: providers.NewAccommodations(hc, cfg.AccommodationsURL, cfg.AccommodationsKey),
		Weather:        providers.NewWeather(hc, cfg.WeatherURL, cfg.WeatherKey),
		Maps:           providers.NewMaps(hc, cfg.MapsURL, cfg.MapsKey),
		Advisory:       providers.NewAdvisory(hc, cfg.AdvisoryURL, cfg.AdvisoryKey),

		Overrides: file.Tools,
	})
	if err != nil {
		records.Close()
		return nil, err
	}
	log.Info().Int("tools", len(registry.Names())).Msg("✅ Tool catalog built")

	primary, repair := newModels(cfg.ModelConfig)
	log.Info().Str("model", primary.ModelID()).Msg("✅ Language model configured")

	wf := workflows.NewRegistry(&workflows.Env{
		Tools:   registry,
		Memory:  mem,
		Clamper: tokens.NewClamper(nil),
	})

	h := handlers.New(wf, gate, file, primary)
	h.RepairModel = repair
	h.Records = records

	janitor, err := retention.NewJanitor(cfg.SweepSchedule,
		retention.CacheTask(kv),
		retention.RateLimitTask(limiter),
	)
	if err != nil {
		records.Close()
		return nil, err
	}

	return &Server{
		Handler:      api.NewRouter(cfg, h),
		Records:      records,
		Janitor:      janitor,
		Config:       cfg,
		ShutdownFunc: shutdown,
	}, nil
}

func newRecordStore(ctx context.Context, cfg *config.Config) (store.RecordStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("✅ In-memory record store initialized")
		return store.NewMemoryStore(), nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init postgres store: %w", err)
	}
	log.Info().Msg("✅ PostgreSQL record store initialized")
	return pg, nil
}

// newModels builds the primary model (with configured fallbacks) and the
// optional secondary model used for tool-input repair.
func newModels(cfg config.ModelConfig) (model.LanguageModel, model.LanguageModel) {
	build := func(id string) model.LanguageModel {
		return model.NewOpenAI(model.OpenAIConfig{
			BaseURL: cfg.ModelBaseURL,
			APIKey:  cfg.ModelAPIKey,
			Model:   id,
			Azure:   cfg.ModelAzure,
		})
	}

	var primary model.LanguageModel = build(cfg.ModelID)
	if len(cfg.FallbackModels) > 0 {
		rest := make([]model.LanguageModel, 0, len(cfg.FallbackModels))
		for _, id := range cfg.FallbackModels {
			rest = append(rest, build(id))
		}
		primary = model.NewFallback(primary, rest...)
	}

	var repair model.LanguageModel
	if cfg.RepairModelID != "" && cfg.RepairModelID != cfg.ModelID {
		repair = build(cfg.RepairModelID)
	}
	return primary, repair
}
