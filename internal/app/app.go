package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hubrts/youtube-command-deck/internal/db"
	"github.com/hubrts/youtube-command-deck/internal/handlers"
	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/observability"
	"github.com/hubrts/youtube-command-deck/internal/platform/anthropic"
	"github.com/hubrts/youtube-command-deck/internal/platform/gcpspeech"
	"github.com/hubrts/youtube-command-deck/internal/platform/llm"
	"github.com/hubrts/youtube-command-deck/internal/platform/ollama"
	"github.com/hubrts/youtube-command-deck/internal/platform/openai"
	"github.com/hubrts/youtube-command-deck/internal/platform/ytdlp"
	"github.com/hubrts/youtube-command-deck/internal/realtime"
	"github.com/hubrts/youtube-command-deck/internal/realtime/bus"
	"github.com/hubrts/youtube-command-deck/internal/repos"
	"github.com/hubrts/youtube-command-deck/internal/server"
	"github.com/hubrts/youtube-command-deck/internal/services"
	"github.com/hubrts/youtube-command-deck/internal/utils"
)

type App struct {
	Log    *logger.Logger
	DB     *gorm.DB
	Router *gin.Engine
	Cfg    Config

	Hub      *realtime.Hub
	Bus      bus.Bus
	Registry *jobs.Registry

	maintenance  services.MaintenanceService
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

// busPublisher adapts the realtime bus to the job registry's publish hook.
type busPublisher struct {
	bus bus.Bus
	log *logger.Logger
}

func (p busPublisher) Publish(evt realtime.Event) {
	if err := p.bus.Publish(context.Background(), evt); err != nil {
		p.log.Warn("Event publish failed", "type", evt.Type, "error", err)
	}
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg := LoadConfig(log)
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Sync()
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "youtube-command-deck",
		Environment: logMode,
	})

	state, err := db.NewStateService(log, cfg.StateDSN, cfg.EmbedDim)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init state store: %w", err)
	}
	if err := state.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("state automigrate: %w", err)
	}
	theDB := state.DB()

	// Repos
	archiveRepo := repos.NewArchiveIndexRepo(theDB, log)
	metaRepo := repos.NewBotMetaRepo(theDB, log)
	qaHistoryRepo := repos.NewQAHistoryRepo(theDB, log)
	researchRepo := repos.NewResearchRepo(theDB, log)
	chunkRepo := repos.NewTranscriptChunkRepo(theDB, log, state.SemanticSearchAvailable())

	// Realtime
	hub := realtime.NewHub(log)
	eventBus, err := newBus(cfg, log)
	if err != nil {
		log.Warn("Realtime bus init failed, falling back to memory", "error", err)
		eventBus = bus.NewMemoryBus()
	}
	registry := jobs.NewRegistry(log, busPublisher{bus: eventBus, log: log})

	// Provider clients
	media := ytdlp.New(ytdlp.Config{
		BinPath:    cfg.YtdlpPath,
		StorageDir: cfg.StorageDir,
		Proxy:      cfg.YtdlpProxy,
		Cookies: ytdlp.CookieConfig{
			File:        cfg.CookiesFile,
			FromBrowser: cfg.CookiesFromBrowser,
		},
		MaxHeight:    cfg.MaxHeight,
		StuckTimeout: cfg.LiveStuckTimeout,
		SubLangPrefs: cfg.SubLangPrefs,
	}, log)

	localLLM := ollama.NewClient(log)
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		log.Warn("OpenAI client unavailable", "error", err)
		openaiClient = nil
	}
	claudeClient, err := anthropic.NewClient(log)
	if err != nil {
		log.Warn("Anthropic client unavailable", "error", err)
		claudeClient = nil
	}
	backends := services.NewBackends(log, localLLM, openaiClient, claudeClient)

	// Services
	runtimeState := services.NewRuntimeState()
	transcripts := services.NewTranscriptService(log, media, buildSTTChain(log, openaiClient), cfg.StorageDir)

	var openaiEmbed, ollamaEmbed llm.EmbeddingClient
	if openaiClient != nil {
		openaiEmbed = openaiClient
	}
	if localLLM != nil {
		ollamaEmbed = localLLM
	}
	embedder := services.NewEmbeddingService(log, openaiEmbed, ollamaEmbed)
	semantic := services.NewSemanticIndexService(log, chunkRepo, embedder)
	qa := services.NewQAService(log, backends, semantic)
	analysis := services.NewAnalysisService(log, backends)
	notes := services.NewNotesService(log, registry, archiveRepo, qaHistoryRepo, transcripts, qa, analysis, cfg.StorageDir)
	replay := services.NewReplayService(log, runtimeState, archiveRepo, media, cfg.StorageDir, cfg.PublicURLBase)
	live := services.NewLiveService(log, runtimeState, archiveRepo, media, replay, notes, transcripts, cfg.StorageDir, cfg.PublicURLBase)
	catalog := services.NewVideoCatalogService(log, archiveRepo, transcripts, runtimeState, registry, media, cfg.StorageDir, cfg.PublicURLBase)
	direct := services.NewDirectMediaService(log, archiveRepo, media, transcripts, catalog, live)
	library := services.NewLibraryService(log, archiveRepo, transcripts, cfg.StorageDir)
	research := services.NewResearchService(log, backends, researchRepo, media, transcripts)
	brew := services.NewBrewService(log, registry, research, researchRepo)
	researchCatalog := services.NewResearchCatalogService(log, researchRepo)
	componentTests := services.NewComponentTestService(log, registry)
	maintenance := services.NewMaintenanceService(log, archiveRepo, cfg.StorageDir)

	// Handlers
	runtimeHandler := handlers.NewRuntimeHandler(log, runtimeState, metaRepo, qaHistoryRepo, direct, cfg.WSPath, cfg.RetentionDays)
	router := server.NewRouter(server.RouterConfig{
		RuntimeHandler:        runtimeHandler,
		VideosHandler:         handlers.NewVideosHandler(log, catalog),
		NotesHandler:          handlers.NewNotesHandler(log, registry, notes),
		MediaHandler:          handlers.NewMediaHandler(log, library, direct),
		LiveHandler:           handlers.NewLiveHandler(log, live),
		ResearchHandler:       handlers.NewResearchHandler(log, registry, researchCatalog, brew),
		ComponentTestsHandler: handlers.NewComponentTestsHandler(log, registry, componentTests),
		WSHandler:             handlers.NewWSHandler(log, hub, registry, runtimeHandler),
		AllowedOrigins:        allowedOrigins(log),
	})

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Hub:          hub,
		Bus:          eventBus,
		Registry:     registry,
		maintenance:  maintenance,
		otelShutdown: otelShutdown,
	}, nil
}

func newBus(cfg Config, log *logger.Logger) (bus.Bus, error) {
	if cfg.RealtimeBus == "redis" {
		return bus.NewRedisBus(log)
	}
	return bus.NewMemoryBus(), nil
}

// buildSTTChain orders the speech-to-text providers per VIDEO_STT_BACKEND.
// Providers whose configuration is missing are skipped.
func buildSTTChain(log *logger.Logger, openaiClient *openai.Client) []llm.SpeechClient {
	backend := strings.ToLower(strings.TrimSpace(utils.GetEnv("VIDEO_STT_BACKEND", "auto", log)))

	var whisper, cloud, gcp llm.SpeechClient
	if c, err := openai.NewWhisperServerClient(log); err == nil {
		whisper = c
	}
	if openaiClient != nil {
		cloud = openaiClient
	}
	if c, err := gcpspeech.NewClient(context.Background(), log); err == nil {
		gcp = c
	} else {
		log.Info("GCP speech client unavailable", "error", err)
	}

	switch backend {
	case "whisper", "local":
		return []llm.SpeechClient{whisper}
	case "openai":
		return []llm.SpeechClient{cloud}
	case "gcp", "google":
		return []llm.SpeechClient{gcp}
	}
	return []llm.SpeechClient{whisper, gcp, cloud}
}

func allowedOrigins(log *logger.Logger) []string {
	raw := utils.GetEnv("CORS_ALLOWED_ORIGINS", "", log)
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Start launches the background workers: the bus-to-hub forwarder and the
// retention cleanup loop.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if err := a.Bus.StartForwarder(ctx, a.Hub.Publish); err != nil {
		a.Log.Warn("Event forwarder failed to start", "error", err)
	}
	if a.maintenance != nil {
		go a.maintenance.Run(ctx)
	}
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(a.Cfg.ServerAddr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
