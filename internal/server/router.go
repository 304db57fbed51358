package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/hubrts/youtube-command-deck/internal/handlers"
)

type RouterConfig struct {
	RuntimeHandler        *handlers.RuntimeHandler
	VideosHandler         *handlers.VideosHandler
	NotesHandler          *handlers.NotesHandler
	MediaHandler          *handlers.MediaHandler
	LiveHandler           *handlers.LiveHandler
	ResearchHandler       *handlers.ResearchHandler
	ComponentTestsHandler *handlers.ComponentTestsHandler
	WSHandler             *handlers.WSHandler

	AllowedOrigins []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("youtube-command-deck"))

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Content-Type", "X-Requested-With"}
	router.Use(cors.New(corsCfg))

	router.GET("/healthcheck", handlers.HealthCheck)
	router.GET("/ws", cfg.WSHandler.Stream)

	api := router.Group("/api")
	{
		// Runtime and vault
		api.GET("/runtime", cfg.RuntimeHandler.GetRuntime)
		api.GET("/videos", cfg.VideosHandler.ListVideos)
		api.GET("/video", cfg.VideosHandler.GetVideo)

		// Notes
		api.GET("/analyze_progress", cfg.NotesHandler.GetAnalyzeProgress)
		api.POST("/analyze", cfg.NotesHandler.Analyze)
		api.POST("/ask", cfg.NotesHandler.Ask)

		// Transcript library
		api.POST("/save_transcript", cfg.MediaHandler.SaveTranscript)
		api.POST("/clear_history", cfg.MediaHandler.ClearHistory)

		// Direct media
		api.POST("/direct_video", cfg.MediaHandler.DirectVideo)
		api.POST("/direct_audio", cfg.MediaHandler.DirectAudio)
		api.POST("/direct_save_server", cfg.MediaHandler.DirectSaveServer)

		// Live recordings
		api.POST("/live/start", cfg.LiveHandler.StartLive)
		api.POST("/live/stop", cfg.LiveHandler.StopLive)

		// Research and Knowledge Juice
		api.GET("/researches", cfg.ResearchHandler.ListResearches)
		api.GET("/research", cfg.ResearchHandler.GetResearch)
		api.GET("/knowledge_juices", cfg.ResearchHandler.ListKnowledgeJuices)
		api.GET("/knowledge_juice", cfg.ResearchHandler.GetKnowledgeJuice)
		api.POST("/knowledge_juice", cfg.ResearchHandler.RunKnowledgeJuice)
		api.POST("/knowledge_juice/start", cfg.ResearchHandler.StartKnowledgeJuice)
		api.GET("/knowledge_juice/jobs", cfg.ResearchHandler.ListJuiceJobs)
		api.GET("/knowledge_juice/job", cfg.ResearchHandler.GetJuiceJob)

		// Component tests
		api.GET("/component_tests/jobs", cfg.ComponentTestsHandler.ListJobs)
		api.GET("/component_tests/job", cfg.ComponentTestsHandler.GetJob)
		api.POST("/component_tests/start", cfg.ComponentTestsHandler.StartRun)
	}

	return router
}
