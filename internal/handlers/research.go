package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/services"
	"github.com/hubrts/youtube-command-deck/internal/types"
)

type ResearchHandler struct {
	log      *logger.Logger
	registry *jobs.Registry
	catalog  services.ResearchCatalogService
	brew     services.BrewService
}

func NewResearchHandler(
	log *logger.Logger,
	registry *jobs.Registry,
	catalog services.ResearchCatalogService,
	brew services.BrewService,
) *ResearchHandler {
	return &ResearchHandler{
		log:      log.With("handler", "ResearchHandler"),
		registry: registry,
		catalog:  catalog,
		brew:     brew,
	}
}

// GET /api/researches
func (h *ResearchHandler) ListResearches(c *gin.Context) {
	items, err := h.catalog.ListRuns(c.Request.Context(), types.RunKindResearch)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, gin.H{"items": items})
}

// GET /api/knowledge_juices
func (h *ResearchHandler) ListKnowledgeJuices(c *gin.Context) {
	items, err := h.catalog.ListRuns(c.Request.Context(), types.RunKindKnowledgeJuice)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, gin.H{"items": items})
}

func (h *ResearchHandler) runDetail(c *gin.Context, kind, missingMsg string) {
	runID := strings.TrimSpace(c.Query("run_id"))
	if runID == "" {
		RespondBadRequest(c, "run_id is required")
		return
	}
	item, err := h.catalog.RunDetail(c.Request.Context(), runID, kind)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	if item == nil {
		RespondNotFound(c, missingMsg)
		return
	}
	RespondOK(c, gin.H{"item": item})
}

// GET /api/research?run_id=
func (h *ResearchHandler) GetResearch(c *gin.Context) {
	h.runDetail(c, types.RunKindResearch, "research not found")
}

// GET /api/knowledge_juice?run_id=
func (h *ResearchHandler) GetKnowledgeJuice(c *gin.Context) {
	h.runDetail(c, types.RunKindKnowledgeJuice, "knowledge juice not found")
}

type juiceRequest struct {
	Topic      string `json:"topic"`
	Goal       string `json:"goal"`
	PrivateRun bool   `json:"private_run"`
	Private    bool   `json:"private"`

	services.BrewConfigInput
}

func (r juiceRequest) topicText() string {
	topic := strings.TrimSpace(r.Topic)
	if topic == "" {
		topic = strings.TrimSpace(r.Goal)
	}
	return topic
}

func (r juiceRequest) privateRun() bool {
	return r.PrivateRun || r.Private
}

// POST /api/knowledge_juice {topic, private_run?}
func (h *ResearchHandler) RunKnowledgeJuice(c *gin.Context) {
	started := time.Now()
	var body juiceRequest
	_ = c.ShouldBindJSON(&body)
	topic := body.topicText()
	if topic == "" {
		RespondBadRequest(c, "topic is required")
		return
	}
	out, err := h.brew.RunSync(c.Request.Context(), topic, body.privateRun())
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, flatten(out, gin.H{"elapsed_sec": elapsedSince(started)}))
}

// POST /api/knowledge_juice/start {topic, private_run?, config...}
func (h *ResearchHandler) StartKnowledgeJuice(c *gin.Context) {
	started := time.Now()
	var body juiceRequest
	_ = c.ShouldBindJSON(&body)
	topic := body.topicText()
	if topic == "" {
		RespondBadRequest(c, "topic is required")
		return
	}
	job, err := h.brew.StartJob(topic, body.privateRun(), body.BrewConfigInput)
	if errors.Is(err, services.ErrTopicRequired) {
		RespondBadRequest(c, "topic is required")
		return
	}
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, gin.H{"elapsed_sec": elapsedSince(started), "item": job})
}

// GET /api/knowledge_juice/jobs?active_only=
func (h *ResearchHandler) ListJuiceJobs(c *gin.Context) {
	RespondOK(c, gin.H{"items": h.registry.ListBrewJobs(boolParam(c, "active_only"))})
}

// GET /api/knowledge_juice/job?job_id=
func (h *ResearchHandler) GetJuiceJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Query("job_id"))
	if jobID == "" {
		RespondBadRequest(c, "job_id is required")
		return
	}
	job, ok := h.registry.GetBrewJob(jobID)
	if !ok {
		RespondNotFound(c, "job not found")
		return
	}
	RespondOK(c, gin.H{"item": job})
}
