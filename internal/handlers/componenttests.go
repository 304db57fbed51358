package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hubrts/youtube-command-deck/internal/jobs"
	"github.com/hubrts/youtube-command-deck/internal/logger"
	"github.com/hubrts/youtube-command-deck/internal/services"
)

type ComponentTestsHandler struct {
	log      *logger.Logger
	registry *jobs.Registry
	tests    services.ComponentTestService
}

func NewComponentTestsHandler(log *logger.Logger, registry *jobs.Registry, tests services.ComponentTestService) *ComponentTestsHandler {
	return &ComponentTestsHandler{
		log:      log.With("handler", "ComponentTestsHandler"),
		registry: registry,
		tests:    tests,
	}
}

// GET /api/component_tests/jobs?active_only=
func (h *ComponentTestsHandler) ListJobs(c *gin.Context) {
	RespondOK(c, gin.H{"items": h.registry.ListComponentJobs(boolParam(c, "active_only"))})
}

// GET /api/component_tests/job?job_id=
func (h *ComponentTestsHandler) GetJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Query("job_id"))
	if jobID == "" {
		RespondBadRequest(c, "job_id is required")
		return
	}
	job, ok := h.registry.GetComponentJob(jobID)
	if !ok {
		RespondNotFound(c, "job not found")
		return
	}
	RespondOK(c, gin.H{"item": job})
}

// POST /api/component_tests/start {component}
func (h *ComponentTestsHandler) StartRun(c *gin.Context) {
	started := time.Now()
	var body struct {
		Component string `json:"component"`
	}
	_ = c.ShouldBindJSON(&body)
	component := strings.TrimSpace(body.Component)
	if component == "" {
		component = "all"
	}
	job, err := h.tests.StartRun(component)
	if err != nil {
		RespondServerError(c, err)
		return
	}
	RespondOK(c, gin.H{"elapsed_sec": elapsedSince(started), "item": job})
}
