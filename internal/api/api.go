// Package api exposes the service layer over HTTP with gin.
package api

import (
	"errors"
	"expvar"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labos/docs/schema/openapi"
	"labos/internal/core"
	"labos/pkg/domain"
)

// Config wires the router to the service layer.
type Config struct {
	Service *core.Service
	// Registry serves /metrics when set.
	Registry *prometheus.Registry
	Logger   domain.Logger
}

// Handler carries per-request dependencies.
type Handler struct {
	service *core.Service
	logger  domain.Logger
}

// NewRouter builds the full route table.
func NewRouter(cfg Config) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = domain.NopLogger{}
	}
	h := &Handler{service: cfg.Service, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", h.Healthz)
	router.GET("/openapi.json", h.OpenAPI)
	router.GET("/debug/vars", gin.WrapH(expvar.Handler()))
	if cfg.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/modules", h.ListModules)
	v1.GET("/experiments", h.ListExperiments)
	v1.POST("/experiments", h.CreateExperiment)
	v1.GET("/experiments/:id", h.GetExperiment)
	v1.GET("/datasets", h.ListDatasets)
	v1.POST("/datasets", h.RegisterDataset)
	v1.GET("/datasets/:id/provenance", h.DatasetProvenance)
	v1.GET("/jobs", h.ListJobs)
	v1.GET("/jobs/:id", h.GetJob)
	v1.POST("/jobs", h.RunJob)
	v1.GET("/audit/verify", h.VerifyAudit)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return router
}

// statusFor maps the typed domain errors to HTTP statuses.
func statusFor(err error) int {
	var notFound domain.NotFoundError
	var validation domain.ValidationError
	var violation domain.RuleViolationError
	var execution domain.ModuleExecutionError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &violation), errors.As(err, &execution):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// OpenAPI serves the embedded API document.
func (h *Handler) OpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", openapi.Spec())
}

type moduleView struct {
	Key         string   `json:"key"`
	Version     string   `json:"version"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Operations  []string `json:"operations"`
}

// ListModules returns the registered module descriptors.
func (h *Handler) ListModules(c *gin.Context) {
	descriptors := h.service.Modules().List()
	views := make([]moduleView, 0, len(descriptors))
	for _, d := range descriptors {
		ops := make([]string, 0, len(d.Operations))
		for name := range d.Operations {
			ops = append(ops, name)
		}
		sort.Strings(ops)
		views = append(views, moduleView{
			Key:         d.Key,
			Version:     d.Version,
			Title:       d.Title,
			Description: d.Description,
			Operations:  ops,
		})
	}
	c.JSON(http.StatusOK, views)
}

// ListExperiments returns every experiment record.
func (h *Handler) ListExperiments(c *gin.Context) {
	experiments, err := h.service.ListExperiments(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, experiments)
}

// CreateExperiment registers a new experiment.
func (h *Handler) CreateExperiment(c *gin.Context) {
	var input struct {
		Title   string   `json:"title"`
		Purpose string   `json:"purpose"`
		Owner   string   `json:"owner"`
		Status  string   `json:"status"`
		Tags    []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	exp, res, err := h.service.CreateExperiment(c.Request.Context(), core.Experiment{
		Title:   input.Title,
		Purpose: input.Purpose,
		Owner:   input.Owner,
		Status:  domain.ExperimentStatus(input.Status),
		Tags:    input.Tags,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"experiment": exp, "warnings": warningMessages(res)})
}

// GetExperiment fetches one experiment by id.
func (h *Handler) GetExperiment(c *gin.Context) {
	exp, err := h.service.GetExperiment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, exp)
}

// ListDatasets returns every dataset reference.
func (h *Handler) ListDatasets(c *gin.Context) {
	datasets, err := h.service.ListDatasets(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, datasets)
}

// RegisterDataset records a new dataset reference.
func (h *Handler) RegisterDataset(c *gin.Context) {
	var input struct {
		Label string   `json:"label"`
		Owner string   `json:"owner"`
		Type  string   `json:"type"`
		URI   string   `json:"uri"`
		Tags  []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ds, res, err := h.service.RegisterDataset(c.Request.Context(), core.DatasetRef{
		Label: input.Label,
		Owner: input.Owner,
		Type:  domain.DatasetType(input.Type),
		URI:   input.URI,
		Tags:  input.Tags,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"dataset": ds, "warnings": warningMessages(res)})
}

// DatasetProvenance returns the audit trail touching one dataset.
func (h *Handler) DatasetProvenance(c *gin.Context) {
	summary, err := h.service.Provenance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListJobs returns every job record.
func (h *Handler) ListJobs(c *gin.Context) {
	jobs, err := h.service.ListJobs(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobs)
}

// GetJob fetches one job by id.
func (h *Handler) GetJob(c *gin.Context) {
	job, err := h.service.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// RunJob executes a module operation with full lineage and returns the
// workflow result.
func (h *Handler) RunJob(c *gin.Context) {
	var input struct {
		ModuleKey       string         `json:"module_key"`
		Operation       string         `json:"operation"`
		Params          map[string]any `json:"params"`
		Actor           string         `json:"actor"`
		ExperimentID    string         `json:"experiment_id"`
		ExperimentTitle string         `json:"experiment_title"`
		ExperimentOwner string         `json:"experiment_owner"`
		DatasetsIn      []string       `json:"datasets_in"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.service.RunModuleJob(c.Request.Context(), core.RunModuleRequest{
		ModuleKey:       input.ModuleKey,
		Operation:       input.Operation,
		Params:          input.Params,
		Actor:           input.Actor,
		ExperimentID:    input.ExperimentID,
		ExperimentTitle: input.ExperimentTitle,
		ExperimentOwner: input.ExperimentOwner,
		DatasetsIn:      input.DatasetsIn,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// VerifyAudit replays the chain, optionally scoped to ?day=YYYY-MM-DD.
func (h *Handler) VerifyAudit(c *gin.Context) {
	results, err := h.service.VerifyAudit(c.Request.Context(), strings.TrimSpace(c.Query("day")))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// warningMessages surfaces warn-severity rule violations to API
// clients; blocking ones already failed the operation.
func warningMessages(res core.Result) []string {
	messages := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		if v.Severity == domain.SeverityWarn {
			messages = append(messages, v.Message)
		}
	}
	return messages
}
