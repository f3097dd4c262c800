// Package api serves the registry and the promotion pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/pipeline"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/promote"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/registry"
	"github.com/danielpatrickdp/cluster-promote/go-controller/internal/selector"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest       = "bad_request"
	CodeMissingCandidate = "missing_partition_candidate"
	CodeTransition       = "transition_failure"
	CodeVerification     = "verification_failed"
	CodeNotFound         = "not_found"
	CodeUnavailable      = "unavailable"
	CodeInternal         = "internal"
)

// #region types
// Promoter runs selection and promotion for k partitions.
type Promoter interface {
	Promote(ctx context.Context, k int) (pipeline.PromoteResult, error)
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PromoteRequest is the body of POST /v1/promote.
type PromoteRequest struct {
	Partitions int `json:"partitions" binding:"required,gte=1"`
}

// PromoteResponse carries the promotion result, and the verification
// failure reason and code when the checks did not pass.
type PromoteResponse struct {
	pipeline.PromoteResult
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type handlers struct {
	reg      registry.Reader
	promoter Promoter
	logger   *slog.Logger
}
// #endregion types

// #region router
// NewRouter builds the HTTP routes. promoter may be nil, in which case
// POST /v1/promote answers 503.
func NewRouter(reg registry.Reader, promoter Promoter, logger *slog.Logger) *gin.Engine {
	h := &handlers{reg: reg, promoter: promoter, logger: logger}

	r := gin.New()
	r.Use(gin.Recovery(), h.logRequests)

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.GET("/families", h.listFamilies)
	v1.GET("/models", h.listModels)
	v1.GET("/runs", h.listRuns)
	v1.POST("/promote", h.promote)
	return r
}

func (h *handlers) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	h.logger.Debug("http request",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"status", c.Writer.Status(),
		"duration", time.Since(start),
	)
}
// #endregion router

// #region handlers
func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listFamilies(c *gin.Context) {
	families, err := h.reg.ListFamilies(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"families": families})
}

func (h *handlers) listModels(c *gin.Context) {
	versions, err := h.reg.ListLatestVersions(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

func (h *handlers) listRuns(c *gin.Context) {
	experiment := c.Query("experiment")
	if experiment == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "experiment query parameter is required", Code: CodeBadRequest})
		return
	}
	runs, err := h.reg.ListRuns(c.Request.Context(), experiment)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handlers) promote(c *gin.Context) {
	if h.promoter == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "promotion is not configured", Code: CodeUnavailable})
		return
	}
	var req PromoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeBadRequest})
		return
	}

	res, err := h.promoter.Promote(c.Request.Context(), req.Partitions)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, PromoteResponse{PromoteResult: res})
	case errors.Is(err, pipeline.ErrVerificationFailed):
		// stages were changed; report what happened alongside the failure
		c.JSON(http.StatusConflict, PromoteResponse{PromoteResult: res, Error: err.Error(), Code: CodeVerification})
	default:
		h.fail(c, err)
	}
}
// #endregion handlers

// #region errors
func (h *handlers) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, selector.ErrMissingPartitionCandidate):
		return http.StatusUnprocessableEntity, CodeMissingCandidate
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, promote.ErrTransitionFailure):
		return http.StatusInternalServerError, CodeTransition
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
// #endregion errors
