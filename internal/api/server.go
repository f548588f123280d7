package api

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"phishguard/internal/canonical"
	"phishguard/internal/config"
	"phishguard/internal/models"
	"phishguard/internal/registry"
	"phishguard/internal/scheduler"
	"phishguard/internal/services"
)

type Server struct {
	config    *config.Config
	detector  *services.DetectorService
	pipeline  *services.PipelineService
	scheduler *scheduler.Scheduler
	registry  *registry.Registry
	history   *services.HistoryService // nil without a database
	export    *services.ExportService
	router    *gin.Engine
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FingerprintRequest asks for the derived identifiers of a URL. The URL is
// used for derivation only and never stored.
type FingerprintRequest struct {
	URL string `json:"url" binding:"required"`
}

type FingerprintResponse struct {
	Fingerprint string               `json:"fingerprint"`
	Prefix      string               `json:"prefix"`
	Features    models.FeatureVector `json:"features"`
}

// AnalyzeRequest is the one-shot detection input.
type AnalyzeRequest struct {
	URL string `json:"url" binding:"required"`
}

type RollbackResponse struct {
	Status string              `json:"status"`
	Model  models.ModelVersion `json:"model"`
}

func NewServer(cfg *config.Config, detector *services.DetectorService, pipeline *services.PipelineService, sched *scheduler.Scheduler, reg *registry.Registry, history *services.HistoryService) *Server {
	server := &Server{
		config:    cfg,
		detector:  detector,
		pipeline:  pipeline,
		scheduler: sched,
		registry:  reg,
		history:   history,
		export:    services.NewExportService(),
	}
	server.setupRouter()
	return server
}

func (s *Server) setupRouter() {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	// Middleware
	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	s.router.Use(cors.New(corsConfig))

	s.router.Use(s.rateLimitMiddleware())

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.healthCheck)
		v1.POST("/fingerprint", s.fingerprintURL)
		v1.POST("/detect", s.detect)
		v1.POST("/analyze", s.analyzeURL)
		v1.POST("/reload", s.reloadPipeline)

		v1.GET("/scheduler/status", s.schedulerStatus)
		v1.POST("/scheduler/pause", s.pauseScheduler)
		v1.POST("/scheduler/resume", s.resumeScheduler)

		v1.GET("/models/current", s.currentModel)
		v1.GET("/models/history", s.modelHistory)
		v1.GET("/models/metrics-comparison", s.metricsComparison)
		v1.POST("/models/rollback/:id", s.rollbackModel)
		v1.DELETE("/models/cleanup", s.cleanupModels)

		v1.GET("/history", s.getHistory)
		v1.GET("/history/stats", s.getHistoryStats)
		v1.GET("/history/export", s.exportHistory)
		v1.GET("/stats", s.getStats)
	}

	// Legacy routes for clients that predate the /api/v1 prefix.
	s.router.GET("/health", s.healthCheck)
	s.router.POST("/fingerprint", s.fingerprintURL)
	s.router.POST("/detect", s.detect)
	s.router.POST("/reload", s.reloadPipeline)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   "1.0.0",
	})
}

func (s *Server) fingerprintURL(c *gin.Context) {
	var req FingerprintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if len(req.URL) > s.config.MaxURLLength {
		s.respondError(c, http.StatusBadRequest, "URL too long", "URL exceeds maximum length limit")
		return
	}

	fp, prefix, features, err := s.detector.FingerprintURL(req.URL)
	if err != nil {
		if errors.Is(err, canonical.ErrMalformedURL) {
			s.respondError(c, http.StatusBadRequest, "Malformed URL", err.Error())
			return
		}
		s.respondError(c, http.StatusInternalServerError, "Fingerprinting failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, FingerprintResponse{
		Fingerprint: fp,
		Prefix:      prefix,
		Features:    features,
	})
}

func (s *Server) detect(c *gin.Context) {
	var req services.DetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}

	verdict, err := s.detector.Detect(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPrefix) {
			s.respondError(c, http.StatusBadRequest, "Invalid prefix", err.Error())
			return
		}
		s.respondError(c, http.StatusInternalServerError, "Detection failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, verdict)
}

func (s *Server) analyzeURL(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, "Invalid request", err.Error())
		return
	}
	if len(req.URL) > s.config.MaxURLLength {
		s.respondError(c, http.StatusBadRequest, "URL too long", "URL exceeds maximum length limit")
		return
	}

	verdict, err := s.detector.Analyze(c.Request.Context(), req.URL)
	if err != nil {
		if errors.Is(err, canonical.ErrMalformedURL) {
			s.respondError(c, http.StatusBadRequest, "Malformed URL", err.Error())
			return
		}
		s.respondError(c, http.StatusInternalServerError, "Analysis failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, verdict)
}

// reloadPipeline runs the full sync+train pipeline synchronously and
// returns its per-step status.
func (s *Server) reloadPipeline(c *gin.Context) {
	status := s.pipeline.Run(c.Request.Context())
	c.JSON(http.StatusOK, status)
}

func (s *Server) schedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.scheduler.Status())
}

func (s *Server) pauseScheduler(c *gin.Context) {
	s.scheduler.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeScheduler(c *gin.Context) {
	s.scheduler.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) currentModel(c *gin.Context) {
	snap := s.registry.Current()
	if snap == nil {
		c.JSON(http.StatusOK, gin.H{"status": "not_loaded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "loaded",
		"currentModel": snap.Version,
	})
}

func (s *Server) modelHistory(c *gin.Context) {
	limitStr := c.DefaultQuery("limit", "10")
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > 1000 {
		limit = 10
	}

	history := s.registry.History(limit)
	c.JSON(http.StatusOK, gin.H{
		"totalModels": len(history),
		"models":      history,
	})
}

func (s *Server) metricsComparison(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.MetricsComparison())
}

func (s *Server) rollbackModel(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		s.respondError(c, http.StatusBadRequest, "Model ID required", "Missing id parameter")
		return
	}

	version, err := s.registry.Rollback(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrVersionNotFound) {
			s.respondError(c, http.StatusNotFound, "Model not found", err.Error())
			return
		}
		s.respondError(c, http.StatusInternalServerError, "Rollback failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, RollbackResponse{Status: "success", Model: version})
}

func (s *Server) cleanupModels(c *gin.Context) {
	keepStr := c.DefaultQuery("keep", strconv.Itoa(s.config.ModelKeepCount))
	keep, err := strconv.Atoi(keepStr)
	if err != nil || keep < 0 {
		s.respondError(c, http.StatusBadRequest, "Invalid keep count", "keep must be a non-negative integer")
		return
	}

	deleted, err := s.registry.Prune(c.Request.Context(), keep)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "Cleanup failed", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"deleted": deleted,
		"kept":    keep,
	})
}

func (s *Server) getHistory(c *gin.Context) {
	if s.history == nil {
		s.respondError(c, http.StatusServiceUnavailable, "History unavailable", "No database configured")
		return
	}

	filter := services.HistoryFilter{
		OnlyThreats: c.Query("onlyThreats") == "true",
		Method:      c.Query("method"),
		Prefix:      c.Query("prefix"),
		SortOrder:   c.Query("sortOrder"),
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.DefaultQuery("offset", "0")); err == nil {
		filter.Offset = offset
	}

	resp, err := s.history.GetHistory(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "Failed to retrieve history", err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getHistoryStats(c *gin.Context) {
	if s.history == nil {
		s.respondError(c, http.StatusServiceUnavailable, "History unavailable", "No database configured")
		return
	}

	stats, err := s.history.GetStats(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "Failed to retrieve stats", err.Error())
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) exportHistory(c *gin.Context) {
	if s.history == nil {
		s.respondError(c, http.StatusServiceUnavailable, "History unavailable", "No database configured")
		return
	}

	req := services.ExportRequest{
		Format:      services.ExportFormat(c.DefaultQuery("format", "csv")),
		OnlyThreats: c.Query("onlyThreats") == "true",
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "1000")); err == nil {
		req.Limit = limit
	}
	if err := s.export.ValidateExportRequest(req); err != nil {
		s.respondError(c, http.StatusBadRequest, "Invalid export request", err.Error())
		return
	}

	page, err := s.history.GetHistory(c.Request.Context(), services.HistoryFilter{
		OnlyThreats: req.OnlyThreats,
		Limit:       req.Limit,
	})
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "Failed to retrieve history", err.Error())
		return
	}

	resp, err := s.export.ExportVerdicts(page.Verdicts, req)
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "Export failed", err.Error())
		return
	}

	c.Header("Content-Disposition", "attachment; filename="+resp.Filename)
	c.Data(http.StatusOK, resp.ContentType, []byte(resp.Content))
}

func (s *Server) getStats(c *gin.Context) {
	if s.history == nil {
		s.respondError(c, http.StatusServiceUnavailable, "Stats unavailable", "No database configured")
		return
	}

	stats, err := s.history.GetStats(c.Request.Context())
	if err != nil {
		s.respondError(c, http.StatusInternalServerError, "Failed to retrieve stats", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"detections": stats,
		"scheduler":  s.scheduler.Status(),
		"models":     len(s.registry.History(0)),
	})
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	// Simplified per-IP rate limiting - in production use Redis or similar.
	// Handlers run concurrently, so the map needs a lock.
	var mu sync.Mutex
	clients := make(map[string][]time.Time)

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		now := time.Now()

		mu.Lock()
		if requests, exists := clients[clientIP]; exists {
			var validRequests []time.Time
			for _, reqTime := range requests {
				if now.Sub(reqTime) < time.Minute {
					validRequests = append(validRequests, reqTime)
				}
			}
			clients[clientIP] = validRequests
		}

		if len(clients[clientIP]) >= s.config.RateLimit {
			mu.Unlock()
			s.respondError(c, http.StatusTooManyRequests, "Rate limit exceeded", "Too many requests, please try again later")
			c.Abort()
			return
		}

		clients[clientIP] = append(clients[clientIP], now)
		mu.Unlock()
		c.Next()
	}
}

func (s *Server) respondError(c *gin.Context, statusCode int, message string, details string) {
	c.JSON(statusCode, ErrorResponse{
		Error:   message,
		Code:    statusCode,
		Message: details,
	})
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Router exposes the underlying engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
