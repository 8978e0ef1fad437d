package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	app "github.com/ardylee-mml/adto3d/internal/application"
	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// FileStore хранилище загрузок и результатов, которое нужно HTTP API
type FileStore interface {
	port.FileStore
	SaveModified(data []byte) (string, error)
	ResolveOutput(rel string) (string, error)
	ResolveUpload(rel string) (string, error)
}

// MetricsHandler отдаёт метрики и учитывает запросы
type MetricsHandler interface {
	HTTPMetrics
	Handler() http.Handler
}

// Config параметры HTTP API
type Config struct {
	Addr            string
	AllowedOrigins  []string
	MaxUploadBytes  int64
	RateLimitRPS    float64
	RateLimitBurst  int
	DefaultMode     entity.ConversionMode
	ShutdownTimeout time.Duration
}

// Deps сервисы, которые обслуживает API; Metrics может быть nil
type Deps struct {
	Conversion *app.ConversionService
	Analysis   *app.AnalysisService
	Outfits    *app.OutfitService
	Files      FileStore
	OutfitList entity.OutfitTable
	Hub        *Hub
	Metrics    MetricsHandler
}

// Server HTTP API сервиса
type Server struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = entity.ModeCloud
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if deps.OutfitList == nil {
		deps.OutfitList = entity.DefaultOutfitTable()
	}
	return &Server{cfg: cfg, deps: deps, logger: logger.With(zap.String("component", "http"))}
}

// Router собирает gin-маршруты; фоновые горутины middleware живут до отмены ctx
func (s *Server) Router(ctx context.Context) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recovery(s.logger), requestLogger(s.logger, s.deps.Metrics))
	r.Use(cors.New(s.corsConfig()))

	r.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
	if s.deps.Hub != nil {
		r.GET("/ws", s.deps.Hub.ServeWS)
	}

	api := r.Group("/api")
	if s.cfg.RateLimitRPS > 0 {
		api.Use(rateLimiter(ctx, s.cfg.RateLimitRPS, max(s.cfg.RateLimitBurst, 1)))
	}
	{
		api.POST("/validate-image", s.handleValidate)
		api.POST("/analyze", s.handleAnalyze)
		api.POST("/convert", s.handleConvert)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:id", s.handleGetJob)
		api.POST("/outfit", s.handleOutfit)
		api.POST("/save-model", s.handleSaveModel)
		api.GET("/files/*path", s.handleFile)
		api.GET("/uploads/:filename", s.handleUpload)
	}

	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	if len(s.cfg.AllowedOrigins) == 0 || slices.Contains(s.cfg.AllowedOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.AllowedOrigins
	}
	return cfg
}

// Run слушает Addr до отмены ctx, затем плавно останавливается
func (s *Server) Run(ctx context.Context) error {
	routerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(routerCtx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		fail(c, http.StatusBadRequest, "invalid limit")
		return
	}
	jobs, err := s.deps.Conversion.Jobs(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "jobs": jobs})
}

func (s *Server) handleGetJob(c *gin.Context) {
	job, err := s.deps.Conversion.Job(c.Request.Context(), c.Param("id"))
	if errors.Is(err, entity.ErrJobNotFound) {
		fail(c, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "job": job})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

func isTrue(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
