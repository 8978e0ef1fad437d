package container

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"

	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/config"
	"github.com/ardylee-mml/adto3d/internal/api/rest"
	"github.com/ardylee-mml/adto3d/internal/api/telegram"
	app "github.com/ardylee-mml/adto3d/internal/application"
	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/blender"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/describer"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/masterpiece"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/mesh"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/metrics"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/storage"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/vision"
)

// MetricsNamespace префикс всех метрик сервиса
const MetricsNamespace = "adto3d"

// Container собирает сервисы приложения из конфига
type Container struct {
	Config  *config.Config
	Logger  *zap.Logger
	Files   *storage.DiskFileStore
	Jobs    port.JobRepository
	Metrics *metrics.Collector
	Hub     *rest.Hub
	Outfits entity.OutfitTable

	// Cloud nil, если не задан токен облачного сервиса
	Cloud *masterpiece.Client
	// Blender nil, если не задан BLENDER_PATH
	Blender *blender.Runner

	UserService       *app.UserService
	AnalysisService   *app.AnalysisService
	ConversionService *app.ConversionService
	OutfitService     *app.OutfitService

	closers []io.Closer
}

func New(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{Config: cfg, Logger: logger}

	outfits, err := config.LoadOutfitTable(cfg.OutfitConfigPath)
	if err != nil {
		return nil, err
	}
	c.Outfits = outfits

	c.Files, err = storage.NewDiskFileStore(cfg.UploadDir, cfg.OutputDir)
	if err != nil {
		return nil, err
	}

	switch cfg.JobStore {
	case "sqlite":
		repo, err := storage.OpenSQLiteJobRepository(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		c.Jobs = repo
		c.closers = append(c.closers, repo)
	default:
		c.Jobs = storage.NewMemoryJobRepository()
	}

	c.Metrics = metrics.NewCollector(MetricsNamespace, logger)
	c.Hub = rest.NewHub(originChecker(cfg.AllowedOrigins), logger)

	if cfg.BlenderPath != "" {
		c.Blender = blender.NewRunner(cfg.BlenderPath, cfg.BlenderTimeout, logger)
	}
	if cfg.MasterpieceAPIKey != "" {
		c.Cloud = masterpiece.NewClient(cfg.MasterpieceBaseURL, cfg.MasterpieceAPIKey, nil, logger)
	}

	var desc port.PromptDescriber
	if cfg.DeepSeekAPIKey != "" {
		desc = describer.NewChatDescriber(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.DeepSeekModel, logger)
	}

	c.AnalysisService = app.NewAnalysisService(
		vision.NewValidator(entity.DefaultRequirements(), logger),
		vision.NewAnalyzer(logger),
		desc,
		c.Metrics,
		logger,
	)

	var decimator port.Decimator
	if c.Blender != nil {
		decimator = c.Blender
	}
	processor := mesh.NewOutfitProcessor(outfits, decimator, logger)

	var generator port.ModelGenerator = mesh.NewPrimitiveGenerator(logger)
	if cfg.Generator == "blender" {
		if c.Blender == nil {
			return nil, errors.New("blender generator requires BLENDER_PATH")
		}
		generator = c.Blender
	}

	deps := app.ConversionDeps{
		Jobs:      c.Jobs,
		Files:     c.Files,
		Analysis:  c.AnalysisService,
		Generator: generator,
		Preview:   vision.NewThumbnailer(vision.DefaultThumbnailSize),
		Outfits:   processor,
		Notifier:  c.Hub,
		Metrics:   c.Metrics,
	}
	if c.Cloud != nil {
		deps.Cloud = c.Cloud
		deps.Downloader = masterpiece.NewDownloader(nil, int(cfg.DownloadRetries), logger)
	}

	c.ConversionService = app.NewConversionService(deps, app.ConversionConfig{
		PublicBaseURL: cfg.PublicBaseURL,
		PollInterval:  cfg.PollInterval,
		PollTimeout:   cfg.PollTimeout,
		MaxConcurrent: int(cfg.MaxConcurrentJobs),
	}, logger)

	c.OutfitService = app.NewOutfitService(processor, c.Files, c.Metrics, logger)
	c.UserService = app.NewUserService(storage.NewMemoryUserRepository(), outfits)

	logger.Info("container ready",
		zap.String("job_store", cfg.JobStore),
		zap.String("generator", cfg.Generator),
		zap.String("analyzer", vision.Backend),
		zap.Bool("cloud", c.Cloud != nil),
		zap.Bool("blender", c.Blender != nil),
		zap.Bool("describer", desc != nil),
	)

	return c, nil
}

// HTTPServer HTTP API поверх сервисов контейнера
func (c *Container) HTTPServer() *rest.Server {
	cfg := c.Config
	return rest.NewServer(rest.Config{
		Addr:            cfg.ListenAddr,
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxUploadBytes:  cfg.MaxUploadBytes(),
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
		DefaultMode:     cfg.DefaultMode,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, rest.Deps{
		Conversion: c.ConversionService,
		Analysis:   c.AnalysisService,
		Outfits:    c.OutfitService,
		Files:      c.Files,
		OutfitList: c.Outfits,
		Hub:        c.Hub,
		Metrics:    c.Metrics,
	}, c.Logger)
}

// Bot Telegram-бот; без облачного клиента работает в локальном режиме
func (c *Container) Bot() (*telegram.Bot, error) {
	if c.Config.TelegramToken == "" {
		return nil, errors.New("TELEGRAM_TOKEN is required")
	}
	mode := entity.ModeLocal
	if c.Cloud != nil && c.Config.DefaultMode == entity.ModeCloud {
		mode = entity.ModeCloud
	}
	return telegram.NewBot(c.Config.TelegramToken, telegram.Deps{
		Users:      c.UserService,
		Conversion: c.ConversionService,
		Files:      c.Files,
		Outfits:    c.Outfits,
		Mode:       mode,
	}, c.Logger)
}

// Close освобождает хранилища
func (c *Container) Close() error {
	var errs []error
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
	}
	return errors.Join(errs...)
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, origin)
	}
}
