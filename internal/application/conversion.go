package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

var (
	// ErrCloudUnavailable облачный режим не настроен
	ErrCloudUnavailable = errors.New("cloud conversion is not configured")
	// ErrNoArtifacts облачный сервис завершил задачу без файлов
	ErrNoArtifacts = errors.New("conversion finished without artifacts")
)

// Имена файлов артефактов относительно <name>/
var artifactFiles = []struct {
	kind   string
	suffix string
}{
	{entity.OutputGLB, ".glb"},
	{entity.OutputFBX, ".fbx"},
	{entity.OutputUSDZ, ".usdz"},
	{entity.OutputThumbnail, "_preview.png"},
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ConversionRequest входные данные задачи
type ConversionRequest struct {
	Name   string // базовое имя результата, по умолчанию имя загрузки
	Upload string // имя файла, возвращённое FileStore.SaveUpload
	Mode   entity.ConversionMode
	Outfit entity.OutfitCategory
}

// ConversionConfig параметры оркестратора
type ConversionConfig struct {
	PublicBaseURL string
	PollInterval  time.Duration
	PollTimeout   time.Duration
	MaxConcurrent int
}

// ConversionDeps зависимости оркестратора; Cloud, Downloader, Outfits,
// Preview, Notifier и Metrics необязательны.
type ConversionDeps struct {
	Jobs       port.JobRepository
	Files      port.FileStore
	Analysis   *AnalysisService
	Generator  port.ModelGenerator
	Preview    port.PreviewRenderer
	Cloud      port.CloudConverter
	Downloader port.ArtifactDownloader
	Outfits    port.OutfitProcessor
	Notifier   port.ProgressNotifier
	Metrics    Metrics
}

// ConversionService ведёт задачу от загрузки до готовых файлов модели
type ConversionService struct {
	deps   ConversionDeps
	cfg    ConversionConfig
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewConversionService создаёт оркестратор
func NewConversionService(deps ConversionDeps, cfg ConversionConfig, logger *zap.Logger) *ConversionService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base, cancel := context.WithCancel(context.Background())
	return &ConversionService{
		deps:   deps,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		base:   base,
		cancel: cancel,
		logger: logger.With(zap.String("component", "conversion")),
	}
}

// Job возвращает текущее состояние задачи
func (s *ConversionService) Job(ctx context.Context, id string) (*entity.Job, error) {
	return s.deps.Jobs.Get(ctx, id)
}

// Jobs возвращает последние задачи
func (s *ConversionService) Jobs(ctx context.Context, limit int) ([]*entity.Job, error) {
	return s.deps.Jobs.List(ctx, limit)
}

// Run выполняет преобразование синхронно. Ошибка конвейера
// также записана в задачу со статусом failed.
func (s *ConversionService) Run(ctx context.Context, req ConversionRequest) (*entity.Job, error) {
	job, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.finish(ctx, job, err)
		return job, err
	}
	defer s.sem.Release(1)

	err = s.process(ctx, job, req)
	return job, err
}

// Start ставит задачу в очередь и возвращает её сразу в статусе queued.
// Одновременно выполняется не больше MaxConcurrent задач.
func (s *ConversionService) Start(ctx context.Context, req ConversionRequest) (*entity.Job, error) {
	job, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}
	snapshot := job.Clone()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(s.base, 1); err != nil {
			s.finish(s.base, job, err)
			return
		}
		defer s.sem.Release(1)
		_ = s.process(s.base, job, req)
	}()

	return snapshot, nil
}

// Wait ждёт фоновые задачи; по истечении ctx отменяет оставшиеся
func (s *ConversionService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}

func (s *ConversionService) create(ctx context.Context, req ConversionRequest) (*entity.Job, error) {
	if req.Upload == "" {
		return nil, errors.New("upload is required")
	}
	if req.Mode != entity.ModeLocal && req.Mode != entity.ModeCloud {
		return nil, fmt.Errorf("unknown conversion mode %q", req.Mode)
	}
	if req.Mode == entity.ModeCloud && (s.deps.Cloud == nil || s.deps.Downloader == nil) {
		return nil, ErrCloudUnavailable
	}
	if req.Outfit != "" && s.deps.Outfits == nil {
		return nil, errors.New("outfit processing is not configured")
	}

	id := uuid.NewString()
	name, err := s.claimName(outputName(req.Name, req.Upload, id), id)
	if err != nil {
		return nil, err
	}

	job := entity.NewJob(id, name, req.Mode, req.Outfit)
	if err := s.save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *ConversionService) process(ctx context.Context, job *entity.Job, req ConversionRequest) error {
	start := time.Now()
	s.deps.Metrics.JobStarted()

	log := s.logger.With(zap.String("job_id", job.ID), zap.String("name", job.Name), zap.String("mode", string(job.Mode)))
	log.Info("conversion started")

	err := s.pipeline(ctx, job, req, log)
	s.finish(ctx, job, err)
	s.deps.Metrics.JobFinished(string(job.Mode), string(job.Status), time.Since(start))

	if err != nil {
		log.Error("conversion failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return err
	}
	log.Info("conversion completed", zap.Duration("elapsed", time.Since(start)), zap.Any("outputs", job.Outputs))
	return nil
}

func (s *ConversionService) pipeline(ctx context.Context, job *entity.Job, req ConversionRequest, log *zap.Logger) error {
	imagePath := s.deps.Files.UploadPath(req.Upload)
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}

	s.update(ctx, job, entity.JobValidating, "Validating image")
	if err := s.deps.Analysis.Check(ctx, data); err != nil {
		return err
	}

	dir, err := s.deps.Files.OutputDir(job.Name)
	if err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	s.update(ctx, job, entity.JobAnalyzing, "Analyzing shape")
	out, err := s.deps.Analysis.Analyze(ctx, data, false)
	switch {
	case err == nil:
		job.Analysis = out.Analysis
	case job.Mode == entity.ModeLocal:
		return fmt.Errorf("analyze: %w", err)
	default:
		log.Warn("shape analysis failed, continuing with cloud conversion", zap.Error(err))
	}

	var glb string
	if job.Mode == entity.ModeLocal {
		glb, err = s.generateLocal(ctx, job, data, imagePath, dir, log)
	} else {
		glb, err = s.convertCloud(ctx, job, req, dir)
	}
	if err != nil {
		return err
	}

	if job.Outfit != "" {
		s.update(ctx, job, entity.JobPostProcessing, fmt.Sprintf("Adapting model for %s", job.Outfit))
		file := job.Name + "_" + string(job.Outfit) + ".glb"
		report, err := s.deps.Outfits.Process(ctx, glb, filepath.Join(dir, file), job.Outfit)
		if err != nil {
			return fmt.Errorf("outfit: %w", err)
		}
		s.deps.Metrics.RecordOutfit(string(job.Outfit), report.Valid)
		job.Report = report
		job.AddOutput(entity.OutputOutfit, s.deps.Files.OutputURL(job.Name, file))
	}
	return nil
}

func (s *ConversionService) generateLocal(ctx context.Context, job *entity.Job, data []byte, imagePath, dir string, log *zap.Logger) (string, error) {
	if s.deps.Generator == nil {
		return "", errors.New("local generator is not configured")
	}
	s.deps.Analysis.Describe(ctx, job.Analysis)

	s.update(ctx, job, entity.JobGenerating, "Generating 3D model")
	glb := filepath.Join(dir, job.Name+".glb")
	err := s.deps.Generator.Generate(ctx, port.GenerateRequest{
		Analysis:   job.Analysis,
		ImagePath:  imagePath,
		OutputPath: glb,
	})
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	job.AddOutput(entity.OutputGLB, s.deps.Files.OutputURL(job.Name, job.Name+".glb"))

	if s.deps.Preview != nil {
		file := job.Name + "_preview.png"
		thumb, err := s.deps.Preview.Thumbnail(data)
		if err == nil {
			err = os.WriteFile(filepath.Join(dir, file), thumb, 0o644)
		}
		if err != nil {
			log.Warn("preview failed", zap.Error(err))
		} else {
			job.AddOutput(entity.OutputThumbnail, s.deps.Files.OutputURL(job.Name, file))
		}
	}
	return glb, nil
}

func (s *ConversionService) convertCloud(ctx context.Context, job *entity.Job, req ConversionRequest, dir string) (string, error) {
	s.update(ctx, job, entity.JobConverting, "Testing cloud connection")
	if err := s.deps.Cloud.TestConnection(ctx); err != nil {
		return "", fmt.Errorf("connection test: %w", err)
	}

	imageURL := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/api/uploads/" + req.Upload
	id, err := s.deps.Cloud.Submit(ctx, imageURL)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	job.RemoteID = id
	s.update(ctx, job, entity.JobConverting, "Submitted for conversion")

	status, err := s.poll(ctx, job)
	if err != nil {
		return "", err
	}

	s.update(ctx, job, entity.JobDownloading, "Downloading model files")
	return s.download(ctx, job, status, dir)
}

// poll опрашивает статус с интервалом PollInterval до complete, failed или PollTimeout
func (s *ConversionService) poll(ctx context.Context, job *entity.Job) (*entity.RemoteStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := s.deps.Cloud.Status(pollCtx, job.RemoteID)
		if err != nil {
			if ctx.Err() == nil && pollCtx.Err() != nil {
				return nil, entity.ErrPollTimeout
			}
			return nil, fmt.Errorf("status: %w", err)
		}
		s.deps.Metrics.RecordPoll()

		switch status.Status {
		case entity.RemoteComplete:
			return status, nil
		case entity.RemoteFailed:
			if status.Error != "" {
				return nil, fmt.Errorf("%w: %s", entity.ErrConversionFailed, status.Error)
			}
			return nil, entity.ErrConversionFailed
		}

		s.update(ctx, job, entity.JobConverting, fmt.Sprintf("Cloud status: %s (%.0f%%)", status.Status, status.Progress))

		select {
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, entity.ErrPollTimeout
		case <-ticker.C:
		}
	}
}

// download параллельно скачивает доступные артефакты; возвращает путь GLB
func (s *ConversionService) download(ctx context.Context, job *entity.Job, status *entity.RemoteStatus, dir string) (string, error) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, a := range artifactFiles {
		src := status.Outputs[a.kind]
		if src == "" {
			continue
		}
		kind, file := a.kind, job.Name+a.suffix
		g.Go(func() error {
			err := s.deps.Downloader.Download(gctx, src, filepath.Join(dir, file))
			s.deps.Metrics.RecordDownload(kind, err)
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			mu.Lock()
			job.AddOutput(kind, s.deps.Files.OutputURL(job.Name, file))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if _, ok := job.Outputs[entity.OutputGLB]; !ok {
		if len(job.Outputs) == 0 {
			return "", ErrNoArtifacts
		}
		if job.Outfit != "" {
			return "", fmt.Errorf("%w: glb is required for outfit processing", ErrNoArtifacts)
		}
		return "", nil
	}
	return filepath.Join(dir, job.Name+".glb"), nil
}

func (s *ConversionService) finish(ctx context.Context, job *entity.Job, err error) {
	if err != nil {
		job.Fail(err)
	} else {
		job.Complete()
	}
	ctx = context.WithoutCancel(ctx)
	if err := s.save(ctx, job); err != nil {
		s.logger.Error("failed to persist job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *ConversionService) update(ctx context.Context, job *entity.Job, status entity.JobStatus, message string) {
	job.SetStatus(status, message)
	if err := s.save(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Warn("failed to persist job status", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (s *ConversionService) save(ctx context.Context, job *entity.Job) error {
	if err := s.deps.Jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	if s.deps.Notifier != nil {
		s.deps.Notifier.Publish(job.Clone())
	}
	return nil
}

// claimName занимает каталог результатов. Служебное или уже занятое имя
// получает суффикс из id задачи.
func (s *ConversionService) claimName(name, id string) (string, error) {
	candidates := []string{name + "_" + id[:8], name + "_" + id}
	if !entity.ReservedOutputName(name) {
		candidates = append([]string{name}, candidates...)
	}

	var err error
	for _, c := range candidates {
		_, err = s.deps.Files.ClaimOutputDir(c)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			break
		}
	}
	return "", err
}

// outputName имя каталога результатов: из запроса, из имени загрузки или id задачи
func outputName(name, upload, id string) string {
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(upload), filepath.Ext(upload))
	}
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	if name == "" {
		return id
	}
	return name
}
