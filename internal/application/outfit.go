package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// OutfitDir каталог результатов отдельной постобработки
const OutfitDir = entity.OutfitOutputDir

// OutfitService постобработка готовых GLB без конвейера преобразования
type OutfitService struct {
	processor port.OutfitProcessor
	files     port.FileStore
	metrics   Metrics
	logger    *zap.Logger
}

// OutfitOutput отчёт и URL обработанной модели
type OutfitOutput struct {
	Report *entity.OutfitReport `json:"report"`
	URL    string               `json:"url"`
}

func NewOutfitService(processor port.OutfitProcessor, files port.FileStore, metrics Metrics, logger *zap.Logger) *OutfitService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutfitService{
		processor: processor,
		files:     files,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "outfit_service")),
	}
}

// Process обрабатывает сохранённую загрузку и кладёт результат в outfits/
func (s *OutfitService) Process(ctx context.Context, upload string, category entity.OutfitCategory) (*OutfitOutput, error) {
	dir, err := s.files.OutputDir(OutfitDir)
	if err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	file := fmt.Sprintf("%s_%s.glb", category, uuid.NewString())
	report, err := s.processor.Process(ctx, s.files.UploadPath(upload), filepath.Join(dir, file), category)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordOutfit(string(category), report.Valid)

	return &OutfitOutput{Report: report, URL: s.files.OutputURL(OutfitDir, file)}, nil
}
