package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// ErrInvalidImage изображение не прошло проверку требований
var ErrInvalidImage = errors.New("invalid image")

// AnalysisService проверяет изображения и анализирует форму объекта
type AnalysisService struct {
	validator port.ImageValidator
	analyzer  port.ShapeAnalyzer
	describer port.PromptDescriber
	metrics   Metrics
	logger    *zap.Logger
}

// AnalysisOutput результат анализа и картинка с подсветкой контура
type AnalysisOutput struct {
	Analysis    *entity.ShapeAnalysis
	Highlighted []byte
}

// NewAnalysisService создаёт сервис; describer и metrics могут быть nil
func NewAnalysisService(validator port.ImageValidator, analyzer port.ShapeAnalyzer, describer port.PromptDescriber, metrics Metrics, logger *zap.Logger) *AnalysisService {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalysisService{
		validator: validator,
		analyzer:  analyzer,
		describer: describer,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "analysis_service")),
	}
}

// Validate возвращает отчёт о соответствии требованиям
func (s *AnalysisService) Validate(ctx context.Context, imageData []byte) *entity.ValidationResult {
	return s.validator.Validate(ctx, imageData)
}

// Check возвращает ErrInvalidImage с сообщением первой непройденной проверки
func (s *AnalysisService) Check(ctx context.Context, imageData []byte) error {
	if s.validator == nil {
		return nil
	}
	res := s.validator.Validate(ctx, imageData)
	if res.Success {
		return nil
	}
	msg := res.Error
	if msg == "" {
		msg = res.Message
	}
	return fmt.Errorf("%w: %s", ErrInvalidImage, msg)
}

// Analyze классифицирует форму; при highlight добавляет PNG с контуром
func (s *AnalysisService) Analyze(ctx context.Context, imageData []byte, highlight bool) (*AnalysisOutput, error) {
	if s.analyzer == nil {
		return nil, errors.New("analyzer is not configured")
	}

	analysis, err := s.analyzer.Analyze(ctx, imageData)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordAnalysis(string(analysis.Shape.Type))

	out := &AnalysisOutput{Analysis: analysis}
	if highlight {
		img, err := s.analyzer.Highlight(imageData)
		if err != nil {
			s.logger.Warn("highlight failed", zap.Error(err))
		} else {
			out.Highlighted = img
		}
	}
	return out, nil
}

// Describe заполняет Description ответом языковой модели или шаблоном
func (s *AnalysisService) Describe(ctx context.Context, analysis *entity.ShapeAnalysis) {
	if s.describer != nil {
		desc, err := s.describer.Describe(ctx, analysis)
		if err == nil {
			analysis.Description = desc.Text
			return
		}
		s.logger.Warn("ai description failed, using fallback", zap.Error(err))
	}
	analysis.Description = entity.FallbackDescription(analysis)
}
