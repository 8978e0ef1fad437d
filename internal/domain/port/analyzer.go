package port

import (
	"context"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// ShapeAnalyzer интерфейс анализатора формы
type ShapeAnalyzer interface {
	// Analyze находит главный контур и классифицирует форму
	Analyze(ctx context.Context, imageData []byte) (*entity.ShapeAnalysis, error)

	// Highlight рисует главный контур и его рамку, возвращает PNG
	Highlight(imageData []byte) ([]byte, error)
}

// ImageValidator проверяет изображение на соответствие требованиям
type ImageValidator interface {
	Validate(ctx context.Context, imageData []byte) *entity.ValidationResult
}

// PreviewRenderer делает уменьшенную копию изображения
type PreviewRenderer interface {
	Thumbnail(imageData []byte) ([]byte, error)
}
