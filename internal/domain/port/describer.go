package port

import (
	"context"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// PromptDescriber интерфейс описателя модели
type PromptDescriber interface {
	// Describe генерирует текстовое описание по результатам анализа формы
	Describe(ctx context.Context, analysis *entity.ShapeAnalysis) (*entity.AiDescription, error)
}
