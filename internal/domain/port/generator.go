package port

import (
	"context"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// GenerateRequest входные данные локального генератора
type GenerateRequest struct {
	Analysis   *entity.ShapeAnalysis
	ImagePath  string // исходное изображение, используется как текстура
	OutputPath string // путь итогового .glb
}

// ModelGenerator строит модель локально
type ModelGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) error
}

// CloudConverter клиент облачного image-to-3D сервиса
type CloudConverter interface {
	// TestConnection проверяет доступность и ключ
	TestConnection(ctx context.Context) error

	// Submit ставит изображение в очередь и возвращает ID запроса
	Submit(ctx context.Context, imageURL string) (string, error)

	// Status возвращает текущее состояние запроса
	Status(ctx context.Context, requestID string) (*entity.RemoteStatus, error)
}

// ArtifactDownloader скачивает результат по URL в файл
type ArtifactDownloader interface {
	Download(ctx context.Context, url, dst string) error
}

// Decimator упрощает сетку во внешнем 3D-редакторе
type Decimator interface {
	Decimate(ctx context.Context, input, output string, ratio float64) error
}

// OutfitProcessor адаптирует модель к категории аксессуара
type OutfitProcessor interface {
	Process(ctx context.Context, input, output string, category entity.OutfitCategory) (*entity.OutfitReport, error)
}
