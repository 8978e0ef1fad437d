package port

import (
	"context"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// JobRepository интерфейс хранилища задач
type JobRepository interface {
	// Save создаёт или обновляет задачу
	Save(ctx context.Context, job *entity.Job) error

	// Get возвращает задачу или entity.ErrJobNotFound
	Get(ctx context.Context, id string) (*entity.Job, error)

	// List возвращает последние задачи, новые первыми
	List(ctx context.Context, limit int) ([]*entity.Job, error)
}

// ProgressNotifier рассылает изменения статуса задач подписчикам
type ProgressNotifier interface {
	Publish(job *entity.Job)
}

// FileStore раскладывает загрузки и результаты по каталогам
type FileStore interface {
	// SaveUpload сохраняет загруженный файл под уникальным именем
	SaveUpload(ctx context.Context, filename string, data []byte) (string, error)

	// UploadPath путь к сохранённой загрузке
	UploadPath(stored string) string

	// OutputDir создаёт каталог результатов задачи
	OutputDir(name string) (string, error)

	// ClaimOutputDir создаёт новый каталог результатов; fs.ErrExist если он уже есть
	ClaimOutputDir(name string) (string, error)

	// OutputURL публичный URL файла результата
	OutputURL(name, file string) string
}
