package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// jobRecord строка таблицы conversion_jobs
type jobRecord struct {
	ID        string                `gorm:"primaryKey;size:36"`
	Name      string                `gorm:"size:255;not null"`
	Mode      string                `gorm:"size:16;not null"`
	Outfit    string                `gorm:"size:32"`
	Status    string                `gorm:"size:32;not null;index"`
	Message   string                `gorm:"type:text"`
	RemoteID  string                `gorm:"size:128"`
	Analysis  *entity.ShapeAnalysis `gorm:"serializer:json"`
	Outputs   map[string]string     `gorm:"serializer:json"`
	Report    *entity.OutfitReport  `gorm:"serializer:json"`
	Error     string                `gorm:"type:text"`
	CreatedAt time.Time             `gorm:"index"`
	UpdatedAt time.Time
}

func (jobRecord) TableName() string {
	return "conversion_jobs"
}

func toRecord(j *entity.Job) *jobRecord {
	return &jobRecord{
		ID:        j.ID,
		Name:      j.Name,
		Mode:      string(j.Mode),
		Outfit:    string(j.Outfit),
		Status:    string(j.Status),
		Message:   j.Message,
		RemoteID:  j.RemoteID,
		Analysis:  j.Analysis,
		Outputs:   j.Outputs,
		Report:    j.Report,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func (r *jobRecord) toEntity() *entity.Job {
	outputs := r.Outputs
	if outputs == nil {
		outputs = make(map[string]string)
	}
	return &entity.Job{
		ID:        r.ID,
		Name:      r.Name,
		Mode:      entity.ConversionMode(r.Mode),
		Outfit:    entity.OutfitCategory(r.Outfit),
		Status:    entity.JobStatus(r.Status),
		Message:   r.Message,
		RemoteID:  r.RemoteID,
		Analysis:  r.Analysis,
		Outputs:   outputs,
		Report:    r.Report,
		Error:     r.Error,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// SQLiteJobRepository хранилище задач в SQLite через gorm
type SQLiteJobRepository struct {
	db *gorm.DB
}

// OpenSQLiteJobRepository открывает базу и применяет миграцию
func OpenSQLiteJobRepository(path string) (*SQLiteJobRepository, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.AutoMigrate(&jobRecord{}); err != nil {
		return nil, fmt.Errorf("migrate jobs: %w", err)
	}

	return &SQLiteJobRepository{db: db}, nil
}

// Save создаёт или обновляет задачу
func (r *SQLiteJobRepository) Save(ctx context.Context, job *entity.Job) error {
	if err := r.db.WithContext(ctx).Save(toRecord(job)).Error; err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// Get возвращает задачу или entity.ErrJobNotFound
func (r *SQLiteJobRepository) Get(ctx context.Context, id string) (*entity.Job, error) {
	var rec jobRecord
	err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, entity.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return rec.toEntity(), nil
}

// List возвращает последние задачи
func (r *SQLiteJobRepository) List(ctx context.Context, limit int) ([]*entity.Job, error) {
	q := r.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []jobRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*entity.Job, 0, len(recs))
	for i := range recs {
		jobs = append(jobs, recs[i].toEntity())
	}
	return jobs, nil
}

// Close закрывает соединение с базой
func (r *SQLiteJobRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ port.JobRepository = (*SQLiteJobRepository)(nil)
