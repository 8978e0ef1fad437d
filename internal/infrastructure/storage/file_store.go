package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// ErrInvalidPath путь выходит за пределы каталога хранилища
var ErrInvalidPath = errors.New("invalid file path")

// ModifiedDir подкаталог результатов для отредактированных моделей
const ModifiedDir = entity.ModifiedOutputDir

// DiskFileStore хранит загрузки и результаты на локальном диске
type DiskFileStore struct {
	uploadDir string
	outputDir string
}

// NewDiskFileStore создаёт каталоги хранилища
func NewDiskFileStore(uploadDir, outputDir string) (*DiskFileStore, error) {
	for _, dir := range []string{uploadDir, outputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &DiskFileStore{uploadDir: uploadDir, outputDir: outputDir}, nil
}

// SaveUpload сохраняет файл как <uuid><ext> и возвращает это имя
func (s *DiskFileStore) SaveUpload(ctx context.Context, filename string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	stored := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	if err := os.WriteFile(filepath.Join(s.uploadDir, stored), data, 0o644); err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	return stored, nil
}

// UploadPath путь к сохранённой загрузке
func (s *DiskFileStore) UploadPath(stored string) string {
	return filepath.Join(s.uploadDir, filepath.Base(stored))
}

// OutputDir создаёт каталог <output>/<name>
func (s *DiskFileStore) OutputDir(name string) (string, error) {
	dir, err := s.resolve(s.outputDir, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// ClaimOutputDir создаёт <output>/<name>, которого ещё не было;
// для существующего каталога ошибка совместима с fs.ErrExist
func (s *DiskFileStore) ClaimOutputDir(name string) (string, error) {
	dir, err := s.resolve(s.outputDir, name)
	if err != nil {
		return "", err
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("claim output dir: %w", err)
	}
	return dir, nil
}

// OutputURL URL вида /api/files/<name>/<file>
func (s *DiskFileStore) OutputURL(name, file string) string {
	return path.Join("/api/files", name, file)
}

// SaveModified сохраняет отредактированную модель и возвращает её URL
func (s *DiskFileStore) SaveModified(data []byte) (string, error) {
	dir, err := s.OutputDir(ModifiedDir)
	if err != nil {
		return "", err
	}

	name := "modified_" + uuid.NewString() + ".glb"
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("save model: %w", err)
	}
	return s.OutputURL(ModifiedDir, name), nil
}

// ResolveOutput переводит относительный путь из URL в путь на диске
func (s *DiskFileStore) ResolveOutput(rel string) (string, error) {
	return s.resolve(s.outputDir, rel)
}

// ResolveUpload переводит имя загрузки в путь на диске
func (s *DiskFileStore) ResolveUpload(rel string) (string, error) {
	return s.resolve(s.uploadDir, rel)
}

func (s *DiskFileStore) resolve(root, rel string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(rel))
	if clean == string(filepath.Separator) {
		return "", ErrInvalidPath
	}
	full := filepath.Join(root, clean)

	r, err := filepath.Rel(root, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return full, nil
}

var _ port.FileStore = (*DiskFileStore)(nil)
