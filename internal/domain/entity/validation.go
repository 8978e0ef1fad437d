package entity

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Requirements ограничения на входное изображение
type Requirements struct {
	MinWidth      int      `json:"-"`
	MinHeight     int      `json:"-"`
	MaxWidth      int      `json:"-"`
	MaxHeight     int      `json:"-"`
	Formats       []string `json:"formats"`
	MaxFileSizeMB float64  `json:"max_file_size_mb"`
}

// DefaultRequirements возвращает стандартные ограничения сервиса
func DefaultRequirements() Requirements {
	return Requirements{
		MinWidth:      512,
		MinHeight:     512,
		MaxWidth:      4096,
		MaxHeight:     4096,
		Formats:       []string{"JPEG", "PNG"},
		MaxFileSizeMB: 10,
	}
}

// ImageInfo метаданные изображения, достаточные для проверки
type ImageInfo struct {
	Width     int
	Height    int
	Format    string // имя формата в верхнем регистре: JPEG, PNG, GIF...
	SizeBytes int64
}

// SizeMB размер файла в мегабайтах, округлённый до сотых
func (i ImageInfo) SizeMB() float64 {
	mb := float64(i.SizeBytes) / (1024 * 1024)
	return math.Round(mb*100) / 100
}

// ValidationChecks флаги отдельных проверок
type ValidationChecks struct {
	Resolution bool `json:"resolution"`
	Format     bool `json:"format"`
	FileSize   bool `json:"file_size"`
}

// ValidationCurrent фактические параметры изображения
type ValidationCurrent struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Format     string  `json:"format"`
	FileSizeMB float64 `json:"file_size_mb"`
}

// RequirementsView ограничения в виде, пригодном для ответа клиенту
type RequirementsView struct {
	MinResolution string   `json:"min_resolution"`
	MaxResolution string   `json:"max_resolution"`
	Formats       []string `json:"formats"`
	MaxFileSizeMB float64  `json:"max_file_size_mb"`
}

// ValidationResult отчёт о проверке изображения
type ValidationResult struct {
	Success      bool               `json:"success"`
	Current      *ValidationCurrent `json:"current,omitempty"`
	Requirements *RequirementsView  `json:"requirements,omitempty"`
	Checks       *ValidationChecks  `json:"checks,omitempty"`
	Message      string             `json:"message"`
	Error        string             `json:"error,omitempty"`
}

// Validate проверяет изображение по порядку: разрешение, формат, размер файла.
// Первая неудачная проверка определяет сообщение.
func (r Requirements) Validate(info ImageInfo) *ValidationResult {
	res := &ValidationResult{
		Success: true,
		Current: &ValidationCurrent{
			Width:      info.Width,
			Height:     info.Height,
			Format:     info.Format,
			FileSizeMB: info.SizeMB(),
		},
		Requirements: &RequirementsView{
			MinResolution: fmt.Sprintf("%dx%d", r.MinWidth, r.MinHeight),
			MaxResolution: fmt.Sprintf("%dx%d", r.MaxWidth, r.MaxHeight),
			Formats:       r.Formats,
			MaxFileSizeMB: r.MaxFileSizeMB,
		},
		Checks:  &ValidationChecks{Resolution: true, Format: true, FileSize: true},
		Message: "Image meets all requirements",
	}

	switch {
	case info.Width < r.MinWidth || info.Height < r.MinHeight:
		res.Success = false
		res.Checks.Resolution = false
		res.Message = fmt.Sprintf("Image resolution (%dx%d) is too low. Minimum required: %dx%d",
			info.Width, info.Height, r.MinWidth, r.MinHeight)

	case info.Width > r.MaxWidth || info.Height > r.MaxHeight:
		res.Success = false
		res.Checks.Resolution = false
		res.Message = fmt.Sprintf("Image resolution (%dx%d) is too high. Maximum allowed: %dx%d",
			info.Width, info.Height, r.MaxWidth, r.MaxHeight)

	case !slices.Contains(r.Formats, strings.ToUpper(info.Format)):
		res.Success = false
		res.Checks.Format = false
		res.Message = fmt.Sprintf("Invalid format: %s. Must be %s", info.Format, strings.Join(r.Formats, " or "))

	case float64(info.SizeBytes)/(1024*1024) > r.MaxFileSizeMB:
		res.Success = false
		res.Checks.FileSize = false
		res.Message = fmt.Sprintf("File size (%sMB) exceeds %sMB limit", formatMB(info.SizeMB()), strconv.FormatFloat(r.MaxFileSizeMB, 'f', -1, 64))
	}

	return res
}

// ValidationError отчёт для изображения, которое не удалось прочитать
func ValidationError(err error) *ValidationResult {
	return &ValidationResult{
		Success: false,
		Message: "Error checking image: " + err.Error(),
		Error:   err.Error(),
	}
}

// formatMB печатает размер как float: целое значение с ".0"
func formatMB(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
