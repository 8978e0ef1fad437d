package vision

import (
	"bytes"
	"context"
	"image"
	"strings"

	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// Validator проверяет разрешение, формат и размер изображения
type Validator struct {
	req    entity.Requirements
	logger *zap.Logger
}

// NewValidator создаёт валидатор с заданными ограничениями
func NewValidator(req entity.Requirements, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{req: req, logger: logger.With(zap.String("component", "validator"))}
}

// Validate читает только заголовок изображения, пиксели не декодируются
func (v *Validator) Validate(ctx context.Context, imageData []byte) *entity.ValidationResult {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		v.logger.Debug("image header unreadable", zap.Error(err))
		return entity.ValidationError(err)
	}

	res := v.req.Validate(entity.ImageInfo{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    strings.ToUpper(format),
		SizeBytes: int64(len(imageData)),
	})

	v.logger.Debug("image validated",
		zap.Bool("success", res.Success),
		zap.String("format", format),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
	)
	return res
}

var _ port.ImageValidator = (*Validator)(nil)
