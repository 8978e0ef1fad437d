package vision

import (
	"bytes"
	"image/png"

	"github.com/nfnt/resize"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// DefaultThumbnailSize сторона превью в пикселях
const DefaultThumbnailSize = 256

// Thumbnailer делает PNG-превью с сохранением пропорций
type Thumbnailer struct {
	Size uint
}

// NewThumbnailer создаёт генератор превью заданного размера
func NewThumbnailer(size uint) *Thumbnailer {
	if size == 0 {
		size = DefaultThumbnailSize
	}
	return &Thumbnailer{Size: size}
}

// Thumbnail вписывает изображение в квадрат Size×Size
func (t *Thumbnailer) Thumbnail(imageData []byte) ([]byte, error) {
	req := entity.DefaultRequirements()
	img, err := decodeNRGBA(imageData, req.MaxWidth, req.MaxHeight)
	if err != nil {
		return nil, err
	}

	small := resize.Thumbnail(t.Size, t.Size, img, resize.Bilinear)

	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ port.PreviewRenderer = (*Thumbnailer)(nil)
