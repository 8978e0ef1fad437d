package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// checkDimensions читает только заголовок и отсекает слишком большие изображения
func checkDimensions(data []byte, maxW, maxH int) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if (maxW > 0 && cfg.Width > maxW) || (maxH > 0 && cfg.Height > maxH) {
		return fmt.Errorf("%w: %dx%d, maximum %dx%d", entity.ErrImageTooLarge, cfg.Width, cfg.Height, maxW, maxH)
	}
	return nil
}

// decodeNRGBA декодирует изображение любого зарегистрированного формата
// не больше maxW×maxH; ноль снимает ограничение
func decodeNRGBA(data []byte, maxW, maxH int) (*image.NRGBA, error) {
	if err := checkDimensions(data, maxW, maxH); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n, nil
	}

	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst, nil
}

// grayscale яркость в целых, те же коэффициенты что у BGR2GRAY в OpenCV
func grayscale(img *image.NRGBA) []uint8 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := uint32(row[x*4]), uint32(row[x*4+1]), uint32(row[x*4+2])
			out[y*w+x] = uint8((r*4899 + g*9617 + b*1868 + 8192) >> 14)
		}
	}
	return out
}

// threshold бинаризация: пиксели ярче порога относятся к объекту
func threshold(gray []uint8, w, h int, level uint8) *binaryMask {
	m := newBinaryMask(w, h)
	for i, v := range gray {
		if v > level {
			m.pix[i] = true
		}
	}
	return m
}
