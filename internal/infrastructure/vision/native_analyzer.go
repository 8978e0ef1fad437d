package vision

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// NativeAnalyzer анализатор формы на чистом Go, без OpenCV
type NativeAnalyzer struct {
	Threshold uint8
	MaxWidth  int
	MaxHeight int
	logger    *zap.Logger
}

// NewNativeAnalyzer создаёт анализатор с порогом бинаризации 127
func NewNativeAnalyzer(logger *zap.Logger) *NativeAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	req := entity.DefaultRequirements()
	return &NativeAnalyzer{
		Threshold: entity.ForegroundThreshold,
		MaxWidth:  req.MaxWidth,
		MaxHeight: req.MaxHeight,
		logger:    logger.With(zap.String("component", "native_analyzer")),
	}
}

// scene промежуточные данные одного анализа
type scene struct {
	img      *image.NRGBA
	gray     []uint8
	mask     *binaryMask
	labels   []int32
	contours []contour
	main     int
}

func (a *NativeAnalyzer) prepare(imageData []byte) (*scene, error) {
	img, err := decodeNRGBA(imageData, a.MaxWidth, a.MaxHeight)
	if err != nil {
		return nil, err
	}

	w, h := img.Rect.Dx(), img.Rect.Dy()
	gray := grayscale(img)
	mask := threshold(gray, w, h, a.Threshold)
	contours, labels := findExternalContours(mask)
	if len(contours) == 0 {
		return nil, entity.ErrNoContours
	}

	return &scene{
		img:      img,
		gray:     gray,
		mask:     mask,
		labels:   labels,
		contours: contours,
		main:     largestContour(contours),
	}, nil
}

// Analyze находит главный контур и возвращает анализ формы
func (a *NativeAnalyzer) Analyze(ctx context.Context, imageData []byte) (*entity.ShapeAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc, err := a.prepare(imageData)
	if err != nil {
		return nil, err
	}

	c := sc.contours[sc.main]
	rect := boundingRect(c.points)
	box := entity.BoundingBox{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
	score, valid := symmetryScore(sc.gray, sc.img.Rect.Dx(), box)

	m := entity.ContourMeasurements{
		Area:          polygonArea(c.points),
		Perimeter:     arcLength(c.points),
		Box:           box,
		EdgeCount:     len(c.points),
		ContourCount:  len(sc.contours),
		SymmetryScore: score,
		SymmetryValid: valid,
		AverageRGB:    averageColor(sc.img, filledRegion(sc.mask, sc.labels, c.label)),
	}

	a.logger.Debug("main contour measured",
		zap.Int("contours", m.ContourCount),
		zap.Float64("area", m.Area),
		zap.Float64("perimeter", m.Perimeter),
		zap.Int("width", box.Width),
		zap.Int("height", box.Height),
	)

	return entity.NewShapeAnalysis(m), nil
}

// Highlight рисует главный контур зелёным, рамку и её центр красным
func (a *NativeAnalyzer) Highlight(imageData []byte) ([]byte, error) {
	sc, err := a.prepare(imageData)
	if err != nil {
		return nil, err
	}

	c := sc.contours[sc.main]
	out := image.NewRGBA(sc.img.Rect)
	draw.Draw(out, out.Bounds(), sc.img, image.Point{}, draw.Src)

	red := color.RGBA{R: 255, A: 255}
	green := color.RGBA{G: 255, A: 255}
	rect := boundingRect(c.points)
	drawRect(out, rect, red)
	for _, p := range c.trace {
		out.SetRGBA(p.X, p.Y, green)
	}

	// центр рамки: ось, относительно которой считается симметрия
	box := entity.BoundingBox{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}
	cx, cy := box.Center()
	for d := -3; d <= 3; d++ {
		out.SetRGBA(cx+d, cy, red)
		out.SetRGBA(cx, cy+d, red)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// symmetryScore сравнивает левую половину рамки с зеркальной правой
func symmetryScore(gray []uint8, stride int, box entity.BoundingBox) (float64, bool) {
	mid := box.Width / 2
	if mid == 0 || box.Height == 0 {
		return 0, false
	}

	var diff float64
	for y := box.Y; y < box.Y+box.Height; y++ {
		row := gray[y*stride:]
		for j := 0; j < mid; j++ {
			l := int(row[box.X+j])
			r := int(row[box.X+box.Width-1-j])
			if l > r {
				diff += float64(l - r)
			} else {
				diff += float64(r - l)
			}
		}
	}
	return entity.SymmetryScore(diff, mid*box.Height), true
}

// averageColor средний RGB под маской, дробная часть отбрасывается
func averageColor(img *image.NRGBA, region []bool) [3]int {
	w := img.Rect.Dx()
	var sum [3]uint64
	var n uint64
	for i, in := range region {
		if !in {
			continue
		}
		x, y := i%w, i/w
		p := img.Pix[y*img.Stride+x*4:]
		sum[0] += uint64(p[0])
		sum[1] += uint64(p[1])
		sum[2] += uint64(p[2])
		n++
	}
	if n == 0 {
		return [3]int{}
	}
	return [3]int{int(sum[0] / n), int(sum[1] / n), int(sum[2] / n)}
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.SetRGBA(x, r.Min.Y, c)
		img.SetRGBA(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.SetRGBA(r.Min.X, y, c)
		img.SetRGBA(r.Max.X-1, y, c)
	}
}
