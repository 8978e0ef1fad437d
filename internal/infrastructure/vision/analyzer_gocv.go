//go:build gocv
// +build gocv

package vision

import (
	"context"
	"errors"
	"image"
	"image/color"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// Backend имя реализации анализатора в текущей сборке
const Backend = "opencv"

// NewAnalyzer возвращает анализатор на OpenCV (сборка с тегом gocv).
func NewAnalyzer(logger *zap.Logger) port.ShapeAnalyzer {
	return NewOpenCVAnalyzer(logger)
}

// OpenCVAnalyzer анализатор формы через gocv
type OpenCVAnalyzer struct {
	Threshold float32
	MaxWidth  int
	MaxHeight int
	logger    *zap.Logger
}

// NewOpenCVAnalyzer создаёт анализатор с порогом бинаризации 127
func NewOpenCVAnalyzer(logger *zap.Logger) *OpenCVAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	req := entity.DefaultRequirements()
	return &OpenCVAnalyzer{
		Threshold: entity.ForegroundThreshold,
		MaxWidth:  req.MaxWidth,
		MaxHeight: req.MaxHeight,
		logger:    logger.With(zap.String("component", "opencv_analyzer")),
	}
}

// Analyze запускает поиск контуров и возвращает анализ формы
func (a *OpenCVAnalyzer) Analyze(ctx context.Context, imageData []byte) (*entity.ShapeAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := decodeToMat(imageData, a.MaxWidth, a.MaxHeight)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, a.Threshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil, entity.ErrNoContours
	}

	main := mainContour(contours)
	c := contours.At(main)
	rect := gocv.BoundingRect(c)
	box := entity.BoundingBox{X: rect.Min.X, Y: rect.Min.Y, Width: rect.Dx(), Height: rect.Dy()}

	// Средний цвет под залитым контуром.
	mask := gocv.NewMatWithSize(mat.Rows(), mat.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()
	gocv.DrawContours(&mask, contours, main, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	mean := mat.MeanWithMask(mask)

	score, valid := symmetryScoreMat(gray, rect)

	m := entity.ContourMeasurements{
		Area:          gocv.ContourArea(c),
		Perimeter:     gocv.ArcLength(c, true),
		Box:           box,
		EdgeCount:     c.Size(),
		ContourCount:  contours.Size(),
		SymmetryScore: score,
		SymmetryValid: valid,
		// OpenCV хранит каналы в порядке BGR
		AverageRGB: [3]int{int(mean.Val3), int(mean.Val2), int(mean.Val1)},
	}

	a.logger.Debug("main contour measured",
		zap.Int("contours", m.ContourCount),
		zap.Float64("area", m.Area),
		zap.Float64("perimeter", m.Perimeter),
	)

	return entity.NewShapeAnalysis(m), nil
}

// Highlight рисует главный контур и рамку, возвращает PNG
func (a *OpenCVAnalyzer) Highlight(imageData []byte) ([]byte, error) {
	mat, err := decodeToMat(imageData, a.MaxWidth, a.MaxHeight)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(gray, &thresh, a.Threshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() == 0 {
		return nil, entity.ErrNoContours
	}

	main := mainContour(contours)

	// BGR: зелёный контур, красная рамка
	gocv.DrawContours(&mat, contours, main, color.RGBA{G: 255, A: 255}, 1)
	gocv.Rectangle(&mat, gocv.BoundingRect(contours.At(main)), color.RGBA{B: 255, A: 255}, 1)

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// mainContour индекс контура с наибольшей площадью. OpenCV отдаёт внешние
// контуры в обратном порядке развёртки, поэтому при равенстве площадей
// строгое сравнение выбирает найденный позже, как и largestContour
func mainContour(contours gocv.PointsVector) int {
	main, area := 0, -1.0
	for i := 0; i < contours.Size(); i++ {
		if ca := gocv.ContourArea(contours.At(i)); ca > area {
			main, area = i, ca
		}
	}
	return main
}

// symmetryScoreMat сравнивает левую половину рамки с отражённой правой
func symmetryScoreMat(gray gocv.Mat, rect image.Rectangle) (float64, bool) {
	mid := rect.Dx() / 2
	if mid == 0 || rect.Dy() == 0 {
		return 0, false
	}

	left := gray.Region(image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+mid, rect.Max.Y))
	defer left.Close()
	rightROI := gray.Region(image.Rect(rect.Max.X-mid, rect.Min.Y, rect.Max.X, rect.Max.Y))
	defer rightROI.Close()

	right := gocv.NewMat()
	defer right.Close()
	gocv.Flip(rightROI, &right, 1)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(left, right, &diff)

	return entity.SymmetryScore(diff.Sum().Val1, mid*rect.Dy()), true
}

// decodeToMat превращает байты изображения в gocv.Mat.
func decodeToMat(imageData []byte, maxW, maxH int) (gocv.Mat, error) {
	if err := checkDimensions(imageData, maxW, maxH); err != nil {
		return gocv.NewMat(), err
	}

	mat, err := gocv.IMDecode(imageData, gocv.IMReadColor)
	if err == nil && !mat.Empty() {
		return mat, nil
	}
	if !mat.Empty() {
		mat.Close()
	}
	return gocv.NewMat(), errors.New("failed to decode image")
}

var _ port.ShapeAnalyzer = (*OpenCVAnalyzer)(nil)
