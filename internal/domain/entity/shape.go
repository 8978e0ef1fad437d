package entity

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNoContours возвращается, если на изображении не найдено ни одного контура
var ErrNoContours = errors.New("no contours found in image")

// ErrImageTooLarge изображение больше допустимого по пикселям
var ErrImageTooLarge = errors.New("image dimensions exceed limit")

// Пороги эвристики классификации формы.
const (
	MinCylinderAspect    = 0.6
	MaxCylinderAspect    = 1.8
	MinCylinderCircular  = 0.6
	CircularCrossSection = 0.8
	SymmetryThreshold    = 0.8
	ForegroundThreshold  = 127
	maxPixelValue        = 255
)

// ShapeType тип формы объекта
type ShapeType string

const (
	ShapeCylindrical ShapeType = "cylindrical" // Цилиндрический объект
	ShapeIrregular   ShapeType = "irregular"   // Всё остальное
)

// Symmetry результат проверки симметрии
type Symmetry string

const (
	SymmetrySymmetric  Symmetry = "symmetric"
	SymmetryAsymmetric Symmetry = "asymmetric"
)

// BoundingBox описывает прямоугольник, охватывающий контур
type BoundingBox struct {
	X      int `json:"x"`      // координата X левого верхнего угла
	Y      int `json:"y"`      // координата Y левого верхнего угла
	Width  int `json:"width"`  // ширина в пикселях
	Height int `json:"height"` // высота в пикселях
}

// Center возвращает координаты центра прямоугольника
func (b BoundingBox) Center() (x, y int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// AspectRatio возвращает отношение высоты к ширине (0 для пустой ширины)
func (b BoundingBox) AspectRatio() float64 {
	if b.Width == 0 {
		return 0
	}
	return float64(b.Height) / float64(b.Width)
}

// ContourMeasurements сырые измерения главного контура.
// Заполняются анализатором (OpenCV или нативным) и превращаются в ShapeAnalysis.
type ContourMeasurements struct {
	Area          float64
	Perimeter     float64
	Box           BoundingBox
	EdgeCount     int
	ContourCount  int
	SymmetryScore float64
	SymmetryValid bool
	AverageRGB    [3]int
}

// Dimensions размеры объекта в пикселях
type Dimensions struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// Complexity сложность контура
type Complexity struct {
	EdgeCount    int `json:"edge_count"`
	ContourCount int `json:"contour_count"`
}

// ColorInfo средний цвет объекта
type ColorInfo struct {
	AverageRGB [3]int `json:"average_rgb"`
}

// ShapeInfo итог классификации формы
type ShapeInfo struct {
	Type          ShapeType `json:"type"`
	Circularity   float64   `json:"circularity"`
	Symmetry      Symmetry  `json:"symmetry"`
	SymmetryScore float64   `json:"symmetry_score"`
}

// ShapeAnalysis результат анализа изображения
type ShapeAnalysis struct {
	Dimensions      Dimensions  `json:"dimensions"`
	Complexity      Complexity  `json:"complexity"`
	Color           ColorInfo   `json:"color"`
	Shape           ShapeInfo   `json:"shape"`
	BoundingBox     BoundingBox `json:"bounding_box"`
	GeneratedPrompt string      `json:"generated_prompt"`
	Description     string      `json:"description,omitempty"`
}

// Circularity считает 4·π·area / perimeter². Для нулевого периметра возвращает 0.
func Circularity(area, perimeter float64) float64 {
	if perimeter <= 0 {
		return 0
	}
	return 4 * math.Pi * area / (perimeter * perimeter)
}

// ClassifyShape относит объект к цилиндрическим или неправильным формам
func ClassifyShape(width, height int, circularity float64) ShapeType {
	if width <= 0 {
		return ShapeIrregular
	}
	ratio := float64(height) / float64(width)
	if ratio > MinCylinderAspect && ratio < MaxCylinderAspect && circularity > MinCylinderCircular {
		return ShapeCylindrical
	}
	return ShapeIrregular
}

// SymmetryScore сравнивает левую половину с зеркальной правой.
// diffSum: сумма абсолютных разностей, pixels: число пикселей в половине.
func SymmetryScore(diffSum float64, pixels int) float64 {
	if pixels <= 0 {
		return 0
	}
	return 1 - diffSum/(maxPixelValue*float64(pixels))
}

// ClassifySymmetry переводит оценку в Symmetry; невалидное сравнение считается асимметрией.
func ClassifySymmetry(score float64, valid bool) Symmetry {
	if valid && score > SymmetryThreshold {
		return SymmetrySymmetric
	}
	return SymmetryAsymmetric
}

// NewShapeAnalysis собирает анализ из измерений контура и генерирует промпт
func NewShapeAnalysis(m ContourMeasurements) *ShapeAnalysis {
	circularity := Circularity(m.Area, m.Perimeter)

	a := &ShapeAnalysis{
		Dimensions: Dimensions{
			Width:       m.Box.Width,
			Height:      m.Box.Height,
			AspectRatio: m.Box.AspectRatio(),
		},
		Complexity: Complexity{
			EdgeCount:    m.EdgeCount,
			ContourCount: m.ContourCount,
		},
		Color: ColorInfo{AverageRGB: m.AverageRGB},
		Shape: ShapeInfo{
			Type:          ClassifyShape(m.Box.Width, m.Box.Height, circularity),
			Circularity:   circularity,
			Symmetry:      ClassifySymmetry(m.SymmetryScore, m.SymmetryValid),
			SymmetryScore: m.SymmetryScore,
		},
		BoundingBox: m.Box,
	}
	a.GeneratedPrompt = BuildPrompt(a)
	return a
}

// BuildPrompt формирует текстовый промпт для генерации 3D-модели
func BuildPrompt(a *ShapeAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Create a %s 3D model with ", a.Shape.Type)

	if a.Shape.Type == ShapeCylindrical {
		fmt.Fprintf(&sb, "height %d units and diameter %d units. ", a.Dimensions.Height, a.Dimensions.Width)
	} else {
		fmt.Fprintf(&sb, "height %d units and width %d units. ", a.Dimensions.Height, a.Dimensions.Width)
	}

	fmt.Fprintf(&sb, "The object is %s. ", a.Shape.Symmetry)

	if a.Shape.Circularity > CircularCrossSection {
		sb.WriteString("The cross-section should be circular. ")
	}

	return strings.TrimSpace(sb.String())
}

// FallbackDescription краткое описание, если внешний описатель недоступен
func FallbackDescription(a *ShapeAnalysis) string {
	rgb := a.Color.AverageRGB
	return fmt.Sprintf("A %s 3D model with RGB(%d, %d, %d) color scheme.", a.Shape.Type, rgb[0], rgb[1], rgb[2])
}
