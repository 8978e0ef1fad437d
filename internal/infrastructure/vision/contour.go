package vision

import (
	"image"
	"math"
)

// Смещения 8 направлений; рост индекса идёт против часовой стрелки на экране.
var directions = [8]image.Point{
	{1, 0}, {1, -1}, {0, -1}, {-1, -1},
	{-1, 0}, {-1, 1}, {0, 1}, {1, 1},
}

const dirWest = 4

// binaryMask бинарное изображение: true для пикселей объекта
type binaryMask struct {
	w, h int
	pix  []bool
}

func newBinaryMask(w, h int) *binaryMask {
	return &binaryMask{w: w, h: h, pix: make([]bool, w*h)}
}

func (m *binaryMask) at(p image.Point) bool {
	if p.X < 0 || p.Y < 0 || p.X >= m.w || p.Y >= m.h {
		return false
	}
	return m.pix[p.Y*m.w+p.X]
}

func (m *binaryMask) set(x, y int) {
	m.pix[y*m.w+x] = true
}

// contour внешняя граница одной компоненты
type contour struct {
	// trace полный обход границы, по пикселю на шаг
	trace []image.Point
	// points обход после сжатия прямых участков
	points []image.Point
	// label метка компоненты связности
	label int32
}

// findExternalContours возвращает внешние контуры в порядке растрового обхода
// их первых пикселей. Объект 8-связный, фон 4-связный, как в RETR_EXTERNAL.
func findExternalContours(m *binaryMask) ([]contour, []int32) {
	labels, starts := labelComponents(m)
	outside := floodOutside(m, func(i int) bool { return m.pix[i] })

	external := make([]bool, len(starts)+1)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			i := y*m.w + x
			l := labels[i]
			if l == 0 || external[l] {
				continue
			}
			if x == 0 || y == 0 || x == m.w-1 || y == m.h-1 {
				external[l] = true
				continue
			}
			if outside[i-1] || outside[i+1] || outside[i-m.w] || outside[i+m.w] {
				external[l] = true
			}
		}
	}

	var contours []contour
	for idx, start := range starts {
		l := int32(idx + 1)
		if !external[l] {
			continue
		}
		trace := traceBorder(m, start)
		contours = append(contours, contour{
			trace:  trace,
			points: compressChain(trace),
			label:  l,
		})
	}
	return contours, labels
}

// labelComponents размечает 8-связные компоненты. Метки идут с 1 в растровом
// порядке первого пикселя, starts[i]: первый пиксель компоненты i+1.
func labelComponents(m *binaryMask) ([]int32, []image.Point) {
	labels := make([]int32, m.w*m.h)
	var starts []image.Point
	var queue []int

	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			i := y*m.w + x
			if !m.pix[i] || labels[i] != 0 {
				continue
			}
			starts = append(starts, image.Pt(x, y))
			l := int32(len(starts))
			labels[i] = l
			queue = append(queue[:0], i)

			for len(queue) > 0 {
				cur := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				cx, cy := cur%m.w, cur/m.w
				for _, d := range directions {
					nx, ny := cx+d.X, cy+d.Y
					if nx < 0 || ny < 0 || nx >= m.w || ny >= m.h {
						continue
					}
					ni := ny*m.w + nx
					if m.pix[ni] && labels[ni] == 0 {
						labels[ni] = l
						queue = append(queue, ni)
					}
				}
			}
		}
	}
	return labels, starts
}

// floodOutside отмечает пиксели, достижимые от рамки изображения по
// 4-связности в обход стен wall.
func floodOutside(m *binaryMask, wall func(i int) bool) []bool {
	outside := make([]bool, m.w*m.h)
	var queue []int

	push := func(i int) {
		if !outside[i] && !wall(i) {
			outside[i] = true
			queue = append(queue, i)
		}
	}

	for x := 0; x < m.w; x++ {
		push(x)
		push((m.h-1)*m.w + x)
	}
	for y := 0; y < m.h; y++ {
		push(y * m.w)
		push(y*m.w + m.w - 1)
	}

	for len(queue) > 0 {
		cur := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		cx, cy := cur%m.w, cur/m.w
		if cx > 0 {
			push(cur - 1)
		}
		if cx < m.w-1 {
			push(cur + 1)
		}
		if cy > 0 {
			push(cur - m.w)
		}
		if cy < m.h-1 {
			push(cur + m.w)
		}
	}
	return outside
}

// traceBorder обходит внешнюю границу, начиная с верхнего левого пикселя
// компоненты (алгоритм Suzuki–Abe).
func traceBorder(m *binaryMask, start image.Point) []image.Point {
	var p1 image.Point
	found := false
	for k := 0; k < 8; k++ {
		q := start.Add(directions[(dirWest-k+8)&7])
		if m.at(q) {
			p1, found = q, true
			break
		}
	}
	if !found {
		return []image.Point{start}
	}

	var trace []image.Point
	p2, p3 := p1, start
	for {
		d := direction(p3, p2)
		p4 := p3
		for k := 1; k <= 8; k++ {
			q := p3.Add(directions[(d+k)&7])
			if m.at(q) {
				p4 = q
				break
			}
		}
		trace = append(trace, p3)
		if p4 == start && p3 == p1 {
			break
		}
		p2, p3 = p3, p4
	}
	return trace
}

func direction(from, to image.Point) int {
	delta := to.Sub(from)
	for i, d := range directions {
		if d == delta {
			return i
		}
	}
	return 0
}

// compressChain оставляет только точки, где меняется направление обхода
func compressChain(trace []image.Point) []image.Point {
	n := len(trace)
	if n <= 2 {
		return append([]image.Point(nil), trace...)
	}

	out := make([]image.Point, 0, n/2)
	for i := 0; i < n; i++ {
		prev := trace[(i-1+n)%n]
		next := trace[(i+1)%n]
		if trace[i].Sub(prev) != next.Sub(trace[i]) {
			out = append(out, trace[i])
		}
	}
	if len(out) == 0 {
		out = append(out, trace[0])
	}
	return out
}

// polygonArea площадь многоугольника по формуле шнурков
func polygonArea(pts []image.Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	var s int
	for i := range pts {
		j := (i + 1) % len(pts)
		s += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(float64(s)) / 2
}

// arcLength длина замкнутой ломаной
func arcLength(pts []image.Point) float64 {
	if len(pts) < 2 {
		return 0
	}
	var l float64
	for i := range pts {
		j := (i + 1) % len(pts)
		l += math.Hypot(float64(pts[j].X-pts[i].X), float64(pts[j].Y-pts[i].Y))
	}
	return l
}

// boundingRect охватывающий прямоугольник с включёнными краями
func boundingRect(pts []image.Point) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	r := image.Rectangle{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		r.Min.X = min(r.Min.X, p.X)
		r.Min.Y = min(r.Min.Y, p.Y)
		r.Max.X = max(r.Max.X, p.X)
		r.Max.Y = max(r.Max.Y, p.Y)
	}
	r.Max = r.Max.Add(image.Pt(1, 1))
	return r
}

// largestContour индекс контура с наибольшей площадью; при равенстве
// побеждает найденный позже в порядке развёртки
func largestContour(contours []contour) int {
	best, bestArea := -1, -1.0
	for i, c := range contours {
		if a := polygonArea(c.points); a >= bestArea {
			best, bestArea = i, a
		}
	}
	return best
}

// filledRegion пиксели под залитым контуром: компонента и всё, что она окружает
func filledRegion(m *binaryMask, labels []int32, label int32) []bool {
	outside := floodOutside(m, func(i int) bool { return labels[i] == label })
	for i := range outside {
		outside[i] = !outside[i]
	}
	return outside
}
