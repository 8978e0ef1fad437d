package mesh

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// PixelsPerMetre масштаб перевода пикселей рамки в метры
const PixelsPerMetre = 100.0

const cylinderSegments = 32

// geometry набор вершин одной сетки
type geometry struct {
	positions [][3]float32
	normals   [][3]float32
	uvs       [][2]float32
	indices   []uint32
}

func (g *geometry) vertex(p, n [3]float32, uv [2]float32) uint32 {
	g.positions = append(g.positions, p)
	g.normals = append(g.normals, n)
	g.uvs = append(g.uvs, uv)
	return uint32(len(g.positions) - 1)
}

func (g *geometry) quad(a, b, c, d uint32) {
	g.indices = append(g.indices, a, b, c, a, c, d)
}

// cylinder боковая поверхность и крышки; ось Y, центр в начале координат
func cylinder(radius, height float32, segments int) *geometry {
	g := &geometry{}
	half := height / 2

	for i := 0; i <= segments; i++ {
		u := float32(i) / float32(segments)
		a := 2 * math.Pi * float64(u)
		x, z := float32(math.Cos(a)), float32(math.Sin(a))
		n := [3]float32{x, 0, z}
		g.vertex([3]float32{radius * x, -half, radius * z}, n, [2]float32{u, 1})
		g.vertex([3]float32{radius * x, half, radius * z}, n, [2]float32{u, 0})
	}
	for i := 0; i < segments; i++ {
		b0, t0 := uint32(2*i), uint32(2*i+1)
		b1, t1 := uint32(2*i+2), uint32(2*i+3)
		g.quad(b0, t0, t1, b1)
	}

	for _, y := range []float32{half, -half} {
		up := float32(1)
		if y < 0 {
			up = -1
		}
		n := [3]float32{0, up, 0}
		center := g.vertex([3]float32{0, y, 0}, n, [2]float32{0.5, 0.5})
		first := uint32(len(g.positions))
		for i := 0; i <= segments; i++ {
			a := 2 * math.Pi * float64(i) / float64(segments)
			x, z := float32(math.Cos(a)), float32(math.Sin(a))
			g.vertex([3]float32{radius * x, y, radius * z}, n, [2]float32{0.5 + x/2, 0.5 - z/2})
		}
		for i := uint32(0); i < uint32(segments); i++ {
			if up > 0 {
				g.indices = append(g.indices, center, first+i+1, first+i)
			} else {
				g.indices = append(g.indices, center, first+i, first+i+1)
			}
		}
	}
	return g
}

// box прямоугольный параллелепипед с текстурой на каждой грани
func box(w, h, d float32) *geometry {
	g := &geometry{}
	x, y, z := w/2, h/2, d/2

	faces := []struct {
		n       [3]float32
		corners [4][3]float32
	}{
		{[3]float32{0, 0, 1}, [4][3]float32{{-x, -y, z}, {x, -y, z}, {x, y, z}, {-x, y, z}}},
		{[3]float32{0, 0, -1}, [4][3]float32{{x, -y, -z}, {-x, -y, -z}, {-x, y, -z}, {x, y, -z}}},
		{[3]float32{1, 0, 0}, [4][3]float32{{x, -y, z}, {x, -y, -z}, {x, y, -z}, {x, y, z}}},
		{[3]float32{-1, 0, 0}, [4][3]float32{{-x, -y, -z}, {-x, -y, z}, {-x, y, z}, {-x, y, -z}}},
		{[3]float32{0, 1, 0}, [4][3]float32{{-x, y, z}, {x, y, z}, {x, y, -z}, {-x, y, -z}}},
		{[3]float32{0, -1, 0}, [4][3]float32{{-x, -y, -z}, {x, -y, -z}, {x, -y, z}, {-x, -y, z}}},
	}
	uv := [4][2]float32{{0, 1}, {1, 1}, {1, 0}, {0, 0}}

	for _, f := range faces {
		var idx [4]uint32
		for i, c := range f.corners {
			idx[i] = g.vertex(c, f.n, uv[i])
		}
		g.quad(idx[0], idx[1], idx[2], idx[3])
	}
	return g
}

// PrimitiveGenerator строит текстурированный цилиндр или коробку по анализу формы
type PrimitiveGenerator struct {
	logger *zap.Logger
}

// NewPrimitiveGenerator создаёт генератор glTF-примитивов
func NewPrimitiveGenerator(logger *zap.Logger) *PrimitiveGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrimitiveGenerator{logger: logger.With(zap.String("component", "primitive_generator"))}
}

// Generate пишет GLB с цилиндром для цилиндрических форм и коробкой для остальных
func (g *PrimitiveGenerator) Generate(ctx context.Context, req port.GenerateRequest) error {
	if req.Analysis == nil {
		return fmt.Errorf("generate: analysis is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	width := float32(req.Analysis.Dimensions.Width) / PixelsPerMetre
	height := float32(req.Analysis.Dimensions.Height) / PixelsPerMetre

	var geo *geometry
	name := "Box"
	if req.Analysis.Shape.Type == entity.ShapeCylindrical {
		geo = cylinder(width/2, height, cylinderSegments)
		name = "Cylinder"
	} else {
		geo = box(width, height, min(width, height))
	}

	var texture []byte
	if req.ImagePath != "" {
		data, err := os.ReadFile(req.ImagePath)
		if err != nil {
			return fmt.Errorf("read texture: %w", err)
		}
		texture = data
	}

	doc, err := buildDocument(name, geo, texture, req.Analysis.Color.AverageRGB)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := gltf.SaveBinary(doc, req.OutputPath); err != nil {
		return fmt.Errorf("save glb: %w", err)
	}

	g.logger.Info("primitive generated",
		zap.String("shape", name),
		zap.Int("vertices", len(geo.positions)),
		zap.Int("triangles", len(geo.indices)/3),
		zap.String("output", req.OutputPath),
	)
	return nil
}

func buildDocument(name string, geo *geometry, texture []byte, rgb [3]int) (*gltf.Document, error) {
	doc := gltf.NewDocument()
	doc.Asset.Generator = "adto3d"

	posAccessor := modeler.WritePosition(doc, geo.positions)
	normalAccessor := modeler.WriteNormal(doc, geo.normals)
	uvAccessor := modeler.WriteTextureCoord(doc, geo.uvs)
	indicesAccessor := modeler.WriteIndices(doc, geo.indices)

	prim := &gltf.Primitive{
		Attributes: map[string]uint32{
			gltf.POSITION:   uint32(posAccessor),
			gltf.NORMAL:     uint32(normalAccessor),
			gltf.TEXCOORD_0: uint32(uvAccessor),
		},
		Indices:  gltf.Index(uint32(indicesAccessor)),
		Material: gltf.Index(0),
	}

	pbr := &gltf.PBRMetallicRoughness{
		BaseColorFactor: &[4]float32{1, 1, 1, 1},
		MetallicFactor:  gltf.Float(0),
		RoughnessFactor: gltf.Float(0.5),
	}

	if len(texture) > 0 {
		_, format, err := image.DecodeConfig(bytes.NewReader(texture))
		if err != nil || (format != "png" && format != "jpeg") {
			return nil, fmt.Errorf("unsupported texture format %q", format)
		}
		mime := "image/" + format
		img, err := modeler.WriteImage(doc, name+"Texture", mime, bytes.NewReader(texture))
		if err != nil {
			return nil, fmt.Errorf("embed texture: %w", err)
		}
		doc.Textures = append(doc.Textures, &gltf.Texture{Source: gltf.Index(uint32(img))})
		pbr.BaseColorTexture = &gltf.TextureInfo{Index: uint32(len(doc.Textures) - 1)}
	} else {
		pbr.BaseColorFactor = &[4]float32{
			float32(rgb[0]) / 255, float32(rgb[1]) / 255, float32(rgb[2]) / 255, 1,
		}
	}

	doc.Materials = []*gltf.Material{{
		Name:                 name + "Material",
		PBRMetallicRoughness: pbr,
		AlphaMode:            gltf.AlphaOpaque,
	}}
	doc.Meshes = []*gltf.Mesh{{Name: name, Primitives: []*gltf.Primitive{prim}}}
	doc.Nodes = []*gltf.Node{{Name: name, Mesh: gltf.Index(0)}}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(0))

	return doc, nil
}

var _ port.ModelGenerator = (*PrimitiveGenerator)(nil)
