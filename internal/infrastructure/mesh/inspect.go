package mesh

import (
	"math"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// Inspect собирает статистику документа. Габариты берутся из min/max
// атрибутов POSITION без учёта трансформаций узлов.
func Inspect(doc *gltf.Document) entity.MeshStats {
	var stats entity.MeshStats
	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	bounded := false

	for _, m := range doc.Meshes {
		materials := make(map[uint32]struct{})
		uvLayers := 0

		for _, p := range m.Primitives {
			posIdx, ok := p.Attributes[gltf.POSITION]
			if !ok || int(posIdx) >= len(doc.Accessors) {
				continue
			}
			pos := doc.Accessors[posIdx]
			stats.Vertices += int(pos.Count)

			count := int(pos.Count)
			if p.Indices != nil && int(*p.Indices) < len(doc.Accessors) {
				count = int(doc.Accessors[*p.Indices].Count)
			}
			stats.Triangles += triangles(p.Mode, count)

			if p.Material != nil {
				materials[*p.Material] = struct{}{}
			}

			layers := 0
			for name := range p.Attributes {
				if strings.HasPrefix(name, "TEXCOORD_") {
					layers++
				}
			}
			uvLayers = max(uvLayers, layers)

			if len(pos.Min) >= 3 && len(pos.Max) >= 3 {
				for i := 0; i < 3; i++ {
					lo[i] = math.Min(lo[i], float64(pos.Min[i]))
					hi[i] = math.Max(hi[i], float64(pos.Max[i]))
				}
				bounded = true
			}
		}

		stats.Materials += len(materials)
		stats.UVLayers += uvLayers
	}

	if bounded {
		for i := 0; i < 3; i++ {
			stats.Dimensions[i] = hi[i] - lo[i]
		}
	}
	return stats
}

func triangles(mode gltf.PrimitiveMode, count int) int {
	switch mode {
	case gltf.PrimitiveTriangles:
		return count / 3
	case gltf.PrimitiveTriangleStrip, gltf.PrimitiveTriangleFan:
		if count < 3 {
			return 0
		}
		return count - 2
	default:
		return 0
	}
}
