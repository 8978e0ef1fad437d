package mesh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/qmuntal/gltf"
	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// Параметры материала для платформы аватаров
const (
	outfitMetallic  = 0
	outfitRoughness = 0.5
)

// OutfitProcessor приводит GLB к правилам категории аксессуара
type OutfitProcessor struct {
	table     entity.OutfitTable
	decimator port.Decimator
	logger    *zap.Logger
}

// NewOutfitProcessor создаёт постобработчик; decimator может быть nil,
// тогда превышение бюджета треугольников попадает в нарушения.
func NewOutfitProcessor(table entity.OutfitTable, decimator port.Decimator, logger *zap.Logger) *OutfitProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OutfitProcessor{
		table:     table,
		decimator: decimator,
		logger:    logger.With(zap.String("component", "outfit_processor")),
	}
}

// Process упрощает сетку, настраивает материалы, переименовывает кости,
// добавляет точки крепления и пишет результат в output.
func (p *OutfitProcessor) Process(ctx context.Context, input, output string, category entity.OutfitCategory) (*entity.OutfitReport, error) {
	rules, err := p.table.Rules(category)
	if err != nil {
		return nil, err
	}

	doc, err := gltf.Open(input)
	if err != nil {
		return nil, fmt.Errorf("open model: %w", err)
	}

	report := &entity.OutfitReport{
		Category:      category,
		Initial:       Inspect(doc),
		Modifications: []string{},
		Violations:    []string{},
	}

	log := p.logger.With(zap.String("category", string(category)), zap.String("input", input))

	if report.Initial.Triangles > rules.MaxTriangles {
		if p.decimator == nil {
			log.Warn("triangle budget exceeded and no decimator configured",
				zap.Int("triangles", report.Initial.Triangles),
				zap.Int("limit", rules.MaxTriangles),
			)
			report.Violations = append(report.Violations, "mesh decimation unavailable: 3D tool is not configured")
		} else {
			doc, err = p.decimate(ctx, input, output, float64(rules.MaxTriangles)/float64(report.Initial.Triangles))
			if err != nil {
				return nil, err
			}
			report.AddModification(entity.ModMeshOptimization)
		}
	}

	setupMaterials(doc)
	report.AddModification(entity.ModMaterialSetup)
	report.AddModification(entity.ModUVVerification)

	if renamed := remapBones(doc); renamed > 0 {
		report.AddModification(entity.ModArmatureProcessing)
	}
	if added := addAttachments(doc, rules.Attachments); added > 0 {
		report.AddModification(entity.ModAttachmentPoints)
	}

	report.Final = Inspect(doc)
	report.Finalize(rules)

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if err := gltf.SaveBinary(doc, output); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}

	log.Info("outfit processed",
		zap.Int("triangles_before", report.Initial.Triangles),
		zap.Int("triangles_after", report.Final.Triangles),
		zap.Strings("violations", report.Violations),
		zap.Bool("valid", report.Valid),
	)
	return report, nil
}

func (p *OutfitProcessor) decimate(ctx context.Context, input, output string, ratio float64) (*gltf.Document, error) {
	tmp := output + ".decimated.glb"
	defer os.Remove(tmp)

	if err := p.decimator.Decimate(ctx, input, tmp, ratio); err != nil {
		return nil, fmt.Errorf("decimate: %w", err)
	}

	doc, err := gltf.Open(tmp)
	if err != nil {
		return nil, fmt.Errorf("open decimated model: %w", err)
	}
	return doc, nil
}

// setupMaterials даёт каждому примитиву материал и выставляет PBR-параметры
func setupMaterials(doc *gltf.Document) {
	var fallback *uint32
	for _, m := range doc.Meshes {
		for _, prim := range m.Primitives {
			if prim.Material != nil {
				continue
			}
			if fallback == nil {
				doc.Materials = append(doc.Materials, &gltf.Material{Name: "OutfitMaterial"})
				fallback = gltf.Index(uint32(len(doc.Materials) - 1))
			}
			prim.Material = gltf.Index(*fallback)
		}
	}

	for _, mat := range doc.Materials {
		if mat.PBRMetallicRoughness == nil {
			mat.PBRMetallicRoughness = &gltf.PBRMetallicRoughness{}
		}
		mat.PBRMetallicRoughness.MetallicFactor = gltf.Float(outfitMetallic)
		mat.PBRMetallicRoughness.RoughnessFactor = gltf.Float(outfitRoughness)
	}
}

// remapBones переименовывает узлы скелета; возвращает число изменённых имён
func remapBones(doc *gltf.Document) int {
	renamed := 0
	for _, n := range doc.Nodes {
		if name, changed := entity.RemapBoneName(n.Name); changed {
			n.Name = name
			renamed++
		}
	}
	return renamed
}

// addAttachments добавляет узлы креплений к костям или к корню сцены
func addAttachments(doc *gltf.Document, attachments []entity.Attachment) int {
	byName := make(map[string]uint32, len(doc.Nodes))
	for i, n := range doc.Nodes {
		if _, ok := byName[n.Name]; !ok && n.Name != "" {
			byName[n.Name] = uint32(i)
		}
	}

	added := 0
	for _, a := range attachments {
		if _, exists := byName[a.Name]; exists {
			continue
		}

		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:        a.Name,
			Translation: [3]float32{float32(a.Offset[0]), float32(a.Offset[1]), float32(a.Offset[2])},
		})
		idx := uint32(len(doc.Nodes) - 1)
		byName[a.Name] = idx
		added++

		if bone, ok := byName[a.Bone]; ok {
			doc.Nodes[bone].Children = append(doc.Nodes[bone].Children, idx)
			continue
		}
		scene := rootScene(doc)
		scene.Nodes = append(scene.Nodes, idx)
	}
	return added
}

func rootScene(doc *gltf.Document) *gltf.Scene {
	if len(doc.Scenes) == 0 {
		doc.Scenes = append(doc.Scenes, &gltf.Scene{})
		doc.Scene = gltf.Index(0)
	}
	if doc.Scene != nil && int(*doc.Scene) < len(doc.Scenes) {
		return doc.Scenes[*doc.Scene]
	}
	return doc.Scenes[0]
}

var _ port.OutfitProcessor = (*OutfitProcessor)(nil)
