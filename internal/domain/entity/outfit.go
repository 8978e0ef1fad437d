package entity

import (
	"errors"
	"fmt"
)

// ErrUnknownCategory категория одежды отсутствует в таблице правил
var ErrUnknownCategory = errors.New("unknown outfit category")

// OutfitCategory категория аксессуара аватара
type OutfitCategory string

const (
	OutfitClothes OutfitCategory = "clothes"
	OutfitHats    OutfitCategory = "hats"
	OutfitShoes   OutfitCategory = "shoes"
)

// Vec3 тройка координат в метрах
type Vec3 [3]float64

// Attachment точка крепления аксессуара к кости
type Attachment struct {
	Name   string `yaml:"name" json:"name"`
	Bone   string `yaml:"bone" json:"bone"`
	Offset Vec3   `yaml:"offset" json:"offset"`
}

// OutfitRules ограничения для одной категории
type OutfitRules struct {
	MaxTriangles  int          `yaml:"max_triangles" json:"max_triangles"`
	MaxDimensions Vec3         `yaml:"max_dimensions" json:"max_dimensions"`
	RequireUV     bool         `yaml:"require_uv" json:"require_uv"`
	Attachments   []Attachment `yaml:"attachments" json:"attachments,omitempty"`
}

// OutfitTable правила по категориям
type OutfitTable map[OutfitCategory]OutfitRules

// DefaultOutfitTable возвращает стандартную таблицу категорий
func DefaultOutfitTable() OutfitTable {
	return OutfitTable{
		OutfitClothes: {
			MaxTriangles:  8000,
			MaxDimensions: Vec3{1.2, 1.2, 1.2},
			RequireUV:     true,
		},
		OutfitHats: {
			MaxTriangles:  4000,
			MaxDimensions: Vec3{0.6, 0.4, 0.6},
			RequireUV:     true,
			Attachments: []Attachment{
				{Name: "HatAttachment", Bone: "Head", Offset: Vec3{0, 0.1, 0}},
			},
		},
		OutfitShoes: {
			MaxTriangles:  4000,
			MaxDimensions: Vec3{0.4, 0.2, 0.4},
			RequireUV:     true,
			Attachments: []Attachment{
				{Name: "LeftFootAttachment", Bone: "LeftFoot", Offset: Vec3{-0.1, 0, 0}},
				{Name: "RightFootAttachment", Bone: "RightFoot", Offset: Vec3{0.1, 0, 0}},
			},
		},
	}
}

// Rules возвращает правила категории или ErrUnknownCategory
func (t OutfitTable) Rules(category OutfitCategory) (OutfitRules, error) {
	r, ok := t[category]
	if !ok {
		return OutfitRules{}, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	return r, nil
}

var boneMapping = map[string]string{
	"Hips":         "HumanoidRootPart",
	"Spine":        "UpperTorso",
	"Spine1":       "LowerTorso",
	"LeftUpLeg":    "LeftUpperLeg",
	"RightUpLeg":   "RightUpperLeg",
	"LeftLeg":      "LeftLowerLeg",
	"RightLeg":     "RightLowerLeg",
	"LeftFoot":     "LeftFoot",
	"RightFoot":    "RightFoot",
	"LeftArm":      "LeftUpperArm",
	"RightArm":     "RightUpperArm",
	"LeftForeArm":  "LeftLowerArm",
	"RightForeArm": "RightLowerArm",
	"LeftHand":     "LeftHand",
	"RightHand":    "RightHand",
}

// RemapBoneName переводит имя кости в соглашение платформы.
// Неизвестные имена возвращаются без изменений.
func RemapBoneName(name string) (string, bool) {
	if mapped, ok := boneMapping[name]; ok {
		return mapped, mapped != name
	}
	return name, false
}

// MeshStats статистика геометрии модели
type MeshStats struct {
	Vertices   int  `json:"vertices"`
	Triangles  int  `json:"triangles"`
	Materials  int  `json:"materials"`
	UVLayers   int  `json:"uv_layers"`
	Dimensions Vec3 `json:"dimensions"`
}

// GeometryChange разница между конечным и начальным состоянием
type GeometryChange struct {
	VerticesDelta  int `json:"vertices_delta"`
	TrianglesDelta int `json:"triangles_delta"`
}

// Модификации, применяемые постобработкой
const (
	ModMeshOptimization   = "mesh_optimization"
	ModMaterialSetup      = "material_setup"
	ModUVVerification     = "uv_verification"
	ModArmatureProcessing = "armature_processing"
	ModAttachmentPoints   = "attachment_points"
)

// OutfitReport итог постобработки
type OutfitReport struct {
	Category       OutfitCategory `json:"category"`
	Initial        MeshStats      `json:"initial"`
	Final          MeshStats      `json:"final"`
	GeometryChange GeometryChange `json:"geometry_change"`
	Modifications  []string       `json:"modifications"`
	Violations     []string       `json:"violations"`
	Valid          bool           `json:"valid"`
}

// AddModification добавляет модификацию без повторов
func (r *OutfitReport) AddModification(mod string) {
	for _, m := range r.Modifications {
		if m == mod {
			return
		}
	}
	r.Modifications = append(r.Modifications, mod)
}

// Finalize сравнивает итоговую статистику с правилами и заполняет нарушения
func (r *OutfitReport) Finalize(rules OutfitRules) {
	r.GeometryChange = GeometryChange{
		VerticesDelta:  r.Final.Vertices - r.Initial.Vertices,
		TrianglesDelta: r.Final.Triangles - r.Initial.Triangles,
	}

	if r.Final.Triangles > rules.MaxTriangles {
		r.Violations = append(r.Violations,
			fmt.Sprintf("triangle count %d exceeds limit %d", r.Final.Triangles, rules.MaxTriangles))
	}

	axes := [3]string{"x", "y", "z"}
	for i, axis := range axes {
		if r.Final.Dimensions[i] > rules.MaxDimensions[i] {
			r.Violations = append(r.Violations,
				fmt.Sprintf("dimension %s %.3fm exceeds limit %.3fm", axis, r.Final.Dimensions[i], rules.MaxDimensions[i]))
		}
	}

	if rules.RequireUV && r.Final.UVLayers == 0 {
		r.Violations = append(r.Violations, "mesh has no UV layers")
	}

	r.Valid = len(r.Violations) == 0
}
