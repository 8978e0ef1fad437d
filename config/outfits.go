package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// outfitFile формат YAML-файла с правилами категорий
type outfitFile struct {
	Categories map[entity.OutfitCategory]entity.OutfitRules `yaml:"categories"`
}

// LoadOutfitTable возвращает стандартную таблицу, дополненную категориями из файла.
// Категории из файла заменяют стандартные целиком.
func LoadOutfitTable(path string) (entity.OutfitTable, error) {
	table := entity.DefaultOutfitTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read outfit config: %w", err)
	}

	var f outfitFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse outfit config: %w", err)
	}

	for category, rules := range f.Categories {
		if rules.MaxTriangles <= 0 {
			return nil, fmt.Errorf("outfit config: category %q: max_triangles must be positive", category)
		}
		table[category] = rules
	}

	return table, nil
}
