package games

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatalogFile is the catalog's name inside the games directory.
const CatalogFile = "games.yaml"

// Entry is one game as listed in games.yaml. The game markup is either inline
// in html or read from html_file, relative to the games directory.
type Entry struct {
	Name     string `yaml:"name"`
	Cover    string `yaml:"cover"`
	HTML     string `yaml:"html"`
	HTMLFile string `yaml:"html_file"`
}

// Catalog is the ordered list of games shown on the index page.
type Catalog struct {
	Games []Entry `yaml:"games"`
}

// LoadCatalog reads dir/games.yaml. A missing catalog is an empty one.
func LoadCatalog(dir string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, CatalogFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Catalog{}, nil
		}
		return nil, fmt.Errorf("read games catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse games catalog: %w", err)
	}
	return &catalog, nil
}

// Tiles resolves every entry into a renderable tile.
func (c *Catalog) Tiles(dir string) ([]Tile, error) {
	tiles := make([]Tile, 0, len(c.Games))
	for i, entry := range c.Games {
		tile := Tile{Name: entry.Name, Cover: entry.Cover, HTML: entry.HTML}
		if entry.HTMLFile != "" {
			path, err := within(dir, entry.HTMLFile)
			if err != nil {
				return nil, fmt.Errorf("game %d (%s): %w", i, entry.Name, err)
			}
			markup, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("game %d (%s): %w", i, entry.Name, err)
			}
			tile.HTML = string(markup)
		}
		if err := tile.Validate(); err != nil {
			return nil, fmt.Errorf("game %d (%s): %w", i, entry.Name, err)
		}
		tiles = append(tiles, tile)
	}
	return tiles, nil
}

// within joins name onto dir and refuses paths that leave dir.
func within(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("html_file %q must be relative", name)
	}
	path := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("html_file %q is outside the games directory", name)
	}
	return path, nil
}
