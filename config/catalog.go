package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed catalog.toml
var defaultCatalog []byte

// PresetSpec describes one rung of the quality ladder.
type PresetSpec struct {
	Name      string `toml:"name"`
	Bitrate   *int   `toml:"bitrate"` // nil marks the original upload
	Directory string `toml:"directory"`
	Extension string `toml:"extension"`
	Args      string `toml:"args"`
}

// FieldSpec describes one entry of the metadata field catalog.
type FieldSpec struct {
	Name       string `toml:"name"`
	Writable   bool   `toml:"writable"`
	Searchable bool   `toml:"searchable"`
}

// Catalog is the static reference data seeded into the database.
type Catalog struct {
	Presets []PresetSpec `toml:"preset"`
	Fields  []FieldSpec  `toml:"field"`
}

// LoadCatalog reads the catalog from path, or the embedded default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultCatalog
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}
		data = raw
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a TOML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := toml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks names and directories are unique and exactly one original preset exists.
func (c *Catalog) Validate() error {
	originals := 0
	names := make(map[string]struct{}, len(c.Presets))
	dirs := make(map[string]struct{}, len(c.Presets))
	for _, p := range c.Presets {
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Directory) == "" {
			return fmt.Errorf("catalog preset requires name and directory: %+v", p)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("duplicate preset name %q", p.Name)
		}
		if _, dup := dirs[p.Directory]; dup {
			return fmt.Errorf("duplicate preset directory %q", p.Directory)
		}
		names[p.Name] = struct{}{}
		dirs[p.Directory] = struct{}{}
		if p.Bitrate == nil {
			originals++
			continue
		}
		if *p.Bitrate <= 0 {
			return fmt.Errorf("preset %q has non-positive bitrate %d", p.Name, *p.Bitrate)
		}
		if strings.TrimSpace(p.Extension) == "" {
			return fmt.Errorf("preset %q requires an extension", p.Name)
		}
	}
	if originals != 1 {
		return fmt.Errorf("catalog must define exactly one original preset, found %d", originals)
	}

	fields := make(map[string]struct{}, len(c.Fields))
	for _, f := range c.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("catalog field requires a name")
		}
		if _, dup := fields[f.Name]; dup {
			return fmt.Errorf("duplicate field name %q", f.Name)
		}
		fields[f.Name] = struct{}{}
	}
	return nil
}
