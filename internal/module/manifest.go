package module

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadManifest parses a module's on-disk module.yaml declaration into an
// Info record. A manifest is how a module ships its metadata -- the Go
// stand-in for the dotted-path Python class's declared attributes
// (acts_on, generates, triggered_by, config, ...).
func LoadManifest(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("module: read manifest %s: %w", path, err)
	}
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("module: parse manifest %s: %w", path, err)
	}
	return info, nil
}
