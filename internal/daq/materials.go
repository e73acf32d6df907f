package daq

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Material names a structural material whose elastic modulus
// parameterizes the ASME S-N curve.
type Material struct {
	Name           string  `yaml:"name"`
	ElasticModulus float64 `yaml:"elastic_modulus_mpa"`
}

// defaultMaterials is used when no materials.yaml is found, covering
// the steel default the rest of the package assumes plus a couple of
// common structural alternatives.
var defaultMaterials = []Material{
	{Name: "steel", ElasticModulus: DefaultElasticModulusMPa},
	{Name: "aluminum", ElasticModulus: 6.9e4},
	{Name: "stainless-steel", ElasticModulus: 1.93e5},
}

// materialSearchLocations is checked in order: the working directory,
// then a data/ subdirectory, then the source tree layout, before
// falling back to defaultMaterials.
var materialSearchLocations = []string{
	"materials.yaml",
	"data/materials.yaml",
	"../data/materials.yaml",
}

// LoadMaterials reads a material preset table from the first of
// materialSearchLocations that exists, falling back to
// defaultMaterials when none do. A malformed file is also non-fatal:
// it logs nothing here (callers decide whether to report it) and
// falls back the same way.
func LoadMaterials() []Material {
	for _, path := range materialSearchLocations {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var materials []Material
		if err := yaml.Unmarshal(data, &materials); err != nil || len(materials) == 0 {
			continue
		}
		return materials
	}
	return defaultMaterials
}

// ElasticModulusFor looks up a material by name (case-sensitive,
// matching the config value verbatim), falling back to
// DefaultElasticModulusMPa when name is empty or unknown.
func ElasticModulusFor(materials []Material, name string) float64 {
	if name == "" {
		return DefaultElasticModulusMPa
	}
	for _, m := range materials {
		if m.Name == name {
			return m.ElasticModulus
		}
	}
	return DefaultElasticModulusMPa
}
