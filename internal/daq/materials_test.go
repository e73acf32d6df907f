package daq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMaterials_FallsBackWhenNoFileFound(t *testing.T) {
	materials := LoadMaterials()
	assert.Equal(t, defaultMaterials, materials)
}

func TestLoadMaterials_ReadsFirstSearchLocation(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	yamlContent := "- name: titanium\n  elastic_modulus_mpa: 1.14e5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "materials.yaml"), []byte(yamlContent), 0o644))

	materials := LoadMaterials()
	require.Len(t, materials, 1)
	assert.Equal(t, "titanium", materials[0].Name)
	assert.InDelta(t, 1.14e5, materials[0].ElasticModulus, 1e-6)
}

func TestElasticModulusFor_UnknownNameFallsBackToDefault(t *testing.T) {
	assert.Equal(t, DefaultElasticModulusMPa, ElasticModulusFor(defaultMaterials, "unobtainium"))
	assert.Equal(t, DefaultElasticModulusMPa, ElasticModulusFor(defaultMaterials, ""))
}

func TestElasticModulusFor_KnownNameReturnsPreset(t *testing.T) {
	assert.InDelta(t, 6.9e4, ElasticModulusFor(defaultMaterials, "aluminum"), 1e-6)
}
