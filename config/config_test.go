package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jangala-dev/robot-supervisor/params"
)

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supervisor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reflex:\n  port: /dev/ttyACM0\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyACM0", cfg.Reflex.Port)
	require.Equal(t, 115200, cfg.Reflex.Baud)
	require.Equal(t, "/dev/face", cfg.Face.Port)
	require.Equal(t, ":8080", cfg.WebAddr)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reflex: [not a map"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestDeclareParamsAppliesOverrides(t *testing.T) {
	reg := params.New()
	cfg := Default()
	cfg.Params = map[string]any{"reflex.max_v_mm_s": 400}

	require.NoError(t, DeclareParams(reg, cfg, nil))
	v, ok := reg.Get("reflex.max_v_mm_s")
	require.True(t, ok)
	require.Equal(t, int32(400), v)
}

func TestDeclareParamsRejectsOutOfBoundsOverride(t *testing.T) {
	reg := params.New()
	cfg := Default()
	cfg.Params = map[string]any{"reflex.max_v_mm_s": 9999}

	require.Error(t, DeclareParams(reg, cfg, nil))
}
