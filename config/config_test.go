package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONVERSION_MODE", "local")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("MAX_UPLOAD_MB", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, entity.ModeLocal, cfg.DefaultMode)
	require.Equal(t, 10*time.Second, cfg.PollInterval)
	require.Equal(t, int64(16), cfg.MaxUploadMB)
	require.Equal(t, int64(16<<20), cfg.MaxUploadBytes())
	require.Equal(t, uint(3), cfg.DownloadRetries)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CONVERSION_MODE", "local")
	t.Setenv("POLL_INTERVAL", "15")
	t.Setenv("POLL_TIMEOUT", "2m")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, cfg.PollInterval)
	require.Equal(t, 2*time.Minute, cfg.PollTimeout)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoad_BadMode(t *testing.T) {
	t.Setenv("CONVERSION_MODE", "teleport")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("CONVERSION_MODE", "local")
	cfg, err := Load()
	require.NoError(t, err)
	cfg.Generator = "native"
	cfg.JobStore = "memory"
	require.NoError(t, cfg.Validate())

	cfg.DefaultMode = entity.ModeCloud
	cfg.MasterpieceAPIKey = ""
	cfg.Generator = "blender"
	cfg.BlenderPath = ""
	cfg.JobStore = "redis"
	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "MPX_SDK_BEARER_TOKEN")
	require.Contains(t, err.Error(), "BLENDER_PATH")
	require.Contains(t, err.Error(), "JOB_STORE")
}

func TestLoadOutfitTable(t *testing.T) {
	table, err := LoadOutfitTable("")
	require.NoError(t, err)
	require.Len(t, table, 3)

	path := filepath.Join(t.TempDir(), "outfits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
categories:
  hats:
    max_triangles: 2000
    max_dimensions: [0.5, 0.5, 0.5]
    require_uv: false
  capes:
    max_triangles: 6000
    max_dimensions: [1.0, 1.5, 0.3]
    require_uv: true
    attachments:
      - name: BackAttachment
        bone: UpperTorso
        offset: [0, 0, -0.2]
`), 0o644))

	table, err = LoadOutfitTable(path)
	require.NoError(t, err)
	require.Equal(t, 2000, table[entity.OutfitHats].MaxTriangles)
	require.Empty(t, table[entity.OutfitHats].Attachments)
	require.Equal(t, 8000, table[entity.OutfitClothes].MaxTriangles)

	capes, err := table.Rules("capes")
	require.NoError(t, err)
	require.Equal(t, entity.Vec3{0, 0, -0.2}, capes.Attachments[0].Offset)
}

func TestLoadOutfitTable_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("categories:\n  hats:\n    max_triangles: 0\n"), 0o644))
	_, err := LoadOutfitTable(path)
	require.Error(t, err)

	_, err = LoadOutfitTable(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "console")
	require.NoError(t, err)
	require.NotNil(t, l)

	l, err = NewLogger("nonsense", "json")
	require.NoError(t, err)
	require.NotNil(t, l)
}
