package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeScene(t *testing.T, dir string, size int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBA{A: 255}
			if x >= size/4 && x < size*3/4 && y >= size/4 && y < size*3/4 {
				c = color.NRGBA{R: 240, G: 240, B: 240, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, "cup.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

// execute запускает команду в изолированном окружении
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("OUTPUT_DIR", filepath.Join(dir, "output"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("MPX_SDK_BEARER_TOKEN", "")
	t.Setenv("BLENDER_PATH", "")
	t.Setenv("DEEPSEEK_API_KEY", "")
	t.Setenv("GENERATOR", "native")
	t.Setenv("JOB_STORE", "memory")

	contourOut, describe = "", false
	convertMode, convertOutfit, convertName = "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	img := writeScene(t, t.TempDir(), 600)
	out, err := execute(t, "validate", img)
	require.NoError(t, err)
	require.Contains(t, out, `"success": true`)

	small := writeScene(t, t.TempDir(), 64)
	_, err = execute(t, "validate", small)
	require.ErrorContains(t, err, "is too low")
}

func TestAnalyzeCommand(t *testing.T) {
	dir := t.TempDir()
	img := writeScene(t, dir, 200)
	contour := filepath.Join(dir, "contour.png")

	out, err := execute(t, "analyze", img, "--contour-out", contour, "--describe")
	require.NoError(t, err)

	var analysis struct {
		Dimensions struct {
			Width int `json:"width"`
		} `json:"dimensions"`
		Description string `json:"description"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &analysis))
	require.Equal(t, 100, analysis.Dimensions.Width)
	require.NotEmpty(t, analysis.Description)
	require.FileExists(t, contour)
}

func TestConvertCommand(t *testing.T) {
	img := writeScene(t, t.TempDir(), 600)

	out, err := execute(t, "convert", img, "--mode", "local", "--name", "mug")
	require.NoError(t, err)

	var job struct {
		Status  string            `json:"status"`
		Outputs map[string]string `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &job))
	require.Equal(t, "completed", job.Status)
	require.Equal(t, "/api/files/mug/mug.glb", job.Outputs["glb"])
	require.FileExists(t, filepath.Join(os.Getenv("OUTPUT_DIR"), "mug", "mug.glb"))

	_, err = execute(t, "convert", img, "--mode", "cloud")
	require.ErrorContains(t, err, "not configured")
}

func TestChecksWithoutConfiguration(t *testing.T) {
	_, err := execute(t, "check-connection")
	require.ErrorContains(t, err, "MPX_SDK_BEARER_TOKEN")

	_, err = execute(t, "check-blender")
	require.ErrorContains(t, err, "BLENDER_PATH")
}
