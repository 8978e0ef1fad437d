package blender

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

const fakeBlender = `#!/bin/sh
if [ "$1" = "--version" ]; then
  echo "Blender 4.1.0"
  echo "	build date: 2024-03-25"
  exit 0
fi
while [ "$#" -gt 0 ] && [ "$1" != "--" ]; do shift; done
shift
echo "Blender quit noise"
case "$FAKE_BLENDER_MODE" in
  fail)
    echo '{"success": false, "error": "modifier failed"}'
    exit 1
    ;;
  crash)
    echo "segfault" >&2
    exit 3
    ;;
  silent)
    exit 0
    ;;
  sleep)
    exec sleep 5
    ;;
esac
case "$3" in
  *.glb) out="$3" ;;
  *) out="$2" ;;
esac
printf 'glTF' > "$out"
echo "{\"success\": true, \"args\": \"$*\"}"
`

func newFake(t *testing.T, timeout time.Duration) *Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "blender")
	require.NoError(t, os.WriteFile(path, []byte(fakeBlender), 0o755))
	return NewRunner(path, timeout, nil)
}

func TestRunner_Version(t *testing.T) {
	r := newFake(t, time.Minute)

	v, err := r.Version(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Blender 4.1.0", v)
}

func TestRunner_NotConfigured(t *testing.T) {
	r := NewRunner("", 0, nil)

	_, err := r.Version(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)

	err = r.Decimate(context.Background(), "a.glb", "b.glb", 0.5)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestRunner_Generate(t *testing.T) {
	r := newFake(t, time.Minute)
	out := filepath.Join(t.TempDir(), "job", "job.glb")

	err := r.Generate(context.Background(), port.GenerateRequest{
		Analysis:   &entity.ShapeAnalysis{Dimensions: entity.Dimensions{Width: 100, Height: 50}},
		ImagePath:  "/tmp/input.png",
		OutputPath: out,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "glTF", string(data))
}

func TestRunner_Decimate(t *testing.T) {
	r := newFake(t, time.Minute)
	dir := t.TempDir()
	out := filepath.Join(dir, "out.glb")

	res, err := r.Run(context.Background(), decimateScript, filepath.Join(dir, "in.glb"), out, "0.25")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, strings.Contains(string(res.Raw), "0.25"))
	require.FileExists(t, out)

	require.NoError(t, r.Decimate(context.Background(), "in.glb", out, 0.5))
	require.Error(t, r.Decimate(context.Background(), "in.glb", out, 0))
	require.Error(t, r.Decimate(context.Background(), "in.glb", out, 1.5))
}

func TestRunner_ScriptFailure(t *testing.T) {
	r := newFake(t, time.Minute)
	t.Setenv("FAKE_BLENDER_MODE", "fail")

	res, err := r.Run(context.Background(), decimateScript, "a", "b", "0.5")
	require.ErrorContains(t, err, "modifier failed")
	require.False(t, res.Success)
}

func TestRunner_Crash(t *testing.T) {
	r := newFake(t, time.Minute)
	t.Setenv("FAKE_BLENDER_MODE", "crash")

	_, err := r.Run(context.Background(), decimateScript, "a", "b", "0.5")
	require.ErrorContains(t, err, "exit status 3")
}

func TestRunner_NoResult(t *testing.T) {
	r := newFake(t, time.Minute)
	t.Setenv("FAKE_BLENDER_MODE", "silent")

	_, err := r.Run(context.Background(), decimateScript, "a", "b", "0.5")
	require.ErrorContains(t, err, "no result")
}

func TestRunner_Timeout(t *testing.T) {
	r := newFake(t, 100*time.Millisecond)
	t.Setenv("FAKE_BLENDER_MODE", "sleep")

	_, err := r.Run(context.Background(), decimateScript, "a", "b", "0.5")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseResult_TakesLastLine(t *testing.T) {
	out := []byte("noise\n{\"success\": false, \"error\": \"first\"}\n{\"success\": true}\ntrailing\n")

	res, err := parseResult(out)
	require.NoError(t, err)
	require.True(t, res.Success)
}
