package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

func TestMemoryUserRepository(t *testing.T) {
	repo := NewMemoryUserRepository()
	ctx := context.Background()

	u, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateMainMenu, u.State)

	u.ChooseOutfit(entity.OutfitHats)
	require.NoError(t, repo.Save(ctx, u))

	got, err := repo.Get(ctx, 1, 10)
	require.NoError(t, err)
	require.Equal(t, entity.StateAwaitingOutfitPhoto, got.State)
	require.Equal(t, entity.OutfitHats, got.Outfit)

	require.NoError(t, repo.UpdateState(ctx, 1, entity.StateProcessing))
	got, _ = repo.Get(ctx, 1, 10)
	require.Equal(t, entity.StateProcessing, got.State)
}

func testJobRepository(t *testing.T, repo port.JobRepository) {
	ctx := context.Background()

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, entity.ErrJobNotFound)

	older := entity.NewJob("job-1", "mug", entity.ModeLocal, "")
	older.CreatedAt = time.Now().Add(-time.Minute).UTC()
	require.NoError(t, repo.Save(ctx, older))

	newer := entity.NewJob("job-2", "hat", entity.ModeCloud, entity.OutfitHats)
	newer.Analysis = &entity.ShapeAnalysis{GeneratedPrompt: "Create a irregular 3D model"}
	require.NoError(t, repo.Save(ctx, newer))

	newer.AddOutput(entity.OutputGLB, "/api/files/hat/hat.glb")
	newer.Report = &entity.OutfitReport{Category: entity.OutfitHats, Valid: true}
	newer.Complete()
	require.NoError(t, repo.Save(ctx, newer))

	got, err := repo.Get(ctx, "job-2")
	require.NoError(t, err)
	require.Equal(t, entity.JobCompleted, got.Status)
	require.Equal(t, "/api/files/hat/hat.glb", got.Outputs[entity.OutputGLB])
	require.Equal(t, "Create a irregular 3D model", got.Analysis.GeneratedPrompt)
	require.True(t, got.Report.Valid)
	require.Equal(t, entity.OutfitHats, got.Outfit)

	jobs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "job-2", jobs[0].ID)

	jobs, err = repo.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestMemoryJobRepository(t *testing.T) {
	testJobRepository(t, NewMemoryJobRepository())
}

func TestSQLiteJobRepository(t *testing.T) {
	repo, err := OpenSQLiteJobRepository(filepath.Join(t.TempDir(), "db", "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	testJobRepository(t, repo)
}

func TestDiskFileStore(t *testing.T) {
	root := t.TempDir()
	store, err := NewDiskFileStore(filepath.Join(root, "uploads"), filepath.Join(root, "output"))
	require.NoError(t, err)
	ctx := context.Background()

	stored, err := store.SaveUpload(ctx, "Photo.PNG", []byte("data"))
	require.NoError(t, err)
	require.Equal(t, ".png", filepath.Ext(stored))
	data, err := os.ReadFile(store.UploadPath(stored))
	require.NoError(t, err)
	require.Equal(t, "data", string(data))

	dir, err := store.OutputDir("mug")
	require.NoError(t, err)
	require.DirExists(t, dir)
	require.Equal(t, "/api/files/mug/mug.glb", store.OutputURL("mug", "mug.glb"))

	_, err = store.ClaimOutputDir("mug")
	require.ErrorIs(t, err, fs.ErrExist)
	claimed, err := store.ClaimOutputDir("cup")
	require.NoError(t, err)
	require.DirExists(t, claimed)

	url, err := store.SaveModified([]byte("glTF"))
	require.NoError(t, err)
	require.Contains(t, url, "/api/files/modified/modified_")

	p, err := store.ResolveOutput("mug/mug.glb")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "output", "mug", "mug.glb"), p)

	p, err = store.ResolveOutput("../uploads/" + stored)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "output", "uploads", stored), p)

	_, err = store.ResolveOutput("")
	require.ErrorIs(t, err, ErrInvalidPath)
}
