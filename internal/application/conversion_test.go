package app

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/mesh"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/storage"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/vision"
)

func squarePNG(t *testing.T, fg color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			c := color.NRGBA{A: 255}
			if x >= 20 && x < 80 && y >= 30 && y < 70 {
				c = fg
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type recordingNotifier struct {
	mu       sync.Mutex
	statuses []entity.JobStatus
}

func (n *recordingNotifier) Publish(job *entity.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.statuses) == 0 || n.statuses[len(n.statuses)-1] != job.Status {
		n.statuses = append(n.statuses, job.Status)
	}
}

type fakeCloud struct {
	mu       sync.Mutex
	imageURL string
	statuses []*entity.RemoteStatus
	polls    int
	connErr  error
}

func (c *fakeCloud) TestConnection(ctx context.Context) error { return c.connErr }

func (c *fakeCloud) Submit(ctx context.Context, imageURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imageURL = imageURL
	return "remote-1", nil
}

func (c *fakeCloud) Status(ctx context.Context, id string) (*entity.RemoteStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := min(c.polls, len(c.statuses)-1)
	c.polls++
	return c.statuses[i], nil
}

type fakeDownloader struct {
	mu   sync.Mutex
	urls []string
	src  string
}

func (d *fakeDownloader) Download(ctx context.Context, url, dst string) error {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	d.mu.Unlock()
	data := []byte(url)
	if d.src != "" && filepath.Ext(dst) == ".glb" {
		var err error
		if data, err = os.ReadFile(d.src); err != nil {
			return err
		}
	}
	return os.WriteFile(dst, data, 0o644)
}

type rejectingValidator struct{}

func (rejectingValidator) Validate(ctx context.Context, data []byte) *entity.ValidationResult {
	return entity.DefaultRequirements().Validate(entity.ImageInfo{Width: 100, Height: 100, Format: "PNG", SizeBytes: int64(len(data))})
}

var bright = color.NRGBA{R: 230, G: 230, B: 230, A: 255}

func portRequest(out string) port.GenerateRequest {
	return port.GenerateRequest{
		Analysis: &entity.ShapeAnalysis{
			Dimensions: entity.Dimensions{Width: 30, Height: 15},
			Shape:      entity.ShapeInfo{Type: entity.ShapeIrregular},
		},
		OutputPath: out,
	}
}

type fixture struct {
	svc      *ConversionService
	jobs     *storage.MemoryJobRepository
	files    *storage.DiskFileStore
	notifier *recordingNotifier
	cloud    *fakeCloud
	dl       *fakeDownloader
}

func newFixture(t *testing.T, cfg ConversionConfig, mutate func(*ConversionDeps)) *fixture {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewDiskFileStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "output"))
	require.NoError(t, err)

	f := &fixture{
		jobs:     storage.NewMemoryJobRepository(),
		files:    files,
		notifier: &recordingNotifier{},
		cloud:    &fakeCloud{},
		dl:       &fakeDownloader{},
	}
	deps := ConversionDeps{
		Jobs:       f.jobs,
		Files:      files,
		Analysis:   NewAnalysisService(nil, vision.NewNativeAnalyzer(nil), nil, nil, nil),
		Generator:  mesh.NewPrimitiveGenerator(nil),
		Preview:    vision.NewThumbnailer(32),
		Cloud:      f.cloud,
		Downloader: f.dl,
		Outfits:    mesh.NewOutfitProcessor(entity.DefaultOutfitTable(), nil, nil),
		Notifier:   f.notifier,
	}
	if mutate != nil {
		mutate(&deps)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Millisecond
	}
	cfg.PublicBaseURL = "http://example.test/"
	f.svc = NewConversionService(deps, cfg, nil)
	return f
}

func (f *fixture) upload(t *testing.T, data []byte) string {
	t.Helper()
	stored, err := f.files.SaveUpload(context.Background(), "Mug Photo.PNG", data)
	require.NoError(t, err)
	return stored
}

func TestConversionService_Local(t *testing.T) {
	f := newFixture(t, ConversionConfig{}, nil)
	upload := f.upload(t, squarePNG(t, color.NRGBA{R: 200, G: 200, B: 200, A: 255}))

	job, err := f.svc.Run(context.Background(), ConversionRequest{Name: "mug photo", Upload: upload, Mode: entity.ModeLocal})
	require.NoError(t, err)
	require.Equal(t, entity.JobCompleted, job.Status)
	require.Equal(t, "mug_photo", job.Name)
	require.Equal(t, "/api/files/mug_photo/mug_photo.glb", job.Outputs[entity.OutputGLB])
	require.Equal(t, "/api/files/mug_photo/mug_photo_preview.png", job.Outputs[entity.OutputThumbnail])
	require.Equal(t, entity.FallbackDescription(job.Analysis), job.Analysis.Description)

	dir, err := f.files.OutputDir("mug_photo")
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(dir, "mug_photo.glb"))
	require.FileExists(t, filepath.Join(dir, "mug_photo_preview.png"))

	stored, err := f.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, entity.JobCompleted, stored.Status)

	require.Equal(t, []entity.JobStatus{
		entity.JobQueued, entity.JobValidating, entity.JobAnalyzing, entity.JobGenerating, entity.JobCompleted,
	}, f.notifier.statuses)
}

func TestConversionService_LocalWithOutfit(t *testing.T) {
	f := newFixture(t, ConversionConfig{}, nil)
	upload := f.upload(t, squarePNG(t, bright))

	job, err := f.svc.Run(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeLocal, Outfit: entity.OutfitHats})
	require.NoError(t, err)
	require.NotNil(t, job.Report)
	require.Equal(t, entity.OutfitHats, job.Report.Category)
	require.Contains(t, job.Outputs[entity.OutputOutfit], "_hats.glb")
	require.Contains(t, f.notifier.statuses, entity.JobPostProcessing)
}

func TestConversionService_LocalAnalysisFailure(t *testing.T) {
	f := newFixture(t, ConversionConfig{}, nil)
	upload := f.upload(t, squarePNG(t, color.NRGBA{A: 255}))

	job, err := f.svc.Run(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeLocal})
	require.ErrorIs(t, err, entity.ErrNoContours)
	require.Equal(t, entity.JobFailed, job.Status)
	require.NotEmpty(t, job.Error)

	stored, err := f.jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, entity.JobFailed, stored.Status)
}

func TestConversionService_InvalidImage(t *testing.T) {
	f := newFixture(t, ConversionConfig{}, func(d *ConversionDeps) {
		d.Analysis = NewAnalysisService(rejectingValidator{}, vision.NewNativeAnalyzer(nil), nil, nil, nil)
	})
	upload := f.upload(t, squarePNG(t, bright))

	job, err := f.svc.Run(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeLocal})
	require.ErrorIs(t, err, ErrInvalidImage)
	require.Equal(t, entity.JobFailed, job.Status)
}

func TestConversionService_Cloud(t *testing.T) {
	f := newFixture(t, ConversionConfig{PollTimeout: time.Minute}, nil)
	f.cloud.statuses = []*entity.RemoteStatus{
		{Status: entity.RemotePending},
		{Status: entity.RemoteProcessing, Progress: 40},
		{Status: entity.RemoteComplete, Outputs: map[string]string{
			entity.OutputGLB:       "https://cdn/a.glb",
			entity.OutputFBX:       "https://cdn/a.fbx",
			entity.OutputThumbnail: "https://cdn/a.png",
		}},
	}
	upload := f.upload(t, squarePNG(t, bright))

	job, err := f.svc.Run(context.Background(), ConversionRequest{Name: "cup", Upload: upload, Mode: entity.ModeCloud})
	require.NoError(t, err)
	require.Equal(t, entity.JobCompleted, job.Status)
	require.Equal(t, "remote-1", job.RemoteID)
	require.Equal(t, "http://example.test/api/uploads/"+upload, f.cloud.imageURL)
	require.Equal(t, 3, f.cloud.polls)
	require.Len(t, f.dl.urls, 3)
	require.Equal(t, map[string]string{
		entity.OutputGLB:       "/api/files/cup/cup.glb",
		entity.OutputFBX:       "/api/files/cup/cup.fbx",
		entity.OutputThumbnail: "/api/files/cup/cup_preview.png",
	}, job.Outputs)
	require.NotNil(t, job.Analysis)
	require.Contains(t, f.notifier.statuses, entity.JobDownloading)
}

func TestConversionService_CloudAnalysisIsOptional(t *testing.T) {
	f := newFixture(t, ConversionConfig{PollTimeout: time.Minute}, nil)
	f.cloud.statuses = []*entity.RemoteStatus{
		{Status: entity.RemoteComplete, Outputs: map[string]string{entity.OutputUSDZ: "https://cdn/a.usdz"}},
	}
	upload := f.upload(t, squarePNG(t, color.NRGBA{A: 255}))

	job, err := f.svc.Run(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeCloud})
	require.NoError(t, err)
	require.Nil(t, job.Analysis)
	require.Len(t, job.Outputs, 1)
}

func TestConversionService_CloudWithOutfit(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src.glb")
	require.NoError(t, mesh.NewPrimitiveGenerator(nil).Generate(context.Background(), portRequest(src)))

	f := newFixture(t, ConversionConfig{PollTimeout: time.Minute}, nil)
	f.dl.src = src
	f.cloud.statuses = []*entity.RemoteStatus{
		{Status: entity.RemoteComplete, Outputs: map[string]string{entity.OutputGLB: "https://cdn/a.glb"}},
	}
	upload := f.upload(t, squarePNG(t, bright))

	job, err := f.svc.Run(context.Background(), ConversionRequest{Name: "boot", Upload: upload, Mode: entity.ModeCloud, Outfit: entity.OutfitShoes})
	require.NoError(t, err)
	require.Equal(t, "/api/files/boot/boot_shoes.glb", job.Outputs[entity.OutputOutfit])
	require.True(t, job.Report.Valid, job.Report.Violations)
}

func TestConversionService_CloudFailed(t *testing.T) {
	f := newFixture(t, ConversionConfig{PollTimeout: time.Minute}, nil)
	f.cloud.statuses = []*entity.RemoteStatus{{Status: entity.RemoteFailed, Error: "bad image"}}
	upload := f.upload(t, squarePNG(t, bright))

	job, err := f.svc.Run(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeCloud})
	require.ErrorIs(t, err, entity.ErrConversionFailed)
	require.ErrorContains(t, err, "bad image")
	require.Equal(t, entity.JobFailed, job.Status)
}

func TestConversionService_CloudPollTimeout(t *testing.T) {
	f := newFixture(t, ConversionConfig{PollTimeout: 30 * time.Millisecond}, nil)
	f.cloud.statuses = []*entity.RemoteStatus{{Status: entity.RemoteProcessing}}
	upload := f.upload(t, squarePNG(t, bright))

	_, err := f.svc.Run(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeCloud})
	require.ErrorIs(t, err, entity.ErrPollTimeout)
	require.Greater(t, f.cloud.polls, 1)
}

func TestConversionService_CloudNoArtifacts(t *testing.T) {
	f := newFixture(t, ConversionConfig{PollTimeout: time.Minute}, nil)
	f.cloud.statuses = []*entity.RemoteStatus{{Status: entity.RemoteComplete}}
	upload := f.upload(t, squarePNG(t, bright))

	_, err := f.svc.Run(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeCloud})
	require.ErrorIs(t, err, ErrNoArtifacts)
}

func TestConversionService_CloudUnavailable(t *testing.T) {
	f := newFixture(t, ConversionConfig{}, func(d *ConversionDeps) { d.Cloud = nil })

	_, err := f.svc.Run(context.Background(), ConversionRequest{Upload: "x.png", Mode: entity.ModeCloud})
	require.ErrorIs(t, err, ErrCloudUnavailable)

	_, err = f.svc.Run(context.Background(), ConversionRequest{Upload: "x.png", Mode: "hybrid"})
	require.Error(t, err)
}

func TestConversionService_StartAndWait(t *testing.T) {
	f := newFixture(t, ConversionConfig{MaxConcurrent: 1}, nil)
	upload := f.upload(t, squarePNG(t, bright))

	var ids []string
	names := map[string]bool{}
	for i := 0; i < 3; i++ {
		job, err := f.svc.Start(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeLocal, Name: "job"})
		require.NoError(t, err)
		require.Equal(t, entity.JobQueued, job.Status)
		ids = append(ids, job.ID)
		names[job.Name] = true
	}
	require.Len(t, names, 3)
	require.True(t, names["job"])

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Wait(ctx))

	for _, id := range ids {
		job, err := f.svc.Job(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, entity.JobCompleted, job.Status, job.Error)
	}

	list, err := f.svc.Jobs(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestConversionService_WaitCancelsOnDeadline(t *testing.T) {
	f := newFixture(t, ConversionConfig{PollTimeout: time.Hour, PollInterval: time.Hour}, nil)
	f.cloud.statuses = []*entity.RemoteStatus{{Status: entity.RemoteProcessing}}
	upload := f.upload(t, squarePNG(t, bright))

	job, err := f.svc.Start(context.Background(), ConversionRequest{Upload: upload, Mode: entity.ModeCloud})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.svc.Wait(ctx), context.DeadlineExceeded)

	stored, err := f.svc.Job(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, entity.JobFailed, stored.Status)
}

func TestConversionService_OutputNameCollisions(t *testing.T) {
	f := newFixture(t, ConversionConfig{}, nil)
	upload := f.upload(t, squarePNG(t, bright))
	ctx := context.Background()

	first, err := f.svc.Run(ctx, ConversionRequest{Name: "cup", Upload: upload, Mode: entity.ModeLocal})
	require.NoError(t, err)
	require.Equal(t, "cup", first.Name)

	second, err := f.svc.Run(ctx, ConversionRequest{Name: "cup", Upload: upload, Mode: entity.ModeLocal})
	require.NoError(t, err)
	require.Equal(t, "cup_"+second.ID[:8], second.Name)
	require.Equal(t, "/api/files/"+second.Name+"/"+second.Name+".glb", second.Outputs[entity.OutputGLB])
	require.Equal(t, "/api/files/cup/cup.glb", first.Outputs[entity.OutputGLB])

	for _, reserved := range []string{"debug", "outfits", "Modified"} {
		job, err := f.svc.Run(ctx, ConversionRequest{Name: reserved, Upload: upload, Mode: entity.ModeLocal})
		require.NoError(t, err)
		require.Equal(t, reserved+"_"+job.ID[:8], job.Name)
	}
}

func TestOutputName(t *testing.T) {
	require.Equal(t, "my_cup", outputName("my cup", "abc.png", "id"))
	require.Equal(t, "abc", outputName("", "abc.png", "id"))
	require.Equal(t, "id", outputName("!!!", "", "id"))
	require.Equal(t, "a_b", outputName("../a/b", "", "id"))
}
