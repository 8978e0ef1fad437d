package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	app "github.com/ardylee-mml/adto3d/internal/application"
	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/mesh"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/metrics"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/storage"
	"github.com/ardylee-mml/adto3d/internal/infrastructure/vision"
)

type testEnv struct {
	router     *gin.Engine
	files      *storage.DiskFileStore
	conversion *app.ConversionService
}

func newTestEnv(t *testing.T, cfg Config, m MetricsHandler) *testEnv {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewDiskFileStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "output"))
	require.NoError(t, err)

	analysis := app.NewAnalysisService(
		vision.NewValidator(entity.DefaultRequirements(), nil),
		vision.NewNativeAnalyzer(nil), nil, nil, nil,
	)
	processor := mesh.NewOutfitProcessor(entity.DefaultOutfitTable(), nil, nil)
	conversion := app.NewConversionService(app.ConversionDeps{
		Jobs:      storage.NewMemoryJobRepository(),
		Files:     files,
		Analysis:  analysis,
		Generator: mesh.NewPrimitiveGenerator(nil),
		Preview:   vision.NewThumbnailer(64),
		Outfits:   processor,
	}, app.ConversionConfig{MaxConcurrent: 2}, nil)

	srv := NewServer(cfg, Deps{
		Conversion: conversion,
		Analysis:   analysis,
		Outfits:    app.NewOutfitService(processor, files, nil, nil),
		Files:      files,
		Metrics:    m,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &testEnv{router: srv.Router(ctx), files: files, conversion: conversion}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// scenePNG светлый прямоугольник на чёрном фоне
func scenePNG(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBA{A: 255}
			if x >= size/4 && x < size*3/4 && y >= size/3 && y < size*2/3 {
				c = color.NRGBA{R: 220, G: 220, B: 220, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, field, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode(t, rec)["status"])
}

func TestServer_ValidateImage(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(multipartRequest(t, "/api/validate-image", "image", "ok.png", scenePNG(t, 600), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, decode(t, rec)["success"])

	rec = env.do(multipartRequest(t, "/api/validate-image", "image", "small.png", scenePNG(t, 100), nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	require.Equal(t, false, body["success"])
	require.Contains(t, body["message"], "is too low")
}

func TestServer_Analyze(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(multipartRequest(t, "/api/analyze?debug=true", "image", "a.png", scenePNG(t, 200), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	analysis := body["analysis"].(map[string]any)
	require.Equal(t, 100.0, analysis["dimensions"].(map[string]any)["width"])

	debugURL, ok := body["debug_image"].(string)
	require.True(t, ok)
	require.True(t, strings.HasPrefix(debugURL, "/api/files/debug/"))

	rec = env.do(httptest.NewRequest(http.MethodGet, debugURL, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestServer_AnalyzeErrors(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	black := image.NewGray(image.Rect(0, 0, 20, 20))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, black))
	rec := env.do(multipartRequest(t, "/api/analyze", "image", "black.png", buf.Bytes(), nil))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(multipartRequest(t, "/api/analyze", "image", "x.png", []byte("not an image"), nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	huge := image.NewGray(image.Rect(0, 0, 8, 5000))
	buf.Reset()
	require.NoError(t, png.Encode(&buf, huge))
	rec = env.do(multipartRequest(t, "/api/analyze", "image", "huge.png", buf.Bytes(), nil))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "image dimensions exceed limit")
}

func TestServer_UploadGuards(t *testing.T) {
	env := newTestEnv(t, Config{MaxUploadBytes: 1024}, nil)

	rec := env.do(multipartRequest(t, "/api/analyze", "", "", nil, map[string]string{"mode": "local"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "no file uploaded", decode(t, rec)["error"])

	rec = env.do(multipartRequest(t, "/api/analyze", "image", "big.png", bytes.Repeat([]byte{1}, 4096), nil))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServer_ConvertLocalAndWait(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(multipartRequest(t, "/api/convert", "file", "cup.png", scenePNG(t, 600), map[string]string{
		"mode": "local", "wait": "true", "fileName": "cup",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	outputs := body["outputs"].(map[string]any)
	require.Equal(t, "/api/files/cup/cup.glb", outputs["glb"])
	require.Equal(t, "/api/files/cup/cup_preview.png", outputs["thumbnail"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/files/cup/cup.glb", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "model/gltf-binary", rec.Header().Get("Content-Type"))
	require.Equal(t, "glTF", rec.Body.String()[:4])

	id := body["job"].(map[string]any)["id"].(string)
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", decode(t, rec)["job"].(map[string]any)["status"])
}

func TestServer_ConvertAsync(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(multipartRequest(t, "/api/convert", "file", "cup.png", scenePNG(t, 600), map[string]string{
		"mode": "local", "outfitType": "hats",
	}))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode(t, rec)
	job := body["job"].(map[string]any)
	require.Equal(t, "queued", job["status"])
	require.Equal(t, "/api/jobs/"+job["id"].(string), body["status_url"])

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, env.conversion.Wait(ctx))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/jobs/"+job["id"].(string), nil))
	stored := decode(t, rec)["job"].(map[string]any)
	require.Equal(t, "completed", stored["status"], stored["error"])
	require.NotNil(t, stored["outfit_report"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/jobs?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode(t, rec)["jobs"], 1)
}

func TestServer_ConvertRejects(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	img := scenePNG(t, 64)

	rec := env.do(multipartRequest(t, "/api/convert", "file", "a.gif", img, map[string]string{"mode": "local"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decode(t, rec)["error"], "invalid file type")

	rec = env.do(multipartRequest(t, "/api/convert", "file", "a.png", img, map[string]string{"mode": "hybrid"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(multipartRequest(t, "/api/convert", "file", "a.png", img, map[string]string{"mode": "local", "outfitType": "capes"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(multipartRequest(t, "/api/convert", "file", "a.png", img, map[string]string{"mode": "cloud"}))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(multipartRequest(t, "/api/convert", "file", "a.png", img, map[string]string{"mode": "local", "wait": "1"}))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	require.Contains(t, body["error"], "is too low")
	require.Equal(t, "failed", body["job"].(map[string]any)["status"])
}

func TestServer_JobNotFound(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/jobs?limit=zero", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SaveModel(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	rec := env.do(multipartRequest(t, "/api/save-model", "model", "edited.glb", []byte("glTF-edited"), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	url := decode(t, rec)["url"].(string)
	require.True(t, strings.HasPrefix(url, "/api/files/modified/modified_"))
	require.True(t, strings.HasSuffix(url, ".glb"))

	rec = env.do(httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "glTF-edited", rec.Body.String())
}

func TestServer_Files(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	stored, err := env.files.SaveUpload(context.Background(), "photo.PNG", scenePNG(t, 32))
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/uploads/"+stored, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/files/nope/nope.glb", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/files/", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	dir, err := env.files.OutputDir("cup")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cup.usdz"), []byte("usdz"), 0o644))
	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/files/cup/cup.usdz", nil))
	require.Equal(t, "model/vnd.usdz+zip", rec.Header().Get("Content-Type"))
}

func TestServer_Outfit(t *testing.T) {
	env := newTestEnv(t, Config{}, nil)

	src := filepath.Join(t.TempDir(), "hat.glb")
	require.NoError(t, mesh.NewPrimitiveGenerator(nil).Generate(context.Background(), port.GenerateRequest{
		Analysis: &entity.ShapeAnalysis{
			Dimensions: entity.Dimensions{Width: 30, Height: 20},
			Shape:      entity.ShapeInfo{Type: entity.ShapeCylindrical},
		},
		OutputPath: src,
	}))
	data, err := os.ReadFile(src)
	require.NoError(t, err)

	rec := env.do(multipartRequest(t, "/api/outfit", "model", "hat.glb", data, map[string]string{"outfitType": "hats"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	report := body["report"].(map[string]any)
	require.Equal(t, true, report["valid"])
	require.True(t, strings.HasPrefix(body["url"].(string), "/api/files/outfits/hats_"))

	rec = env.do(multipartRequest(t, "/api/outfit", "model", "hat.glb", data, map[string]string{"outfitType": "capes"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(multipartRequest(t, "/api/outfit", "model", "hat.glb", []byte("junk"), map[string]string{"category": "hats"}))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_RateLimit(t *testing.T) {
	env := newTestEnv(t, Config{RateLimitRPS: 0.001, RateLimitBurst: 1}, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, Config{}, metrics.NewCollector("adto3d", nil))

	env.do(httptest.NewRequest(http.MethodGet, "/api/jobs/missing", nil))
	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `adto3d_http_requests_total{method="GET",path="/api/jobs/:id",status="4xx"} 1`)
}

func TestServer_CORS(t *testing.T) {
	env := newTestEnv(t, Config{AllowedOrigins: []string{"http://app.test"}}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/convert", nil)
	req.Header.Set("Origin", "http://app.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := env.do(req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://app.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.test")
	rec = env.do(req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
