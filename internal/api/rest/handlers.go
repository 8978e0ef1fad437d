package rest

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	app "github.com/ardylee-mml/adto3d/internal/application"
	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// DebugDir каталог картинок с подсветкой контура
const DebugDir = entity.DebugOutputDir

var contentTypes = map[string]string{
	".glb":  "model/gltf-binary",
	".gltf": "model/gltf+json",
	".fbx":  "application/octet-stream",
	".usdz": "model/vnd.usdz+zip",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".json": "application/json",
}

// imageExts расширения, принимаемые на преобразование
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// readFile читает первое найденное поле multipart-формы с учётом лимита размера
func (s *Server) readFile(c *gin.Context, fields ...string) ([]byte, string, bool) {
	if s.cfg.MaxUploadBytes > 0 {
		if c.Request.ContentLength > s.cfg.MaxUploadBytes {
			fail(c, http.StatusRequestEntityTooLarge, "file is too large")
			return nil, "", false
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)
	}

	var (
		file   multipart.File
		header *multipart.FileHeader
		err    error
	)
	for _, field := range fields {
		file, header, err = c.Request.FormFile(field)
		if err == nil {
			break
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(c, http.StatusRequestEntityTooLarge, "file is too large")
			return nil, "", false
		}
	}
	if err != nil {
		fail(c, http.StatusBadRequest, "no file uploaded")
		return nil, "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		fail(c, http.StatusBadRequest, "failed to read file")
		return nil, "", false
	}
	if len(data) == 0 {
		fail(c, http.StatusBadRequest, "file is empty")
		return nil, "", false
	}
	return data, header.Filename, true
}

func (s *Server) handleValidate(c *gin.Context) {
	data, _, ok := s.readFile(c, "image", "file")
	if !ok {
		return
	}

	res := s.deps.Analysis.Validate(c.Request.Context(), data)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadRequest
	}
	c.JSON(status, res)
}

func (s *Server) handleAnalyze(c *gin.Context) {
	data, _, ok := s.readFile(c, "image", "file")
	if !ok {
		return
	}
	debug := isTrue(c.Query("debug"))

	out, err := s.deps.Analysis.Analyze(c.Request.Context(), data, debug)
	switch {
	case errors.Is(err, entity.ErrNoContours):
		fail(c, http.StatusUnprocessableEntity, "no contours found in image")
		return
	case errors.Is(err, entity.ErrImageTooLarge):
		fail(c, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	resp := gin.H{"success": true, "analysis": out.Analysis}
	if len(out.Highlighted) > 0 {
		if url, err := s.saveDebugImage(out.Highlighted); err != nil {
			s.logger.Warn("failed to store debug image", zap.Error(err))
		} else {
			resp["debug_image"] = url
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) saveDebugImage(png []byte) (string, error) {
	dir, err := s.deps.Files.OutputDir(DebugDir)
	if err != nil {
		return "", err
	}
	name := uuid.NewString() + "_contour.png"
	if err := os.WriteFile(filepath.Join(dir, name), png, 0o644); err != nil {
		return "", err
	}
	return s.deps.Files.OutputURL(DebugDir, name), nil
}

func (s *Server) handleConvert(c *gin.Context) {
	data, filename, ok := s.readFile(c, "file", "image")
	if !ok {
		return
	}
	if !imageExts[strings.ToLower(filepath.Ext(filename))] {
		fail(c, http.StatusBadRequest, "invalid file type, only JPG, JPEG and PNG are allowed")
		return
	}

	mode, err := entity.ParseConversionMode(c.PostForm("mode"), s.cfg.DefaultMode)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	outfit := entity.OutfitCategory(c.PostForm("outfitType"))
	if outfit != "" {
		if _, err := s.deps.OutfitList.Rules(outfit); err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	stored, err := s.deps.Files.SaveUpload(ctx, filename, data)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to store upload")
		return
	}

	req := app.ConversionRequest{
		Name:   c.PostForm("fileName"),
		Upload: stored,
		Mode:   mode,
		Outfit: outfit,
	}

	if !isTrue(c.PostForm("wait")) {
		job, err := s.deps.Conversion.Start(ctx, req)
		if err != nil {
			s.createError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"success": true, "job": job, "status_url": "/api/jobs/" + job.ID})
		return
	}

	job, err := s.deps.Conversion.Run(ctx, req)
	switch {
	case job == nil:
		s.createError(c, err)
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": job.Error, "job": job})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "job": job, "outputs": job.Outputs})
	}
}

func (s *Server) createError(c *gin.Context, err error) {
	if errors.Is(err, app.ErrCloudUnavailable) {
		fail(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	fail(c, http.StatusBadRequest, err.Error())
}

func (s *Server) handleOutfit(c *gin.Context) {
	data, filename, ok := s.readFile(c, "model", "file")
	if !ok {
		return
	}

	category := entity.OutfitCategory(c.PostForm("outfitType"))
	if category == "" {
		category = entity.OutfitCategory(c.PostForm("category"))
	}
	if _, err := s.deps.OutfitList.Rules(category); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.EqualFold(filepath.Ext(filename), ".glb") {
		filename = "model.glb"
	}

	ctx := c.Request.Context()
	stored, err := s.deps.Files.SaveUpload(ctx, filename, data)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to store upload")
		return
	}

	out, err := s.deps.Outfits.Process(ctx, stored, category)
	if err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "report": out.Report, "url": out.URL})
}

func (s *Server) handleSaveModel(c *gin.Context) {
	data, _, ok := s.readFile(c, "model")
	if !ok {
		return
	}

	url, err := s.deps.Files.SaveModified(data)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to save model")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}

func (s *Server) handleFile(c *gin.Context) {
	s.serve(c, s.deps.Files.ResolveOutput, strings.TrimPrefix(c.Param("path"), "/"))
}

func (s *Server) handleUpload(c *gin.Context) {
	s.serve(c, s.deps.Files.ResolveUpload, c.Param("filename"))
}

func (s *Server) serve(c *gin.Context, resolve func(string) (string, error), rel string) {
	path, err := resolve(rel)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		fail(c, http.StatusNotFound, "file not found")
		return
	}

	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		c.Header("Content-Type", ct)
	}
	c.File(path)
}
