package blender

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

var (
	//go:embed scripts/generate_primitive.py
	generateScript string

	//go:embed scripts/decimate.py
	decimateScript string
)

// ErrNotConfigured путь к Blender не задан
var ErrNotConfigured = errors.New("blender is not configured")

const resultPrefix = `{"success"`

// Result последняя JSON-строка, которую печатает скрипт
type Result struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Runner запускает Blender в фоновом режиме со встроенными скриптами
type Runner struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner создаёт обёртку над бинарником Blender
func NewRunner(path string, timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{
		path:    path,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "blender")),
	}
}

// Version возвращает первую строку `blender --version`
func (r *Runner) Version(ctx context.Context) (string, error) {
	if r.path == "" {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, r.path, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("blender --version: %w", err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line), nil
}

// Generate строит примитив через Blender: анализ передаётся JSON-файлом
func (r *Runner) Generate(ctx context.Context, req port.GenerateRequest) error {
	if req.Analysis == nil {
		return fmt.Errorf("generate: analysis is required")
	}

	dir, err := os.MkdirTemp("", "adto3d-blender-")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	analysisPath := filepath.Join(dir, "analysis.json")
	data, err := json.Marshal(req.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	if err := os.WriteFile(analysisPath, data, 0o644); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	_, err = r.Run(ctx, generateScript, analysisPath, req.ImagePath, req.OutputPath)
	return err
}

// Decimate уменьшает число треугольников модели в ratio раз
func (r *Runner) Decimate(ctx context.Context, input, output string, ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("decimate: ratio %v out of range (0, 1]", ratio)
	}
	_, err := r.Run(ctx, decimateScript, input, output, strconv.FormatFloat(ratio, 'f', -1, 64))
	return err
}

// Run выполняет Python-код в Blender; аргументы передаются после "--"
func (r *Runner) Run(ctx context.Context, script string, args ...string) (*Result, error) {
	if r.path == "" {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	argv := append([]string{"--background", "--python-expr", script, "--"}, args...)
	cmd := exec.CommandContext(ctx, r.path, argv...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	log := r.logger.With(zap.Strings("args", args), zap.Duration("elapsed", time.Since(start)))

	res, parseErr := parseResult(stdout.Bytes())
	switch {
	case parseErr == nil && !res.Success:
		log.Warn("blender script failed", zap.String("error", res.Error))
		return res, fmt.Errorf("blender: %s", res.Error)
	case runErr != nil:
		if ctx.Err() != nil {
			return nil, fmt.Errorf("blender: %w", ctx.Err())
		}
		log.Warn("blender exited with error", zap.Error(runErr), zap.String("stderr", tail(stderr.String())))
		return nil, fmt.Errorf("blender: %w", runErr)
	case parseErr != nil:
		return nil, parseErr
	}

	log.Info("blender script finished")
	return res, nil
}

// parseResult ищет последнюю строку вида {"success": ...}
func parseResult(out []byte) (*Result, error) {
	var last string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, resultPrefix) {
			last = line
		}
	}
	if last == "" {
		return nil, errors.New("blender: script produced no result")
	}

	var res Result
	if err := json.Unmarshal([]byte(last), &res); err != nil {
		return nil, fmt.Errorf("blender: decode result: %w", err)
	}
	res.Raw = json.RawMessage(last)
	return &res, nil
}

func tail(s string) string {
	const limit = 512
	if len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

var (
	_ port.ModelGenerator = (*Runner)(nil)
	_ port.Decimator      = (*Runner)(nil)
)
