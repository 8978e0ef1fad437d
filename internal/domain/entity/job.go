package entity

import (
	"errors"
	"slices"
	"strings"
	"time"
)

// Служебные подкаталоги результатов, их имена не достаются задачам
const (
	DebugOutputDir    = "debug"
	OutfitOutputDir   = "outfits"
	ModifiedOutputDir = "modified"
)

// ReservedOutputName совпадает ли имя со служебным подкаталогом (без учёта регистра)
func ReservedOutputName(name string) bool {
	return slices.ContainsFunc([]string{DebugOutputDir, OutfitOutputDir, ModifiedOutputDir}, func(dir string) bool {
		return strings.EqualFold(dir, name)
	})
}

var (
	// ErrJobNotFound задача не найдена в хранилище
	ErrJobNotFound = errors.New("job not found")
	// ErrConversionFailed облачный сервис вернул статус failed
	ErrConversionFailed = errors.New("conversion failed")
	// ErrPollTimeout задача не завершилась за отведённое время
	ErrPollTimeout = errors.New("conversion polling timed out")
)

// JobStatus этап конвейера преобразования
type JobStatus string

const (
	JobQueued         JobStatus = "queued"
	JobValidating     JobStatus = "validating"
	JobAnalyzing      JobStatus = "analyzing"
	JobGenerating     JobStatus = "generating"
	JobConverting     JobStatus = "converting"
	JobDownloading    JobStatus = "downloading"
	JobPostProcessing JobStatus = "post_processing"
	JobCompleted      JobStatus = "completed"
	JobFailed         JobStatus = "failed"
)

// ConversionMode способ получения модели
type ConversionMode string

const (
	ModeLocal ConversionMode = "local" // генерация примитива на месте
	ModeCloud ConversionMode = "cloud" // внешний image-to-3D сервис
)

// ParseConversionMode разбирает режим; пустая строка даёт значение по умолчанию
func ParseConversionMode(s string, def ConversionMode) (ConversionMode, error) {
	switch ConversionMode(s) {
	case "":
		return def, nil
	case ModeLocal, ModeCloud:
		return ConversionMode(s), nil
	default:
		return "", errors.New("unknown conversion mode: " + s)
	}
}

// Ключи результатов задачи
const (
	OutputGLB       = "glb"
	OutputFBX       = "fbx"
	OutputUSDZ      = "usdz"
	OutputThumbnail = "thumbnail"
	OutputOutfit    = "outfit"
)

// Job задача преобразования изображения в модель
type Job struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Mode      ConversionMode    `json:"mode"`
	Outfit    OutfitCategory    `json:"outfit_type,omitempty"`
	Status    JobStatus         `json:"status"`
	Message   string            `json:"message,omitempty"`
	RemoteID  string            `json:"remote_id,omitempty"`
	Analysis  *ShapeAnalysis    `json:"analysis,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
	Report    *OutfitReport     `json:"outfit_report,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewJob создаёт задачу в состоянии queued
func NewJob(id, name string, mode ConversionMode, outfit OutfitCategory) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        id,
		Name:      name,
		Mode:      mode,
		Outfit:    outfit,
		Status:    JobQueued,
		Outputs:   make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SetStatus переводит задачу на новый этап
func (j *Job) SetStatus(status JobStatus, message string) {
	j.Status = status
	j.Message = message
	j.UpdatedAt = time.Now().UTC()
}

// Fail завершает задачу с ошибкой
func (j *Job) Fail(err error) {
	j.Error = err.Error()
	j.SetStatus(JobFailed, "conversion failed")
}

// Complete завершает задачу успешно
func (j *Job) Complete() {
	j.SetStatus(JobCompleted, "conversion completed")
}

// AddOutput регистрирует URL результата
func (j *Job) AddOutput(kind, url string) {
	if j.Outputs == nil {
		j.Outputs = make(map[string]string)
	}
	j.Outputs[kind] = url
}

// IsTerminal true, если задача больше не изменится
func (j *Job) IsTerminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// Clone возвращает копию задачи, безопасную для передачи между горутинами
func (j *Job) Clone() *Job {
	c := *j
	c.Outputs = make(map[string]string, len(j.Outputs))
	for k, v := range j.Outputs {
		c.Outputs[k] = v
	}
	return &c
}
