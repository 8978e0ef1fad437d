package masterpiece

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
	"github.com/ardylee-mml/adto3d/internal/domain/port"
)

// Параметры генерации imageto3d
const (
	TextureSize = 1024
	Seed        = 1
)

var (
	ErrUnauthorized = errors.New("masterpiece: invalid or missing bearer token")
	ErrNoRequestID  = errors.New("masterpiece: response has no request id")
)

// APIError неуспешный HTTP-ответ сервиса
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("masterpiece: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client клиент Masterpiece X GenAI API
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient создаёт клиент; httpClient может быть nil
func NewClient(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logger.With(zap.String("component", "masterpiece")),
	}
}

type imageTo3DRequest struct {
	ImageURL    string `json:"imageUrl"`
	TextureSize int    `json:"textureSize"`
	Seed        int    `json:"seed"`
}

type submitResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

type statusResponse struct {
	RequestID string            `json:"requestId"`
	Status    string            `json:"status"`
	Progress  float64           `json:"progress"`
	Outputs   map[string]string `json:"outputs"`
	Error     string            `json:"error"`
}

// TestConnection проверяет доступность API и токен
func (c *Client) TestConnection(ctx context.Context) error {
	if c.token == "" {
		return ErrUnauthorized
	}
	if err := c.do(ctx, http.MethodGet, "/connection-test", nil, nil); err != nil {
		return err
	}
	c.logger.Info("connection test passed")
	return nil
}

// Submit отправляет изображение на генерацию и возвращает requestId
func (c *Client) Submit(ctx context.Context, imageURL string) (string, error) {
	req := imageTo3DRequest{ImageURL: imageURL, TextureSize: TextureSize, Seed: Seed}
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/functions/imageto3d", req, &resp); err != nil {
		return "", err
	}
	if resp.RequestID == "" {
		return "", ErrNoRequestID
	}
	c.logger.Info("image submitted", zap.String("request_id", resp.RequestID), zap.String("status", resp.Status))
	return resp.RequestID, nil
}

// Status запрашивает состояние генерации
func (c *Client) Status(ctx context.Context, requestID string) (*entity.RemoteStatus, error) {
	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(requestID), nil, &resp); err != nil {
		return nil, err
	}

	status := &entity.RemoteStatus{
		Status:   normalizeState(resp.Status),
		Progress: resp.Progress,
		Outputs:  resp.Outputs,
		Error:    resp.Error,
	}
	if status.Outputs == nil {
		status.Outputs = map[string]string{}
	}
	c.logger.Debug("status polled",
		zap.String("request_id", requestID),
		zap.String("status", string(status.Status)),
		zap.Float64("progress", status.Progress),
	)
	return status, nil
}

func normalizeState(s string) entity.RemoteState {
	switch strings.ToLower(s) {
	case "complete", "completed", "succeeded":
		return entity.RemoteComplete
	case "failed", "error", "cancelled":
		return entity.RemoteFailed
	case "processing", "running", "in_progress":
		return entity.RemoteProcessing
	default:
		return entity.RemotePending
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("masterpiece: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("masterpiece: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("masterpiece: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("masterpiece: decode response: %w", err)
	}
	return nil
}

var _ port.CloudConverter = (*Client)(nil)
