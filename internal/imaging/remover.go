package imaging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"craftfolio/internal/config"
)

// BackgroundRemover strips the background from a profile photo. Implemented by
// an external image-effects service; the worker is the only caller.
type BackgroundRemover interface {
	RemoveBackground(ctx context.Context, image []byte, contentType string) ([]byte, error)
}

// HTTPRemover posts the image to a background-removal HTTP API and returns the
// processed bytes.
type HTTPRemover struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPRemover builds the remover from configuration.
func NewHTTPRemover(cfg config.ImagingConfig) *HTTPRemover {
	return &HTTPRemover{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 90 * time.Second,
		},
	}
}

// RemoveBackground uploads the image as multipart form data and reads back the
// processed image body.
func (r *HTTPRemover) RemoveBackground(ctx context.Context, image []byte, contentType string) ([]byte, error) {
	if r.endpoint == "" {
		return nil, fmt.Errorf("imaging endpoint is not configured")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "photo")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return nil, fmt.Errorf("write image part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	if contentType != "" {
		req.Header.Set("X-Source-Content-Type", contentType)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("background removal request failed: %w", err)
	}
	defer resp.Body.Close()

	processed, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read processed image: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("background removal API returned status %d", resp.StatusCode)
	}
	if len(processed) == 0 {
		return nil, fmt.Errorf("background removal API returned an empty body")
	}

	return processed, nil
}
