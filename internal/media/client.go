// Package media talks to the media service that stores avatar and cover
// images and serves them from a public URL.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/streamtube/account-service/internal/apperr"
	"github.com/streamtube/account-service/internal/httpx"
)

// Uploader stores an image and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, kind, filename string, content io.Reader) (string, error)
}

type uploadResponse struct {
	URL string `json:"url"`
}

// Client uploads files to the media service through a circuit breaker.
type Client struct {
	baseURL string
	http    *httpx.BreakerClient
	logger  *slog.Logger
}

func NewClient(baseURL string, client *httpx.BreakerClient, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		logger:  logger,
	}
}

// Upload posts the file as multipart form data to POST {base}/api/v1/media/{kind}
// and returns the public URL from the response. The whole payload is buffered
// so the request can be retried.
func (c *Client) Upload(ctx context.Context, kind, filename string, content io.Reader) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("create multipart part: %w", err))
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", apperr.Internal(fmt.Errorf("buffer upload body: %w", err))
	}
	if err := mw.Close(); err != nil {
		return "", apperr.Internal(fmt.Errorf("finalize multipart body: %w", err))
	}

	url := fmt.Sprintf("%s/api/v1/media/%s", c.baseURL, kind)
	resp, err := c.http.Post(ctx, url, mw.FormDataContentType(), bytes.NewReader(buf.Bytes()))
	if err != nil {
		c.logger.ErrorContext(ctx, "media upload failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		return "", apperr.Internal(fmt.Errorf("upload %s: %w", kind, err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", apperr.Internal(fmt.Errorf("media service returned %d", resp.StatusCode))
	}

	var out uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Internal(fmt.Errorf("decode media response: %w", err))
	}
	if out.URL == "" {
		return "", apperr.Internal(fmt.Errorf("media service returned empty url"))
	}

	return out.URL, nil
}
