package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const defaultHTTPTimeout = 30 * time.Second

// Client talks to the content host over its JSON API and implements
// ContentHost. Downloads land in WorkDir.
type Client struct {
	baseURL string
	token   string
	workDir string
	http    *http.Client
	logger  *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Token   string
	WorkDir string
	Timeout time.Duration
}

// NewClient creates a content-host client.
func NewClient(cfg ClientConfig, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("content host base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		workDir: cfg.WorkDir,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}, nil
}

// Exists checks file presence via the metadata endpoint.
func (c *Client) Exists(ctx context.Context, identifier string) (bool, error) {
	body, status, err := c.get(ctx, "/api/files/"+url.PathEscape(identifier))
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("check %s: unexpected status %d", identifier, status)
	}
	return gjson.GetBytes(body, "file.name").Exists(), nil
}

// Fetch downloads the identified file into the work directory.
func (c *Client) Fetch(ctx context.Context, identifier string) (string, error) {
	body, status, err := c.get(ctx, "/api/files/"+url.PathEscape(identifier))
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("fetch %s: unexpected status %d", identifier, status)
	}
	fileURL := gjson.GetBytes(body, "file.url").String()
	if fileURL == "" {
		return "", fmt.Errorf("fetch %s: metadata carries no url", identifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", identifier, err)
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", identifier, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: download status %d", identifier, resp.StatusCode)
	}

	localPath := filepath.Join(c.workDir, filepath.Base(identifier))
	f, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", identifier, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = os.Remove(localPath)
		return "", fmt.Errorf("fetch %s: %w", identifier, err)
	}
	c.logger.Debug("fetched file", "identifier", identifier, "path", localPath)
	return localPath, nil
}

// Transform sends the local file to the transform endpoint and stores
// the transformed content next to the original.
func (c *Client) Transform(ctx context.Context, localPath string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("transform %s: %w", localPath, err)
	}

	body, status, err := c.postJSON(ctx, "/api/transform", map[string]any{
		"name":    filepath.Base(localPath),
		"content": string(content),
	})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("transform %s: unexpected status %d: %s",
			localPath, status, gjson.GetBytes(body, "error").String())
	}

	transformed := gjson.GetBytes(body, "content").String()
	if transformed == "" {
		return "", fmt.Errorf("transform %s: empty result", localPath)
	}
	outPath := transformedPath(localPath)
	if err := os.WriteFile(outPath, []byte(transformed), 0644); err != nil {
		return "", fmt.Errorf("transform %s: %w", localPath, err)
	}
	return outPath, nil
}

// Publish uploads a local file. The host signaling a duplicate maps to
// ErrAlreadyExists.
func (c *Client) Publish(ctx context.Context, identifier, localPath, description string) error {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("publish %s: %w", identifier, err)
	}

	body, status, err := c.postJSON(ctx, "/api/files", map[string]any{
		"name":        identifier,
		"content":     string(content),
		"description": description,
	})
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusConflict,
		gjson.GetBytes(body, "result").String() == "exists":
		return ErrAlreadyExists
	case status != http.StatusOK && status != http.StatusCreated:
		return fmt.Errorf("publish %s: unexpected status %d: %s",
			identifier, status, gjson.GetBytes(body, "error").String())
	}
	return nil
}

// GetReference returns the cross-reference text for an identifier.
func (c *Client) GetReference(ctx context.Context, identifier string) (string, error) {
	body, status, err := c.get(ctx, "/api/pages/"+url.PathEscape(identifier))
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("get reference %s: unexpected status %d", identifier, status)
	}
	return gjson.GetBytes(body, "page.text").String(), nil
}

// UpdateReference replaces the cross-reference text for an identifier.
func (c *Client) UpdateReference(ctx context.Context, identifier, text string) error {
	body, status, err := c.postJSON(ctx, "/api/pages/"+url.PathEscape(identifier), map[string]any{
		"text": text,
	})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("update reference %s: unexpected status %d: %s",
			identifier, status, gjson.GetBytes(body, "error").String())
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request %s: %w", path, err)
	}
	c.authorize(req)
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) ([]byte, int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("encode request %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response %s: %w", req.URL.Path, err)
	}
	return body, resp.StatusCode, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func transformedPath(localPath string) string {
	ext := filepath.Ext(localPath)
	return strings.TrimSuffix(localPath, ext) + ".translated" + ext
}
