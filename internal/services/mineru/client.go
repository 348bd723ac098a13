package mineru

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"paperflow/internal/services"
)

const (
	defaultBaseURL        = "https://mineru.net/api/v4"
	defaultModelVersion   = "vlm"
	defaultRequestTimeout = 30 * time.Second
	defaultUploadTimeout  = 300 * time.Second
)

// Job states reported by the extraction service.
const (
	StateDone    = "done"
	StateFailed  = "failed"
	StatePending = "pending"
)

// Config describes how to reach the extraction service.
type Config struct {
	Token          string
	BaseURL        string
	ModelVersion   string
	IsOCR          bool
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
}

// Client talks to the MinerU document extraction API.
type Client struct {
	cfg      Config
	api      *http.Client
	transfer *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces both the API and transfer HTTP clients.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.api = client
			c.transfer = client
		}
	}
}

// NewClient constructs an extraction client.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.ModelVersion) == "" {
		cfg.ModelVersion = defaultModelVersion
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	client := &Client{
		cfg:      cfg,
		api:      &http.Client{Timeout: cfg.RequestTimeout},
		transfer: &http.Client{Timeout: cfg.UploadTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Source identifies the document to extract: either a public URL or a
// local file that must be uploaded first.
type Source struct {
	URL  string
	Path string
}

// Name returns the file name used for uploads and bundle naming.
func (s Source) Name() string {
	if s.Path != "" {
		return filepath.Base(s.Path)
	}
	if parsed, err := url.Parse(s.URL); err == nil {
		if base := path.Base(parsed.Path); base != "." && base != "/" {
			return base
		}
	}
	return "result.pdf"
}

// Handle references a submitted extraction job.
type Handle struct {
	ID    string `json:"id"`
	Batch bool   `json:"batch"`
	Name  string `json:"name"`
}

// Status is the outcome of a single poll.
type Status struct {
	State     string
	BundleURL string
	Message   string
}

type envelope struct {
	Code json.RawMessage `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (e envelope) ok() bool {
	code := strings.Trim(strings.TrimSpace(string(e.Code)), `"`)
	return code == "0"
}

type jobResult struct {
	State      string `json:"state"`
	FullZipURL string `json:"full_zip_url"`
	ErrMsg     string `json:"err_msg"`
}

// Submit starts an extraction job. URL sources are submitted directly;
// local files are registered for upload, uploaded, and tracked by batch id.
func (c *Client) Submit(ctx context.Context, src Source) (Handle, error) {
	if c.cfg.Token == "" {
		return Handle{}, services.Wrap(services.ErrConfiguration, "extraction", "submit", "Extraction token is not configured (extraction.token or MINERU_TOKEN)", nil)
	}
	switch {
	case strings.TrimSpace(src.URL) != "":
		return c.submitURL(ctx, strings.TrimSpace(src.URL))
	case strings.TrimSpace(src.Path) != "":
		return c.submitFile(ctx, src)
	default:
		return Handle{}, services.Wrap(services.ErrValidation, "extraction", "submit", "Source is empty", nil)
	}
}

func (c *Client) submitURL(ctx context.Context, sourceURL string) (Handle, error) {
	var data struct {
		TaskID string `json:"task_id"`
	}
	payload := map[string]any{"url": sourceURL, "model_version": c.cfg.ModelVersion}
	if err := c.call(ctx, http.MethodPost, "/extract/task", payload, &data); err != nil {
		return Handle{}, services.Wrap(services.ErrExternalTool, "extraction", "create task", "Extraction service rejected the task", err)
	}
	if strings.TrimSpace(data.TaskID) == "" {
		return Handle{}, services.Wrap(services.ErrProtocol, "extraction", "create task", "Response is missing task_id", nil)
	}
	return Handle{ID: data.TaskID, Name: Source{URL: sourceURL}.Name()}, nil
}

func (c *Client) submitFile(ctx context.Context, src Source) (Handle, error) {
	info, err := os.Stat(src.Path)
	if err != nil {
		return Handle{}, services.Wrap(services.ErrNotFound, "extraction", "upload", "Source file not found", err)
	}
	if info.IsDir() {
		return Handle{}, services.Wrap(services.ErrValidation, "extraction", "upload", "Source is a directory", nil)
	}

	name := src.Name()
	var data struct {
		BatchID  string   `json:"batch_id"`
		FileURLs []string `json:"file_urls"`
		Files    []struct {
			PresignedURL string `json:"presigned_url"`
		} `json:"files"`
	}
	payload := map[string]any{
		"files":         []map[string]any{{"name": name, "is_ocr": c.cfg.IsOCR}},
		"model_version": c.cfg.ModelVersion,
	}
	if err := c.call(ctx, http.MethodPost, "/file-urls/batch", payload, &data); err != nil {
		return Handle{}, services.Wrap(services.ErrExternalTool, "extraction", "request upload url", "Extraction service refused the upload", err)
	}

	uploadURL := ""
	if len(data.FileURLs) > 0 {
		uploadURL = data.FileURLs[0]
	} else if len(data.Files) > 0 {
		uploadURL = data.Files[0].PresignedURL
	}
	if strings.TrimSpace(uploadURL) == "" {
		return Handle{}, services.Wrap(services.ErrProtocol, "extraction", "request upload url", "Response is missing an upload url", nil)
	}
	if strings.TrimSpace(data.BatchID) == "" {
		return Handle{}, services.Wrap(services.ErrProtocol, "extraction", "request upload url", "Response is missing batch_id", nil)
	}

	if err := c.upload(ctx, uploadURL, src.Path, info.Size()); err != nil {
		return Handle{}, err
	}
	return Handle{ID: data.BatchID, Batch: true, Name: name}, nil
}

func (c *Client) upload(ctx context.Context, uploadURL, filePath string, size int64) error {
	file, err := os.Open(filePath)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "extraction", "upload", "Open source file", err)
	}
	defer file.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, file)
	if err != nil {
		return services.Wrap(services.ErrValidation, "extraction", "upload", "Build upload request", err)
	}
	req.ContentLength = size
	resp, err := c.transfer.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "extraction", "upload", "Upload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return services.Wrap(services.ErrExternalTool, "extraction", "upload", fmt.Sprintf("Upload failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	return nil
}

// Poll queries the job once. Batch jobs with no result yet report pending.
func (c *Client) Poll(ctx context.Context, handle Handle) (Status, error) {
	var result jobResult
	if handle.Batch {
		var data struct {
			ExtractResult []jobResult `json:"extract_result"`
		}
		if err := c.call(ctx, http.MethodGet, "/extract-results/batch/"+url.PathEscape(handle.ID), nil, &data); err != nil {
			return Status{}, services.Wrap(services.ErrExternalTool, "extraction", "query status", "Status query failed", err)
		}
		if len(data.ExtractResult) == 0 {
			return Status{State: StatePending}, nil
		}
		result = data.ExtractResult[0]
	} else {
		if err := c.call(ctx, http.MethodGet, "/extract/task/"+url.PathEscape(handle.ID), nil, &result); err != nil {
			return Status{}, services.Wrap(services.ErrExternalTool, "extraction", "query status", "Status query failed", err)
		}
	}

	switch strings.TrimSpace(result.State) {
	case StateDone:
		return Status{State: StateDone, BundleURL: strings.TrimSpace(result.FullZipURL)}, nil
	case StateFailed:
		return Status{State: StateFailed, Message: strings.TrimSpace(result.ErrMsg)}, nil
	default:
		return Status{State: StatePending, Message: strings.TrimSpace(result.State)}, nil
	}
}

// Fetch downloads the result bundle to dst, replacing any previous file.
func (c *Client) Fetch(ctx context.Context, bundleURL, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bundleURL, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "extraction", "download", "Invalid bundle url", err)
	}
	resp, err := c.transfer.Do(req)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "extraction", "download", "Bundle download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return services.Wrap(services.ErrExternalTool, "extraction", "download", fmt.Sprintf("Bundle download returned HTTP %d", resp.StatusCode), nil)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "extraction", "download", "Create bundle directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*.part")
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "extraction", "download", "Create temporary bundle", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return services.Wrap(services.ErrExternalTool, "extraction", "download", "Bundle download interrupted", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return services.Wrap(services.ErrConfiguration, "extraction", "download", "Finalize bundle", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return services.Wrap(services.ErrConfiguration, "extraction", "download", "Finalize bundle", err)
	}
	return nil
}

// BundleName returns the local file name for a job's result bundle:
// "<stem>_result.zip" where stem is the source name without extension.
func BundleName(sourceName string) string {
	base := filepath.Base(strings.TrimSpace(sourceName))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "result"
	}
	return stem + "_result.zip"
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)
	}
	if !env.ok() {
		msg := strings.TrimSpace(env.Msg)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("code=%s: %s", strings.TrimSpace(string(env.Code)), msg)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
