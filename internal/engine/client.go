package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loomworks/loom-go/internal/platform/env"
)

// ErrNotFound reports a 404 from the engine for an addressed object.
var ErrNotFound = errors.New("engine: not found")

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("LOOM_ENGINE_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL: env.String("LOOM_ENGINE_URL", ""),
		Timeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("LOOM_ENGINE_URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("LOOM_ENGINE_URL: %w", err)
	}
	return nil
}

// Client talks to one engine deployment. Streaming calls use a separate
// HTTP client with no overall timeout: a run stream is open-ended and is
// bounded by the caller's context instead.
type Client struct {
	baseURL    string
	httpClient *http.Client
	streaming  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		streaming:  &http.Client{},
	}, nil
}

// envelope is the engine's uniform response shape: exactly one of
// response and error is set.
type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    json.RawMessage `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("engine request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("read engine response: %w", err)
	}

	var wire envelope
	if err := json.Unmarshal(payload, &wire); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return &UpstreamError{StatusCode: resp.StatusCode, Message: "unparseable engine response"}
	}
	if len(wire.Error) > 0 {
		return upstreamError(resp.StatusCode, wire.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusNotFound {
			return ErrNotFound
		}
		return &UpstreamError{StatusCode: resp.StatusCode}
	}
	if out != nil {
		if err := json.Unmarshal(wire.Response, out); err != nil {
			return fmt.Errorf("decode engine response: %w", err)
		}
	}
	return nil
}

func upstreamError(status int, raw json.RawMessage) *UpstreamError {
	upstream := &UpstreamError{StatusCode: status, Body: raw}
	var detail struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil {
		upstream.Type = detail.Type
		upstream.Message = detail.Message
	}
	return upstream
}

// CreateProject registers a new engine project and returns its ID. Every
// app and data source owns one project.
func (c *Client) CreateProject(ctx context.Context) (string, error) {
	var out struct {
		Project struct {
			ProjectID int64 `json:"project_id"`
		} `json:"project"`
	}
	if err := c.do(ctx, http.MethodPost, "/projects", nil, &out); err != nil {
		return "", err
	}
	return strconv.FormatInt(out.Project.ProjectID, 10), nil
}

// ListDatasets returns all registered dataset versions per dataset name,
// newest first.
func (c *Client) ListDatasets(ctx context.Context, projectID string) (map[string][]DatasetVersion, error) {
	var out struct {
		Datasets map[string][]DatasetVersion `json:"datasets"`
	}
	path := fmt.Sprintf("/projects/%s/datasets", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Datasets, nil
}

// RegisterDataset pushes a new dataset version and returns its hash.
func (c *Client) RegisterDataset(ctx context.Context, projectID, name string, data json.RawMessage) (DatasetVersion, error) {
	body := map[string]any{"dataset_id": name, "data": data}
	var out struct {
		Dataset DatasetVersion `json:"dataset"`
	}
	path := fmt.Sprintf("/projects/%s/datasets", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return DatasetVersion{}, err
	}
	return out.Dataset, nil
}

// GetDatasetData fetches the row payload of one dataset version.
func (c *Client) GetDatasetData(ctx context.Context, projectID, name, hash string) (json.RawMessage, error) {
	var out struct {
		Dataset struct {
			Data json.RawMessage `json:"data"`
		} `json:"dataset"`
	}
	path := fmt.Sprintf("/projects/%s/datasets/%s/%s",
		url.PathEscape(projectID), url.PathEscape(name), url.PathEscape(hash))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Dataset.Data, nil
}

// CreateRun executes a run synchronously and returns the completed run
// object. Engine-side failures come back as *UpstreamError.
func (c *Client) CreateRun(ctx context.Context, projectID string, params RunRequestParams) (Run, error) {
	var out struct {
		Run Run `json:"run"`
	}
	path := fmt.Sprintf("/projects/%s/runs", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, params, &out); err != nil {
		return Run{}, err
	}
	return out.Run, nil
}

// StreamRun starts a streamed run and hands back the raw SSE body. The
// caller must drain and close it; cancelling ctx aborts the upstream
// request.
func (c *Client) StreamRun(ctx context.Context, projectID string, params RunRequestParams) (io.ReadCloser, error) {
	encoded, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	path := fmt.Sprintf("/projects/%s/runs/stream", url.PathEscape(projectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streaming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			return nil, &UpstreamError{StatusCode: resp.StatusCode}
		}
		var wire envelope
		if err := json.Unmarshal(payload, &wire); err != nil || len(wire.Error) == 0 {
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: "unparseable engine response"}
		}
		return nil, upstreamError(resp.StatusCode, wire.Error)
	}
	return resp.Body, nil
}

// GetRun fetches one run with its full status and traces.
func (c *Client) GetRun(ctx context.Context, projectID, runID string) (Run, error) {
	var out struct {
		Run Run `json:"run"`
	}
	path := fmt.Sprintf("/projects/%s/runs/%s", url.PathEscape(projectID), url.PathEscape(runID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Run{}, err
	}
	return out.Run, nil
}

// ListRuns pages through a project's runs, optionally filtered by run
// type. Total is the unpaged count for the filter.
func (c *Client) ListRuns(ctx context.Context, projectID string, limit, offset int, runType string) ([]Run, int, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))
	if runType != "" {
		query.Set("run_type", runType)
	}

	var out struct {
		Runs  []Run `json:"runs"`
		Total int   `json:"total"`
	}
	path := fmt.Sprintf("/projects/%s/runs?%s", url.PathEscape(projectID), query.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Runs, out.Total, nil
}

// RegisterDataSource provisions engine-side storage for a data source.
func (c *Client) RegisterDataSource(ctx context.Context, projectID, name string, config json.RawMessage) error {
	body := map[string]any{"data_source_id": name, "config": config}
	path := fmt.Sprintf("/projects/%s/data_sources", url.PathEscape(projectID))
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// DeleteDataSource drops the engine-side store and all its documents.
func (c *Client) DeleteDataSource(ctx context.Context, projectID, name string) error {
	path := fmt.Sprintf("/projects/%s/data_sources/%s", url.PathEscape(projectID), url.PathEscape(name))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Document is an engine-side data source document.
type Document struct {
	DocumentID string          `json:"document_id"`
	CreatedAt  int64           `json:"created,omitempty"`
	Hash       string          `json:"hash,omitempty"`
	TextSize   int64           `json:"text_size,omitempty"`
	ChunkCount int64           `json:"chunk_count,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	SourceURL  *string         `json:"source_url,omitempty"`
	Text       string          `json:"text,omitempty"`
	Extra      json.RawMessage `json:"-"`
}

// UpsertDocument writes one document into a data source.
func (c *Client) UpsertDocument(ctx context.Context, projectID, dataSourceName, documentID, text string, tags []string, sourceURL *string) (Document, error) {
	body := map[string]any{
		"text":       text,
		"tags":       tags,
		"source_url": sourceURL,
	}
	var out struct {
		Document Document `json:"document"`
	}
	path := fmt.Sprintf("/projects/%s/data_sources/%s/documents/%s",
		url.PathEscape(projectID), url.PathEscape(dataSourceName), url.PathEscape(documentID))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return Document{}, err
	}
	return out.Document, nil
}

// GetDocument fetches one document including its text.
func (c *Client) GetDocument(ctx context.Context, projectID, dataSourceName, documentID string) (Document, error) {
	var out struct {
		Document Document `json:"document"`
	}
	path := fmt.Sprintf("/projects/%s/data_sources/%s/documents/%s",
		url.PathEscape(projectID), url.PathEscape(dataSourceName), url.PathEscape(documentID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Document{}, err
	}
	return out.Document, nil
}

// ListDocuments pages through a data source's documents.
func (c *Client) ListDocuments(ctx context.Context, projectID, dataSourceName string, limit, offset int) ([]Document, int, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var out struct {
		Documents []Document `json:"documents"`
		Total     int        `json:"total"`
	}
	path := fmt.Sprintf("/projects/%s/data_sources/%s/documents?%s",
		url.PathEscape(projectID), url.PathEscape(dataSourceName), query.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Documents, out.Total, nil
}

// DeleteDocument removes one document from a data source.
func (c *Client) DeleteDocument(ctx context.Context, projectID, dataSourceName, documentID string) error {
	path := fmt.Sprintf("/projects/%s/data_sources/%s/documents/%s",
		url.PathEscape(projectID), url.PathEscape(dataSourceName), url.PathEscape(documentID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
