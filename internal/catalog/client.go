// Package catalog talks to the product backend's REST API.
package catalog

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

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	pathCategories = "/api/products/categories"
	pathProducts   = "/api/products"
	pathImportCSV  = "/api/products/csv"

	requestIDHeader = "X-Request-ID"
)

// ErrInvalidBaseURL is returned when the backend URL cannot be used.
var ErrInvalidBaseURL = errors.New("catalog: invalid base url")

// APIError carries the backend's status and error message.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog: backend returned status %d", e.Status)
	}
	return fmt.Sprintf("catalog: backend returned status %d: %s", e.Status, e.Message)
}

// UserMessage extracts the backend message from err, or returns fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return fallback
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	Authorization string
	// Cookie is forwarded as-is; the backend keeps the session.
	Cookie     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client wraps the backend product and category endpoints.
type Client struct {
	baseURL       *url.URL
	authorization string
	cookie        string
	httpClient    *http.Client
	group         singleflight.Group
}

// NewClient constructs a backend client.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:       u,
		authorization: strings.TrimSpace(opts.Authorization),
		cookie:        strings.TrimSpace(opts.Cookie),
		httpClient:    httpClient,
	}, nil
}

// ListCategories fetches the category tree. Concurrent callers share one round trip.
// The shared fetch outlives any single caller's cancellation and is bounded by the
// client timeout instead.
func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("categories", func() (interface{}, error) {
		var tree []Category
		if err := c.doJSON(shared, http.MethodGet, pathCategories, nil, &tree); err != nil {
			return nil, fmt.Errorf("catalog: list categories: %w", err)
		}
		return tree, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Category), nil
	}
}

// CreateCategory creates a top-level category.
func (c *Client) CreateCategory(ctx context.Context, name string) (Category, error) {
	req := struct {
		Name string `json:"name"`
	}{Name: strings.TrimSpace(name)}
	var created Category
	if err := c.doJSON(ctx, http.MethodPost, pathCategories, req, &created); err != nil {
		return Category{}, fmt.Errorf("catalog: create category: %w", err)
	}
	return created, nil
}

// ListProducts fetches every persisted product.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := c.doJSON(ctx, http.MethodGet, pathProducts, nil, &products); err != nil {
		return nil, fmt.Errorf("catalog: list products: %w", err)
	}
	return products, nil
}

// ImportProducts posts a batch to the create-or-update endpoint.
func (c *Client) ImportProducts(ctx context.Context, req ImportRequest) (ImportResult, error) {
	var result ImportResult
	if err := c.doJSON(ctx, http.MethodPost, pathImportCSV, req, &result); err != nil {
		return ImportResult{}, fmt.Errorf("catalog: import products: %w", err)
	}
	return result, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, reqBody any, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path

	var body io.Reader
	if reqBody != nil {
		raw, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestIDHeader, uuid.NewString())
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(respBody)}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		return payload.Message
	}
	return ""
}
