package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mirrorlake/warden/internal/breaker"
	"github.com/mirrorlake/warden/internal/health"
	"github.com/mirrorlake/warden/internal/metrics"
	"github.com/mirrorlake/warden/internal/service"
)

// APIClient talks to a running daemon's REST surface.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8085"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *APIClient) Statuses() ([]service.Status, error) {
	var out []service.Status
	return out, c.get("/services", &out)
}

func (c *APIClient) Status(name string) (service.Status, error) {
	var out service.Status
	return out, c.get("/services/"+url.PathEscape(name), &out)
}

func (c *APIClient) Health() (health.Report, error) {
	var out health.Report
	return out, c.get("/health", &out)
}

func (c *APIClient) Summary(window time.Duration) (metrics.Snapshot, error) {
	var out metrics.Snapshot
	return out, c.get("/summary?window="+url.QueryEscape(window.String()), &out)
}

func (c *APIClient) Breakers() ([]breaker.Status, error) {
	var out []breaker.Status
	return out, c.get("/breakers", &out)
}

func (c *APIClient) Start(name string) error {
	return c.post("/services/" + url.PathEscape(name) + "/start")
}

func (c *APIClient) Stop(name string) error {
	return c.post("/services/" + url.PathEscape(name) + "/stop")
}

func (c *APIClient) get(path string, out any) error {
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := apiError(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) post(path string) error {
	resp, err := c.client.Post(c.baseURL+path, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return apiError(resp)
}

// apiError converts non-2xx answers into errors. The health endpoint answers
// 503 with a valid report body, so that code is let through for GETs.
func apiError(resp *http.Response) error {
	if resp.StatusCode < 300 || resp.StatusCode == http.StatusServiceUnavailable {
		return nil
	}
	var er struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		return fmt.Errorf("daemon error: %s", er.Error)
	}
	return fmt.Errorf("daemon error: status %d", resp.StatusCode)
}
