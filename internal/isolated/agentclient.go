package isolated

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/fame/core/internal/agentproto"
)

const (
	readyPollInterval = 5 * time.Second
	vmRestoreTimeout  = 120 * time.Second
)

// AgentClient drives the six-endpoint protocol against one Agent base
// URL.
type AgentClient struct {
	BaseURL string
	HTTP    *http.Client

	// ReadyPollInterval defaults to 5 seconds; tests shrink it.
	ReadyPollInterval time.Duration
}

// NewAgentClient creates a client against baseURL using http.DefaultClient.
func NewAgentClient(baseURL string) *AgentClient {
	return &AgentClient{BaseURL: baseURL, HTTP: http.DefaultClient, ReadyPollInterval: readyPollInterval}
}

func (c *AgentClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// VMReady polls the VM-level GET /ready the driver's prepare() step needs
// before it can hand control to the task protocol.
func (c *AgentClient) VMReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, vmRestoreTimeout)
	defer cancel()

	interval := c.ReadyPollInterval
	if interval <= 0 {
		interval = readyPollInterval
	}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/ready", nil)
		if err == nil {
			resp, err := c.httpClient().Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("isolated: agent never became ready: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
}

// NewTask implements step 1.
func (c *AgentClient) NewTask(ctx context.Context) (string, error) {
	var out agentproto.NewTaskResponse
	if err := c.getJSON(ctx, "/new_task", &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// ModuleUpdate implements step 2.
func (c *AgentClient) ModuleUpdate(ctx context.Context, taskID string, source []byte) error {
	return c.post(ctx, fmt.Sprintf("/%s/module_update", taskID), bytes.NewReader(source))
}

// ModuleUpdateInfo implements step 3.
func (c *AgentClient) ModuleUpdateInfo(ctx context.Context, taskID, name string, config map[string]any) error {
	body, err := json.Marshal(agentproto.ModuleUpdateInfoRequest{Name: name, Config: config})
	if err != nil {
		return fmt.Errorf("isolated: marshal module info: %w", err)
	}
	return c.post(ctx, fmt.Sprintf("/%s/module_update_info", taskID), bytes.NewReader(body))
}

// ModuleEach implements the upload half of step 4.
func (c *AgentClient) ModuleEach(ctx context.Context, taskID, fileType string, target io.Reader) error {
	return c.post(ctx, fmt.Sprintf("/%s/module_each/%s", taskID, url.PathEscape(fileType)), target)
}

// TaskReady polls the task-level GET /{task}/ready until it reports ready,
// with no deadline -- lists "Agent task readiness unbounded".
func (c *AgentClient) TaskReady(ctx context.Context, taskID string) error {
	interval := c.ReadyPollInterval
	if interval <= 0 {
		interval = readyPollInterval
	}
	for {
		var out agentproto.ReadyResponse
		if err := c.getJSON(ctx, fmt.Sprintf("/%s/ready", taskID), &out); err == nil && out.Ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Results implements step 5.
func (c *AgentClient) Results(ctx context.Context, taskID string) (agentproto.ResultsPayload, error) {
	var out agentproto.ResultsPayload
	err := c.getJSON(ctx, fmt.Sprintf("/%s/results", taskID), &out)
	return out, err
}

// GetFile implements step 6.
func (c *AgentClient) GetFile(ctx context.Context, taskID, filepath string) (io.ReadCloser, error) {
	form := url.Values{"filepath": {filepath}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+fmt.Sprintf("/%s/get_file", taskID), bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return nil, fmt.Errorf("isolated: build get_file request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("isolated: get_file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("isolated: get_file: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (c *AgentClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("isolated: build request for %s: %w", path, err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("isolated: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("isolated: GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *AgentClient) post(ctx context.Context, path string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("isolated: build request for %s: %w", path, err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("isolated: POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("isolated: POST %s: status %d", path, resp.StatusCode)
	}
	return nil
}
