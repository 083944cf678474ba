package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/funcx-faas/action-provider/internal/domain"
)

// HTTPConfig 远程执行服务的连接参数
type HTTPConfig struct {
	BaseURL string        // 例如 https://compute.example.org/v2
	Token   string        // Bearer 令牌，可为空
	Timeout time.Duration // 单次 HTTP 请求超时
}

// HTTPClient 基于 funcX 风格 Web 服务的 Client 实现
// 由调用方显式创建并传给 service，用完调用 Close
type HTTPClient struct {
	base   *url.URL
	token  string
	hc     *http.Client
	logger *slog.Logger
}

// 执行器报告这些状态时任务仍在进行
var pendingStates = map[string]bool{
	"pending":            true,
	"received":           true,
	"waiting-for-ep":     true,
	"waiting-for-nodes":  true,
	"waiting-for-launch": true,
	"running":            true,
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("executor base url is required")
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse executor base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("executor base url must be http(s), got %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		base:   u,
		token:  cfg.Token,
		hc:     &http.Client{Timeout: timeout},
		logger: slog.Default().With("component", "executor"),
	}, nil
}

// Close 释放空闲连接
func (c *HTTPClient) Close() {
	c.hc.CloseIdleConnections()
}

type submitTask struct {
	Endpoint string         `json:"endpoint"`
	Function string         `json:"function"`
	Args     []any          `json:"args"`
	Kwargs   map[string]any `json:"kwargs"`
}

type submitResponse struct {
	TaskGroupID string `json:"task_group_id"`
	Results     []struct {
		TaskUUID string `json:"task_uuid"`
	} `json:"results"`
}

// SubmitBatch POST {base}/submit
func (c *HTTPClient) SubmitBatch(ctx context.Context, tasks []domain.TaskDescriptor) (Batch, error) {
	reqTasks := make([]submitTask, 0, len(tasks))
	for _, t := range tasks {
		reqTasks = append(reqTasks, submitTask{
			Endpoint: t.EndpointID,
			Function: t.FunctionID,
			Args:     t.Args,
			Kwargs:   t.Kwargs,
		})
	}
	body, err := json.Marshal(map[string]any{"tasks": reqTasks})
	if err != nil {
		return Batch{}, fmt.Errorf("encode batch: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.endpoint("submit"), body)
	if err != nil {
		return Batch{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return Batch{}, fmt.Errorf("submit batch: unexpected status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}
	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Batch{}, fmt.Errorf("decode submit response: %w", err)
	}
	b := Batch{GroupID: sr.TaskGroupID, TaskIDs: make([]string, 0, len(sr.Results))}
	for _, r := range sr.Results {
		if r.TaskUUID != "" {
			b.TaskIDs = append(b.TaskIDs, r.TaskUUID)
		}
	}
	return b, nil
}

type taskResponse struct {
	Status    string `json:"status"`
	Pending   bool   `json:"pending"`
	Result    any    `json:"result"`
	Exception string `json:"exception"`
}

// GetResult GET {base}/tasks/{id}
func (c *HTTPClient) GetResult(ctx context.Context, taskID string) (Outcome, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint("tasks", taskID), nil)
	if err != nil {
		return Outcome{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Failure(fmt.Sprintf("task %s not found at executor", taskID)), nil
	case resp.StatusCode != http.StatusOK:
		return Outcome{}, fmt.Errorf("get result %s: unexpected status %d: %s", taskID, resp.StatusCode, readSnippet(resp.Body))
	}

	var tr taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Failure(fmt.Sprintf("task %s result could not be deserialized: %v", taskID, err)), nil
	}
	status := strings.ToLower(tr.Status)
	c.logger.Debug("executor result", "task_id", taskID, "status", status, "pending", tr.Pending)
	switch {
	case tr.Pending || pendingStates[status]:
		return Pending(), nil
	case tr.Exception != "":
		return Failure(tr.Exception), nil
	case status == "failed":
		return Failure(fmt.Sprintf("task %s failed", taskID)), nil
	}
	return Success(tr.Result), nil
}

func (c *HTTPClient) endpoint(parts ...string) string {
	return c.base.JoinPath(parts...).String()
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	return resp, nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
