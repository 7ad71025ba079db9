package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const httpTimeout = 30 * time.Second

// HTTPClient is the production Client. It maps HTTP status codes and
// transport failures to typed error kinds.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: httpTimeout},
	}
}

var _ Client = (*HTTPClient)(nil)

type createTaskRequest struct {
	ResourceID string          `json:"resource_id"`
	Params     json.RawMessage `json:"params,omitempty"`
}

type createTaskResponse struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

func (c *HTTPClient) CreateTask(ctx context.Context, resourceID string, params json.RawMessage) (string, error) {
	body, err := json.Marshal(createTaskRequest{ResourceID: resourceID, Params: params})
	if err != nil {
		return "", &Error{Kind: KindInvalid, Message: fmt.Sprintf("marshal create request: %v", err)}
	}
	var out createTaskResponse
	if err := c.post(ctx, "/v1/tasks", body, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", &Error{Kind: KindRejected, Message: out.Error}
	}
	return out.TaskID, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, taskID string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return nil, &Error{Kind: KindInvalid, Message: err.Error()}
	}
	c.authorize(req)
	var st Status
	if err := c.do(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindInvalid, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.Client.Do(req)
	if err != nil {
		return Classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Kind:       classifyStatus(resp.StatusCode),
			HTTPStatus: resp.StatusCode,
			Message:    string(msg),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindUnavailable, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}
