package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// apiError is the error envelope returned by the service.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.Status)
}

type client struct {
	baseURL string
	apiKey  string
	userID  string
	http    *http.Client
}

func newClient(baseURL, apiKey, userID string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		userID:  userID,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.userID != "" {
		req.Header.Set("X-User-Id", c.userID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var env struct {
			Error apiError `json:"error"`
		}
		if json.Unmarshal(data, &env) != nil || env.Error.Code == "" {
			return &apiError{Status: resp.StatusCode, Code: "http_error", Message: strings.TrimSpace(string(data))}
		}
		env.Error.Status = resp.StatusCode
		return &env.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type classification struct {
	Workflow   string  `json:"workflow"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

func (c *client) classify(ctx context.Context, message string) (*classification, error) {
	var out classification
	err := c.do(ctx, http.MethodPost, "/api/v1/router/classify", map[string]string{"message": message}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type approval struct {
	ID             string     `json:"id"`
	Action         string     `json:"action"`
	IdempotencyKey string     `json:"idempotencyKey"`
	SessionID      string     `json:"sessionId"`
	Status         string     `json:"status"`
	ApproverID     string     `json:"approverId"`
	CreatedAt      time.Time  `json:"createdAt"`
	ResolvedAt     *time.Time `json:"resolvedAt"`
}

func approvalPath(action, key string) string {
	return "/api/v1/approvals/" + url.PathEscape(action) + "/" + url.PathEscape(key)
}

func (c *client) listApprovals(ctx context.Context, status string) ([]approval, error) {
	path := "/api/v1/approvals"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out []approval
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) getApproval(ctx context.Context, action, key string) (*approval, error) {
	var out approval
	if err := c.do(ctx, http.MethodGet, approvalPath(action, key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// resolveApproval grants or denies; verb is "grant" or "deny".
func (c *client) resolveApproval(ctx context.Context, action, key, verb, approver string) (*approval, error) {
	var out approval
	body := map[string]string{"approverId": approver}
	if err := c.do(ctx, http.MethodPost, approvalPath(action, key)+"/"+verb, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
