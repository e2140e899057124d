package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"slidereel/internal/api"
	"slidereel/internal/notifications"
)

// daemonClient talks to the slidereeld HTTP API.
type daemonClient struct {
	base  string
	token string
	http  *http.Client
}

func newDaemonClient(base, token string) *daemonClient {
	return &daemonClient{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *daemonClient) Status(ctx context.Context) (*api.DaemonStatus, error) {
	var status api.DaemonStatus
	if err := c.getJSON(ctx, "/api/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *daemonClient) ListJobs(ctx context.Context, statuses []string) ([]api.JobSnapshot, error) {
	path := "/api/jobs"
	if len(statuses) > 0 {
		values := url.Values{}
		for _, status := range statuses {
			values.Add("status", status)
		}
		path += "?" + values.Encode()
	}
	var payload api.JobListResponse
	if err := c.getJSON(ctx, path, &payload); err != nil {
		return nil, err
	}
	return payload.Jobs, nil
}

func (c *daemonClient) GetJob(ctx context.Context, token string) (*api.JobSnapshot, error) {
	var payload api.JobResponse
	if err := c.getJSON(ctx, "/api/jobs/"+url.PathEscape(token), &payload); err != nil {
		return nil, err
	}
	return &payload.Job, nil
}

func (c *daemonClient) Submit(ctx context.Context, path string) (*api.JobSnapshot, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/jobs", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var response api.JobResponse
	if err := c.do(req, &response); err != nil {
		return nil, err
	}
	return &response.Job, nil
}

func (c *daemonClient) Cancel(ctx context.Context, token string) (*api.CancelResult, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(token)+"/cancel", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, wrapDialError(err, c.base)
	}
	defer resp.Body.Close()
	// 409 carries a CancelResult too: the job was already terminal.
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusConflict {
		return nil, decodeError(resp)
	}
	var result api.CancelResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Download streams an artifact to destPath and returns the bytes written.
func (c *daemonClient) Download(ctx context.Context, token, artifact, destPath string) (int64, error) {
	path := "/api/jobs/" + url.PathEscape(token) + "/download?artifact=" + url.QueryEscape(artifact)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, wrapDialError(err, c.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()
	written, err := io.Copy(out, resp.Body)
	if err != nil {
		return written, fmt.Errorf("write %s: %w", destPath, err)
	}
	return written, nil
}

// Events follows the job's websocket progress stream, invoking fn per
// update until the job reaches a terminal event or ctx is cancelled.
func (c *daemonClient) Events(ctx context.Context, token string, fn func(notifications.Update)) error {
	wsBase := strings.Replace(c.base, "http", "ws", 1)
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsBase+"/api/jobs/"+url.PathEscape(token)+"/events", header)
	if err != nil {
		if resp != nil {
			return decodeError(resp)
		}
		return wrapDialError(err, c.base)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close() //nolint:errcheck
	}()

	for {
		var update notifications.Update
		if err := conn.ReadJSON(&update); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream: %w", err)
		}
		fn(update)
		switch update.Event {
		case notifications.EventJobCompleted, notifications.EventJobFailed, notifications.EventJobCancelled:
			return nil
		}
	}
}

func (c *daemonClient) getJSON(ctx context.Context, path string, v any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, v)
}

func (c *daemonClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *daemonClient) do(req *http.Request, v any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return wrapDialError(err, c.base)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("daemon: %s (%s)", payload.Error, resp.Status)
	}
	return fmt.Errorf("daemon: %s", resp.Status)
}

func wrapDialError(err error, server string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start the daemon with `slidereeld`", server)
	}
	return fmt.Errorf("connect to daemon at %s: %w", server, err)
}
