// Package cliclient is the HTTP client cmd/silc uses to talk to silcd's
// management API and to individual sessions' HTTP/WS servers. It is
// ancillary to the spec proper (an external collaborator per spec.md §1)
// but is still built in the teacher's idiom rather than left as raw
// net/http calls scattered through the CLI commands.
package cliclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ianremillard/silc/internal/api"
)

// Client talks to one silcd management API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// New builds a Client pointed at the daemon's management API.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("silcd not reachable at %s: %w", c.BaseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb api.ErrorBody
		json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error != "" {
			return fmt.Errorf("%s: %s", eb.Status, eb.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateSession asks the daemon to spawn a new session.
func (c *Client) CreateSession(req api.CreateSessionRequest) (api.SessionHandle, error) {
	var out api.SessionHandle
	err := c.do(http.MethodPost, "/sessions", req, &out)
	return out, err
}

// ListSessions lists every live session.
func (c *Client) ListSessions() ([]api.SessionHandle, error) {
	var out api.ListSessionsResponse
	err := c.do(http.MethodGet, "/sessions", nil, &out)
	return out.Sessions, err
}

// CloseSession stops a session, forcefully if force is set.
func (c *Client) CloseSession(port int, force bool) error {
	path := fmt.Sprintf("/sessions/%d", port)
	if force {
		path += "?force=1"
	}
	return c.do(http.MethodDelete, path, nil, nil)
}

// Shutdown asks the daemon to stop every session gracefully.
func (c *Client) Shutdown() error { return c.do(http.MethodPost, "/shutdown", nil, nil) }

// KillAll asks the daemon to force-stop every session.
func (c *Client) KillAll() error { return c.do(http.MethodPost, "/killall", nil, nil) }

// Session returns a handle for talking directly to one session's own
// HTTP/WS server at 127.0.0.1:port.
type Session struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewSession builds a Session client for the session bound to port.
func NewSession(port int, token string) *Session {
	return &Session{
		BaseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		Token:   token,
		HTTP:    &http.Client{Timeout: 35 * time.Second},
	}
}

func (s *Session) do(method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var eb api.ErrorBody
		json.NewDecoder(resp.Body).Decode(&eb)
		if eb.Error != "" {
			return fmt.Errorf("%s: %s", eb.Status, eb.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Session) Status() (api.SessionStatus, error) {
	var out api.SessionStatus
	err := s.do(http.MethodGet, "/status", nil, &out)
	return out, err
}

func (s *Session) GetOutput(since int64, clean bool) (api.GetOutputResponse, error) {
	path := fmt.Sprintf("/out?since=%d", since)
	if clean {
		path += "&clean=1"
	}
	var out api.GetOutputResponse
	err := s.do(http.MethodGet, path, nil, &out)
	return out, err
}

func (s *Session) WriteInput(text string, noNewline bool) error {
	return s.do(http.MethodPost, "/in", api.WriteInputRequest{Text: text, NoNewline: noNewline}, nil)
}

func (s *Session) Run(command string, timeoutMS int, clean bool) (api.RunResponse, error) {
	var out api.RunResponse
	err := s.do(http.MethodPost, "/run", api.RunRequest{Command: command, TimeoutMS: timeoutMS, Clean: clean}, &out)
	return out, err
}

func (s *Session) Interrupt() error { return s.do(http.MethodPost, "/interrupt", nil, nil) }
func (s *Session) Clear() error     { return s.do(http.MethodPost, "/clear", nil, nil) }
func (s *Session) Close() error     { return s.do(http.MethodPost, "/close", nil, nil) }
func (s *Session) SignalTerm() error { return s.do(http.MethodPost, "/sigterm", nil, nil) }
func (s *Session) SignalKill() error { return s.do(http.MethodPost, "/sigkill", nil, nil) }

func (s *Session) Resize(rows, cols int) error {
	return s.do(http.MethodPost, "/resize", api.ResizeRequest{Rows: rows, Cols: cols}, nil)
}

// WSURL returns this session's WebSocket URL, token embedded in the query
// string since browser/CLI WebSocket clients can't set an Authorization
// header on the upgrade request.
func (s *Session) WSURL() string {
	url := fmt.Sprintf("ws://127.0.0.1:%s/ws", s.BaseURL[len("http://127.0.0.1:"):])
	if s.Token != "" {
		url += "?token=" + s.Token
	}
	return url
}
