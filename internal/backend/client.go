// Package backend is the typed HTTP client for the Unicorn backend contract:
// chat completion, persona CRUD, server-side memory, voice, and the model
// management surfaces (ollama, comfyui, huggingface).
package backend

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

	"go.uber.org/zap"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
)

// Error is a non-2xx backend reply with the server-provided detail decoded.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend: %s (status %d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("backend: status %d", e.StatusCode)
}

// Client talks to one backend instance. Streaming calls use a dedicated
// transport with no overall timeout; cancellation comes from the context.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		log:     log,
	}
}

// HealthStatus is the GET /health reply.
type HealthStatus struct {
	Status  string `json:"status"`
	API     string `json:"api,omitempty"`
	Ollama  string `json:"ollama,omitempty"`
	Model   string `json:"model,omitempty"`
	Persona string `json:"persona,omitempty"`
}

// Healthy reports whether the backend considers itself reachable and sane.
func (h HealthStatus) Healthy() bool {
	return h.Status == "healthy" || h.API == "online"
}

// Health checks backend reachability.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return HealthStatus{}, err
	}
	return out, nil
}

type personasResponse struct {
	Personas []models.Persona `json:"personas"`
	Current  string           `json:"current"`
}

// ListPersonas fetches all personas and the backend's current selection.
func (c *Client) ListPersonas(ctx context.Context) ([]models.Persona, string, error) {
	var out personasResponse
	if err := c.getJSON(ctx, "/personas", &out); err != nil {
		return nil, "", err
	}
	return out.Personas, out.Current, nil
}

// ActivatePersona makes the backend switch its active persona.
func (c *Client) ActivatePersona(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/personas/"+url.PathEscape(id)+"/activate", nil, nil)
}

// CreatePersona registers a new persona on the backend.
func (c *Client) CreatePersona(ctx context.Context, p models.Persona) error {
	return c.postJSON(ctx, "/personas/create", p, nil)
}

// UpdatePersona replaces an existing persona's fields.
func (c *Client) UpdatePersona(ctx context.Context, id string, p models.Persona) error {
	return c.doJSON(ctx, http.MethodPut, "/personas/"+url.PathEscape(id), p, nil)
}

// DeletePersona removes a persona from the backend.
func (c *Client) DeletePersona(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/personas/"+url.PathEscape(id), nil, nil)
}

// ClearMemory drops server-side conversational memory for a session.
func (c *Client) ClearMemory(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/memory/clear/"+url.PathEscape(sessionID), nil, nil)
}

// ToggleMemory flips server-side memory retention for a session.
func (c *Client) ToggleMemory(ctx context.Context, sessionID string, enabled bool) error {
	path := fmt.Sprintf("/memory/toggle/%s?enabled=%t", url.PathEscape(sessionID), enabled)
	return c.postJSON(ctx, path, nil, nil)
}

// UserProfile is the free-form profile record the backend keeps for the user.
type UserProfile struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Preferences string `json:"preferences,omitempty"`
}

// Profile fetches the stored user profile.
func (c *Client) Profile(ctx context.Context) (UserProfile, error) {
	var out UserProfile
	if err := c.getJSON(ctx, "/user/profile", &out); err != nil {
		return UserProfile{}, err
	}
	return out, nil
}

// SaveProfile stores the user profile.
func (c *Client) SaveProfile(ctx context.Context, p UserProfile) error {
	return c.postJSON(ctx, "/user/profile", p, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, body, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.do(ctx, c.http, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// do issues the request and converts non-2xx replies into *Error. The caller
// owns the response body on success.
func (c *Client) do(ctx context.Context, client *http.Client, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

// decodeError extracts the server's detail message. FastAPI-style bodies use
// "detail", gin-style use "error"; anything else falls back to the raw body.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Detail string `json:"detail"`
		Err    string `json:"error"`
	}
	detail := ""
	if err := json.Unmarshal(data, &payload); err == nil {
		detail = payload.Detail
		if detail == "" {
			detail = payload.Err
		}
	}
	if detail == "" {
		detail = strings.TrimSpace(string(data))
	}
	return &Error{StatusCode: resp.StatusCode, Detail: detail}
}
