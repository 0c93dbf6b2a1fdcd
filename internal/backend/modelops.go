package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// OllamaModel describes one locally available LLM.
type OllamaModel struct {
	Name       string `json:"name"`
	Size       int64  `json:"size,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// OllamaModels lists the LLMs the backend can serve.
func (c *Client) OllamaModels(ctx context.Context) ([]OllamaModel, error) {
	var out struct {
		Models []OllamaModel `json:"models"`
	}
	if err := c.getJSON(ctx, "/ollama/models", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// PullProgress is one line of streamed model-download progress.
type PullProgress struct {
	Status    string `json:"status"`
	Completed int64  `json:"completed,omitempty"`
	Total     int64  `json:"total,omitempty"`
}

// OllamaPull downloads a model, invoking progress for each streamed update
// until the backend closes the stream.
func (c *Client) OllamaPull(ctx context.Context, name string, progress func(PullProgress)) error {
	resp, err := c.do(ctx, c.stream, http.MethodPost, "/ollama/pull", map[string]string{"name": name})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			c.log.Warn("skip malformed pull progress", zap.Error(err))
			continue
		}
		if progress != nil {
			progress(p)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read pull stream: %w", err)
	}
	return nil
}

// OllamaDelete removes a local model.
func (c *Client) OllamaDelete(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodDelete, "/ollama/models/"+url.PathEscape(name), nil, nil)
}

// ComfyUIStatus is the image backend's health report.
type ComfyUIStatus struct {
	Status            string `json:"status"`
	Running           bool   `json:"running,omitempty"`
	CurrentCheckpoint string `json:"current_checkpoint,omitempty"`
}

func (c *Client) ComfyUIStatus(ctx context.Context) (ComfyUIStatus, error) {
	var out ComfyUIStatus
	if err := c.getJSON(ctx, "/comfyui/status", &out); err != nil {
		return ComfyUIStatus{}, err
	}
	return out, nil
}

// ComfyUICheckpoints lists the image model checkpoints the backend can load.
func (c *Client) ComfyUICheckpoints(ctx context.Context) ([]string, error) {
	var out struct {
		Checkpoints []string `json:"checkpoints"`
	}
	if err := c.getJSON(ctx, "/comfyui/checkpoints", &out); err != nil {
		return nil, err
	}
	return out.Checkpoints, nil
}

// ComfyUISetCheckpoint switches the loaded image model.
func (c *Client) ComfyUISetCheckpoint(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/comfyui/checkpoint", map[string]string{"checkpoint": name}, nil)
}

// ComfyUIRestart restarts the image backend.
func (c *Client) ComfyUIRestart(ctx context.Context) error {
	return c.postJSON(ctx, "/comfyui/restart", nil, nil)
}

// LastGeneration describes the most recent image generation.
type LastGeneration struct {
	ImageURL string `json:"image_url,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
}

func (c *Client) ComfyUILastGeneration(ctx context.Context) (LastGeneration, error) {
	var out LastGeneration
	if err := c.getJSON(ctx, "/comfyui/last-generation", &out); err != nil {
		return LastGeneration{}, err
	}
	return out, nil
}

// HFModel is one huggingface search hit.
type HFModel struct {
	ID        string `json:"id"`
	Downloads int64  `json:"downloads,omitempty"`
	Likes     int64  `json:"likes,omitempty"`
}

// HFSearch queries huggingface through the backend.
func (c *Client) HFSearch(ctx context.Context, query string) ([]HFModel, error) {
	var out struct {
		Models []HFModel `json:"models"`
	}
	path := "/huggingface/search?query=" + url.QueryEscape(query)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// HFFiles lists the files of a huggingface repo.
func (c *Client) HFFiles(ctx context.Context, owner, repo string) ([]string, error) {
	var out struct {
		Files []string `json:"files"`
	}
	path := fmt.Sprintf("/huggingface/model/%s/%s/files", url.PathEscape(owner), url.PathEscape(repo))
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// HFImport asks the backend to download a checkpoint file from huggingface.
func (c *Client) HFImport(ctx context.Context, repoID, filename string) error {
	return c.postJSON(ctx, "/huggingface/import", map[string]string{
		"repo_id":  repoID,
		"filename": filename,
	}, nil)
}

// TTS synthesizes speech for text in the given voice, returning raw audio.
func (c *Client) TTS(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := c.do(ctx, c.http, http.MethodPost, "/tts", map[string]string{
		"text":  text,
		"voice": voice,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts audio: %w", err)
	}
	return data, nil
}

// GenerateVoice is the legacy voice endpoint using the active persona's voice.
func (c *Client) GenerateVoice(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.do(ctx, c.http, http.MethodGet, "/generate-voice?text="+url.QueryEscape(text), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read voice audio: %w", err)
	}
	return data, nil
}
