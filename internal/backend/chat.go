package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
)

// ChatRequest is the POST /chat payload. SessionID keys server-side memory
// continuity; sampling parameters come from client settings.
type ChatRequest struct {
	Message       string  `json:"message"`
	PersonaID     string  `json:"persona_id"`
	SessionID     string  `json:"session_id"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	Stream        bool    `json:"stream,omitempty"`
	MemoryEnabled bool    `json:"memory_enabled"`
	Image         string  `json:"image,omitempty"`
}

// ChatResponse is the whole-reply (non-streaming) POST /chat result.
type ChatResponse struct {
	Response    string `json:"response"`
	HasImage    bool   `json:"has_image"`
	ImagePrompt string `json:"image_prompt,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	Model       string `json:"model,omitempty"`
}

// ErrStreamTruncated reports a chat stream that closed before delivering a
// message_end event. Whatever was assembled so far is incomplete and must not
// be treated as the reply.
var ErrStreamTruncated = errors.New("chat stream closed before message_end")

// Chat sends a message and waits for the complete reply.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	req.Stream = false
	var out ChatResponse
	if err := c.postJSON(ctx, "/chat", req, &out); err != nil {
		return ChatResponse{}, err
	}
	return out, nil
}

// ChatStream sends a message with streaming enabled and invokes handle for
// each decoded event, in order, until message_end. A non-nil error from
// handle aborts the read and is returned; a stream that closes without
// message_end returns ErrStreamTruncated.
//
// The wire format is server-sent-event style: "data: {json}" lines separated
// by blank lines, each JSON payload discriminated on "type". Malformed lines
// and unknown event types are skipped with a warning so newer backends can
// add event types without breaking older clients.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, handle func(models.StreamEvent) error) error {
	req.Stream = true
	resp, err := c.do(ctx, c.stream, http.MethodPost, "/chat", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var event models.StreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			c.log.Warn("skip malformed stream event", zap.Error(err))
			continue
		}
		switch event.Type {
		case models.StreamMessageStart, models.StreamContentDelta, models.StreamMessageEnd:
		default:
			c.log.Warn("skip unknown stream event", zap.String("type", string(event.Type)))
			continue
		}

		if err := handle(event); err != nil {
			return err
		}
		if event.Type == models.StreamMessageEnd {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return ErrStreamTruncated
}
