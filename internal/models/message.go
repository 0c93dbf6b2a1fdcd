package models

import "time"

// Role identifies who produced a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ChatMessage is one entry in a session's chat log. Assistant messages carry a
// snapshot of the persona that produced them, because the persona cache may
// change or reload after the fact.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	Image        string   `json:"image,omitempty"`     // inbound upload, base64 or data URL
	ImageURL     string   `json:"image_url,omitempty"` // generated image, backend URL
	HasImage     bool     `json:"has_image,omitempty"`
	Persona      *Persona `json:"persona,omitempty"`
	Model        string   `json:"model,omitempty"`
	ResponseTime float64  `json:"response_time,omitempty"` // seconds
}

// StreamEventType discriminates events on a streamed chat reply.
type StreamEventType string

const (
	StreamMessageStart StreamEventType = "message_start"
	StreamContentDelta StreamEventType = "content_delta"
	StreamMessageEnd   StreamEventType = "message_end"
)

// StreamEvent is one decoded server-sent event from POST /chat with stream=true.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content,omitempty"`
}
