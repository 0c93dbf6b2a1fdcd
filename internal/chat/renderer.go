package chat

import "github.com/slackerchris/Unicorn-Ai/internal/models"

// Renderer is the presentation adapter contract. The controller pushes state
// through these callbacks and never touches presentation itself; desktop,
// mobile, and test adapters are interchangeable behind this interface.
//
// RenderMessages may be called many times while a reply streams in; adapters
// must treat it as an idempotent full redraw.
type Renderer interface {
	RenderMessages(messages []models.ChatMessage)
	RenderSessions(sessions []models.SessionSummary)
	RenderPersona(p models.Persona)
	RenderStats(stats models.Stats)

	// SetBusy toggles the typing indicator and disables the send control
	// while a request is in flight.
	SetBusy(busy bool)

	// ShowError surfaces a transient, non-fatal notice.
	ShowError(message string)

	// ShowWelcome replaces an empty message area with the welcome placeholder.
	ShowWelcome()

	// SystemStatus reflects the last backend health probe.
	SystemStatus(healthy bool)

	// PlaySound triggers a UI sound effect ("message", "switch"). Sound
	// synthesis is adapter-owned.
	PlaySound(name string)
}

// NopRenderer discards all render calls. Useful as a default and in tests.
type NopRenderer struct{}

func (NopRenderer) RenderMessages([]models.ChatMessage)    {}
func (NopRenderer) RenderSessions([]models.SessionSummary) {}
func (NopRenderer) RenderPersona(models.Persona)           {}
func (NopRenderer) RenderStats(models.Stats)               {}
func (NopRenderer) SetBusy(bool)                           {}
func (NopRenderer) ShowError(string)                       {}
func (NopRenderer) ShowWelcome()                           {}
func (NopRenderer) SystemStatus(bool)                      {}
func (NopRenderer) PlaySound(string)                       {}
