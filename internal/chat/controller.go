// Package chat is the conversation controller: it orchestrates sending
// messages, streaming assembly, retries, and session/persona switching over
// the settings, session, history, and persona stores.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slackerchris/Unicorn-Ai/internal/backend"
	"github.com/slackerchris/Unicorn-Ai/internal/history"
	"github.com/slackerchris/Unicorn-Ai/internal/models"
	"github.com/slackerchris/Unicorn-Ai/internal/persona"
	"github.com/slackerchris/Unicorn-Ai/internal/session"
	"github.com/slackerchris/Unicorn-Ai/internal/settings"
)

// Backend is the slice of the backend client the controller calls directly.
type Backend interface {
	Chat(ctx context.Context, req backend.ChatRequest) (backend.ChatResponse, error)
	ChatStream(ctx context.Context, req backend.ChatRequest, handle func(models.StreamEvent) error) error
	ToggleMemory(ctx context.Context, sessionID string, enabled bool) error
	TTS(ctx context.Context, text, voice string) ([]byte, error)
	Health(ctx context.Context) (backend.HealthStatus, error)
}

// errStale aborts work whose generation stamp no longer matches the
// controller's; the response belongs to a session or persona the user has
// already left.
var errStale = errors.New("stale response generation")

var imageDirective = regexp.MustCompile(`\[IMAGE:.*?\]`)

// Controller owns the client-side conversation state machine. One outbound
// chat request is in flight at a time; every request carries a generation
// stamp and a cancelable context so switches can discard stale replies.
type Controller struct {
	settings *settings.Store
	sessions *session.Registry
	history  *history.Store
	personas *persona.Directory
	backend  Backend
	renderer Renderer
	player   Player
	log      *zap.Logger

	mu            sync.Mutex
	prefs         models.Settings
	stats         models.Stats
	memoryEnabled bool
	busy          bool
	gen           uint64
	cancelFn      context.CancelFunc
	playback      Playback
}

// Options bundles the controller's collaborators. Renderer and Player may be
// nil; rendering becomes a no-op and voice playback is skipped.
type Options struct {
	Settings *settings.Store
	Sessions *session.Registry
	History  *history.Store
	Personas *persona.Directory
	Backend  Backend
	Renderer Renderer
	Player   Player
	Log      *zap.Logger
}

func NewController(opts Options) *Controller {
	if opts.Renderer == nil {
		opts.Renderer = NopRenderer{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Controller{
		settings: opts.Settings,
		sessions: opts.Sessions,
		history:  opts.History,
		personas: opts.Personas,
		backend:  opts.Backend,
		renderer: opts.Renderer,
		player:   opts.Player,
		log:      opts.Log,
	}
}

// Start loads persisted state, primes the persona cache, and performs the
// initial render. Backend unavailability is reported, not fatal: the client
// still comes up with its stored history.
func (c *Controller) Start(ctx context.Context) error {
	prefs := c.settings.Load()
	c.mu.Lock()
	c.prefs = prefs
	c.memoryEnabled = prefs.MemoryEnabled
	c.mu.Unlock()

	if err := c.personas.Reload(ctx); err != nil {
		c.log.Warn("initial persona load", zap.Error(err))
		c.renderer.ShowError("Failed to load personas")
	}

	// The stored session association wins over the backend's reported
	// current persona, when it still resolves.
	current := c.sessions.Current()
	if current.PersonaID != "" {
		_ = c.personas.SetCurrent(current.PersonaID)
	}

	messages := c.history.Load(current.ID)
	c.mu.Lock()
	c.stats = models.Stats{MessageCount: userCount(messages)}
	c.mu.Unlock()

	c.renderAll(messages)
	c.CheckSystemStatus(ctx)
	return nil
}

// SendMessage appends the user's message and requests a reply. Empty input
// (after trimming) is silently ignored. The reply path branches on the
// streaming setting.
func (c *Controller) SendMessage(ctx context.Context, text, image string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !c.reserve() {
		return
	}

	userMsg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
		Image:     image,
	}
	if err := c.history.Append(userMsg); err != nil {
		c.release()
		c.log.Error("persist user message", zap.Error(err))
		c.renderer.ShowError("Failed to save message")
		return
	}
	c.renderer.RenderMessages(c.history.Messages())
	c.renderer.RenderSessions(c.sessions.List())

	c.dispatch(ctx, text, image)
}

// RetryLastMessage removes the trailing run of assistant messages and
// resubmits the most recent user message without duplicating it.
func (c *Controller) RetryLastMessage(ctx context.Context) {
	last, ok := c.history.LastUserMessage()
	if !ok {
		return
	}
	if !c.reserve() {
		return
	}
	if _, err := c.history.RemoveTrailingAssistantRun(); err != nil {
		c.release()
		c.log.Error("remove trailing assistant run", zap.Error(err))
		c.renderer.ShowError("Failed to retry")
		return
	}
	c.renderer.RenderMessages(c.history.Messages())

	c.dispatch(ctx, last.Content, last.Image)
}

// dispatch issues the backend chat call. The caller holds the in-flight
// reservation taken by reserve; dispatch drops it on the way out unless a
// switch already did.
func (c *Controller) dispatch(ctx context.Context, text, image string) {
	c.mu.Lock()
	gen := c.gen
	prefs := c.prefs
	memory := c.memoryEnabled
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancelFn = cancel
	c.mu.Unlock()

	c.renderer.SetBusy(true)
	defer func() {
		cancel()
		c.mu.Lock()
		if c.gen == gen {
			c.busy = false
			c.cancelFn = nil
		}
		c.mu.Unlock()
		c.renderer.SetBusy(false)
	}()

	personaID := c.personas.CurrentID()
	if personaID == "" {
		personaID = session.DefaultPersonaID
	}
	req := backend.ChatRequest{
		Message:       text,
		PersonaID:     personaID,
		SessionID:     c.sessions.CurrentID(),
		Temperature:   prefs.Temperature,
		MaxTokens:     prefs.MaxTokens,
		MemoryEnabled: memory,
		Image:         image,
	}

	started := time.Now()
	var err error
	if prefs.StreamingMode {
		err = c.streamReply(reqCtx, req, gen, prefs)
	} else {
		err = c.wholeReply(reqCtx, req, gen, prefs)
	}

	if err != nil {
		if errors.Is(err, errStale) || c.stale(gen) {
			return
		}
		c.log.Warn("send message", zap.Error(err))
		c.appendSystem(fmt.Sprintf("Error: %s", errDetail(err)))
		return
	}
	if c.stale(gen) {
		return
	}

	elapsed := time.Since(started).Seconds()
	c.mu.Lock()
	c.stats.MessageCount++
	c.stats.ResponseTimes = append(c.stats.ResponseTimes, elapsed)
	stats := c.stats
	c.mu.Unlock()
	c.renderer.RenderStats(stats)
}

func (c *Controller) wholeReply(ctx context.Context, req backend.ChatRequest, gen uint64, prefs models.Settings) error {
	resp, err := c.backend.Chat(ctx, req)
	if err != nil {
		return err
	}
	if c.stale(gen) {
		return errStale
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   resp.Response,
		Timestamp: time.Now().UTC(),
		HasImage:  resp.HasImage,
		ImageURL:  resp.ImageURL,
		Model:     resp.Model,
	}
	if p, ok := c.personas.Current(); ok {
		msg.Persona = &p
	}
	if err := c.history.Append(msg); err != nil {
		return err
	}
	c.renderer.RenderMessages(c.history.Messages())

	if prefs.AutoVoice {
		c.speak(ctx, resp.Response)
	}
	if prefs.SoundEffects {
		c.renderer.PlaySound("message")
	}
	return nil
}

func (c *Controller) streamReply(ctx context.Context, req backend.ChatRequest, gen uint64, prefs models.Settings) error {
	var assistantID string

	err := c.backend.ChatStream(ctx, req, func(event models.StreamEvent) error {
		if c.stale(gen) {
			return errStale
		}
		switch event.Type {
		case models.StreamMessageStart:
			msg := models.ChatMessage{
				ID:        uuid.NewString(),
				Role:      models.RoleAssistant,
				Timestamp: time.Now().UTC(),
			}
			if p, ok := c.personas.Current(); ok {
				msg.Persona = &p
			}
			assistantID = msg.ID
			c.history.AppendEphemeral(msg)
			c.renderer.RenderMessages(c.history.Messages())
		case models.StreamContentDelta:
			if assistantID == "" {
				return nil
			}
			c.history.AppendDelta(assistantID, event.Content)
			c.renderer.RenderMessages(c.history.Messages())
		case models.StreamMessageEnd:
			if assistantID == "" {
				return nil
			}
			if err := c.history.Flush(); err != nil {
				return err
			}
			if prefs.AutoVoice {
				for _, m := range c.history.Messages() {
					if m.ID == assistantID {
						c.speak(ctx, m.Content)
						break
					}
				}
			}
			if prefs.SoundEffects {
				c.renderer.PlaySound("message")
			}
		}
		return nil
	})
	if err != nil {
		// Never persist a partial assistant message: drop the placeholder
		// and let the caller surface the failure.
		if assistantID != "" {
			c.history.Remove(assistantID)
			c.renderer.RenderMessages(c.history.Messages())
		}
		return err
	}
	return nil
}

// SwitchSession flushes the outgoing session's state, moves the current
// pointer, adopts the incoming session's persona, and loads its history.
func (c *Controller) SwitchSession(ctx context.Context, id string) error {
	outgoing := c.sessions.CurrentID()
	if id == outgoing {
		return nil
	}

	if err := c.sessions.SetPersona(outgoing, c.personas.CurrentID()); err != nil {
		c.log.Warn("persist outgoing session persona", zap.Error(err))
	}
	if err := c.history.Flush(); err != nil {
		c.log.Warn("flush outgoing chat history", zap.Error(err))
	}

	incoming, err := c.sessions.SwitchTo(id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.renderer.ShowError("Session not found")
		}
		return err
	}
	c.abortInflight()

	if incoming.PersonaID != "" {
		if err := c.personas.SetCurrent(incoming.PersonaID); err != nil {
			c.log.Warn("session persona missing from cache",
				zap.String("session", id), zap.String("persona", incoming.PersonaID))
		}
	}

	messages := c.history.Load(id)
	c.mu.Lock()
	c.stats = models.Stats{MessageCount: userCount(messages)}
	c.mu.Unlock()

	c.renderAll(messages)
	return nil
}

// NewSession creates a session associated with the current persona, makes it
// current, and presents its (empty) log. Returns the new session id.
func (c *Controller) NewSession(ctx context.Context) (string, error) {
	if err := c.sessions.SetPersona(c.sessions.CurrentID(), c.personas.CurrentID()); err != nil {
		c.log.Warn("persist outgoing session persona", zap.Error(err))
	}
	if err := c.history.Flush(); err != nil {
		c.log.Warn("flush outgoing chat history", zap.Error(err))
	}

	s, err := c.sessions.Create(c.personas.CurrentID())
	if err != nil {
		c.renderer.ShowError("Failed to create session")
		return "", err
	}
	c.abortInflight()

	messages := c.history.Load(s.ID)
	c.mu.Lock()
	c.stats = models.Stats{}
	c.mu.Unlock()

	c.renderAll(messages)
	return s.ID, nil
}

// DeleteSession removes a session and purges its chat log. Deleting the last
// remaining session is rejected with state unchanged.
func (c *Controller) DeleteSession(ctx context.Context, id string) error {
	switched, err := c.sessions.Delete(id)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrLastSession):
			c.renderer.ShowError("Cannot delete the last session")
		case errors.Is(err, session.ErrSessionNotFound):
			c.renderer.ShowError("Session not found")
		}
		return err
	}
	if err := c.history.Purge(id); err != nil {
		c.log.Warn("purge deleted session history", zap.Error(err))
	}

	if switched != nil {
		c.abortInflight()
		if switched.PersonaID != "" {
			_ = c.personas.SetCurrent(switched.PersonaID)
		}
		messages := c.history.Load(switched.ID)
		c.mu.Lock()
		c.stats = models.Stats{MessageCount: userCount(messages)}
		c.mu.Unlock()
		c.renderAll(messages)
		return nil
	}
	c.renderer.RenderSessions(c.sessions.List())
	return nil
}

// RenameSession updates a session's display name.
func (c *Controller) RenameSession(id, name string) error {
	if err := c.sessions.Rename(id, name); err != nil {
		c.renderer.ShowError("Failed to rename session")
		return err
	}
	c.renderer.RenderSessions(c.sessions.List())
	return nil
}

// SwitchPersona activates a persona on the backend and adopts it for the
// current session. Failures are reported through the renderer, never thrown.
func (c *Controller) SwitchPersona(ctx context.Context, id string) {
	if id == "" {
		c.renderer.ShowError("Persona not found")
		return
	}
	c.abortInflight()

	p, err := c.personas.Activate(ctx, id)
	if err != nil {
		if errors.Is(err, persona.ErrPersonaNotFound) {
			c.renderer.ShowError("Persona not found")
		} else {
			c.log.Warn("switch persona", zap.Error(err))
			c.renderer.ShowError("Failed to switch persona")
		}
		return
	}

	if err := c.sessions.SetPersona(c.sessions.CurrentID(), id); err != nil {
		c.log.Warn("persist session persona", zap.Error(err))
	}

	c.appendSystem(fmt.Sprintf("Switched to %s", p.Name))
	c.renderer.RenderPersona(p)
	c.mu.Lock()
	sound := c.prefs.SoundEffects
	c.mu.Unlock()
	if sound {
		c.renderer.PlaySound("switch")
	}
}

// ToggleMemory flips conversational memory for the current session on both
// sides. The local flag flips regardless of network outcome; the backend
// call is best-effort.
func (c *Controller) ToggleMemory(ctx context.Context) bool {
	c.mu.Lock()
	c.memoryEnabled = !c.memoryEnabled
	enabled := c.memoryEnabled
	c.prefs.MemoryEnabled = enabled
	prefs := c.prefs
	c.mu.Unlock()

	if err := c.settings.Save(prefs); err != nil {
		c.log.Warn("save settings", zap.Error(err))
	}
	if err := c.backend.ToggleMemory(ctx, c.sessions.CurrentID(), enabled); err != nil {
		c.log.Warn("toggle server-side memory", zap.Error(err))
	}

	if enabled {
		c.appendSystem("Memory enabled")
	} else {
		c.appendSystem("Memory disabled")
	}
	return enabled
}

// ClearChat empties the current session's log and memory, resets stats, and
// re-renders.
func (c *Controller) ClearChat(ctx context.Context) {
	c.abortInflight()

	id := c.sessions.CurrentID()
	if err := c.history.Clear(ctx, id); err != nil {
		c.log.Error("clear chat", zap.Error(err))
		c.renderer.ShowError("Failed to clear chat")
		return
	}

	c.mu.Lock()
	c.stats = models.Stats{}
	stats := c.stats
	c.mu.Unlock()

	c.renderer.RenderMessages(nil)
	c.renderer.ShowWelcome()
	c.renderer.RenderStats(stats)
	c.renderer.RenderSessions(c.sessions.List())
}

// UpdateSettings persists a new settings record and adopts it.
func (c *Controller) UpdateSettings(rec models.Settings) error {
	if err := c.settings.Save(rec); err != nil {
		c.renderer.ShowError("Failed to save settings")
		return err
	}
	c.mu.Lock()
	c.prefs = rec
	c.memoryEnabled = rec.MemoryEnabled
	c.mu.Unlock()
	return nil
}

// ResetSettings restores defaults and adopts them.
func (c *Controller) ResetSettings() (models.Settings, error) {
	rec, err := c.settings.Reset()
	if err != nil {
		c.renderer.ShowError("Failed to reset settings")
		return rec, err
	}
	c.mu.Lock()
	c.prefs = rec
	c.memoryEnabled = rec.MemoryEnabled
	c.mu.Unlock()
	return rec, nil
}

// Settings returns the active settings record.
func (c *Controller) Settings() models.Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

// Stats returns the running conversation statistics.
func (c *Controller) Stats() models.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Sessions returns the session list as presented, active flag included.
func (c *Controller) Sessions() []models.SessionSummary {
	return c.sessions.List()
}

// Busy reports whether a chat request is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// MemoryEnabled reports the local memory flag.
func (c *Controller) MemoryEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memoryEnabled
}

// CheckSystemStatus probes backend health and pushes the result.
func (c *Controller) CheckSystemStatus(ctx context.Context) {
	status, err := c.backend.Health(ctx)
	if err != nil {
		c.log.Warn("health check", zap.Error(err))
		c.renderer.SystemStatus(false)
		return
	}
	c.renderer.SystemStatus(status.Healthy())
}

// speak synthesizes and plays text with the current persona's voice,
// stopping any clip already playing. Inline image directives are stripped
// before synthesis.
func (c *Controller) speak(ctx context.Context, text string) {
	c.mu.Lock()
	voiceOn := c.prefs.VoiceResponses || c.prefs.AutoVoice
	c.mu.Unlock()
	if !voiceOn || c.player == nil {
		return
	}
	p, ok := c.personas.Current()
	if !ok || p.Voice == "" {
		return
	}

	clean := imageDirective.ReplaceAllString(text, "")
	audio, err := c.backend.TTS(ctx, clean, p.Voice)
	if err != nil {
		c.log.Warn("tts", zap.Error(err))
		return
	}

	c.mu.Lock()
	if c.playback != nil {
		c.playback.Stop()
		c.playback = nil
	}
	c.mu.Unlock()

	playback, err := c.player.Play(audio)
	if err != nil {
		c.log.Warn("audio playback", zap.Error(err))
		return
	}
	c.mu.Lock()
	c.playback = playback
	c.mu.Unlock()
}

// reserve claims the single in-flight request slot before any history
// mutation, so a send during an active request changes nothing. Reports the
// rejection through the renderer.
func (c *Controller) reserve() bool {
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		c.renderer.ShowError("A message is already in flight")
		return false
	}
	c.busy = true
	c.mu.Unlock()
	return true
}

// release drops the in-flight reservation without dispatching.
func (c *Controller) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// abortInflight bumps the generation stamp and cancels any in-flight
// request so its eventual completion is discarded.
func (c *Controller) abortInflight() {
	c.mu.Lock()
	c.gen++
	if c.cancelFn != nil {
		c.cancelFn()
		c.cancelFn = nil
	}
	c.busy = false
	c.mu.Unlock()
}

func (c *Controller) stale(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen != c.gen
}

func (c *Controller) appendSystem(content string) {
	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		Role:      models.RoleSystem,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
	if err := c.history.Append(msg); err != nil {
		c.log.Warn("persist system message", zap.Error(err))
	}
	c.renderer.RenderMessages(c.history.Messages())
}

func (c *Controller) renderAll(messages []models.ChatMessage) {
	c.renderer.RenderMessages(messages)
	if len(messages) == 0 {
		c.renderer.ShowWelcome()
	}
	c.renderer.RenderSessions(c.sessions.List())
	if p, ok := c.personas.Current(); ok {
		c.renderer.RenderPersona(p)
	}
	c.mu.Lock()
	stats := c.stats
	c.mu.Unlock()
	c.renderer.RenderStats(stats)
}

func errDetail(err error) string {
	var be *backend.Error
	if errors.As(err, &be) && be.Detail != "" {
		return be.Detail
	}
	return err.Error()
}

func userCount(messages []models.ChatMessage) int {
	n := 0
	for _, m := range messages {
		if m.Role == models.RoleUser {
			n++
		}
	}
	return n
}
