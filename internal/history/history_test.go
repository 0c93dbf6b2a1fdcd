package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
	"github.com/slackerchris/Unicorn-Ai/internal/session"
	"github.com/slackerchris/Unicorn-Ai/internal/storage"
)

type mockMemory struct {
	cleared []string
	err     error
}

func (m *mockMemory) ClearMemory(_ context.Context, sessionID string) error {
	m.cleared = append(m.cleared, sessionID)
	return m.err
}

func newTestHistory(t *testing.T) (*Store, *session.Registry, storage.Store, *mockMemory) {
	t.Helper()
	kv, err := storage.OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	reg, err := session.NewRegistry(kv, nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	memory := &mockMemory{}
	h := NewStore(kv, reg, memory, nil)
	h.Load(reg.CurrentID())
	return h, reg, kv, memory
}

func msg(id string, role models.Role, content string) models.ChatMessage {
	return models.ChatMessage{ID: id, Role: role, Content: content, Timestamp: time.Now().UTC()}
}

func TestAppendPersistsAndCounts(t *testing.T) {
	h, reg, kv, _ := newTestHistory(t)
	sid := reg.CurrentID()

	if err := h.Append(msg("u1", models.RoleUser, "hello")); err != nil {
		t.Fatalf("append user: %v", err)
	}
	if err := h.Append(msg("a1", models.RoleAssistant, "hi there")); err != nil {
		t.Fatalf("append assistant: %v", err)
	}

	if _, err := kv.Get(storage.ChatKey(sid)); err != nil {
		t.Fatalf("chat log not persisted: %v", err)
	}

	// messageCount tracks user messages only.
	s, _ := reg.Get(sid)
	if s.MessageCount != 1 {
		t.Fatalf("expected messageCount 1, got %d", s.MessageCount)
	}

	got := h.Messages()
	if len(got) != 2 || got[0].ID != "u1" || got[1].ID != "a1" {
		t.Fatalf("append order broken: %#v", got)
	}
}

func TestLoadReproducesLog(t *testing.T) {
	h, reg, kv, _ := newTestHistory(t)
	sid := reg.CurrentID()

	for _, m := range []models.ChatMessage{
		msg("u1", models.RoleUser, "one"),
		msg("a1", models.RoleAssistant, "two"),
		msg("u2", models.RoleUser, "three"),
	} {
		if err := h.Append(m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Simulated reload: a fresh store over the same kv.
	h2 := NewStore(kv, reg, nil, nil)
	got := h2.Load(sid)
	if len(got) != 3 || got[0].Content != "one" || got[2].Content != "three" {
		t.Fatalf("reload mismatch: %#v", got)
	}
}

func TestLoadAbsentSessionIsEmpty(t *testing.T) {
	h, _, _, _ := newTestHistory(t)

	if got := h.Load("web_0_nothing"); len(got) != 0 {
		t.Fatalf("expected empty log, got %#v", got)
	}
}

func TestLoadCorruptLogIsEmpty(t *testing.T) {
	h, reg, kv, _ := newTestHistory(t)
	sid := reg.CurrentID()

	if err := kv.Put(storage.ChatKey(sid), []byte(`[{broken`)); err != nil {
		t.Fatalf("seed corrupt log: %v", err)
	}
	if got := h.Load(sid); len(got) != 0 {
		t.Fatalf("expected empty log for corrupt record, got %#v", got)
	}
}

func TestRemoveTrailingAssistantRun(t *testing.T) {
	h, _, _, _ := newTestHistory(t)

	for _, m := range []models.ChatMessage{
		msg("u1", models.RoleUser, "q1"),
		msg("a1", models.RoleAssistant, "r1"),
		msg("u2", models.RoleUser, "q2"),
		msg("a2", models.RoleAssistant, "r2a"),
		msg("a3", models.RoleAssistant, "r2b"),
	} {
		if err := h.Append(m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	removed, err := h.RemoveTrailingAssistantRun()
	if err != nil {
		t.Fatalf("remove trailing run: %v", err)
	}
	if len(removed) != 2 || removed[0].ID != "a2" || removed[1].ID != "a3" {
		t.Fatalf("unexpected removed run: %#v", removed)
	}

	got := h.Messages()
	if len(got) != 3 || got[len(got)-1].ID != "u2" {
		t.Fatalf("run removal stopped at wrong place: %#v", got)
	}

	// Second call: nothing trailing, no-op.
	removed, err = h.RemoveTrailingAssistantRun()
	if err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if removed != nil {
		t.Fatalf("expected no-op, removed %#v", removed)
	}
}

func TestClearPurgesAndNotifiesBackend(t *testing.T) {
	h, reg, kv, memory := newTestHistory(t)
	sid := reg.CurrentID()

	if err := h.Append(msg("u1", models.RoleUser, "hello")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Clear(context.Background(), sid); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if len(h.Messages()) != 0 {
		t.Fatalf("in-memory log not emptied")
	}
	if _, err := kv.Get(storage.ChatKey(sid)); err != storage.ErrNotFound {
		t.Fatalf("persisted log not purged: %v", err)
	}
	s, _ := reg.Get(sid)
	if s.MessageCount != 0 {
		t.Fatalf("message count not zeroed: %d", s.MessageCount)
	}
	if len(memory.cleared) != 1 || memory.cleared[0] != sid {
		t.Fatalf("backend memory clear not requested: %#v", memory.cleared)
	}
}

func TestClearSurvivesBackendFailure(t *testing.T) {
	h, reg, _, memory := newTestHistory(t)
	memory.err = context.DeadlineExceeded

	if err := h.Clear(context.Background(), reg.CurrentID()); err != nil {
		t.Fatalf("clear must be best-effort about backend memory: %v", err)
	}
}

func TestEphemeralMessagesAreNotPersisted(t *testing.T) {
	h, reg, kv, _ := newTestHistory(t)
	sid := reg.CurrentID()

	h.AppendEphemeral(msg("a1", models.RoleAssistant, ""))
	h.AppendDelta("a1", "He")
	h.AppendDelta("a1", "llo")

	got := h.Messages()
	if len(got) != 1 || got[0].Content != "Hello" {
		t.Fatalf("delta assembly broken: %#v", got)
	}
	if _, err := kv.Get(storage.ChatKey(sid)); err != storage.ErrNotFound {
		t.Fatalf("ephemeral message hit storage: %v", err)
	}

	// Flush finalizes it.
	if err := h.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, err := kv.Get(storage.ChatKey(sid)); err != nil {
		t.Fatalf("flush did not persist: %v", err)
	}
}

func TestRemoveDropsUnpersistedPlaceholder(t *testing.T) {
	h, _, _, _ := newTestHistory(t)

	if err := h.Append(msg("u1", models.RoleUser, "q")); err != nil {
		t.Fatalf("append: %v", err)
	}
	h.AppendEphemeral(msg("a1", models.RoleAssistant, "part"))
	h.Remove("a1")

	got := h.Messages()
	if len(got) != 1 || got[0].ID != "u1" {
		t.Fatalf("placeholder not removed: %#v", got)
	}
}

func TestLastUserMessage(t *testing.T) {
	h, _, _, _ := newTestHistory(t)

	if _, ok := h.LastUserMessage(); ok {
		t.Fatalf("expected no user message in empty log")
	}
	for _, m := range []models.ChatMessage{
		msg("u1", models.RoleUser, "first"),
		msg("a1", models.RoleAssistant, "reply"),
		msg("u2", models.RoleUser, "second"),
		msg("a2", models.RoleAssistant, "reply2"),
	} {
		if err := h.Append(m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	last, ok := h.LastUserMessage()
	if !ok || last.Content != "second" {
		t.Fatalf("unexpected last user message: %#v", last)
	}
}
