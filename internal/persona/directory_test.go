package persona

import (
	"context"
	"errors"
	"testing"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
)

type mockService struct {
	personas []models.Persona
	current  string
	listErr  error

	activated []string
	created   []models.Persona
	updated   []string
	deleted   []string
}

func (m *mockService) ListPersonas(context.Context) ([]models.Persona, string, error) {
	if m.listErr != nil {
		return nil, "", m.listErr
	}
	return append([]models.Persona(nil), m.personas...), m.current, nil
}

func (m *mockService) ActivatePersona(_ context.Context, id string) error {
	m.activated = append(m.activated, id)
	m.current = id
	return nil
}

func (m *mockService) CreatePersona(_ context.Context, p models.Persona) error {
	m.created = append(m.created, p)
	m.personas = append(m.personas, p)
	return nil
}

func (m *mockService) UpdatePersona(_ context.Context, id string, p models.Persona) error {
	m.updated = append(m.updated, id)
	for i := range m.personas {
		if m.personas[i].ID == id {
			m.personas[i] = p
		}
	}
	return nil
}

func (m *mockService) DeletePersona(_ context.Context, id string) error {
	m.deleted = append(m.deleted, id)
	kept := m.personas[:0]
	for _, p := range m.personas {
		if p.ID != id {
			kept = append(kept, p)
		}
	}
	m.personas = kept
	return nil
}

func testPersonas() []models.Persona {
	return []models.Persona{
		{ID: "luna", Name: "Luna", PersonalityTraits: []string{"warm", "curious"}},
		{ID: "nova", Name: "Nova", PersonalityTraits: []string{"precise", "direct"}},
		{ID: "pirate", Name: "Pirate", PersonalityTraits: []string{"salty", "loud"}},
	}
}

func newTestDirectory(t *testing.T, backend *mockService) *Directory {
	t.Helper()
	d := NewDirectory(backend, nil)
	if err := d.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return d
}

func TestReloadAdoptsBackendCurrent(t *testing.T) {
	d := newTestDirectory(t, &mockService{personas: testPersonas(), current: "nova"})

	if got := d.CurrentID(); got != "nova" {
		t.Fatalf("expected backend current adopted, got %q", got)
	}
}

func TestReloadFallsBackToLuna(t *testing.T) {
	d := newTestDirectory(t, &mockService{personas: testPersonas(), current: "gone"})

	if got := d.CurrentID(); got != "luna" {
		t.Fatalf("expected luna fallback, got %q", got)
	}
}

func TestReloadFallsBackToFirst(t *testing.T) {
	personas := []models.Persona{
		{ID: "pirate", Name: "Pirate", PersonalityTraits: []string{"salty", "loud"}},
	}
	d := newTestDirectory(t, &mockService{personas: personas})

	if got := d.CurrentID(); got != "pirate" {
		t.Fatalf("expected first persona fallback, got %q", got)
	}
}

func TestReloadKeepsExistingSelection(t *testing.T) {
	backend := &mockService{personas: testPersonas(), current: "luna"}
	d := newTestDirectory(t, backend)

	if err := d.SetCurrent("pirate"); err != nil {
		t.Fatalf("set current: %v", err)
	}
	backend.current = "nova"
	if err := d.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := d.CurrentID(); got != "pirate" {
		t.Fatalf("selection must survive reload while still listed, got %q", got)
	}
}

func TestActivateUnknownPersona(t *testing.T) {
	backend := &mockService{personas: testPersonas(), current: "luna"}
	d := newTestDirectory(t, backend)

	if _, err := d.Activate(context.Background(), "nobody"); !errors.Is(err, ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}
	if _, err := d.Activate(context.Background(), ""); !errors.Is(err, ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound for empty id, got %v", err)
	}
	if len(backend.activated) != 0 {
		t.Fatalf("backend must not see unknown activations: %v", backend.activated)
	}
	if got := d.CurrentID(); got != "luna" {
		t.Fatalf("selection must be unchanged after failed activate, got %q", got)
	}
}

func TestActivateSwitchesBackendThenCache(t *testing.T) {
	backend := &mockService{personas: testPersonas(), current: "luna"}
	d := newTestDirectory(t, backend)

	p, err := d.Activate(context.Background(), "nova")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if p.Name != "Nova" {
		t.Fatalf("unexpected persona returned: %#v", p)
	}
	if len(backend.activated) != 1 || backend.activated[0] != "nova" {
		t.Fatalf("backend activation missing: %v", backend.activated)
	}
	if got := d.CurrentID(); got != "nova" {
		t.Fatalf("cache did not adopt activation, got %q", got)
	}
}

func TestCreateValidation(t *testing.T) {
	backend := &mockService{personas: testPersonas(), current: "luna"}
	d := newTestDirectory(t, backend)

	bad := []models.Persona{
		{ID: "Bad Id", Name: "X", PersonalityTraits: []string{"a", "b", "c"}},
		{ID: "under_score", Name: "X", PersonalityTraits: []string{"a", "b", "c"}},
		{ID: "ok-id", Name: "", PersonalityTraits: []string{"a", "b", "c"}},
		{ID: "ok-id", Name: "X", PersonalityTraits: []string{"only", "two"}},
	}
	for _, p := range bad {
		if err := d.Create(context.Background(), p); err == nil {
			t.Fatalf("expected validation error for %#v", p)
		}
	}
	if len(backend.created) != 0 {
		t.Fatalf("invalid personas reached backend: %v", backend.created)
	}

	good := models.Persona{ID: "robot-9", Name: "Robot", PersonalityTraits: []string{"metal", "helpful", "calm"}}
	if err := d.Create(context.Background(), good); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := d.Get("robot-9"); !ok {
		t.Fatalf("created persona missing from cache after reload")
	}
}

func TestDeleteDefaultPersonaRejected(t *testing.T) {
	backend := &mockService{personas: testPersonas(), current: "luna"}
	d := newTestDirectory(t, backend)

	if err := d.Delete(context.Background(), "luna"); !errors.Is(err, ErrDefaultPersona) {
		t.Fatalf("expected ErrDefaultPersona, got %v", err)
	}
	if len(backend.deleted) != 0 {
		t.Fatalf("delete of default persona reached backend")
	}
}

func TestDeleteCustomPersonaReResolvesCurrent(t *testing.T) {
	backend := &mockService{personas: testPersonas(), current: "luna"}
	d := newTestDirectory(t, backend)

	if _, err := d.Activate(context.Background(), "pirate"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	backend.current = "luna"
	if err := d.Delete(context.Background(), "pirate"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := d.CurrentID(); got != "luna" {
		t.Fatalf("selection must fall back after deleting current, got %q", got)
	}
}

func TestIsDefault(t *testing.T) {
	for _, id := range []string{"luna", "nova", "sage", "alex"} {
		if !IsDefault(id) {
			t.Fatalf("%s must be a default persona", id)
		}
	}
	if IsDefault("pirate") {
		t.Fatalf("pirate must not be a default persona")
	}
}
