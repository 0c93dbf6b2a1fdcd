// Package persona caches the backend's persona list and tracks the current
// selection. The cache is authoritative-by-reload: every mutation goes to
// the backend first, then the cache is refreshed, so backend and client stay
// eventually consistent.
package persona

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
)

var (
	// ErrPersonaNotFound reports a lookup of an id absent from the cache.
	ErrPersonaNotFound = errors.New("persona not found")
	// ErrDefaultPersona rejects deleting one of the built-in personas.
	ErrDefaultPersona = errors.New("default personas cannot be deleted")
)

// defaultIDs are the built-in personas shipped with the backend. They are
// editable but never deletable.
var defaultIDs = map[string]bool{
	"luna": true,
	"nova": true,
	"sage": true,
	"alex": true,
}

var idPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// Service is the slice of the backend contract the directory needs.
type Service interface {
	ListPersonas(ctx context.Context) ([]models.Persona, string, error)
	ActivatePersona(ctx context.Context, id string) error
	CreatePersona(ctx context.Context, p models.Persona) error
	UpdatePersona(ctx context.Context, id string, p models.Persona) error
	DeletePersona(ctx context.Context, id string) error
}

// Directory is the cached persona list plus the current selection. The
// current persona is a weak reference by id, re-resolved on every reload.
type Directory struct {
	mu        sync.Mutex
	backend   Service
	log       *zap.Logger
	personas  []models.Persona
	currentID string
}

func NewDirectory(backend Service, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{backend: backend, log: log}
}

// Reload fetches the persona list from the backend and re-resolves the
// current selection. If the previously selected id vanished, selection falls
// back to the backend's reported current, then to luna, then to the first
// persona in the list.
func (d *Directory) Reload(ctx context.Context) error {
	personas, current, err := d.backend.ListPersonas(ctx)
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.personas = personas

	if _, ok := d.find(d.currentID); ok {
		return nil
	}
	for _, id := range []string{current, "luna"} {
		if _, ok := d.find(id); ok {
			d.currentID = id
			return nil
		}
	}
	if len(personas) > 0 {
		d.currentID = personas[0].ID
	} else {
		d.currentID = ""
	}
	return nil
}

// List returns a copy of the cached personas.
func (d *Directory) List() []models.Persona {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Persona(nil), d.personas...)
}

// Get looks up a cached persona by id.
func (d *Directory) Get(id string) (models.Persona, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.find(id); ok {
		return *p, true
	}
	return models.Persona{}, false
}

// Current returns the currently selected persona.
func (d *Directory) Current() (models.Persona, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if p, ok := d.find(d.currentID); ok {
		return *p, true
	}
	return models.Persona{}, false
}

// CurrentID returns the current selection's id ("" when unset).
func (d *Directory) CurrentID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentID
}

// SetCurrent points the selection at a cached persona without touching the
// backend. Used when adopting a session's persona association on switch.
func (d *Directory) SetCurrent(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.find(id); !ok {
		return ErrPersonaNotFound
	}
	d.currentID = id
	return nil
}

// Activate switches the backend's active persona, then reloads the cache
// and adopts the id. The backend tracks its active persona independently, so
// the cache is never trusted optimistically across this call.
func (d *Directory) Activate(ctx context.Context, id string) (models.Persona, error) {
	if id == "" {
		return models.Persona{}, ErrPersonaNotFound
	}
	if _, ok := d.Get(id); !ok {
		return models.Persona{}, ErrPersonaNotFound
	}
	if err := d.backend.ActivatePersona(ctx, id); err != nil {
		return models.Persona{}, fmt.Errorf("activate persona: %w", err)
	}
	if err := d.Reload(ctx); err != nil {
		return models.Persona{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.find(id)
	if !ok {
		return models.Persona{}, ErrPersonaNotFound
	}
	d.currentID = id
	return *p, nil
}

// Create validates and creates a persona on the backend, then reloads.
func (d *Directory) Create(ctx context.Context, p models.Persona) error {
	if err := validate(p); err != nil {
		return err
	}
	if err := d.backend.CreatePersona(ctx, p); err != nil {
		return fmt.Errorf("create persona: %w", err)
	}
	return d.Reload(ctx)
}

// Update pushes changed fields to the backend, then reloads. The id itself
// is immutable.
func (d *Directory) Update(ctx context.Context, id string, p models.Persona) error {
	if err := validate(p); err != nil {
		return err
	}
	if err := d.backend.UpdatePersona(ctx, id, p); err != nil {
		return fmt.Errorf("update persona: %w", err)
	}
	return d.Reload(ctx)
}

// Delete removes a custom persona. Built-in personas are protected.
func (d *Directory) Delete(ctx context.Context, id string) error {
	if defaultIDs[id] {
		return ErrDefaultPersona
	}
	if err := d.backend.DeletePersona(ctx, id); err != nil {
		return fmt.Errorf("delete persona: %w", err)
	}
	return d.Reload(ctx)
}

// IsDefault reports whether id belongs to the protected built-in set.
func IsDefault(id string) bool {
	return defaultIDs[id]
}

func validate(p models.Persona) error {
	if !idPattern.MatchString(p.ID) {
		return errors.New("persona id must contain only lowercase letters, numbers, and hyphens")
	}
	if p.Name == "" {
		return errors.New("persona name is required")
	}
	if len(p.PersonalityTraits) < 3 {
		return errors.New("at least 3 personality traits are required")
	}
	return nil
}

func (d *Directory) find(id string) (*models.Persona, bool) {
	if id == "" {
		return nil, false
	}
	for i := range d.personas {
		if d.personas[i].ID == id {
			return &d.personas[i], true
		}
	}
	return nil, false
}
