package persona

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog marks catalog definitions that cannot be served.
var ErrInvalidCatalog = errors.New("invalid persona catalog")

// Store exposes read-only persona retrieval.
type Store interface {
	List() []Persona
	FindByID(id string) (Persona, bool)
	DefaultID() string
}

// MemoryStore implements Store with an in-memory slice kept in catalog order.
type MemoryStore struct {
	items     []Persona
	defaultID string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore validates items and returns a store preloaded with them.
// A catalog that fails validation is rejected as a whole.
func NewMemoryStore(items []Persona, defaultID string) (*MemoryStore, error) {
	if err := validate(items, defaultID); err != nil {
		return nil, err
	}
	return &MemoryStore{items: append([]Persona(nil), items...), defaultID: defaultID}, nil
}

// LoadFile reads a JSON or YAML characters file into a validated store.
func LoadFile(path, defaultID string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read characters file %s", path)
	}
	items, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse characters file %s", path)
	}
	return NewMemoryStore(items, defaultID)
}

// Parse decodes a list of personas from a JSON array or a YAML sequence.
func Parse(data []byte) ([]Persona, error) {
	var items []Persona
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, errors.Wrap(ErrInvalidCatalog, err.Error())
		}
		return items, nil
	}
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, errors.Wrap(ErrInvalidCatalog, err.Error())
	}
	return items, nil
}

func validate(items []Persona, defaultID string) error {
	if len(items) == 0 {
		return errors.Wrap(ErrInvalidCatalog, "no personas defined")
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			return errors.Wrapf(ErrInvalidCatalog, "persona #%d has no id", i)
		}
		if _, dup := seen[item.ID]; dup {
			return errors.Wrapf(ErrInvalidCatalog, "duplicate persona id %q", item.ID)
		}
		seen[item.ID] = struct{}{}

		if strings.TrimSpace(item.Name) == "" {
			return errors.Wrapf(ErrInvalidCatalog, "persona %q has no name", item.ID)
		}
		if strings.TrimSpace(item.SystemPrompt) == "" {
			return errors.Wrapf(ErrInvalidCatalog, "persona %q has no system prompt", item.ID)
		}
		if item.UnlockAfterMessages != nil && *item.UnlockAfterMessages < 0 {
			return errors.Wrapf(ErrInvalidCatalog, "persona %q has negative unlock threshold", item.ID)
		}
	}

	if _, ok := seen[defaultID]; !ok {
		return errors.Wrapf(ErrInvalidCatalog, "default persona %q is not defined", defaultID)
	}
	return nil
}

// List returns the personas in catalog order.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id string) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// DefaultID returns the id every session has unlocked.
func (s *MemoryStore) DefaultID() string {
	return s.defaultID
}
