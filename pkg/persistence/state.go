package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rbccps-iisc/ideam-go/pkg/entity"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrEntityMismatch is returned by Apply when the saved credentials belong
// to a different entity.
var ErrEntityMismatch = errors.New("saved credentials belong to another entity")

// Credentials is the persisted runtime state of one entity.
type Credentials struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// EntityID is the registered entity.
	EntityID string `json:"entity_id"`

	// BaseURL is the middleware the key was issued by.
	BaseURL string `json:"base_url,omitempty"`

	// EntityAPIKey is the key issued at registration.
	EntityAPIKey string `json:"entity_api_key,omitempty"`

	// BoundKeys are the device keys bound for subscription.
	BoundKeys []string `json:"bound_keys,omitempty"`

	// RegisteredAt is when the entity key was obtained.
	RegisteredAt time.Time `json:"registered_at,omitempty"`
}

// Snapshot captures the current state of id and bound.
func Snapshot(id *entity.Identity, bound *entity.KeySet) *Credentials {
	c := &Credentials{
		EntityID:     id.EntityID(),
		BaseURL:      id.BaseURL(),
		EntityAPIKey: id.EntityAPIKey(),
	}
	if bound != nil {
		c.BoundKeys = bound.Keys()
	}
	return c
}

// Apply restores the saved key and bound keys into id and bound.
// The base URL is only restored when id still uses the default.
func (c *Credentials) Apply(id *entity.Identity, bound *entity.KeySet) error {
	if c.EntityID != id.EntityID() {
		return fmt.Errorf("%w: %q", ErrEntityMismatch, c.EntityID)
	}
	if c.BaseURL != "" && id.BaseURL() == entity.DefaultBaseURL {
		if err := id.SetBaseURL(c.BaseURL); err != nil {
			return err
		}
	}
	if c.EntityAPIKey != "" {
		if err := id.SetEntityAPIKey(c.EntityAPIKey); err != nil {
			return err
		}
	}
	if bound != nil {
		bound.Add(c.BoundKeys...)
	}
	return nil
}

// CredentialStore manages persistence of credentials to a JSON file.
type CredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewCredentialStore creates a new credential store.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Path returns the state file path.
func (s *CredentialStore) Path() string {
	return s.path
}

// Save persists the credentials to disk. The file holds a secret, so it is
// written with owner-only permissions.
func (s *CredentialStore) Save(state *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	state.SavedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write a fresh 0600 file and rename it over the old one, so an
	// existing file with wider permissions does not keep them.
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Load reads the credentials from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *CredentialStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &Credentials{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("persistence: parse %s: %w", s.path, err)
	}
	if state.Version > StateVersion {
		return nil, fmt.Errorf("persistence: %s has version %d, newest supported is %d", s.path, state.Version, StateVersion)
	}

	return state, nil
}

// Clear removes the state file.
func (s *CredentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
