package entity

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/rbccps-iisc/ideam-go/pkg/apierr"
)

// DefaultBaseURL is the public IDEAM middleware.
const DefaultBaseURL = "https://smartcity.rbccps.org/"

// Identity errors.
var (
	ErrEmptyEntityID  = errors.New("entity ID is required")
	ErrEmptyKey       = errors.New("API key is empty")
	ErrKeyAlreadySet  = errors.New("entity API key already set")
	ErrInvalidBaseURL = errors.New("invalid base URL")
)

// Identity is the credential set of one entity.
// It is safe for concurrent use.
type Identity struct {
	mu sync.RWMutex

	entityID    string
	ownerAPIKey string
	entityKey   string
	baseURL     string
}

// NewIdentity creates an identity for entityID owned by ownerAPIKey.
// The base URL starts as DefaultBaseURL and the entity key is empty.
func NewIdentity(entityID, ownerAPIKey string) (*Identity, error) {
	if entityID == "" {
		return nil, ErrEmptyEntityID
	}
	return &Identity{
		entityID:    entityID,
		ownerAPIKey: ownerAPIKey,
		baseURL:     DefaultBaseURL,
	}, nil
}

// EntityID returns the entity ID.
func (id *Identity) EntityID() string {
	return id.entityID
}

// OwnerAPIKey returns the owner key used for registration.
func (id *Identity) OwnerAPIKey() string {
	return id.ownerAPIKey
}

// BaseURL returns the middleware base URL, always ending in "/".
func (id *Identity) BaseURL() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.baseURL
}

// SetBaseURL changes the middleware base URL. Endpoint paths are appended
// directly, so a trailing "/" is added when missing.
func (id *Identity) SetBaseURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidBaseURL
	}
	if !strings.HasSuffix(value, "/") {
		value += "/"
	}

	id.mu.Lock()
	defer id.mu.Unlock()
	id.baseURL = value
	return nil
}

// EntityAPIKey returns the entity key, or "" before one is set.
func (id *Identity) EntityAPIKey() string {
	id.mu.RLock()
	defer id.mu.RUnlock()
	return id.entityKey
}

// HasEntityAPIKey reports whether the entity key is set.
func (id *Identity) HasEntityAPIKey() bool {
	return id.EntityAPIKey() != ""
}

// SetEntityAPIKey sets the entity key issued at registration. The key can
// be set once; setting the same value again is a no-op.
func (id *Identity) SetEntityAPIKey(value string) error {
	if value == "" {
		return ErrEmptyKey
	}

	id.mu.Lock()
	defer id.mu.Unlock()

	if id.entityKey != "" {
		if id.entityKey == value {
			return nil
		}
		return ErrKeyAlreadySet
	}
	id.entityKey = value
	return nil
}

// RequireEntityKey returns the entity key, or an AUTH_NOT_READY error
// tagged with op when none is set.
func (id *Identity) RequireEntityKey(op string) (string, error) {
	key := id.EntityAPIKey()
	if key == "" {
		return "", apierr.New(apierr.KindAuthNotReady, op, "No API key found in request")
	}
	return key, nil
}

// Endpoint returns the absolute URL of an API path such as
// "api/0.1.0/publish".
func (id *Identity) Endpoint(path string) string {
	return id.BaseURL() + strings.TrimPrefix(path, "/")
}
