package auth

import (
	"fmt"
	"sync"

	"edgecast/pkg/models"
)

// Selectors accepted for a stream identifier
var validSelectors = map[string]bool{"1": true, "2": true}

// ValidateSelector checks that selector is one of the supported stream slots
func ValidateSelector(selector string) error {
	if !validSelectors[selector] {
		return fmt.Errorf("%w: %q (want 1 or 2)", models.ErrInvalidSelector, selector)
	}
	return nil
}

// Manager derives stream identifiers and holds the per-direction credentials
// presented to the relay. Credentials are opaque; issuing them is the job of
// the identity layer.
type Manager struct {
	owner string
	name  string

	credentials map[models.Direction]string
	mu          sync.RWMutex
}

// New creates an auth manager for streams owned by owner and named name
func New(owner, name string) *Manager {
	return &Manager{
		owner:       owner,
		name:        name,
		credentials: make(map[models.Direction]string),
	}
}

// StreamID validates selector and returns "<owner>/<name>-<selector>"
func (m *Manager) StreamID(selector string) (string, error) {
	if err := ValidateSelector(selector); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s-%s", m.owner, m.name, selector), nil
}

// SetCredential stores the capability credential for a direction
func (m *Manager) SetCredential(dir models.Direction, credential string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[dir] = credential
}

// Credential returns the credential for a direction, or "" if none is set
func (m *Manager) Credential(dir models.Direction) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.credentials[dir]
}
