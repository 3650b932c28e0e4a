package exchanges

import (
	"sync"

	"crypto-terminal/pkg/models"
)

// Session holds the exchange credentials shared by every gateway call. It has
// a single writer (login or a credential update) and many readers.
type Session struct {
	mu    sync.RWMutex
	creds models.Credentials
	epoch uint64
}

func NewSession(creds models.Credentials) *Session {
	return &Session{creds: creds}
}

// Credentials returns the current key pair. It blocks while a
// reinitialization is running, so no call starts half-way through one.
func (s *Session) Credentials() models.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

// Epoch counts reinitializations.
func (s *Session) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Reinitialize swaps the credentials atomically. Calls that already read the
// old pair finish under the old identity.
func (s *Session) Reinitialize(creds models.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = creds
	s.epoch++
}
