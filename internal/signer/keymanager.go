package signer

import (
	"sync"
)

// KeyManager holds the active signer plus a bounded history of retired ones,
// so clients can verify signatures issued shortly before a rotation.
type KeyManager struct {
	mu      sync.RWMutex
	active  *Signer
	retired []*Signer
	keep    int
}

// NewKeyManager wraps an initial signer. keep bounds the retired-key history;
// values below 1 keep one retired key.
func NewKeyManager(initial *Signer, keep int) *KeyManager {
	if keep < 1 {
		keep = 1
	}
	return &KeyManager{active: initial, keep: keep}
}

// Active returns the current signing key.
func (m *KeyManager) Active() *Signer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Rotate installs next as the active signer and retires the previous one.
// The oldest retired key is evicted once the history exceeds the bound.
func (m *KeyManager) Rotate(next *Signer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retired = append(m.retired, m.active)
	if len(m.retired) > m.keep {
		m.retired = m.retired[len(m.retired)-m.keep:]
	}
	m.active = next
}

// PublicKeys returns the active public key first, then retired keys newest
// first. Verifiers should accept any of them during a rotation window.
func (m *KeyManager) PublicKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.retired)+1)
	keys = append(keys, m.active.PublicKeyHex())
	for i := len(m.retired) - 1; i >= 0; i-- {
		keys = append(keys, m.retired[i].PublicKeyHex())
	}
	return keys
}
