package crypto

import (
	"crypto/rsa"
	"sync"
)

// Keyring holds a session's unlocked private key so the password is
// prompted once, not per message. It is an explicit Locked → Unlocked
// → Locked state machine scoped to a session: never persisted, cleared
// by Lock (logout or an explicit lock action).
type Keyring struct {
	mu   sync.Mutex
	priv *rsa.PrivateKey
}

func NewKeyring() *Keyring {
	return &Keyring{}
}

// Unlock decrypts the wrapped private key and caches it. Failure leaves
// the keyring in its previous state.
func (k *Keyring) Unlock(encryptedPrivateKey, password []byte) error {
	priv, err := UnwrapPrivateKey(encryptedPrivateKey, password)
	if err != nil {
		return err
	}

	k.mu.Lock()
	k.priv = priv
	k.mu.Unlock()
	return nil
}

// PrivateKey returns the cached key, or ErrKeyringLocked.
func (k *Keyring) PrivateKey() (*rsa.PrivateKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.priv == nil {
		return nil, ErrKeyringLocked
	}
	return k.priv, nil
}

// Unlocked reports whether a key is currently cached.
func (k *Keyring) Unlocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.priv != nil
}

// Lock drops the cached key. Safe to call in any state.
func (k *Keyring) Lock() {
	k.mu.Lock()
	k.priv = nil
	k.mu.Unlock()
}
