// Package crypto implements the end-to-end encryption core: identity
// keypair generation and fingerprinting, password wrap of private keys
// for at-rest storage, and the hybrid per-message envelope scheme.
//
// Nothing in this package touches the network or disk; callers own the
// storage of every blob it produces.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyBits is the RSA modulus size for identity keypairs.
const KeyBits = 2048

// Identity is a freshly generated keypair bound to a username. The
// private key never leaves the caller's side; only PublicKey (PKIX DER)
// and Fingerprint are shared with the server.
type Identity struct {
	Username    string
	PublicKey   []byte
	Fingerprint string
	Private     *rsa.PrivateKey
}

// GenerateIdentity creates a new RSA-2048 identity for username.
func GenerateIdentity(username string) (*Identity, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyGeneration, err)
	}

	return &Identity{
		Username:    username,
		PublicKey:   pubDER,
		Fingerprint: Fingerprint(pubDER),
		Private:     priv,
	}, nil
}

// Fingerprint returns the human-verifiable digest of a PKIX DER public
// key: uppercase hex of its SHA-256, split into 4-character groups
// separated by spaces. It is a pure function of the key bytes.
func Fingerprint(publicKeyDER []byte) string {
	sum := sha256.Sum256(publicKeyDER)
	h := strings.ToUpper(hex.EncodeToString(sum[:]))

	groups := make([]string, 0, len(h)/4)
	for i := 0; i < len(h); i += 4 {
		groups = append(groups, h[i:i+4])
	}
	return strings.Join(groups, " ")
}

// keyID identifies a public key inside a multi-recipient envelope.
// First 8 bytes of the fingerprint digest.
func keyID(publicKeyDER []byte) [8]byte {
	sum := sha256.Sum256(publicKeyDER)
	var id [8]byte
	copy(id[:], sum[:8])
	return id
}

// ParsePublicKey decodes a PKIX DER RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRecipientKeyInvalid, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrRecipientKeyInvalid)
	}
	return rsaPub, nil
}

// MarshalPublicKey encodes an RSA public key as PKIX DER.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	return x509.MarshalPKIXPublicKey(pub)
}
