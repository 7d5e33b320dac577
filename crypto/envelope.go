package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
)

// Envelope layout.
//
// encryptedContent: [nonce:12][AES-256-GCM ciphertext+tag] under a
// one-time content key.
//
// encryptedAESKey (the combined multi-recipient wrapping):
//
//	[version:1][count:1] then per recipient
//	[keyID:8][len:2][RSA-OAEP(SHA-256) ciphertext of the content key]
//
// Any one holder of a listed private key recovers the content key
// independently; slots reveal nothing about each other's keys.
const (
	envelopeVersion = 1
	contentKeySize  = 32
	maxRecipients   = 255
)

// EncryptForRecipients seals plaintext for every key in
// recipientPublicKeys (PKIX DER). The set must be non-empty; senders
// normally include their own public key so they can re-read sent
// messages. All keys are parsed before any ciphertext is produced, so
// the result is all-or-nothing.
func EncryptForRecipients(plaintext []byte, recipientPublicKeys [][]byte) (encryptedContent, encryptedKey []byte, err error) {
	if len(recipientPublicKeys) == 0 {
		return nil, nil, fmt.Errorf("%w: empty recipient set", ErrRecipientKeyInvalid)
	}
	if len(recipientPublicKeys) > maxRecipients {
		return nil, nil, fmt.Errorf("%w: too many recipients", ErrRecipientKeyInvalid)
	}

	pubs := make([]*rsa.PublicKey, len(recipientPublicKeys))
	for i, der := range recipientPublicKeys {
		pub, err := ParsePublicKey(der)
		if err != nil {
			return nil, nil, fmt.Errorf("recipient %d: %w", i, err)
		}
		pubs[i] = pub
	}

	contentKey := make([]byte, contentKeySize)
	if _, err := io.ReadFull(rand.Reader, contentKey); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	encryptedContent, err = sealContent(plaintext, contentKey)
	if err != nil {
		return nil, nil, err
	}

	var keyBlob bytes.Buffer
	keyBlob.WriteByte(envelopeVersion)
	keyBlob.WriteByte(byte(len(pubs)))
	for i, pub := range pubs {
		wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, contentKey, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("recipient %d: %w: %v", i, ErrEncryption, err)
		}
		id := keyID(recipientPublicKeys[i])
		keyBlob.Write(id[:])
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(wrapped)))
		keyBlob.Write(l[:])
		keyBlob.Write(wrapped)
	}

	return encryptedContent, keyBlob.Bytes(), nil
}

// Decrypt recovers the plaintext of an envelope using priv. It is a
// pure function of its arguments.
func Decrypt(encryptedContent, encryptedKey []byte, priv *rsa.PrivateKey) ([]byte, error) {
	contentKey, err := unwrapContentKey(encryptedKey, priv)
	if err != nil {
		return nil, err
	}
	return openContent(encryptedContent, contentKey)
}

func unwrapContentKey(encryptedKey []byte, priv *rsa.PrivateKey) ([]byte, error) {
	if len(encryptedKey) < 2 || encryptedKey[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: malformed key wrapping", ErrKeyMismatch)
	}
	count := int(encryptedKey[1])

	ownDER, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMismatch, err)
	}
	ownID := keyID(ownDER)

	matched := false
	off := 2
	for i := 0; i < count; i++ {
		if off+10 > len(encryptedKey) {
			return nil, fmt.Errorf("%w: truncated key wrapping", ErrKeyMismatch)
		}
		var id [8]byte
		copy(id[:], encryptedKey[off:off+8])
		l := int(binary.BigEndian.Uint16(encryptedKey[off+8 : off+10]))
		off += 10
		if off+l > len(encryptedKey) {
			return nil, fmt.Errorf("%w: truncated key wrapping", ErrKeyMismatch)
		}
		wrapped := encryptedKey[off : off+l]
		off += l

		if id != ownID {
			continue
		}
		matched = true

		contentKey, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
		if err != nil || len(contentKey) != contentKeySize {
			// An 8-byte ID can collide; keep scanning before giving up.
			continue
		}
		return contentKey, nil
	}

	if matched {
		return nil, ErrKeyMismatch
	}
	return nil, ErrNotAnIntendedRecipient
}

func sealContent(plaintext, contentKey []byte) ([]byte, error) {
	gcm, err := contentGCM(contentKey)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func openContent(encryptedContent, contentKey []byte) ([]byte, error) {
	gcm, err := contentGCM(contentKey)
	if err != nil {
		return nil, err
	}

	if len(encryptedContent) < gcm.NonceSize() {
		return nil, ErrIntegrityCheckFailed
	}
	nonce := encryptedContent[:gcm.NonceSize()]
	ciphertext := encryptedContent[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIntegrityCheckFailed
	}
	return plaintext, nil
}

func contentGCM(contentKey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(contentKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return gcm, nil
}
