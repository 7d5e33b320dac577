package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Private-key wrap format: [version:2][salt:32][nonce:12][ciphertext+tag].
// The ciphertext is the PKCS#8 encoding of the key under AES-256-GCM
// with a PBKDF2-SHA256 password-derived key.
const (
	wrapVersion     = 1
	wrapSaltSize    = 32
	wrapKDFIters    = 100000
	wrapGCMNonceLen = 12
)

// WrapPrivateKey encrypts priv under a password-derived key. A fresh
// salt and nonce are drawn per call, so two wraps of the same key never
// produce the same blob. The password is never stored.
func WrapPrivateKey(priv *rsa.PrivateKey, password []byte) ([]byte, error) {
	plaintext, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	salt := make([]byte, wrapSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 2+wrapSaltSize+len(nonce)+len(ciphertext))
	binary.BigEndian.PutUint16(out[0:2], wrapVersion)
	copy(out[2:], salt)
	copy(out[2+wrapSaltSize:], nonce)
	copy(out[2+wrapSaltSize+len(nonce):], ciphertext)
	return out, nil
}

// UnwrapPrivateKey is the inverse of WrapPrivateKey. Every failure mode
// (short blob, unknown version, authentication failure, malformed key)
// reports the same ErrWrongPasswordOrCorruptKey so callers cannot be
// used as a password oracle.
func UnwrapPrivateKey(blob, password []byte) (*rsa.PrivateKey, error) {
	if len(blob) < 2+wrapSaltSize+wrapGCMNonceLen+1 {
		return nil, ErrWrongPasswordOrCorruptKey
	}
	if binary.BigEndian.Uint16(blob[0:2]) != wrapVersion {
		return nil, ErrWrongPasswordOrCorruptKey
	}

	salt := blob[2 : 2+wrapSaltSize]
	nonce := blob[2+wrapSaltSize : 2+wrapSaltSize+wrapGCMNonceLen]
	ciphertext := blob[2+wrapSaltSize+wrapGCMNonceLen:]

	gcm, err := passwordGCM(password, salt)
	if err != nil {
		return nil, ErrWrongPasswordOrCorruptKey
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPasswordOrCorruptKey
	}

	key, err := x509.ParsePKCS8PrivateKey(plaintext)
	if err != nil {
		return nil, ErrWrongPasswordOrCorruptKey
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrWrongPasswordOrCorruptKey
	}
	return priv, nil
}

func passwordGCM(password, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key(password, salt, wrapKDFIters, 32, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return cipher.NewGCM(block)
}
