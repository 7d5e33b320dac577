package service

import (
	"errors"
	"regexp"

	"github.com/ebelyak/sealwire/models"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_]{3,32}$`)

const (
	minPasswordLength = 8
	maxPasswordLength = 128

	// Encrypted payload caps. Content covers the GCM ciphertext of the
	// largest allowed plaintext plus nonce and tag; the key blob covers
	// the header plus full recipient slots.
	maxEncryptedContentBytes = 1 << 20
	maxEncryptedKeyBytes     = 64 * 1024

	// The wrapped private key blob for a 2048-bit RSA key sits well
	// under this.
	maxEncryptedPrivateKeyBytes = 16 * 1024
	maxPublicKeyBytes           = 4 * 1024
)

func ValidateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return errors.New("username must be 3-32 characters of lowercase letters, digits, or underscores")
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return errors.New("password too short")
	}
	if len(password) > maxPasswordLength {
		return errors.New("password too long")
	}
	return nil
}

func ValidateKeyMaterial(publicKey, encryptedPrivateKey []byte) error {
	if len(publicKey) == 0 || len(publicKey) > maxPublicKeyBytes {
		return errors.New("invalid public key size")
	}
	if len(encryptedPrivateKey) == 0 || len(encryptedPrivateKey) > maxEncryptedPrivateKeyBytes {
		return errors.New("invalid encrypted private key size")
	}
	return nil
}

func ValidateEnvelopePayload(env models.Envelope) error {
	if len(env.EncryptedContent) == 0 || len(env.EncryptedContent) > maxEncryptedContentBytes {
		return errors.New("invalid encrypted content size")
	}
	if len(env.EncryptedKey) == 0 || len(env.EncryptedKey) > maxEncryptedKeyBytes {
		return errors.New("invalid encrypted key size")
	}
	switch env.MessageType {
	case models.MessageText, models.MessageFile:
	default:
		return errors.New("invalid message type")
	}
	return nil
}
