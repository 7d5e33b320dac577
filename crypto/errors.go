package crypto

import "errors"

var (
	// ErrKeyGeneration is returned when the underlying RSA key
	// generation fails.
	ErrKeyGeneration = errors.New("key generation failed")

	// ErrWrongPasswordOrCorruptKey covers every private-key unwrap
	// failure. It deliberately does not distinguish a wrong password
	// from a corrupted blob.
	ErrWrongPasswordOrCorruptKey = errors.New("wrong password or corrupt key")

	// ErrRecipientKeyInvalid is returned when a recipient public key
	// does not parse. No ciphertext is produced in that case.
	ErrRecipientKeyInvalid = errors.New("recipient public key invalid")

	// ErrEncryption is returned on an underlying cipher failure during
	// envelope construction.
	ErrEncryption = errors.New("encryption failed")

	// ErrNotAnIntendedRecipient is returned when the decrypting key is
	// not among the keys the envelope was wrapped for.
	ErrNotAnIntendedRecipient = errors.New("not an intended recipient")

	// ErrKeyMismatch is returned when the decrypting key matches a
	// wrapping slot but cannot recover the content key.
	ErrKeyMismatch = errors.New("private key does not match envelope wrapping")

	// ErrIntegrityCheckFailed is returned when the content ciphertext
	// fails authentication (tampering or wrong content key).
	ErrIntegrityCheckFailed = errors.New("ciphertext integrity check failed")

	// ErrKeyringLocked is returned when private-key material is
	// requested from a locked keyring.
	ErrKeyringLocked = errors.New("keyring is locked")
)
