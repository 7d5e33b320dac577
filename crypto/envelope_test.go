package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebelyak/sealwire/crypto"
)

func TestEncryptForRecipients_RoundTrip(t *testing.T) {
	alice, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)
	bob, err := crypto.GenerateIdentity("bob")
	require.NoError(t, err)
	carol, err := crypto.GenerateIdentity("carol")
	require.NoError(t, err)

	plaintext := []byte("the quick brown fox")
	content, key, err := crypto.EncryptForRecipients(plaintext,
		[][]byte{alice.PublicKey, bob.PublicKey, carol.PublicKey})
	require.NoError(t, err)

	// Every listed recipient recovers the plaintext independently.
	for _, id := range []*crypto.Identity{alice, bob, carol} {
		got, err := crypto.Decrypt(content, key, id.Private)
		require.NoError(t, err, "recipient %s", id.Username)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncryptForRecipients_SenderReadsOwnMessage(t *testing.T) {
	alice, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)
	bob, err := crypto.GenerateIdentity("bob")
	require.NoError(t, err)

	// alice sends to bob, wrapping for both so she can re-read later
	content, key, err := crypto.EncryptForRecipients([]byte("hi bob"),
		[][]byte{bob.PublicKey, alice.PublicKey})
	require.NoError(t, err)

	got, err := crypto.Decrypt(content, key, bob.Private)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi bob"), got)

	got, err = crypto.Decrypt(content, key, alice.Private)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi bob"), got)
}

func TestDecrypt_NonRecipientExcluded(t *testing.T) {
	alice, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)
	bob, err := crypto.GenerateIdentity("bob")
	require.NoError(t, err)
	mallory, err := crypto.GenerateIdentity("mallory")
	require.NoError(t, err)

	content, key, err := crypto.EncryptForRecipients([]byte("secret"),
		[][]byte{alice.PublicKey, bob.PublicKey})
	require.NoError(t, err)

	_, err = crypto.Decrypt(content, key, mallory.Private)
	assert.ErrorIs(t, err, crypto.ErrNotAnIntendedRecipient)
}

func TestDecrypt_TamperedContent(t *testing.T) {
	alice, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)

	content, key, err := crypto.EncryptForRecipients([]byte("secret"), [][]byte{alice.PublicKey})
	require.NoError(t, err)

	for _, i := range []int{0, len(content) / 2, len(content) - 1} {
		tampered := make([]byte, len(content))
		copy(tampered, content)
		tampered[i] ^= 0x01

		_, err := crypto.Decrypt(tampered, key, alice.Private)
		assert.ErrorIs(t, err, crypto.ErrIntegrityCheckFailed, "flipped bit at %d", i)
	}
}

func TestEncryptForRecipients_EmptySet(t *testing.T) {
	_, _, err := crypto.EncryptForRecipients([]byte("p"), nil)
	assert.ErrorIs(t, err, crypto.ErrRecipientKeyInvalid)
}

func TestEncryptForRecipients_InvalidKeyIsAtomic(t *testing.T) {
	alice, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)

	content, key, err := crypto.EncryptForRecipients([]byte("p"),
		[][]byte{alice.PublicKey, []byte("garbage")})
	assert.ErrorIs(t, err, crypto.ErrRecipientKeyInvalid)
	assert.Nil(t, content)
	assert.Nil(t, key)
}

func TestEncryptForRecipients_FreshContentKeyPerCall(t *testing.T) {
	alice, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)

	c1, k1, err := crypto.EncryptForRecipients([]byte("same plaintext"), [][]byte{alice.PublicKey})
	require.NoError(t, err)
	c2, k2, err := crypto.EncryptForRecipients([]byte("same plaintext"), [][]byte{alice.PublicKey})
	require.NoError(t, err)

	assert.NotEqual(t, c1, c2)
	assert.NotEqual(t, k1, k2)
}

func TestDecrypt_MalformedKeyBlob(t *testing.T) {
	alice, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)

	content, _, err := crypto.EncryptForRecipients([]byte("p"), [][]byte{alice.PublicKey})
	require.NoError(t, err)

	_, err = crypto.Decrypt(content, []byte{}, alice.Private)
	assert.ErrorIs(t, err, crypto.ErrKeyMismatch)

	_, err = crypto.Decrypt(content, []byte{9, 1, 0}, alice.Private)
	assert.ErrorIs(t, err, crypto.ErrKeyMismatch)
}
