package crypto_test

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebelyak/sealwire/crypto"
)

var fingerprintFormat = regexp.MustCompile(`^[0-9A-F]{4}( [0-9A-F]{4}){15}$`)

func TestGenerateIdentity(t *testing.T) {
	id, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)

	assert.Equal(t, "alice", id.Username)
	assert.NotEmpty(t, id.PublicKey)
	assert.NotNil(t, id.Private)
	assert.Equal(t, crypto.KeyBits, id.Private.N.BitLen())

	// SHA-256 -> 64 hex chars -> 16 groups of 4
	assert.Regexp(t, fingerprintFormat, id.Fingerprint)
}

func TestFingerprint_PureFunctionOfKey(t *testing.T) {
	id, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)

	assert.Equal(t, crypto.Fingerprint(id.PublicKey), crypto.Fingerprint(id.PublicKey))
	assert.Equal(t, id.Fingerprint, crypto.Fingerprint(id.PublicKey))
}

func TestFingerprint_DistinctKeys(t *testing.T) {
	a, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)
	b, err := crypto.GenerateIdentity("bob")
	require.NoError(t, err)

	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
}

func TestParsePublicKey(t *testing.T) {
	id, err := crypto.GenerateIdentity("alice")
	require.NoError(t, err)

	pub, err := crypto.ParsePublicKey(id.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, id.Private.PublicKey.N, pub.N)

	_, err = crypto.ParsePublicKey([]byte("not a key"))
	assert.ErrorIs(t, err, crypto.ErrRecipientKeyInvalid)
}
