package models

// User is a registered identity. The server never holds plaintext key
// material: PublicKey is the PKIX DER encoding of the user's RSA public
// key, and EncryptedPrivateKey is an opaque blob produced by the crypto
// package's password wrap; the server stores and returns it untouched.
type User struct {
	Username            string `json:"username"`
	PasswordHash        []byte `json:"-"`
	PublicKey           []byte `json:"publicKey"`
	Fingerprint         string `json:"fingerprint"`
	EncryptedPrivateKey []byte `json:"-"`
	Created             int64  `json:"created"`
	LastSeen            int64  `json:"lastSeen"`
}

type MessageType string

const (
	MessageText MessageType = "text"
	MessageFile MessageType = "file"
)

// Envelope is one stored message. EncryptedContent is the AES-GCM
// ciphertext of the body; EncryptedKey is the combined multi-recipient
// wrapping of the one-time content key. Envelopes are immutable once
// appended; CreatedAt is assigned by the store and is the only ordering
// key (unix microseconds, strictly increasing per store instance).
type Envelope struct {
	Id               string      `json:"id"`
	From             string      `json:"from"`
	To               string      `json:"to"`
	EncryptedContent []byte      `json:"encryptedContent"`
	EncryptedKey     []byte      `json:"encryptedAESKey"`
	MessageType      MessageType `json:"messageType"`
	CreatedAt        int64       `json:"createdAt"`
}

// ConversationSummary is the derived per-counterpart view. It is always
// recomputed from envelopes on read, never stored. MessageCount is the
// total number of envelopes exchanged with OtherUser (read state is not
// tracked).
type ConversationSummary struct {
	OtherUser    string   `json:"otherUser"`
	LastMessage  Envelope `json:"lastMessage"`
	MessageCount int      `json:"messageCount"`
}

// PresenceEntry is one row of the delivery hub's live registry
// snapshot. Backed only by process-scoped state; discarded on shutdown.
type PresenceEntry struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}
