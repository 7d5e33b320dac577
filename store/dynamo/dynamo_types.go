package dynamo

import (
	"fmt"
	"strings"

	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/store"
)

// Single-table layout:
//
//	user:     PK = USER#<username>       SK = PROFILE
//	envelope: PK = CONV#<convKey>        SK = <createdAt padded>#<id>
//
// Envelope items carry FromUser / ToUser attributes for the
// GSI_Sender and GSI_Recipient indexes; user items carry a constant
// EntityType for GSI_Users. All three indexes project only PK. The
// padded CreatedAt in the SK makes lexical SK order equal time order.

const (
	userPKPrefix = "USER#"
	convPKPrefix = "CONV#"
	userSK       = "PROFILE"

	gsiSender    = "GSI_Sender"
	gsiRecipient = "GSI_Recipient"
	gsiUsers     = "GSI_Users"

	entityUser = "USER"
)

type dynamoUser struct {
	PK                  string `dynamodbav:"PK"`
	SK                  string `dynamodbav:"SK"`
	EntityType          string `dynamodbav:"EntityType"`
	Username            string `dynamodbav:"Username"`
	PasswordHash        []byte `dynamodbav:"PasswordHash"`
	PublicKey           []byte `dynamodbav:"PublicKey"`
	Fingerprint         string `dynamodbav:"Fingerprint"`
	EncryptedPrivateKey []byte `dynamodbav:"EncryptedPrivateKey"`
	Created             int64  `dynamodbav:"Created"`
	LastSeen            int64  `dynamodbav:"LastSeen"`
}

type dynamoEnvelope struct {
	PK               string `dynamodbav:"PK"`
	SK               string `dynamodbav:"SK"`
	Id               string `dynamodbav:"Id"`
	FromUser         string `dynamodbav:"FromUser"`
	ToUser           string `dynamodbav:"ToUser"`
	EncryptedContent []byte `dynamodbav:"EncryptedContent"`
	EncryptedKey     []byte `dynamodbav:"EncryptedKey"`
	MessageType      string `dynamodbav:"MessageType"`
	CreatedAt        int64  `dynamodbav:"CreatedAt"`
}

func userPK(username string) string {
	return userPKPrefix + username
}

func convPK(userA, userB string) string {
	return convPKPrefix + store.ConversationKey(userA, userB)
}

func envelopeSK(createdAt int64, id string) string {
	return fmt.Sprintf("%020d#%s", createdAt, id)
}

func userFromModel(u models.User) dynamoUser {
	return dynamoUser{
		PK:                  userPK(u.Username),
		SK:                  userSK,
		EntityType:          entityUser,
		Username:            u.Username,
		PasswordHash:        u.PasswordHash,
		PublicKey:           u.PublicKey,
		Fingerprint:         u.Fingerprint,
		EncryptedPrivateKey: u.EncryptedPrivateKey,
		Created:             u.Created,
		LastSeen:            u.LastSeen,
	}
}

func (du dynamoUser) toModel() models.User {
	return models.User{
		Username:            du.Username,
		PasswordHash:        du.PasswordHash,
		PublicKey:           du.PublicKey,
		Fingerprint:         du.Fingerprint,
		EncryptedPrivateKey: du.EncryptedPrivateKey,
		Created:             du.Created,
		LastSeen:            du.LastSeen,
	}
}

func envelopeFromModel(env models.Envelope) dynamoEnvelope {
	return dynamoEnvelope{
		PK:               convPK(env.From, env.To),
		SK:               envelopeSK(env.CreatedAt, env.Id),
		Id:               env.Id,
		FromUser:         env.From,
		ToUser:           env.To,
		EncryptedContent: env.EncryptedContent,
		EncryptedKey:     env.EncryptedKey,
		MessageType:      string(env.MessageType),
		CreatedAt:        env.CreatedAt,
	}
}

func (de dynamoEnvelope) toModel() models.Envelope {
	return models.Envelope{
		Id:               de.Id,
		From:             de.FromUser,
		To:               de.ToUser,
		EncryptedContent: de.EncryptedContent,
		EncryptedKey:     de.EncryptedKey,
		MessageType:      models.MessageType(de.MessageType),
		CreatedAt:        de.CreatedAt,
	}
}

// convKeyFromPK strips the CONV# prefix off an envelope partition key.
func convKeyFromPK(pk string) (string, bool) {
	if !strings.HasPrefix(pk, convPKPrefix) {
		return "", false
	}
	return strings.TrimPrefix(pk, convPKPrefix), true
}
