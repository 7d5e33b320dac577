// Package dynamo backs the MessageStore with a single DynamoDB table,
// used for the hosted deployment.
package dynamo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gofrs/uuid/v5"

	"github.com/ebelyak/sealwire/models"
	"github.com/ebelyak/sealwire/store"
)

type DynamoMessageStore struct {
	client    *dynamodb.Client
	tableName string

	// Guards CreatedAt assignment: strictly increasing per instance
	// even when senders append concurrently.
	mu     sync.Mutex
	lastTS int64
}

func NewDynamoMessageStore(ctx context.Context, tableName string, devMode bool, dynamodbEndpoint string) (*DynamoMessageStore, error) {
	client, err := newDynamoDBClient(ctx, devMode, dynamodbEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB client: %w", err)
	}

	return &DynamoMessageStore{
		client:    client,
		tableName: tableName,
	}, nil
}

func (d *DynamoMessageStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	user.Created = time.Now().Unix()

	if err := putNewItem(d, ctx, userFromModel(user)); err != nil {
		return models.User{}, err
	}
	return user, nil
}

func (d *DynamoMessageStore) GetUser(ctx context.Context, username string) (models.User, error) {
	du, err := getItem[dynamoUser](d, ctx, userPK(username), userSK, false)
	if err != nil {
		return models.User{}, err
	}
	return du.toModel(), nil
}

func (d *DynamoMessageStore) ListUsers(ctx context.Context) ([]models.User, error) {
	pks, err := queryAllByGSI(d, ctx, gsiUsers, "EntityType", entityUser)
	if err != nil {
		return nil, err
	}

	users := make([]models.User, 0, len(pks))
	for _, pk := range pks {
		du, err := getItem[dynamoUser](d, ctx, pk, userSK, false)
		if err != nil {
			return nil, err
		}
		u := du.toModel()
		// Directory listing: never hand out credential material.
		u.PasswordHash = nil
		u.EncryptedPrivateKey = nil
		users = append(users, u)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (d *DynamoMessageStore) UpdateLastSeen(ctx context.Context, username string, lastSeen int64) error {
	_, err := updateItem(d, ctx, dynamoUser{
		PK:       userPK(username),
		SK:       userSK,
		LastSeen: lastSeen,
	}, []string{"LastSeen"})
	return err
}

// nextCreatedAt hands out unix-microsecond timestamps guaranteed to be
// strictly increasing for this store instance.
func (d *DynamoMessageStore) nextCreatedAt() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts := time.Now().UnixMicro()
	if ts <= d.lastTS {
		ts = d.lastTS + 1
	}
	d.lastTS = ts
	return ts
}

func (d *DynamoMessageStore) AppendEnvelope(ctx context.Context, env models.Envelope) (models.Envelope, error) {
	if err := store.ValidateEnvelope(env); err != nil {
		return models.Envelope{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return models.Envelope{}, fmt.Errorf("envelope id: %w", err)
	}
	env.Id = id.String()
	env.CreatedAt = d.nextCreatedAt()

	if err := putNewItem(d, ctx, envelopeFromModel(env)); err != nil {
		return models.Envelope{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return env, nil
}

func (d *DynamoMessageStore) Conversation(ctx context.Context, userA, userB string, limit int) ([]models.Envelope, error) {
	// Newest `limit` items first, then flip to oldest-first.
	items, err := queryAllByPK[dynamoEnvelope](d, ctx, convPK(userA, userB), false, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	envelopes := make([]models.Envelope, len(items))
	for i, item := range items {
		envelopes[len(items)-1-i] = item.toModel()
	}
	return envelopes, nil
}

func (d *DynamoMessageStore) ConversationsFor(ctx context.Context, username string) ([]models.ConversationSummary, error) {
	sent, err := queryAllByGSI(d, ctx, gsiSender, "FromUser", username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	received, err := queryAllByGSI(d, ctx, gsiRecipient, "ToUser", username)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	convPKs := make(map[string]struct{}, len(sent)+len(received))
	for _, pk := range append(sent, received...) {
		if _, ok := convKeyFromPK(pk); ok {
			convPKs[pk] = struct{}{}
		}
	}

	summaries := make([]models.ConversationSummary, 0, len(convPKs))
	for pk := range convPKs {
		newest, err := queryAllByPK[dynamoEnvelope](d, ctx, pk, false, 1)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		if len(newest) == 0 {
			continue
		}
		count, err := countByPK(d, ctx, pk)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}

		last := newest[0].toModel()
		other := last.From
		if other == username {
			other = last.To
		}
		summaries = append(summaries, models.ConversationSummary{
			OtherUser:    other,
			LastMessage:  last,
			MessageCount: count,
		})
	}

	// Most recently active conversation first.
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.CreatedAt > summaries[j].LastMessage.CreatedAt
	})
	return summaries, nil
}
