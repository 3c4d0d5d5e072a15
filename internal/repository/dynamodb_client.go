package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"voice-agent/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	skMeta      = "META#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// DynamoStore keeps conversation records in a single DynamoDB table. Each
// message is its own item ordered by a zero-padded sequence number; the META#
// item tracks the next sequence number.
type DynamoStore struct {
	api          dynamodbAPI
	tableName    string
	systemPrompt string
	now          func() time.Time
}

// NewDynamoStore creates a DynamoStore for tableName.
func NewDynamoStore(api dynamodbAPI, tableName, systemPrompt string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if err := validateSystemPrompt(systemPrompt); err != nil {
		return nil, err
	}
	return &DynamoStore{api: api, tableName: tableName, systemPrompt: systemPrompt, now: time.Now}, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// msgSK returns the sort key for the message at position seq.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%010d", skPrefixMsg, seq)
}

func (c *DynamoStore) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// Get queries all MSG# items for a conversation in sequence order.
func (c *DynamoStore) Get(ctx context.Context, conversationID string) (domain.ConversationRecord, bool, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
		ConsistentRead:   aws.Bool(true),
	}

	var msgs []domain.Message
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return domain.ConversationRecord{}, false, fmt.Errorf("repository: Get query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return domain.ConversationRecord{}, false, fmt.Errorf("repository: Get unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if len(msgs) == 0 {
		return domain.ConversationRecord{}, false, nil
	}
	return domain.ConversationRecord{ConversationID: conversationID, Messages: msgs}, true, nil
}

// nextSeq returns the next message sequence number and whether the
// conversation already exists.
func (c *DynamoStore) nextSeq(ctx context.Context, conversationID string) (int, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, false, fmt.Errorf("repository: nextSeq get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, false, nil
	}
	n, err := intAttr(out.Item, "messageCount")
	if err != nil {
		return 0, false, fmt.Errorf("repository: nextSeq decode messageCount: %w", err)
	}
	return n, true, nil
}

// Upsert appends one message, seeding the system message for a new record.
// Messages and metadata are written in one transaction; the metadata put is
// conditioned on the count read above so a concurrent writer fails instead of
// reusing sequence numbers.
func (c *DynamoStore) Upsert(ctx context.Context, conversationID string, role domain.Role, content string) error {
	if err := validateUpsert(conversationID, role); err != nil {
		return err
	}
	seq, exists, err := c.nextSeq(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("repository: Upsert: %w", err)
	}

	batch := domain.UpsertBatch(exists, c.systemPrompt, domain.Message{Role: role, Content: content})
	ttl := c.ttlValue()
	items := make([]types.TransactWriteItem, 0, len(batch)+1)
	for i, msg := range batch {
		items = append(items, types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                messageItem(conversationID, seq+i, msg, ttl),
				ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
			},
		})
	}

	metaPut := &types.Put{
		TableName: aws.String(c.tableName),
		Item:      metaItem(conversationID, seq+len(batch), c.now().UTC(), ttl),
	}
	if exists {
		metaPut.ConditionExpression = aws.String("messageCount = :prev")
		metaPut.ExpressionAttributeValues = map[string]types.AttributeValue{
			":prev": &types.AttributeValueMemberN{Value: strconv.Itoa(seq)},
		}
	} else {
		metaPut.ConditionExpression = aws.String("attribute_not_exists(PK)")
	}
	items = append(items, types.TransactWriteItem{Put: metaPut})

	if _, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
		return fmt.Errorf("repository: Upsert: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (c *DynamoStore) Close() error { return nil }

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	if !domain.Role(role).Valid() {
		return domain.Message{}, fmt.Errorf("repository: unknown role %q", role)
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{Role: domain.Role(role), Content: content}, nil
}

func messageItem(conversationID string, seq int, msg domain.Message, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(seq)},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"role":           &types.AttributeValueMemberS{Value: string(msg.Role)},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"ttl":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
}

func metaItem(conversationID string, count int, lastActivity time.Time, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(conversationID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"lastActivity":   &types.AttributeValueMemberS{Value: lastActivity.Format(time.RFC3339)},
		"messageCount":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", count)},
		"ttl":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttl)},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
