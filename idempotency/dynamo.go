package idempotency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	// DefaultDynamoKeyPrefix is prepended to message IDs to form the
	// partition key unless overridden with [WithDynamoKeyPrefix].
	DefaultDynamoKeyPrefix = "idempotency:"

	// dynamoPartitionKey is the partition key attribute name.
	dynamoPartitionKey = "pk"

	// dynamoTTLAttr is the attribute name used for DynamoDB TTL-based
	// expiration (epoch seconds). The table must have TTL enabled on
	// this attribute.
	dynamoTTLAttr = "ttl"
)

// dynamoAPI is the part of the DynamoDB API used by DynamoStore.
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore is an IdempotencyStore backed by a DynamoDB table with TTL
// enabled on the "ttl" attribute. DynamoDB reclaims expired items lazily
// (deletion can lag expiry by hours), so HasProcessed compares the TTL
// attribute against the clock instead of trusting item presence alone.
type DynamoStore struct {
	client    dynamoAPI
	tableName string
	prefix    string
	awsCfg    *aws.Config
	now       func() time.Time
}

// DynamoOption configures a [DynamoStore].
type DynamoOption func(*DynamoStore)

// WithDynamoKeyPrefix overrides the partition key prefix. Default:
// [DefaultDynamoKeyPrefix].
func WithDynamoKeyPrefix(prefix string) DynamoOption {
	return func(s *DynamoStore) {
		s.prefix = prefix
	}
}

// WithDynamoAPI replaces the default DynamoDB client with a custom
// implementation of the internal dynamoAPI interface. This option is
// intended for testing with mock or stub clients.
func WithDynamoAPI(client dynamoAPI) DynamoOption {
	return func(s *DynamoStore) {
		s.client = client
	}
}

// NewDynamoStore creates a DynamoStore for the given table. Call
// [DynamoStore.Connect] on the returned store before use.
func NewDynamoStore(awsCfg *aws.Config, tableName string, opts ...DynamoOption) *DynamoStore {
	s := &DynamoStore{
		awsCfg:    awsCfg,
		tableName: tableName,
		prefix:    DefaultDynamoKeyPrefix,
		now:       time.Now,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

// Connect initializes the DynamoDB client from the AWS config provided
// to [NewDynamoStore]. It must complete before the store is used
// concurrently.
func (s *DynamoStore) Connect() error {
	if s.tableName == "" {
		return fmt.Errorf("DynamoDB table name cannot be empty")
	}

	if s.client == nil {
		s.client = dynamodb.NewFromConfig(*s.awsCfg)
	}

	return nil
}

// HasProcessed reports whether an unexpired item exists for id. The read
// is strongly consistent so a mark on one replica is visible to the next
// delivery on another.
func (s *DynamoStore) HasProcessed(ctx context.Context, id string) (bool, error) {
	input := &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]dynamodbtypes.AttributeValue{
			dynamoPartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: s.prefix + id},
		},
	}

	output, err := s.client.GetItem(ctx, input)
	if err != nil {
		return false, fmt.Errorf("failed to get idempotency item: %w", err)
	}

	if len(output.Item) == 0 {
		return false, nil
	}

	ttlAttr, ok := output.Item[dynamoTTLAttr].(*dynamodbtypes.AttributeValueMemberN)
	if !ok {
		return false, nil
	}

	expiry, err := strconv.ParseInt(ttlAttr.Value, 10, 64)
	if err != nil {
		return false, fmt.Errorf("malformed TTL attribute for %s: %w", id, err)
	}

	return expiry > s.now().Unix(), nil
}

// MarkProcessed writes the item for id with expiry now+ttl, overwriting
// any previous entry.
func (s *DynamoStore) MarkProcessed(ctx context.Context, id string, ttl time.Duration) error {
	expiry := s.now().Add(ttl).Unix()

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]dynamodbtypes.AttributeValue{
			dynamoPartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: s.prefix + id},
			dynamoTTLAttr:      &dynamodbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expiry, 10)},
		},
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		return fmt.Errorf("failed to put idempotency item: %w", err)
	}

	return nil
}

// Remove deletes the item for id. Deleting an absent item is a no-op.
func (s *DynamoStore) Remove(ctx context.Context, id string) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			dynamoPartitionKey: &dynamodbtypes.AttributeValueMemberS{Value: s.prefix + id},
		},
	}

	if _, err := s.client.DeleteItem(ctx, input); err != nil {
		return fmt.Errorf("failed to delete idempotency item: %w", err)
	}

	return nil
}
