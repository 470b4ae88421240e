package fixtures

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/charlieparkes/go-datafixtures/internal/env"
)

const DEFAULT_DYNAMODB_HASH_KEY = "hash_key"

// DynamoDBAPI is the subset of *dynamodb.Client used by DynamoDBBackend.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ DynamoDBAPI = (*dynamodb.Client)(nil)

type DynamoDBOpt func(*dynamoDBOptions)

type dynamoDBOptions struct {
	keyAttributes []string
}

// DynamoDBKeyAttributes names the attributes that make up the table's primary key. Defaults to
// DEFAULT_DYNAMODB_HASH_KEY.
func DynamoDBKeyAttributes(names ...string) DynamoDBOpt {
	return func(o *dynamoDBOptions) {
		o.keyAttributes = names
	}
}

// DynamoDBBackend puts each record into a table as one item, marshaled with attributevalue, and
// deletes it by its key attributes.
type DynamoDBBackend[R any] struct {
	client        DynamoDBAPI
	table         string
	keyAttributes []string
}

var _ Backend[any] = (*DynamoDBBackend[any])(nil)

func NewDynamoDBBackend[R any](client DynamoDBAPI, table string, opts ...DynamoDBOpt) *DynamoDBBackend[R] {
	o := &dynamoDBOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.keyAttributes) == 0 {
		o.keyAttributes = []string{DEFAULT_DYNAMODB_HASH_KEY}
	}
	return &DynamoDBBackend[R]{
		client:        client,
		table:         table,
		keyAttributes: o.keyAttributes,
	}
}

func (b *DynamoDBBackend[R]) Table() string {
	return b.table
}

func (b *DynamoDBBackend[R]) Insert(ctx context.Context, record R) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := b.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("failed to put item in %v: %w", b.table, err)
	}
	return nil
}

func (b *DynamoDBBackend[R]) Remove(ctx context.Context, record R) error {
	key, err := b.Key(record)
	if err != nil {
		return err
	}
	if _, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(b.table),
		Key:       key,
	}); err != nil {
		return fmt.Errorf("failed to delete item from %v: %w", b.table, err)
	}
	return nil
}

// Key returns the key attributes of a record.
func (b *DynamoDBBackend[R]) Key(record R) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	key := make(map[string]types.AttributeValue, len(b.keyAttributes))
	for _, name := range b.keyAttributes {
		v, ok := item[name]
		if !ok {
			return nil, fmt.Errorf("record is missing key attribute %q", name)
		}
		key[name] = v
	}
	return key, nil
}

// Count scans the whole table, projecting only the key, and returns the number of items.
func (b *DynamoDBBackend[R]) Count(ctx context.Context) (int, error) {
	names := make([]expression.NameBuilder, 0, len(b.keyAttributes))
	for _, name := range b.keyAttributes {
		names = append(names, expression.Name(name))
	}
	expr, err := expression.NewBuilder().
		WithProjection(expression.NamesList(names[0], names[1:]...)).
		Build()
	if err != nil {
		return 0, err
	}

	count := 0
	var startKey map[string]types.AttributeValue
	for {
		out, err := b.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:                aws.String(b.table),
			ProjectionExpression:     expr.Projection(),
			ExpressionAttributeNames: expr.Names(),
			ExclusiveStartKey:        startKey,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to scan %v: %w", b.table, err)
		}
		count += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return count, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// NewDynamoDBClient loads the default AWS configuration for region. A non-empty endpoint overrides
// the service endpoint, e.g. to reach DynamoDB Local.
func NewDynamoDBClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// NewDynamoDBClientFromEnv reads FIXTURES_AWS_REGION and FIXTURES_DYNAMODB_ENDPOINT.
func NewDynamoDBClientFromEnv(ctx context.Context) (*dynamodb.Client, error) {
	e := env.Get()
	return NewDynamoDBClient(ctx, e.AWSRegion, e.DynamoDBEndpoint)
}
