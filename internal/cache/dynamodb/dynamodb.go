// Package dynamodb stores cached responses in an Amazon DynamoDB table.
//
// The table must have a string partition key named "cache_key".
package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/die-net/cacheproxy/internal/cache"
)

const keyAttribute = "cache_key"

// ValidationError reports an unusable configuration.
type ValidationError struct {
	Reason string
}

func (ve ValidationError) Error() string {
	return "dynamodb: invalid configuration: " + ve.Reason
}

// API is the subset of *dynamodb.Client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Config selects the table and, optionally, the region and a non-AWS
// endpoint such as DynamoDB Local.
type Config struct {
	Table    string
	Region   string
	Endpoint string
}

type item struct {
	Key       string `dynamodbav:"cache_key"`
	Response  []byte `dynamodbav:"response"`
	UpdatedAt int64  `dynamodbav:"updated_at"`
}

// Store is a cache.Store backed by DynamoDB.
type Store struct {
	client API
	table  string
	now    func() time.Time
}

var _ cache.Store = (*Store)(nil)

// Open builds a client from the default AWS credential chain.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Table == "" {
		return nil, ValidationError{Reason: "missing table"}
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, cfg.Table)
}

// New wraps an existing client.
func New(client API, table string) (*Store, error) {
	if client == nil {
		return nil, ValidationError{Reason: "nil client"}
	}
	if table == "" {
		return nil, ValidationError{Reason: "missing table"}
	}
	return &Store{client: client, table: table, now: time.Now}, nil
}

func (s *Store) key(k string) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.Marshal(k)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{keyAttribute: av}, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	av, err := attributevalue.MarshalMap(item{
		Key:       key,
		Response:  value,
		UpdatedAt: s.now().UTC().Unix(),
	})
	if err != nil {
		return fmt.Errorf("dynamodb: marshal: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: put: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := s.key(key)
	if err != nil {
		return nil, fmt.Errorf("dynamodb: marshal key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            k,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb: get: %w", err)
	}
	if out.Item == nil {
		return nil, cache.ErrNotFound
	}

	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("dynamodb: unmarshal: %w", err)
	}
	if it.Response == nil {
		it.Response = []byte{}
	}
	return it.Response, nil
}

func (s *Store) Contains(ctx context.Context, key string) (bool, error) {
	k, err := s.key(key)
	if err != nil {
		return false, fmt.Errorf("dynamodb: marshal key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.table),
		Key:                  k,
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String(keyAttribute),
	})
	if err != nil {
		return false, fmt.Errorf("dynamodb: contains: %w", err)
	}
	return out.Item != nil, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	k, err := s.key(key)
	if err != nil {
		return fmt.Errorf("dynamodb: marshal key: %w", err)
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       k,
	})
	if err != nil {
		return fmt.Errorf("dynamodb: remove: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }
