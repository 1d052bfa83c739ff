package logstore

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoStore writes entries to a DynamoDB table through a circuit breaker so
// an unavailable table does not stall message handling.
type DynamoStore struct {
	Table string
	TTL   time.Duration

	client  DynamoAPI
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewDynamoClient builds a DynamoDB client from the default credential chain.
func NewDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// NewDynamoStore creates a store writing to table. A positive ttl sets
// expires_at on every entry.
func NewDynamoStore(table string, ttl time.Duration, client DynamoAPI, logger zerolog.Logger) *DynamoStore {
	s := &DynamoStore{
		Table:  table,
		TTL:    ttl,
		client: client,
		logger: logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dynamodb-log-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Log store breaker state changed")
		},
	})
	return s
}

func (s *DynamoStore) Append(ctx context.Context, e Entry) error {
	if s.TTL > 0 && e.ExpiresAt == 0 {
		e.ExpiresAt = time.UnixMilli(e.Timestamp).Add(s.TTL).Unix()
	}

	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.client.PutItem(reqCtx, &dynamodb.PutItemInput{
			TableName: aws.String(s.Table),
			Item:      item,
		})
	})
	if err != nil {
		return fmt.Errorf("put log entry for %s: %w", e.DeviceID, err)
	}
	return nil
}

func (s *DynamoStore) Close() error { return nil }
