package dynamodb_store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/eser/ajan/logfx"
)

type Store struct {
	Config *Config
	logger *logfx.Logger
	client *dynamodb.Client
}

func New(cfg *Config, logger *logfx.Logger) *Store {
	return &Store{Config: cfg, logger: logger}
}

func (s *Store) Init(ctx context.Context) error {
	var cfgOptions []func(*config.LoadOptions) error
	var ddbClientOptions []func(*dynamodb.Options)

	if s.Config.ConnectionEndpoint != "" {
		ddbClientOptions = append(ddbClientOptions, dynamodb.WithEndpointResolverV2(NewEndpointResolver(s.Config.ConnectionEndpoint)))
	}

	if s.Config.ConnectionProfile != "" {
		cfgOptions = append(cfgOptions, config.WithSharedConfigProfile(s.Config.ConnectionProfile))
	}

	if s.Config.ConnectionRegion != "" {
		cfgOptions = append(cfgOptions, config.WithRegion(s.Config.ConnectionRegion))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, cfgOptions...)
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"[DynamoDbStore] Unable to load SDK config for DynamoDb",
			slog.String("module", "dynamodb_store"),
			slog.Any("error", err),
		)

		return fmt.Errorf("failed to load AWS SDK config: %w", err)
	}

	s.client = dynamodb.NewFromConfig(sdkConfig, ddbClientOptions...)

	s.logger.InfoContext(
		ctx,
		"[DynamoDbStore] DynamoDb Store initialized",
		slog.String("module", "dynamodb_store"),
		slog.String("region", s.Config.ConnectionRegion),
		slog.String("endpoint", s.Config.ConnectionEndpoint),
	)

	return nil
}

// EnsureTableExists creates tableName with a string hash key when it is
// missing and waits until it is active.
func (s *Store) EnsureTableExists(ctx context.Context, tableName string, primaryKeyAttributeName string) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err == nil {
		return nil
	}

	var notFoundEx *types.ResourceNotFoundException
	if !errors.As(err, &notFoundEx) {
		return fmt.Errorf("failed to describe table %s: %w", tableName, err)
	}

	s.logger.InfoContext(
		ctx,
		"[DynamoDbStore] Table not found, creating table",
		slog.String("module", "dynamodb_store"),
		slog.String("table_name", tableName),
		slog.String("primary_key", primaryKeyAttributeName),
	)

	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(primaryKeyAttributeName), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(primaryKeyAttributeName), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", tableName, err)
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)

	err = waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, s.Config.GetTableCreationTimeout())
	if err != nil {
		return fmt.Errorf("error waiting for table %s to exist: %w", tableName, err)
	}

	s.logger.InfoContext(ctx, "[DynamoDbStore] Table created and active", slog.String("module", "dynamodb_store"), slog.String("table_name", tableName))

	return nil
}

// ListItems scans every page of tableName into out, which must point to a
// slice.
func (s *Store) ListItems(ctx context.Context, tableName string, out any) error {
	var items []map[string]types.AttributeValue

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(tableName),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			s.logger.ErrorContext(
				ctx,
				"[DynamoDbStore] Failed to scan table",
				slog.String("module", "dynamodb_store"),
				slog.String("table_name", tableName),
				slog.Any("error", err),
			)

			return fmt.Errorf("dynamodb.Scan failed for table %s: %w", tableName, err)
		}

		items = append(items, page.Items...)
	}

	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("attributevalue.UnmarshalListOfMaps failed for table %s: %w", tableName, err)
	}

	return nil
}

// GetItem loads the item whose string key fieldName equals fieldValue into out.
// It reports false when no such item exists.
func (s *Store) GetItem(ctx context.Context, tableName string, fieldName string, fieldValue string, out any) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			fieldName: &types.AttributeValueMemberS{Value: fieldValue},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"[DynamoDbStore] Failed to get item",
			slog.String("module", "dynamodb_store"),
			slog.String("table_name", tableName),
			slog.String(fieldName, fieldValue),
			slog.Any("error", err),
		)

		return false, fmt.Errorf("dynamodb.GetItem failed for %s: %w", fieldValue, err)
	}

	if result.Item == nil {
		return false, nil
	}

	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("attributevalue.UnmarshalMap failed for %s: %w", fieldValue, err)
	}

	return true, nil
}

func (s *Store) UpsertItem(ctx context.Context, tableName string, item any) error {
	itemMap, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("attributevalue.MarshalMap failed for item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      itemMap,
	})
	if err != nil {
		s.logger.ErrorContext(
			ctx,
			"[DynamoDbStore] Failed to upsert item",
			slog.String("module", "dynamodb_store"),
			slog.String("table_name", tableName),
			slog.Any("error", err),
		)

		return fmt.Errorf("dynamodb.PutItem failed for table %s: %w", tableName, err)
	}

	return nil
}

func (s *Store) DeleteItem(ctx context.Context, tableName string, fieldName string, fieldValue string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(tableName),
		Key: map[string]types.AttributeValue{
			fieldName: &types.AttributeValueMemberS{Value: fieldValue},
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb.DeleteItem failed for %s: %w", fieldValue, err)
	}

	return nil
}
