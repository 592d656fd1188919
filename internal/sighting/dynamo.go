package sighting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/onnwee/smartplant/internal/tracing"
)

// OwnerIndexName is the global secondary index used by ListByOwner.
const OwnerIndexName = "owner_id-created_at-index"

// DynamoAPI is the subset of the DynamoDB client used by DynamoRepository.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// imageKeyItem reserves an object key in the key table.
type imageKeyItem struct {
	ImageKey   string `dynamodbav:"image_key"`
	SightingID string `dynamodbav:"sighting_id"`
}

// DynamoRepository implements Repository on DynamoDB. Sightings live in
// table keyed by id; keyTable holds one guard item per image key so the
// uniqueness of both can be enforced in a single transaction.
type DynamoRepository struct {
	client   DynamoAPI
	table    string
	keyTable string
}

// NewDynamoRepository creates a DynamoDB-backed sighting repository.
func NewDynamoRepository(client DynamoAPI, table, keyTable string) *DynamoRepository {
	return &DynamoRepository{client: client, table: table, keyTable: keyTable}
}

func idKey(id string) map[string]dynamodbtypes.AttributeValue {
	return map[string]dynamodbtypes.AttributeValue{
		"id": &dynamodbtypes.AttributeValueMemberS{Value: id},
	}
}

// Create writes the sighting and its image-key guard atomically.
func (r *DynamoRepository) Create(ctx context.Context, s *Sighting) (err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, tracing.SystemDynamoDB, r.table, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return fmt.Errorf("failed to marshal sighting: %w", err)
	}
	guard, err := attributevalue.MarshalMap(imageKeyItem{ImageKey: s.ImageKey, SightingID: s.ID})
	if err != nil {
		return fmt.Errorf("failed to marshal image key guard: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []dynamodbtypes.TransactWriteItem{
			{Put: &dynamodbtypes.Put{
				TableName:           aws.String(r.table),
				Item:                item,
				ConditionExpression: aws.String("attribute_not_exists(id)"),
			}},
			{Put: &dynamodbtypes.Put{
				TableName:           aws.String(r.keyTable),
				Item:                guard,
				ConditionExpression: aws.String("attribute_not_exists(image_key)"),
			}},
		},
	})
	if err != nil {
		var canceled *dynamodbtypes.TransactionCanceledException
		if errors.As(err, &canceled) && hasConditionalFailure(canceled) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create sighting: %w", err)
	}
	return nil
}

func hasConditionalFailure(e *dynamodbtypes.TransactionCanceledException) bool {
	for _, reason := range e.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
}

// Get reads a sighting by id.
func (r *DynamoRepository) Get(ctx context.Context, id string) (s *Sighting, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, tracing.SystemDynamoDB, r.table, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       idKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sighting: %w", err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	s = &Sighting{}
	if err := attributevalue.UnmarshalMap(out.Item, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sighting: %w", err)
	}
	return s, nil
}

// SetMasked updates the mask flag with attribute_exists(id) as the condition.
func (r *DynamoRepository) SetMasked(ctx context.Context, id string, enabled bool, at time.Time) (s *Sighting, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, tracing.SystemDynamoDB, r.table, tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	updatedAt, err := attributevalue.Marshal(at)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal updated_at: %w", err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
		UpdateExpression:    aws.String("SET is_masked = :m, updated_at = :u"),
		ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
			":m": &dynamodbtypes.AttributeValueMemberBOOL{Value: enabled},
			":u": updatedAt,
		},
		ReturnValues: dynamodbtypes.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update sighting mask: %w", err)
	}

	s = &Sighting{}
	if err := attributevalue.UnmarshalMap(out.Attributes, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sighting: %w", err)
	}
	return s, nil
}

// Scan pages through the whole sightings table.
func (r *DynamoRepository) Scan(ctx context.Context) (items []*Sighting, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, tracing.SystemDynamoDB, r.table, tracing.DBOperationScan)
	defer func() { endSpan(err) }()

	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		input := &dynamodb.ScanInput{TableName: aws.String(r.table)}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sightings: %w", err)
		}

		page, err := unmarshalSightings(out.Items)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)

		lastEvaluatedKey = out.LastEvaluatedKey
		if len(lastEvaluatedKey) == 0 {
			break
		}
	}
	return items, nil
}

// ListByOwner queries the owner index, following pagination.
func (r *DynamoRepository) ListByOwner(ctx context.Context, ownerID string) (items []*Sighting, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, tracing.SystemDynamoDB, r.table, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var lastEvaluatedKey map[string]dynamodbtypes.AttributeValue
	for {
		input := &dynamodb.QueryInput{
			TableName:              aws.String(r.table),
			IndexName:              aws.String(OwnerIndexName),
			KeyConditionExpression: aws.String("owner_id = :o"),
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":o": &dynamodbtypes.AttributeValueMemberS{Value: ownerID},
			},
			ScanIndexForward: aws.Bool(false),
		}
		if lastEvaluatedKey != nil {
			input.ExclusiveStartKey = lastEvaluatedKey
		}

		out, err := r.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query sightings by owner: %w", err)
		}

		page, err := unmarshalSightings(out.Items)
		if err != nil {
			return nil, err
		}
		items = append(items, page...)

		lastEvaluatedKey = out.LastEvaluatedKey
		if len(lastEvaluatedKey) == 0 {
			break
		}
	}
	return items, nil
}

// ExistsByImageKey checks the key table for a guard item.
func (r *DynamoRepository) ExistsByImageKey(ctx context.Context, key string) (ok bool, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, tracing.SystemDynamoDB, r.keyTable, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.keyTable),
		Key: map[string]dynamodbtypes.AttributeValue{
			"image_key": &dynamodbtypes.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up image key: %w", err)
	}
	return out.Item != nil, nil
}

func unmarshalSightings(raw []map[string]dynamodbtypes.AttributeValue) ([]*Sighting, error) {
	out := make([]*Sighting, 0, len(raw))
	for _, item := range raw {
		s := &Sighting{}
		if err := attributevalue.UnmarshalMap(item, s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sighting: %w", err)
		}
		out = append(out, s)
	}
	return out, nil
}
