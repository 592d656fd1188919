package health

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DescribeTableAPI is the part of the DynamoDB client the checker needs.
type DescribeTableAPI interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoChecker reports healthy when every configured table is ACTIVE or UPDATING.
type DynamoChecker struct {
	client DescribeTableAPI
	tables []string
}

// NewDynamoChecker creates a checker for the given tables.
func NewDynamoChecker(client DescribeTableAPI, tables ...string) *DynamoChecker {
	return &DynamoChecker{client: client, tables: tables}
}

// HealthCheck describes each table.
func (d *DynamoChecker) HealthCheck(ctx context.Context) error {
	for _, name := range d.tables {
		out, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err != nil {
			return fmt.Errorf("failed to describe table %s: %w", name, err)
		}
		if out.Table == nil {
			return fmt.Errorf("table %s: empty description", name)
		}
		switch out.Table.TableStatus {
		case types.TableStatusActive, types.TableStatusUpdating:
		default:
			return fmt.Errorf("table %s is %s", name, out.Table.TableStatus)
		}
	}
	return nil
}
