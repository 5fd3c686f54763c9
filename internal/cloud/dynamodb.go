package cloud

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

// DynamoDBClient mirrors submission records into a DynamoDB table keyed by
// meterId (partition) and id (sort).
type DynamoDBClient struct {
	svc   *dynamodb.Client
	table string
}

// NewDynamoDBClient creates a client for the given table.
func NewDynamoDBClient(cfg aws.Config, table string, optFns ...func(*dynamodb.Options)) *DynamoDBClient {
	return &DynamoDBClient{
		svc:   dynamodb.NewFromConfig(cfg, optFns...),
		table: table,
	}
}

// PutSubmission stores one submission record.
func (c *DynamoDBClient) PutSubmission(ctx context.Context, rec domain.SubmissionRecord) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}

	_, err = c.svc.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to put submission in DynamoDB: %w", err)
	}
	return nil
}

// MeterSubmissions returns records for one meter observed at or after since.
func (c *DynamoDBClient) MeterSubmissions(ctx context.Context, meterID string, since int64) ([]domain.SubmissionRecord, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(c.table),
		KeyConditionExpression: aws.String("meterId = :mid"),
		FilterExpression:       aws.String("observedAt >= :since"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":mid":   &types.AttributeValueMemberS{Value: meterID},
			":since": &types.AttributeValueMemberN{Value: strconv.FormatInt(since, 10)},
		},
		ScanIndexForward: aws.Bool(false),
	}

	var out []domain.SubmissionRecord
	paginator := dynamodb.NewQueryPaginator(c.svc, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}
		var recs []domain.SubmissionRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal submissions: %w", err)
		}
		out = append(out, recs...)
	}
	return out, nil
}
