package tablet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/lakehouse-go/deltawriter/model"
)

// ErrConcurrentCommit is returned by DDBCommitSink.PutTxnLog when another
// writer committed a transaction log for the same tablet between this
// writer's read of the latest version and its own commit attempt.
var ErrConcurrentCommit = errors.New("tablet: concurrent transaction log commit detected")

// DDBClient is the subset of the DynamoDB API a commit sink needs,
// narrowed so tests can supply an in-memory fake.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCommitSink commits transaction logs to a DynamoDB table using
// conditional writes for atomicity, the same commit-log technique the
// teacher's blobstore/s3.DDBCommitStore uses for manifest CURRENT
// pointers, applied here to tablet transaction logs instead of vector
// index manifests.
//
// Every write is conditioned on the target version not already
// existing, so two writers racing to commit the same tablet's next
// version can never both succeed; the loser's PutTxnLog returns
// ErrConcurrentCommit. Table schema:
//
//	Partition key: tablet_id (N)
//	Sort key:      version (N)
//
// Create with:
//
//	aws dynamodb create-table \
//	  --table-name deltawriter-txnlogs \
//	  --attribute-definitions AttributeName=tablet_id,AttributeType=N AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=tablet_id,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitSink struct {
	client    DDBClient
	tableName string
}

// NewDDBCommitSink creates a commit sink against tableName.
func NewDDBCommitSink(client DDBClient, tableName string) *DDBCommitSink {
	return &DDBCommitSink{client: client, tableName: tableName}
}

// PutTxnLog implements Handle's commit-point contract: it queries the
// latest committed version for the log's tablet, then attempts a
// conditional put at version+1. A condition failure means a concurrent
// committer won the race.
func (s *DDBCommitSink) PutTxnLog(ctx context.Context, log model.TxnLog) error {
	currentVersion, err := s.latestVersion(ctx, log.TabletID)
	if err != nil {
		return err
	}
	newVersion := currentVersion + 1

	payload, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("tablet: marshal txn log: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"tablet_id": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", log.TabletID)},
			"version":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", newVersion)},
			"txn_id":    &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", log.TxnID)},
			"txn_log":   &types.AttributeValueMemberS{Value: string(payload)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("tablet: commit txn log to dynamodb: %w", err)
	}
	return nil
}

func (s *DDBCommitSink) latestVersion(ctx context.Context, tabletID model.TabletID) (int64, error) {
	resp, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("tablet_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", tabletID)},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("tablet: query dynamodb: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, nil
	}

	versionAttr, ok := resp.Items[0]["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("tablet: invalid version attribute in dynamodb item")
	}
	var version int64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, fmt.Errorf("tablet: parse version: %w", err)
	}
	return version, nil
}
