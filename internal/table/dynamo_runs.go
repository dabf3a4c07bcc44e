package table

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/partition"
)

// runIndexSK builds the tenant-partition index sort key RUN#{ts}|{runId}.
func runIndexSK(runID string, createdAt int64) string {
	return skRunPrefix + partition.RowKey(time.UnixMilli(createdAt), runID)
}

func (s *DynamoStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixMilli()
	}
	if run.Version == 0 {
		run.Version = 1
	}

	if _, err := s.putItem(ctx, runPK(run.ID), skMeta, run); err != nil {
		return fmt.Errorf("put run %s: %w", run.ID, err)
	}

	ref := RunRef{RunID: run.ID, CreatedAt: run.CreatedAt}
	if _, err := s.putItem(ctx, tenantPK(run.TenantID), runIndexSK(run.ID, run.CreatedAt), ref); err != nil {
		return fmt.Errorf("put run index %s/%s: %w", run.TenantID, run.ID, err)
	}

	log.Debug().
		Str("tenantId", run.TenantID).
		Str("runId", run.ID).
		Str("status", string(run.Status)).
		Msg("Run created")
	return nil
}

func (s *DynamoStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var run model.Run
	found, err := s.getItem(ctx, runPK(runID), skMeta, &run)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if !found {
		return nil, nil
	}

	run.ID = runID
	return &run, nil
}

func (s *DynamoStore) UpdateRunGuarded(ctx context.Context, run *model.Run, expectedVersion int64) error {
	next := *run
	next.Version = expectedVersion + 1

	item, err := attributevalue.MarshalMap(&next)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: runPK(run.ID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("version = :expected"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return fmt.Errorf("update run %s at version %d: %w", run.ID, expectedVersion, ErrVersionConflict)
		}
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}

	run.Version = next.Version
	log.Debug().
		Str("runId", run.ID).
		Int64("version", run.Version).
		Int64("turnCount", run.TurnCount).
		Str("status", string(run.Status)).
		Msg("Run aggregate updated")
	return nil
}

func (s *DynamoStore) ListRunRefs(ctx context.Context, tenantID string) ([]RunRef, error) {
	items, err := s.queryBySKPrefix(ctx, tenantPK(tenantID), skRunPrefix)
	if err != nil {
		return nil, fmt.Errorf("list runs for tenant %s: %w", tenantID, err)
	}

	refs := make([]RunRef, 0, len(items))
	for _, item := range items {
		var ref RunRef
		if err := attributevalue.UnmarshalMap(item, &ref); err != nil {
			log.Warn().Err(err).Str("tenantId", tenantID).Msg("Failed to unmarshal run index row, skipping")
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *DynamoStore) DeleteRun(ctx context.Context, tenantID, runID string, createdAt int64) error {
	if err := s.deleteItem(ctx, runPK(runID), skMeta); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	if err := s.deleteItem(ctx, tenantPK(tenantID), runIndexSK(runID, createdAt)); err != nil {
		return fmt.Errorf("delete run index %s/%s: %w", tenantID, runID, err)
	}

	log.Debug().Str("tenantId", tenantID).Str("runId", runID).Msg("Run deleted")
	return nil
}
