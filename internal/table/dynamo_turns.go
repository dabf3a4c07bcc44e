package table

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/model"
	"github.com/runledger/runledger/internal/partition"
)

// turnSK builds the turn sort key TURN#{ts}|{turnId}. Deterministic in the
// message contents, so a redelivered message maps to the same row.
func turnSK(turn *model.Turn) string {
	return skTurnPrefix + partition.RowKey(time.UnixMilli(turn.CreatedAt), turn.ID)
}

func (s *DynamoStore) PutTurn(ctx context.Context, turn *model.Turn) (bool, error) {
	pk := runPK(partition.RouteTurn(turn.TenantID, turn.RunID))
	sk := turnSK(turn)

	old, err := s.putItem(ctx, pk, sk, turn)
	if err != nil {
		return false, fmt.Errorf("put turn %s/%s: %w", turn.RunID, turn.ID, err)
	}
	created := len(old) == 0

	log.Debug().
		Str("runId", turn.RunID).
		Str("turnId", turn.ID).
		Str("role", turn.Role).
		Bool("created", created).
		Msg("Turn row upserted")
	return created, nil
}

func (s *DynamoStore) ListTurns(ctx context.Context, runID string) ([]model.Turn, error) {
	items, err := s.queryBySKPrefix(ctx, runPK(runID), skTurnPrefix)
	if err != nil {
		return nil, fmt.Errorf("list turns for %s: %w", runID, err)
	}

	turns := make([]model.Turn, 0, len(items))
	for _, item := range items {
		var turn model.Turn
		if err := attributevalue.UnmarshalMap(item, &turn); err != nil {
			log.Warn().Err(err).Str("runId", runID).Msg("Failed to unmarshal turn row, skipping")
			continue
		}
		turn.RunID = runID
		if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
			if _, id, err := partition.SplitRowKey(strings.TrimPrefix(skAttr.Value, skTurnPrefix)); err == nil {
				turn.ID = id
			}
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (s *DynamoStore) CountTurns(ctx context.Context, runID string) (int64, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: runPK(runID)},
			":skPrefix": &types.AttributeValueMemberS{Value: skTurnPrefix},
		},
		Select: types.SelectCount,
	}

	var count int64
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return 0, fmt.Errorf("count turns for %s: %w", runID, err)
		}
		count += int64(result.Count)

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	return count, nil
}

func (s *DynamoStore) DeleteTurns(ctx context.Context, runID string) (int, error) {
	items, err := s.queryBySKPrefix(ctx, runPK(runID), skTurnPrefix)
	if err != nil {
		return 0, fmt.Errorf("query turns for delete %s: %w", runID, err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	keys := make([]map[string]types.AttributeValue, 0, len(items))
	for _, item := range items {
		keys = append(keys, map[string]types.AttributeValue{
			"PK": item["PK"],
			"SK": item["SK"],
		})
	}

	if err := s.batchDeleteKeys(ctx, keys); err != nil {
		return 0, fmt.Errorf("batch delete turns for %s: %w", runID, err)
	}

	log.Debug().Str("runId", runID).Int("deleted", len(keys)).Msg("Turn rows deleted")
	return len(keys), nil
}
