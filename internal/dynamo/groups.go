package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
)

// Groups implements repositories.GroupRepository. The group_members table
// mirrors the membership map and carries a user-index for reverse lookups.
type Groups struct{ s *Store }

func (g *Groups) Create(ctx context.Context, group models.Group) error {
	item, err := attributevalue.MarshalMap(newGroupRecord(group))
	if err != nil {
		return fmt.Errorf("marshal group: %w", err)
	}
	writes := []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String(g.s.tables.groups), Item: item, ConditionExpression: aws.String("attribute_not_exists(id)")}},
	}
	for userID, m := range group.Members {
		row, err := attributevalue.MarshalMap(groupMemberRecord{GroupID: group.ID, UserID: userID, Role: m.Role, JoinedAt: m.JoinedAt})
		if err != nil {
			return fmt.Errorf("marshal group member: %w", err)
		}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(g.s.tables.groupMembers), Item: row}})
	}

	_, err = g.s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if failed, cancelled := cancelledAt(err); cancelled && failed[0] {
		return repositories.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("put group: %w", err)
	}
	return nil
}

func (g *Groups) FindByID(ctx context.Context, id string) (models.Group, error) {
	return g.find(ctx, id, false)
}

func (g *Groups) find(ctx context.Context, id string, consistent bool) (models.Group, error) {
	out, err := g.s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(g.s.tables.groups),
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return models.Group{}, fmt.Errorf("get group: %w", err)
	}
	if len(out.Item) == 0 {
		return models.Group{}, repositories.ErrNotFound
	}
	var record groupRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return models.Group{}, fmt.Errorf("group %s: %v: %w", id, err, repositories.ErrMalformed)
	}
	group, err := record.model()
	if err != nil {
		return models.Group{}, fmt.Errorf("%v: %w", err, repositories.ErrMalformed)
	}
	return group, nil
}

func (g *Groups) ListIDsForMember(ctx context.Context, userID string) ([]string, error) {
	paginator := dynamodb.NewQueryPaginator(g.s.api, &dynamodb.QueryInput{
		TableName:              aws.String(g.s.tables.groupMembers),
		IndexName:              aws.String(userIndex),
		KeyConditionExpression: aws.String("userId = :u"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":u": str(userID),
		},
	})

	var rows []groupMemberRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query group members: %w", err)
		}
		var batch []groupMemberRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal group members: %w", err)
		}
		rows = append(rows, batch...)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].JoinedAt.Equal(rows[j].JoinedAt) {
			return rows[i].JoinedAt.Before(rows[j].JoinedAt)
		}
		return rows[i].GroupID < rows[j].GroupID
	})
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.GroupID
	}
	return ids, nil
}

func (g *Groups) TouchActivity(ctx context.Context, groupIDs []string, at time.Time) error {
	ms := strconv.FormatInt(at.UnixMilli(), 10)
	for _, id := range groupIDs {
		_, err := g.s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(g.s.tables.groups),
			Key:                 stringKey("id", id),
			UpdateExpression:    aws.String("SET lastActivityAt = :at"),
			ConditionExpression: aws.String("attribute_exists(id) AND lastActivityAt < :at"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":at": &types.AttributeValueMemberN{Value: ms},
			},
		})
		if _, ok := conditionFailed(err); ok {
			continue
		}
		if err != nil {
			return fmt.Errorf("touch group %s: %w", id, err)
		}
	}
	return nil
}

var _ repositories.GroupRepository = (*Groups)(nil)
