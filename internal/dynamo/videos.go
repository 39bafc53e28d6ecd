package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
)

// Videos implements repositories.VideoRepository. Each video is written once
// to the videos table and once per target group to group_videos.
type Videos struct{ s *Store }

func (v *Videos) Create(ctx context.Context, video models.Video) error {
	record := newVideoRecord(video)
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal video: %w", err)
	}
	writes := []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String(v.s.tables.videos), Item: item, ConditionExpression: aws.String("attribute_not_exists(id)")}},
	}
	for _, groupID := range video.GroupIDs {
		row, err := attributevalue.MarshalMap(groupVideoRecord{
			GroupID: groupID,
			SortKey: videoSortKey(video.CreatedAt, video.ID),
			Video:   record,
		})
		if err != nil {
			return fmt.Errorf("marshal group video: %w", err)
		}
		writes = append(writes, types.TransactWriteItem{Put: &types.Put{TableName: aws.String(v.s.tables.groupVideos), Item: row}})
	}

	_, err = v.s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if failed, cancelled := cancelledAt(err); cancelled && failed[0] {
		return repositories.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("put video: %w", err)
	}
	return nil
}

func (v *Videos) ListForGroup(ctx context.Context, groupID string, limit int) ([]models.Video, error) {
	videos := []models.Video{}
	if limit <= 0 {
		return videos, nil
	}
	out, err := v.s.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(v.s.tables.groupVideos),
		KeyConditionExpression: aws.String("groupId = :g"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g": str(groupID),
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("query group videos: %w", err)
	}

	var rows []groupVideoRecord
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal group videos: %w", err)
	}
	for _, row := range rows {
		video, err := row.Video.model()
		if err != nil {
			repositories.Quarantine(ctx, "video", row.Video.ID, err)
			continue
		}
		videos = append(videos, video)
	}
	return videos, nil
}

var _ repositories.VideoRepository = (*Videos)(nil)
