package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/glimpse/backend/internal/auth"
)

// Sessions implements auth.SessionStore.
type Sessions struct{ s *Store }

func (s *Sessions) Save(ctx context.Context, session auth.Session) error {
	item, err := attributevalue.MarshalMap(sessionRecord{
		Token:     session.Token,
		Kind:      string(session.Kind),
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt.UTC(),
		TTL:       session.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.s.api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(s.s.tables.sessions), Item: item})
	return translate("put session", err)
}

func (s *Sessions) Find(ctx context.Context, token string) (auth.Session, error) {
	out, err := s.s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.s.tables.sessions),
		Key:            stringKey("token", token),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return auth.Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(out.Item) == 0 {
		return auth.Session{}, auth.ErrSessionNotFound
	}
	var record sessionRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return auth.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return auth.Session{
		Token:     record.Token,
		Kind:      auth.SessionKind(record.Kind),
		UserID:    record.UserID,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *Sessions) Delete(ctx context.Context, token string) error {
	out, err := s.s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.s.tables.sessions),
		Key:          stringKey("token", token),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if len(out.Attributes) == 0 {
		return auth.ErrSessionNotFound
	}
	return nil
}

var _ auth.SessionStore = (*Sessions)(nil)
