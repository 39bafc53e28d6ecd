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

// Users implements repositories.UserRepository. Email uniqueness is enforced
// by a guard item written in the same transaction as the user.
type Users struct{ s *Store }

func (u *Users) Create(ctx context.Context, user models.User) error {
	item, err := attributevalue.MarshalMap(newUserRecord(user))
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	guard, err := attributevalue.MarshalMap(emailGuard{ID: emailGuardID(user.Email), UserID: user.ID})
	if err != nil {
		return fmt.Errorf("marshal email guard: %w", err)
	}

	_, err = u.s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{TableName: aws.String(u.s.tables.users), Item: item, ConditionExpression: aws.String("attribute_not_exists(id)")}},
			{Put: &types.Put{TableName: aws.String(u.s.tables.users), Item: guard, ConditionExpression: aws.String("attribute_not_exists(id)")}},
		},
	})
	if _, cancelled := cancelledAt(err); cancelled {
		return repositories.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

func (u *Users) FindByEmail(ctx context.Context, email string) (models.User, error) {
	out, err := u.s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(u.s.tables.users),
		Key:            stringKey("id", emailGuardID(email)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.User{}, fmt.Errorf("get email guard: %w", err)
	}
	if len(out.Item) == 0 {
		return models.User{}, repositories.ErrNotFound
	}
	var guard emailGuard
	if err := attributevalue.UnmarshalMap(out.Item, &guard); err != nil {
		return models.User{}, fmt.Errorf("unmarshal email guard: %w", err)
	}
	return u.FindByID(ctx, guard.UserID)
}

func (u *Users) FindByID(ctx context.Context, id string) (models.User, error) {
	out, err := u.s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(u.s.tables.users),
		Key:       stringKey("id", id),
	})
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	if len(out.Item) == 0 {
		return models.User{}, repositories.ErrNotFound
	}
	var record userRecord
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return models.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return record.model(), nil
}

// Update rewrites the user. An email change moves the guard item.
func (u *Users) Update(ctx context.Context, user models.User) error {
	current, err := u.FindByID(ctx, user.ID)
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(newUserRecord(user))
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}

	writes := []types.TransactWriteItem{
		{Put: &types.Put{TableName: aws.String(u.s.tables.users), Item: item, ConditionExpression: aws.String("attribute_exists(id)")}},
	}
	if current.Email != user.Email {
		guard, err := attributevalue.MarshalMap(emailGuard{ID: emailGuardID(user.Email), UserID: user.ID})
		if err != nil {
			return fmt.Errorf("marshal email guard: %w", err)
		}
		writes = append(writes,
			types.TransactWriteItem{Put: &types.Put{TableName: aws.String(u.s.tables.users), Item: guard, ConditionExpression: aws.String("attribute_not_exists(id)")}},
			types.TransactWriteItem{Delete: &types.Delete{TableName: aws.String(u.s.tables.users), Key: stringKey("id", emailGuardID(current.Email))}},
		)
	}

	_, err = u.s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	if failed, cancelled := cancelledAt(err); cancelled {
		if failed[0] {
			return repositories.ErrNotFound
		}
		return repositories.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

var _ repositories.UserRepository = (*Users)(nil)
