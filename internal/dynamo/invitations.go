package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/glimpse/backend/internal/models"
	"github.com/glimpse/backend/internal/repositories"
)

// Invitations implements repositories.InvitationRepository. Every transition
// is conditioned on the stored status still being pending.
type Invitations struct{ s *Store }

func (i *Invitations) Create(ctx context.Context, invitation models.Invitation) error {
	item, err := attributevalue.MarshalMap(newInvitationRecord(invitation))
	if err != nil {
		return fmt.Errorf("marshal invitation: %w", err)
	}
	_, err = i.s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(i.s.tables.invitations),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	return translate("put invitation", err)
}

func (i *Invitations) FindByID(ctx context.Context, id string) (models.Invitation, error) {
	out, err := i.s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(i.s.tables.invitations),
		Key:            stringKey("id", id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.Invitation{}, fmt.Errorf("get invitation: %w", err)
	}
	if len(out.Item) == 0 {
		return models.Invitation{}, repositories.ErrNotFound
	}
	return decodeInvitation(out.Item)
}

func invitationID(item map[string]types.AttributeValue) string {
	if v, ok := item["id"].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func decodeInvitation(item map[string]types.AttributeValue) (models.Invitation, error) {
	var record invitationRecord
	if err := attributevalue.UnmarshalMap(item, &record); err != nil {
		return models.Invitation{}, fmt.Errorf("unmarshal invitation: %v: %w", err, repositories.ErrMalformed)
	}
	invitation, err := record.model()
	if err != nil {
		return models.Invitation{}, fmt.Errorf("%v: %w", err, repositories.ErrMalformed)
	}
	return invitation, nil
}

func (i *Invitations) ListPendingByEmail(ctx context.Context, email string) ([]models.Invitation, error) {
	paginator := dynamodb.NewQueryPaginator(i.s.api, &dynamodb.QueryInput{
		TableName:              aws.String(i.s.tables.invitations),
		IndexName:              aws.String(emailStatusIndex),
		KeyConditionExpression: aws.String("email = :e AND #status = :pending"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e":       str(email),
			":pending": str(string(models.InvitationPending)),
		},
	})

	invitations := []models.Invitation{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query invitations: %w", err)
		}
		for _, item := range page.Items {
			invitation, err := decodeInvitation(item)
			if err != nil {
				repositories.Quarantine(ctx, "invitation", invitationID(item), err)
				continue
			}
			invitations = append(invitations, invitation)
		}
	}
	sort.Slice(invitations, func(a, b int) bool {
		if !invitations[a].CreatedAt.Equal(invitations[b].CreatedAt) {
			return invitations[a].CreatedAt.Before(invitations[b].CreatedAt)
		}
		return invitations[a].ID < invitations[b].ID
	})
	return invitations, nil
}

// transition applies update to a pending invitation and returns the new image.
func (i *Invitations) transition(ctx context.Context, id, update string, names map[string]string, values map[string]types.AttributeValue) (models.Invitation, error) {
	names["#status"] = "status"
	values[":pending"] = str(string(models.InvitationPending))
	out, err := i.s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(i.s.tables.invitations),
		Key:                                 stringKey("id", id),
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String("attribute_exists(id) AND #status = :pending"),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if old, failed := conditionFailed(err); failed {
		if len(old) == 0 {
			return models.Invitation{}, fmt.Errorf("invitation %s: %w", id, repositories.ErrNotFound)
		}
		return models.Invitation{}, fmt.Errorf("invitation %s: %w", id, repositories.ErrConflict)
	}
	if err != nil {
		return models.Invitation{}, fmt.Errorf("update invitation: %w", err)
	}
	return decodeInvitation(out.Attributes)
}

func timeValue(at time.Time) (types.AttributeValue, error) {
	return attributevalue.Marshal(at)
}

func (i *Invitations) Decline(ctx context.Context, id string, at time.Time) (models.Invitation, error) {
	respondedAt, err := timeValue(at)
	if err != nil {
		return models.Invitation{}, err
	}
	return i.transition(ctx, id, "SET #status = :declined, respondedAt = :at", map[string]string{}, map[string]types.AttributeValue{
		":declined": str(string(models.InvitationDeclined)),
		":at":       respondedAt,
	})
}

func (i *Invitations) MarkFailed(ctx context.Context, id, message string, at time.Time) error {
	respondedAt, err := timeValue(at)
	if err != nil {
		return err
	}
	_, err = i.transition(ctx, id, "SET #status = :failed, #message = :message, respondedAt = :at", map[string]string{"#message": "message"}, map[string]types.AttributeValue{
		":failed":  str(string(models.InvitationError)),
		":message": str(message),
		":at":      respondedAt,
	})
	return err
}

// Accept commits the invitation update, the membership map entry and the
// group_members row in one TransactWriteItems call. An existing member keeps
// their role and join time.
func (i *Invitations) Accept(ctx context.Context, id, userID string, at time.Time) (models.Invitation, models.Group, error) {
	invitation, err := i.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Invitation{}, models.Group{}, fmt.Errorf("invitation %s: %w", id, repositories.ErrNotFound)
		}
		return models.Invitation{}, models.Group{}, err
	}
	if invitation.Status != models.InvitationPending {
		return models.Invitation{}, models.Group{}, fmt.Errorf("invitation %s is %s: %w", id, invitation.Status, repositories.ErrConflict)
	}

	group, err := i.s.Groups.find(ctx, invitation.GroupID, true)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Invitation{}, models.Group{}, fmt.Errorf("invitation %s: %w", id, repositories.ErrGroupNotFound)
		}
		return models.Invitation{}, models.Group{}, err
	}

	membership, exists := group.Members[userID]
	if !exists {
		membership = models.Membership{Role: models.RoleMember, JoinedAt: at}
	}
	member, err := attributevalue.Marshal(memberRecord{Role: membership.Role, JoinedAt: membership.JoinedAt})
	if err != nil {
		return models.Invitation{}, models.Group{}, fmt.Errorf("marshal member: %w", err)
	}
	atValue, err := timeValue(at)
	if err != nil {
		return models.Invitation{}, models.Group{}, err
	}
	joinedAt, err := timeValue(membership.JoinedAt)
	if err != nil {
		return models.Invitation{}, models.Group{}, err
	}

	_, err = i.s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Update: &types.Update{
				TableName:                aws.String(i.s.tables.invitations),
				Key:                      stringKey("id", id),
				UpdateExpression:         aws.String("SET #status = :accepted, respondedAt = :at"),
				ConditionExpression:      aws.String("#status = :pending"),
				ExpressionAttributeNames: map[string]string{"#status": "status"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":accepted": str(string(models.InvitationAccepted)),
					":pending":  str(string(models.InvitationPending)),
					":at":       atValue,
				},
			}},
			{Update: &types.Update{
				TableName:                aws.String(i.s.tables.groups),
				Key:                      stringKey("id", group.ID),
				UpdateExpression:         aws.String("SET members.#uid = if_not_exists(members.#uid, :m)"),
				ConditionExpression:      aws.String("attribute_exists(id)"),
				ExpressionAttributeNames: map[string]string{"#uid": userID},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":m": member,
				},
			}},
			{Update: &types.Update{
				TableName: aws.String(i.s.tables.groupMembers),
				Key: map[string]types.AttributeValue{
					"groupId": str(group.ID),
					"userId":  str(userID),
				},
				UpdateExpression:         aws.String("SET #role = if_not_exists(#role, :role), joinedAt = if_not_exists(joinedAt, :joined)"),
				ExpressionAttributeNames: map[string]string{"#role": "role"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":role":   str(membership.Role),
					":joined": joinedAt,
				},
			}},
		},
	})
	if failed, cancelled := cancelledAt(err); cancelled {
		switch {
		case failed[0]:
			return models.Invitation{}, models.Group{}, fmt.Errorf("invitation %s: %w", id, repositories.ErrConflict)
		case failed[1]:
			return models.Invitation{}, models.Group{}, fmt.Errorf("invitation %s: %w", id, repositories.ErrGroupNotFound)
		}
	}
	if err != nil {
		return models.Invitation{}, models.Group{}, fmt.Errorf("accept invitation: %w", err)
	}

	group.Members[userID] = membership
	invitation.Status = models.InvitationAccepted
	invitation.RespondedAt = &at
	return invitation, group, nil
}

var _ repositories.InvitationRepository = (*Invitations)(nil)
