package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func attr(name string) types.AttributeDefinition {
	return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
}

func keySchema(hash, rangeKey string) []types.KeySchemaElement {
	schema := []types.KeySchemaElement{{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash}}
	if rangeKey != "" {
		schema = append(schema, types.KeySchemaElement{AttributeName: aws.String(rangeKey), KeyType: types.KeyTypeRange})
	}
	return schema
}

func gsi(name, hash, rangeKey string) types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName:  aws.String(name),
		KeySchema:  keySchema(hash, rangeKey),
		Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
	}
}

// tableDefinitions returns the CreateTable input for every table the store uses.
func (s *Store) tableDefinitions() []*dynamodb.CreateTableInput {
	table := func(name string, attrs []types.AttributeDefinition, schema []types.KeySchemaElement, indexes ...types.GlobalSecondaryIndex) *dynamodb.CreateTableInput {
		input := &dynamodb.CreateTableInput{
			TableName:            aws.String(name),
			AttributeDefinitions: attrs,
			KeySchema:            schema,
			BillingMode:          types.BillingModePayPerRequest,
		}
		if len(indexes) > 0 {
			input.GlobalSecondaryIndexes = indexes
		}
		return input
	}

	return []*dynamodb.CreateTableInput{
		table(s.tables.users, []types.AttributeDefinition{attr("id")}, keySchema("id", "")),
		table(s.tables.sessions, []types.AttributeDefinition{attr("token")}, keySchema("token", "")),
		table(s.tables.groups, []types.AttributeDefinition{attr("id")}, keySchema("id", "")),
		table(s.tables.groupMembers,
			[]types.AttributeDefinition{attr("groupId"), attr("userId")},
			keySchema("groupId", "userId"),
			gsi(userIndex, "userId", "groupId")),
		table(s.tables.videos, []types.AttributeDefinition{attr("id")}, keySchema("id", "")),
		table(s.tables.groupVideos,
			[]types.AttributeDefinition{attr("groupId"), attr("sk")},
			keySchema("groupId", "sk")),
		table(s.tables.invitations,
			[]types.AttributeDefinition{attr("id"), attr("email"), attr("status")},
			keySchema("id", ""),
			gsi(emailStatusIndex, "email", "status")),
	}
}

// EnsureTables creates any missing table. Tables that already exist are left alone.
func (s *Store) EnsureTables(ctx context.Context) ([]string, error) {
	var created []string
	for _, input := range s.tableDefinitions() {
		_, err := s.api.CreateTable(ctx, input)
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create table %s: %w", aws.ToString(input.TableName), err)
		}
		created = append(created, aws.ToString(input.TableName))
	}
	return created, nil
}
