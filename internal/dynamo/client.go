// Package dynamo implements the repositories on Amazon DynamoDB.
package dynamo

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/glimpse/backend/internal/repositories"
)

// API is the subset of the DynamoDB client used by the store.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// NewClient loads the default AWS configuration for region. A non-empty
// endpoint overrides the service URL, which is how DynamoDB Local is reached.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

type tableNames struct {
	users        string
	sessions     string
	groups       string
	groupMembers string
	videos       string
	groupVideos  string
	invitations  string
}

func newTableNames(prefix string) tableNames {
	return tableNames{
		users:        prefix + "users",
		sessions:     prefix + "sessions",
		groups:       prefix + "groups",
		groupMembers: prefix + "group_members",
		videos:       prefix + "videos",
		groupVideos:  prefix + "group_videos",
		invitations:  prefix + "invitations",
	}
}

const (
	userIndex        = "user-index"
	emailStatusIndex = "email-status-index"
)

// Store groups the DynamoDB-backed repositories.
type Store struct {
	api    API
	tables tableNames

	Users       *Users
	Groups      *Groups
	Videos      *Videos
	Invitations *Invitations
	Sessions    *Sessions
}

// New builds a store over api. Every table name is prefixed with tablePrefix.
func New(api API, tablePrefix string) *Store {
	s := &Store{api: api, tables: newTableNames(tablePrefix)}
	s.Users = &Users{s: s}
	s.Groups = &Groups{s: s}
	s.Videos = &Videos{s: s}
	s.Invitations = &Invitations{s: s}
	s.Sessions = &Sessions{s: s}
	return s
}

func stringKey(name, value string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{name: &types.AttributeValueMemberS{Value: value}}
}

func str(value string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: value}
}

// conditionFailed reports whether err is a failed condition expression and
// returns the item DynamoDB attached to the failure, if any.
func conditionFailed(err error) (map[string]types.AttributeValue, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf.Item, true
	}
	return nil, false
}

// cancelledAt returns the indexes of transaction items whose condition failed.
func cancelledAt(err error) (map[int]bool, bool) {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return nil, false
	}
	failed := make(map[int]bool)
	for i, reason := range tce.CancellationReasons {
		if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
			failed[i] = true
		}
	}
	return failed, true
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := conditionFailed(err); ok {
		return fmt.Errorf("%s: %w", op, repositories.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
