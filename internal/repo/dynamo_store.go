package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/funcx-faas/action-provider/internal/domain"
)

// DynamoAPI DynamoStore 用到的 dynamodb.Client 子集
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const (
	// 已过期但尚未被 DynamoDB TTL 清理的条目可以被覆盖
	dynamoCreateCondition = "attribute_not_exists(group_id) OR #ttl <= :now"
	dynamoPutCondition    = "#v = :expected"
)

// DynamoStore 表主键为 group_id，ttl 属性配置为表的 TTL 字段
type DynamoStore struct {
	api    DynamoAPI
	table  string
	opts   Options
	logger *slog.Logger
}

func NewDynamoStore(api DynamoAPI, table string, opts Options) *DynamoStore {
	return &DynamoStore{
		api:    api,
		table:  table,
		opts:   opts.withDefaults(),
		logger: slog.Default().With("component", "repo.dynamodb"),
	}
}

func (s *DynamoStore) item(g *domain.TaskGroup, version int64) (map[string]types.AttributeValue, error) {
	body, err := encodeGroup(g)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{
		"group_id":   &types.AttributeValueMemberS{Value: g.GroupID},
		"creator_id": &types.AttributeValueMemberS{Value: g.CreatorID},
		"version":    numberAttr(version),
		"body":       &types.AttributeValueMemberS{Value: string(body)},
		"ttl":        numberAttr(g.ExpiresAt.Unix()),
	}, nil
}

func (s *DynamoStore) Create(ctx context.Context, g *domain.TaskGroup) error {
	now := s.opts.Now()
	g.ExpiresAt = now.Add(s.opts.TTL).UTC()
	item, err := s.item(g, 1)
	if err != nil {
		return err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       aws.String(dynamoCreateCondition),
		ExpressionAttributeNames:  map[string]string{"#ttl": "ttl"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": numberAttr(now.Unix())},
	})
	if err != nil {
		if isConditionFailed(err) {
			return duplicate(g.GroupID)
		}
		return fmt.Errorf("create task group %s: %w", g.GroupID, err)
	}
	g.Version = 1
	return nil
}

func (s *DynamoStore) Get(ctx context.Context, groupID string) (*domain.TaskGroup, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            map[string]types.AttributeValue{"group_id": &types.AttributeValueMemberS{Value: groupID}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get task group %s: %w", groupID, err)
	}
	if len(out.Item) == 0 {
		return nil, notFound(groupID)
	}
	ttl, err := numberValue(out.Item, "ttl")
	if err != nil {
		return nil, fmt.Errorf("task group %s: %w", groupID, err)
	}
	version, err := numberValue(out.Item, "version")
	if err != nil {
		return nil, fmt.Errorf("task group %s: %w", groupID, err)
	}
	body, ok := out.Item["body"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("task group %s: body attribute missing", groupID)
	}
	// TTL 删除是异步的，读时自己过滤
	return decodeLive(groupID, []byte(body.Value), version, time.Unix(ttl, 0), s.opts.Now())
}

func (s *DynamoStore) Put(ctx context.Context, g *domain.TaskGroup) error {
	prev := g.ExpiresAt
	g.ExpiresAt = s.opts.expiry()
	item, err := s.item(g, g.Version+1)
	if err != nil {
		g.ExpiresAt = prev
		return err
	}
	_, err = s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.table),
		Item:                      item,
		ConditionExpression:       aws.String(dynamoPutCondition),
		ExpressionAttributeNames:  map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":expected": numberAttr(g.Version)},
	})
	if err != nil {
		g.ExpiresAt = prev
		if isConditionFailed(err) {
			return versionConflict(g.GroupID, g.Version)
		}
		return fmt.Errorf("update task group %s: %w", g.GroupID, err)
	}
	g.Version++
	return nil
}

func (s *DynamoStore) Delete(ctx context.Context, groupID string) error {
	out, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(s.table),
		Key:          map[string]types.AttributeValue{"group_id": &types.AttributeValueMemberS{Value: groupID}},
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return fmt.Errorf("delete task group %s: %w", groupID, err)
	}
	if len(out.Attributes) == 0 {
		s.logger.Warn("attempted to delete unknown task group", "group_id", groupID)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func numberAttr(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func numberValue(item map[string]types.AttributeValue, name string) (int64, error) {
	n, ok := item[name].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s missing", name)
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", name, err)
	}
	return v, nil
}
