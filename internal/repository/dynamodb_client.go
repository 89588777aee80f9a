package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"fudosan-agent/internal/domain"
)

const (
	pkPrefixUser = "USER#"
	skPrefixTurn = "TURN#"

	// Fixed width so lexical sort key order matches time order.
	sortKeyTimeLayout = "2006-01-02T15:04:05.000000000Z"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoDB.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDB stores turns in a single table keyed by user and creation time.
type DynamoDB struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// NewDynamoDB creates a DynamoDB-backed history store.
func NewDynamoDB(api dynamodbAPI, tableName string) (*DynamoDB, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoDB{api: api, tableName: tableName, now: time.Now, newID: uuid.NewString}, nil
}

// userPK returns the partition key for a user's turns.
func userPK(userID string) string {
	return pkPrefixUser + userID
}

// turnSK returns the sort key for a turn created at ts.
func turnSK(ts time.Time, id string) string {
	return skPrefixTurn + ts.UTC().Format(sortKeyTimeLayout) + "#" + id
}

// sequenceFromSK recovers the creation-order key from a sort key.
func sequenceFromSK(sk string) (int64, time.Time, error) {
	rest, ok := strings.CutPrefix(sk, skPrefixTurn)
	if !ok {
		return 0, time.Time{}, fmt.Errorf("repository: sort key %q has no %s prefix", sk, skPrefixTurn)
	}
	stamp, _, _ := strings.Cut(rest, "#")
	ts, err := time.Parse(sortKeyTimeLayout, stamp)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("repository: parse sort key %q: %w", sk, err)
	}
	return ts.UnixNano(), ts, nil
}

// RecentTurns queries the newest limit turns for a user and returns them
// oldest first.
func (c *DynamoDB) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(min(limit, math.MaxInt32)))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	// Reverse to chronological order before returning to context assembly.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// AppendTurn writes a new turn. The condition guards against overwriting an
// existing item with the same key.
func (c *DynamoDB) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.UserID) == "" {
		return errors.New("repository: AppendTurn: user id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(turn, turnSK(c.now(), c.newID())),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Turn{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Turn{}, err
	}
	question, err := strAttr(item, "question")
	if err != nil {
		return domain.Turn{}, err
	}
	response, _ := strAttr(item, "response") // allow empty
	seq, createdAt, err := sequenceFromSK(sk)
	if err != nil {
		return domain.Turn{}, err
	}

	return domain.Turn{
		UserID:    userID,
		Question:  question,
		Response:  response,
		Sequence:  seq,
		CreatedAt: createdAt,
	}, nil
}

func turnItem(turn domain.Turn, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":       &types.AttributeValueMemberS{Value: userPK(turn.UserID)},
		"SK":       &types.AttributeValueMemberS{Value: sk},
		"userId":   &types.AttributeValueMemberS{Value: turn.UserID},
		"question": &types.AttributeValueMemberS{Value: turn.Question},
		"response": &types.AttributeValueMemberS{Value: turn.Response},
	}
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
