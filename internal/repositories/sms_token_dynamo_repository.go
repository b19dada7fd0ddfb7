package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/utils"
)

// DynamoAPI is the subset of *dynamodb.Client the token store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

const (
	dynamoSMSTokenSK = "TOKEN"
	dynamoSMSLockSK  = "LOCK"
)

type dynamoSMSTokenItem struct {
	PK           string    `dynamodbav:"PK"`
	SK           string    `dynamodbav:"SK"`
	Flow         string    `dynamodbav:"Flow"`
	TokenKey     string    `dynamodbav:"TokenKey"`
	Code         string    `dynamodbav:"Code"`
	AttemptCount int       `dynamodbav:"AttemptCount"`
	Verified     bool      `dynamodbav:"Verified"`
	UpdatedAt    time.Time `dynamodbav:"UpdatedAt"`
	CreatedAt    time.Time `dynamodbav:"CreatedAt"`
	RowVersion   int64     `dynamodbav:"RowVersion"`
	TTL          int64     `dynamodbav:"TTL"`
}

func (it *dynamoSMSTokenItem) toModel() *models.SMSVerificationToken {
	tok := &models.SMSVerificationToken{
		Flow:         models.SMSFlow(it.Flow),
		Key:          it.TokenKey,
		Code:         it.Code,
		AttemptCount: it.AttemptCount,
		Verified:     it.Verified,
		UpdatedAt:    it.UpdatedAt,
		CreatedAt:    it.CreatedAt,
	}
	tok.SetRowVersion(it.RowVersion)
	return tok
}

// dynamoSMSLockItem sits next to the token under the same PK. ExpiresAt is
// checked on acquire because TTL deletion can lag by hours.
type dynamoSMSLockItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	LockOwner string `dynamodbav:"LockOwner"`
	ExpiresAt int64  `dynamodbav:"ExpiresAt"`
	TTL       int64  `dynamodbav:"TTL"`
}

type dynamoSMSTokenRepository struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	lockWait  time.Duration
}

// NewDynamoSMSTokenRepository stores tokens as single items. A unit of work
// holds a conditional lock item for its (flow, key), and the token write is
// still conditioned on RowVersion. The table's TTL attribute is "TTL".
func NewDynamoSMSTokenRepository(client DynamoAPI, tableName string, ttl time.Duration) SMSTokenRepository {
	return &dynamoSMSTokenRepository{client: client, tableName: tableName, ttl: ttl, lockWait: tokenLockWait}
}

func dynamoSMSTokenPK(flow models.SMSFlow, key string) string {
	return fmt.Sprintf("SMS#%s#%s", flow, key)
}

func (r *dynamoSMSTokenRepository) itemKey(flow models.SMSFlow, key string) map[string]types.AttributeValue {
	return r.keyWithSK(flow, key, dynamoSMSTokenSK)
}

func (r *dynamoSMSTokenRepository) keyWithSK(flow models.SMSFlow, key, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: dynamoSMSTokenPK(flow, key)},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func (r *dynamoSMSTokenRepository) WithToken(
	ctx context.Context,
	flow models.SMSFlow,
	key string,
	fn func(tx SMSTokenTx) error,
) error {
	owner := uuid.NewString()
	if err := r.acquire(ctx, flow, key, owner); err != nil {
		return err
	}
	defer r.release(context.WithoutCancel(ctx), flow, key, owner)

	cur, err := r.Load(ctx, flow, key)
	if err != nil {
		return err
	}
	tx := &dynamoSMSTokenTx{repo: r, flow: flow, key: key, loaded: cur}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

func (r *dynamoSMSTokenRepository) acquire(ctx context.Context, flow models.SMSFlow, key, owner string) error {
	deadline := time.Now().Add(r.lockWait)
	for {
		now := time.Now()
		av, err := attributevalue.MarshalMap(dynamoSMSLockItem{
			PK:        dynamoSMSTokenPK(flow, key),
			SK:        dynamoSMSLockSK,
			LockOwner: owner,
			ExpiresAt: now.Add(utils.TokenLockTTL).UnixMilli(),
			TTL:       now.Add(utils.TokenLockTTL).Unix(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal sms token lock: %w", err)
		}
		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(r.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
			},
		})
		if err == nil {
			return nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return fmt.Errorf("failed to lock sms token: %w", err)
		}
		if time.Now().After(deadline) {
			return utils.ErrTokenBusy
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tokenLockBackoff):
		}
	}
}

func (r *dynamoSMSTokenRepository) release(ctx context.Context, flow models.SMSFlow, key, owner string) {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.keyWithSK(flow, key, dynamoSMSLockSK),
		ConditionExpression: aws.String("LockOwner = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		utils.Logger.WithError(err).WithField("pk", dynamoSMSTokenPK(flow, key)).Warn("Failed to release sms token lock")
	}
}

func (r *dynamoSMSTokenRepository) Load(ctx context.Context, flow models.SMSFlow, key string) (*models.SMSVerificationToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.itemKey(flow, key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get sms token: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}
	var item dynamoSMSTokenItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sms token: %w", err)
	}
	return item.toModel(), nil
}

func (r *dynamoSMSTokenRepository) Delete(ctx context.Context, flow models.SMSFlow, key string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.itemKey(flow, key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete sms token: %w", err)
	}
	return nil
}

// CleanupStale is a no-op; DynamoDB TTL expires items.
func (r *dynamoSMSTokenRepository) CleanupStale(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type dynamoSMSTokenTx struct {
	repo   *dynamoSMSTokenRepository
	flow   models.SMSFlow
	key    string
	loaded *models.SMSVerificationToken

	staged  *models.SMSVerificationToken
	deleted bool
}

func (t *dynamoSMSTokenTx) Load(context.Context) (*models.SMSVerificationToken, error) {
	switch {
	case t.staged != nil:
		cp := *t.staged
		return &cp, nil
	case t.deleted || t.loaded == nil:
		return nil, nil
	}
	cp := *t.loaded
	return &cp, nil
}

func (t *dynamoSMSTokenTx) Upsert(_ context.Context, tok *models.SMSVerificationToken) error {
	tok.Flow, tok.Key = t.flow, t.key
	if t.loaded == nil {
		tok.CreatedAt = tok.UpdatedAt
		tok.SetRowVersion(1)
	} else {
		tok.CreatedAt = t.loaded.CreatedAt
		tok.SetRowVersion(t.loaded.GetRowVersion() + 1)
	}
	cp := *tok
	t.staged, t.deleted = &cp, false
	return nil
}

func (t *dynamoSMSTokenTx) Delete(context.Context) error {
	t.staged, t.deleted = nil, true
	return nil
}

func (t *dynamoSMSTokenTx) Context(parent context.Context) context.Context { return parent }

// commit writes the staged change conditioned on the version read at the
// start of the unit of work.
func (t *dynamoSMSTokenTx) commit(ctx context.Context) error {
	r := t.repo
	var cond *string
	var values map[string]types.AttributeValue
	if t.loaded == nil {
		cond = aws.String("attribute_not_exists(PK)")
	} else {
		cond = aws.String("RowVersion = :v")
		values = map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberN{Value: strconv.FormatInt(t.loaded.GetRowVersion(), 10)},
		}
	}

	var err error
	switch {
	case t.staged != nil:
		item := dynamoSMSTokenItem{
			PK:           dynamoSMSTokenPK(t.flow, t.key),
			SK:           dynamoSMSTokenSK,
			Flow:         t.flow.String(),
			TokenKey:     t.key,
			Code:         t.staged.Code,
			AttemptCount: t.staged.AttemptCount,
			Verified:     t.staged.Verified,
			UpdatedAt:    t.staged.UpdatedAt,
			CreatedAt:    t.staged.CreatedAt,
			RowVersion:   t.staged.GetRowVersion(),
			TTL:          t.staged.UpdatedAt.Add(r.ttl).Unix(),
		}
		av, mErr := attributevalue.MarshalMap(item)
		if mErr != nil {
			return fmt.Errorf("failed to marshal sms token: %w", mErr)
		}
		_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 aws.String(r.tableName),
			Item:                      av,
			ConditionExpression:       cond,
			ExpressionAttributeValues: values,
		})
	case t.deleted && t.loaded != nil:
		_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(r.tableName),
			Key:                       r.itemKey(t.flow, t.key),
			ConditionExpression:       cond,
			ExpressionAttributeValues: values,
		})
	default:
		return nil
	}

	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return utils.ErrRowVersionConflict
		}
		return fmt.Errorf("failed to write sms token: %w", err)
	}
	return nil
}
