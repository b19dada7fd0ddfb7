package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/utils"
)

const (
	redisSMSKeyPrefix = "sms"

	tokenLockWait    = 2 * time.Second
	tokenLockBackoff = 25 * time.Millisecond
)

var errRedisUnavailable = errors.New("sms token redis unavailable")

// Deletes the lock only if we still own it.
var redisUnlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

type redisSMSTokenRepository struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSMSTokenRepository stores each token as a JSON value whose TTL is
// the resend window, so stale tokens disappear without a sweep.
func NewRedisSMSTokenRepository(rdb *redis.Client, ttl time.Duration) SMSTokenRepository {
	return &redisSMSTokenRepository{rdb: rdb, ttl: ttl}
}

func (r *redisSMSTokenRepository) key(flow models.SMSFlow, key string) string {
	return redisSMSKeyPrefix + ":" + flow.String() + ":" + key
}

func (r *redisSMSTokenRepository) lockKey(flow models.SMSFlow, key string) string {
	return redisSMSKeyPrefix + ":lock:" + flow.String() + ":" + key
}

func (r *redisSMSTokenRepository) WithToken(
	ctx context.Context,
	flow models.SMSFlow,
	key string,
	fn func(tx SMSTokenTx) error,
) error {
	lockKey := r.lockKey(flow, key)
	owner := uuid.NewString()
	if err := r.acquire(ctx, lockKey, owner); err != nil {
		return err
	}
	defer func() {
		if err := redisUnlockScript.Run(context.WithoutCancel(ctx), r.rdb, []string{lockKey}, owner).Err(); err != nil {
			utils.Logger.WithError(err).WithField("lock", lockKey).Warn("Failed to release sms token lock")
		}
	}()

	tx := &redisSMSTokenTx{repo: r, key: r.key(flow, key), flow: flow, tokenKey: key}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit(ctx)
}

func (r *redisSMSTokenRepository) acquire(ctx context.Context, lockKey, owner string) error {
	deadline := time.Now().Add(tokenLockWait)
	for {
		ok, err := r.rdb.SetNX(ctx, lockKey, owner, utils.TokenLockTTL).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
		if ok {
			return nil
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

func (r *redisSMSTokenRepository) Load(ctx context.Context, flow models.SMSFlow, key string) (*models.SMSVerificationToken, error) {
	return r.get(ctx, r.key(flow, key))
}

func (r *redisSMSTokenRepository) Delete(ctx context.Context, flow models.SMSFlow, key string) error {
	if err := r.rdb.Del(ctx, r.key(flow, key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return nil
}

// CleanupStale is a no-op; key TTLs expire tokens.
func (r *redisSMSTokenRepository) CleanupStale(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *redisSMSTokenRepository) get(ctx context.Context, key string) (*models.SMSVerificationToken, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	var tok models.SMSVerificationToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode sms token %s: %w", key, err)
	}
	return &tok, nil
}

type redisStagedOp int

const (
	redisOpNone redisStagedOp = iota
	redisOpUpsert
	redisOpDelete
)

// redisSMSTokenTx buffers the last write and applies it after fn succeeds.
type redisSMSTokenTx struct {
	repo     *redisSMSTokenRepository
	key      string
	flow     models.SMSFlow
	tokenKey string

	loaded  *models.SMSVerificationToken
	didLoad bool
	op      redisStagedOp
	staged  *models.SMSVerificationToken
}

func (t *redisSMSTokenTx) Load(ctx context.Context) (*models.SMSVerificationToken, error) {
	switch t.op {
	case redisOpUpsert:
		cp := *t.staged
		return &cp, nil
	case redisOpDelete:
		return nil, nil
	}
	if !t.didLoad {
		tok, err := t.repo.get(ctx, t.key)
		if err != nil {
			return nil, err
		}
		t.loaded, t.didLoad = tok, true
	}
	if t.loaded == nil {
		return nil, nil
	}
	cp := *t.loaded
	return &cp, nil
}

func (t *redisSMSTokenTx) Upsert(ctx context.Context, tok *models.SMSVerificationToken) error {
	cur, err := t.Load(ctx)
	if err != nil {
		return err
	}
	tok.Flow, tok.Key = t.flow, t.tokenKey
	if cur == nil {
		tok.CreatedAt = tok.UpdatedAt
		tok.RowVersion = 1
	} else {
		tok.CreatedAt = cur.CreatedAt
		tok.RowVersion = cur.RowVersion + 1
	}
	cp := *tok
	t.op, t.staged = redisOpUpsert, &cp
	return nil
}

func (t *redisSMSTokenTx) Delete(context.Context) error {
	t.op, t.staged = redisOpDelete, nil
	return nil
}

func (t *redisSMSTokenTx) Context(parent context.Context) context.Context { return parent }

func (t *redisSMSTokenTx) commit(ctx context.Context) error {
	switch t.op {
	case redisOpUpsert:
		data, err := json.Marshal(t.staged)
		if err != nil {
			return err
		}
		if err := t.repo.rdb.Set(ctx, t.key, data, t.repo.ttl).Err(); err != nil {
			return fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
	case redisOpDelete:
		if err := t.repo.rdb.Del(ctx, t.key).Err(); err != nil {
			return fmt.Errorf("%w: %v", errRedisUnavailable, err)
		}
	}
	return nil
}
