package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/banamarket/auth-service/internal/models"
)

// SMSTokenTx is the view of a single (flow, key) token inside
// SMSTokenRepository.WithToken.
type SMSTokenTx interface {
	// Load returns the stored token, or nil when none exists.
	Load(ctx context.Context) (*models.SMSVerificationToken, error)
	// Upsert overwrites or creates the token.
	Upsert(ctx context.Context, tok *models.SMSVerificationToken) error
	// Delete removes the token.
	Delete(ctx context.Context) error
	// Context derives the context for other repository calls made inside
	// the unit of work. On Postgres they then run on the token transaction.
	Context(parent context.Context) context.Context
}

// SMSTokenRepository stores verification tokens keyed uniquely by (flow, key).
type SMSTokenRepository interface {
	// WithToken runs fn while holding the serialization point for (flow, key).
	// Writes made through the SMSTokenTx are persisted only if fn returns nil.
	WithToken(ctx context.Context, flow models.SMSFlow, key string, fn func(tx SMSTokenTx) error) error
	Load(ctx context.Context, flow models.SMSFlow, key string) (*models.SMSVerificationToken, error)
	Delete(ctx context.Context, flow models.SMSFlow, key string) error
	// CleanupStale removes tokens last touched before cutoff. Stores with
	// native expiry return 0.
	CleanupStale(ctx context.Context, cutoff time.Time) (int64, error)
}

type smsTokenRepository struct {
	db DB
}

// NewSMSTokenRepository returns the Postgres-backed token store.
func NewSMSTokenRepository(db DB) SMSTokenRepository {
	return &smsTokenRepository{db: db}
}

func (r *smsTokenRepository) WithToken(
	ctx context.Context,
	flow models.SMSFlow,
	key string,
	fn func(tx SMSTokenTx) error,
) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	// Serializes callers on the same (flow, key) even when no row exists yet.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lockName(flow, key)); err != nil {
		return err
	}

	if err := fn(&pgSMSTokenTx{tx: tx, flow: flow, key: key}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *smsTokenRepository) Load(ctx context.Context, flow models.SMSFlow, key string) (*models.SMSVerificationToken, error) {
	row := r.db.QueryRow(ctx, baseSelectSMSToken()+" WHERE flow=$1 AND token_key=$2", flow, key)
	return scanSMSToken(row)
}

func (r *smsTokenRepository) Delete(ctx context.Context, flow models.SMSFlow, key string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sms_verification_tokens WHERE flow=$1 AND token_key=$2`, flow, key)
	return err
}

func (r *smsTokenRepository) CleanupStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM sms_verification_tokens WHERE updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type pgSMSTokenTx struct {
	tx   pgx.Tx
	flow models.SMSFlow
	key  string
}

func (t *pgSMSTokenTx) Load(ctx context.Context) (*models.SMSVerificationToken, error) {
	row := t.tx.QueryRow(ctx, baseSelectSMSToken()+" WHERE flow=$1 AND token_key=$2 FOR UPDATE", t.flow, t.key)
	return scanSMSToken(row)
}

func (t *pgSMSTokenTx) Upsert(ctx context.Context, tok *models.SMSVerificationToken) error {
	q := `
        INSERT INTO sms_verification_tokens
            (flow, token_key, code, attempt_count, verified, updated_at, created_at, row_version)
        VALUES ($1, $2, $3, $4, $5, $6, $6, 1)
        ON CONFLICT (flow, token_key) DO UPDATE SET
            code          = EXCLUDED.code,
            attempt_count = EXCLUDED.attempt_count,
            verified      = EXCLUDED.verified,
            updated_at    = EXCLUDED.updated_at,
            row_version   = sms_verification_tokens.row_version + 1
        RETURNING created_at, row_version
    `
	return t.tx.QueryRow(ctx, q,
		t.flow, t.key, tok.Code, tok.AttemptCount, tok.Verified, tok.UpdatedAt,
	).Scan(&tok.CreatedAt, &tok.RowVersion)
}

func (t *pgSMSTokenTx) Context(parent context.Context) context.Context {
	return contextWithTx(parent, t.tx)
}

func (t *pgSMSTokenTx) Delete(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM sms_verification_tokens WHERE flow=$1 AND token_key=$2`, t.flow, t.key)
	return err
}

func lockName(flow models.SMSFlow, key string) string {
	return flow.String() + ":" + key
}

func baseSelectSMSToken() string {
	return `
        SELECT flow, token_key, code, attempt_count, verified, updated_at, created_at, row_version
        FROM sms_verification_tokens
    `
}

func scanSMSToken(row pgx.Row) (*models.SMSVerificationToken, error) {
	var tok models.SMSVerificationToken
	err := row.Scan(
		&tok.Flow,
		&tok.Key,
		&tok.Code,
		&tok.AttemptCount,
		&tok.Verified,
		&tok.UpdatedAt,
		&tok.CreatedAt,
		&tok.RowVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &tok, nil
}
