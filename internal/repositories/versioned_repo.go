package repositories

import (
	"context"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/banamarket/auth-service/internal/utils"
)

const defaultUpdateAttempts = 3

// VersionedEntity is a row guarded by an optimistic row_version column.
type VersionedEntity interface {
	comparable
	GetID() string
	GetRowVersion() int64
	SetRowVersion(int64)
}

// LoadFunc loads one entity by ID, returning the zero value when absent.
type LoadFunc[T VersionedEntity] func(ctx context.Context, id string) (T, error)

// UpdateIfVersionFunc writes entity only if its stored version is still expected.
type UpdateIfVersionFunc[T VersionedEntity] func(ctx context.Context, entity T, expected int64) (pgconn.CommandTag, error)

// WithRetry loads the entity, applies mutate and writes it back conditioned
// on the version it read. A lost race reloads and tries again, up to attempts
// times, before failing with utils.ErrRowVersionConflict.
func WithRetry[T VersionedEntity](
	ctx context.Context,
	attempts int,
	id string,
	load LoadFunc[T],
	update UpdateIfVersionFunc[T],
	mutate func(T) error,
) error {
	var zero T
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur, err := load(ctx, id)
		if err != nil {
			return err
		}
		if cur == zero {
			return fmt.Errorf("load %q: %w", id, pgx.ErrNoRows)
		}

		version := cur.GetRowVersion()
		if err := mutate(cur); err != nil {
			return err
		}
		tag, err := update(ctx, cur, version)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 1 {
			cur.SetRowVersion(version + 1)
			return nil
		}
		utils.Logger.WithField("id", id).Debugf("row_version %d changed during update, retrying", version)
	}
	return fmt.Errorf("%w: %q still contended after %d attempts", utils.ErrRowVersionConflict, id, attempts)
}

// versionedTable binds WithRetry to one table's select and update statements.
type versionedTable[T VersionedEntity] struct {
	db         DB
	selectByID string
	scan       func(pgx.Row) (T, error)
	update     UpdateIfVersionFunc[T]
}

func (t *versionedTable[T]) load(ctx context.Context, id string) (T, error) {
	return t.scan(conn(ctx, t.db).QueryRow(ctx, t.selectByID, id))
}

func (t *versionedTable[T]) updateWithRetry(ctx context.Context, id string, mutate func(T) error) error {
	return WithRetry(ctx, defaultUpdateAttempts, id, t.load, t.update, mutate)
}
