package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"

	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/utils"
)

const uniqueViolation = "23505"

// UserRepository reads and writes storefront accounts. Lookups return
// (nil, nil) when no row matches.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhoneNumber(ctx context.Context, phone string) (*models.User, error)
	GetByEmailAndPhone(ctx context.Context, email, phone string) (*models.User, error)
	UpdateIfVersion(ctx context.Context, u *models.User, expected int64) (pgconn.CommandTag, error)
	UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.User) error) error
}

type userRepo struct {
	db   DB
	rows *versionedTable[*models.User]
}

func NewUserRepository(db DB) UserRepository {
	r := &userRepo{db: db}
	r.rows = &versionedTable[*models.User]{
		db:         db,
		selectByID: baseSelectUser() + " WHERE id=$1",
		scan:       r.scanUser,
		update:     r.UpdateIfVersion,
	}
	return r
}

func (r *userRepo) Create(ctx context.Context, u *models.User) error {
	_, err := conn(ctx, r.db).Exec(ctx, `
        INSERT INTO users (
            id, email, name, phone_number, password_hash, social_provider
        ) VALUES ($1,$2,$3,$4,$5,$6)
    `,
		u.ID, u.Email, u.Name, u.PhoneNumber, nullIfEmpty(u.PasswordHash), u.SocialProvider,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "users_email_key":
			return utils.ErrEmailExists
		case "users_phone_number_key":
			return utils.ErrAlreadyRegistered
		}
	}
	return err
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.rows.load(ctx, id.String())
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, baseSelectUser()+" WHERE email=$1", email)
	return r.scanUser(row)
}

func (r *userRepo) GetByPhoneNumber(ctx context.Context, phone string) (*models.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, baseSelectUser()+" WHERE phone_number=$1", phone)
	return r.scanUser(row)
}

func (r *userRepo) GetByEmailAndPhone(ctx context.Context, email, phone string) (*models.User, error) {
	row := conn(ctx, r.db).QueryRow(ctx, baseSelectUser()+" WHERE email=$1 AND phone_number=$2", email, phone)
	return r.scanUser(row)
}

func (r *userRepo) UpdateIfVersion(ctx context.Context, u *models.User, expected int64) (pgconn.CommandTag, error) {
	return conn(ctx, r.db).Exec(ctx, `
        UPDATE users SET
            email=$1,
            name=$2,
            phone_number=$3,
            password_hash=$4,
            social_provider=$5,
            updated_at=NOW(),
            row_version=row_version+1
        WHERE id=$6 AND row_version=$7
    `,
		u.Email, u.Name, u.PhoneNumber, nullIfEmpty(u.PasswordHash), u.SocialProvider,
		u.ID, expected,
	)
}

func (r *userRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.User) error) error {
	return r.rows.updateWithRetry(ctx, id.String(), mutate)
}

func baseSelectUser() string {
	return `
        SELECT id, email, name, phone_number, password_hash, social_provider,
               created_at, updated_at, row_version
        FROM users
    `
}

func (r *userRepo) scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var passwordHash *string
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.PhoneNumber,
		&passwordHash,
		&u.SocialProvider,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.RowVersion,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if passwordHash != nil {
		u.PasswordHash = *passwordHash
	}
	return &u, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
