package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"

	"github.com/banamarket/auth-service/internal/config"
	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/repositories"
	"github.com/banamarket/auth-service/internal/utils"
)

var testEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		OrganizationName: utils.OrganizationName,
		SMSSendTimeout:   time.Second,
	}
}

// ---------------------------------------------------------------------
// clock
// ---------------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedCodes returns codes in order, repeating the last one.
func fixedCodes(codes ...string) CodeGenerator {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		c := codes[i]
		if i < len(codes)-1 {
			i++
		}
		return c, nil
	}
}

// ---------------------------------------------------------------------
// token store
// ---------------------------------------------------------------------

type memTokenRepo struct {
	mu       sync.Mutex
	tokens   map[string]models.SMSVerificationToken
	accesses int
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: map[string]models.SMSVerificationToken{}}
}

func memKey(flow models.SMSFlow, key string) string { return flow.String() + "|" + key }

func (r *memTokenRepo) WithToken(
	ctx context.Context,
	flow models.SMSFlow,
	key string,
	fn func(tx repositories.SMSTokenTx) error,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accesses++

	k := memKey(flow, key)
	tx := &memTokenTx{}
	if cur, ok := r.tokens[k]; ok {
		tx.cur = &cur
	}
	if err := fn(tx); err != nil {
		return err
	}
	switch {
	case tx.deleted:
		delete(r.tokens, k)
	case tx.staged != nil:
		r.tokens[k] = *tx.staged
	}
	return nil
}

func (r *memTokenRepo) Load(_ context.Context, flow models.SMSFlow, key string) (*models.SMSVerificationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accesses++
	tok, ok := r.tokens[memKey(flow, key)]
	if !ok {
		return nil, nil
	}
	return &tok, nil
}

func (r *memTokenRepo) Delete(_ context.Context, flow models.SMSFlow, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accesses++
	delete(r.tokens, memKey(flow, key))
	return nil
}

func (r *memTokenRepo) CleanupStale(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accesses++
	var n int64
	for k, tok := range r.tokens {
		if tok.UpdatedAt.Before(cutoff) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

// peek reads without counting as an access.
func (r *memTokenRepo) peek(flow models.SMSFlow, key string) (models.SMSVerificationToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[memKey(flow, key)]
	return tok, ok
}

func (r *memTokenRepo) accessCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accesses
}

type memTokenTx struct {
	cur     *models.SMSVerificationToken
	staged  *models.SMSVerificationToken
	deleted bool
}

func (t *memTokenTx) Load(context.Context) (*models.SMSVerificationToken, error) {
	switch {
	case t.staged != nil:
		cp := *t.staged
		return &cp, nil
	case t.deleted || t.cur == nil:
		return nil, nil
	}
	cp := *t.cur
	return &cp, nil
}

func (t *memTokenTx) Upsert(_ context.Context, tok *models.SMSVerificationToken) error {
	cp := *tok
	t.staged, t.deleted = &cp, false
	return nil
}

func (t *memTokenTx) Delete(context.Context) error {
	t.staged, t.deleted = nil, true
	return nil
}

type memTxContextKey struct{}

func (t *memTokenTx) Context(parent context.Context) context.Context {
	return context.WithValue(parent, memTxContextKey{}, t)
}

// inTokenTx reports whether ctx was derived inside a unit of work.
func inTokenTx(ctx context.Context) bool {
	_, ok := ctx.Value(memTxContextKey{}).(*memTokenTx)
	return ok
}

// ---------------------------------------------------------------------
// SMS sender
// ---------------------------------------------------------------------

type sentSMS struct {
	To   string
	Body string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentSMS
	err   error
	block bool
}

func (s *fakeSender) Send(ctx context.Context, to, body string) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentSMS{To: to, Body: body})
	return nil
}

func (s *fakeSender) messages() []sentSMS {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentSMS(nil), s.sent...)
}

func (s *fakeSender) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// ---------------------------------------------------------------------
// users
// ---------------------------------------------------------------------

type fakeUserRepo struct {
	mu        sync.Mutex
	users     map[uuid.UUID]models.User
	lookups   int
	updateErr error
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	r := &fakeUserRepo{users: map[uuid.UUID]models.User{}}
	for _, u := range users {
		r.users[u.ID] = *u
	}
	return r
}

func (r *fakeUserRepo) find(match func(models.User) bool) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	for _, u := range r.users {
		if match(u) {
			cp := u
			return &cp
		}
	}
	return nil
}

func (r *fakeUserRepo) Create(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == u.Email {
			return utils.ErrEmailExists
		}
		if existing.PhoneNumber == u.PhoneNumber {
			return utils.ErrAlreadyRegistered
		}
	}
	u.SetRowVersion(1)
	r.users[u.ID] = *u
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.ID == id }), nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.Email == email }), nil
}

func (r *fakeUserRepo) GetByPhoneNumber(_ context.Context, phone string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.PhoneNumber == phone }), nil
}

func (r *fakeUserRepo) GetByEmailAndPhone(_ context.Context, email, phone string) (*models.User, error) {
	return r.find(func(u models.User) bool { return u.Email == email && u.PhoneNumber == phone }), nil
}

func (r *fakeUserRepo) UpdateIfVersion(_ context.Context, u *models.User, expected int64) (pgconn.CommandTag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.users[u.ID]
	if !ok || cur.RowVersion != expected {
		return pgconn.CommandTag("UPDATE 0"), nil
	}
	cp := *u
	cp.RowVersion = expected + 1
	r.users[u.ID] = cp
	return pgconn.CommandTag("UPDATE 1"), nil
}

func (r *fakeUserRepo) UpdateWithRetry(ctx context.Context, id uuid.UUID, mutate func(*models.User) error) error {
	r.mu.Lock()
	updateErr := r.updateErr
	r.mu.Unlock()
	if updateErr != nil {
		return updateErr
	}
	return repositories.WithRetry[*models.User](ctx, 3, id.String(),
		func(ctx context.Context, id string) (*models.User, error) {
			return r.GetByID(ctx, uuid.MustParse(id))
		},
		r.UpdateIfVersion,
		mutate,
	)
}

func (r *fakeUserRepo) get(id uuid.UUID) models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[id]
}

func (r *fakeUserRepo) lookupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups
}

// ---------------------------------------------------------------------
// mailer
// ---------------------------------------------------------------------

type fakeMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *fakeMailer) SendPasswordResetNotice(_ context.Context, toEmail, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, toEmail)
	return nil
}

var errCarrierDown = errors.New("carrier unavailable")

func newPasswordUser(email, phone string) *models.User {
	hash, err := utils.HashPassword("Original1!")
	if err != nil {
		panic(fmt.Sprintf("hash password: %v", err))
	}
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         "홍길동",
		PhoneNumber:  phone,
		PasswordHash: hash,
	}
	u.SetRowVersion(1)
	return u
}

func newSocialUser(email, phone, provider string) *models.User {
	u := &models.User{
		ID:             uuid.New(),
		Email:          email,
		Name:           "김철수",
		PhoneNumber:    phone,
		SocialProvider: utils.Ptr(provider),
	}
	u.SetRowVersion(1)
	return u
}
