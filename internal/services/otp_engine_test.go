package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banamarket/auth-service/internal/models"
	"github.com/banamarket/auth-service/internal/utils"
)

const testPhone = "01012345678"

type engineFixture struct {
	repo   *memTokenRepo
	sender *fakeSender
	clock  *fakeClock
	engine OTPEngine
}

func newEngineFixture(codes ...string) *engineFixture {
	if len(codes) == 0 {
		codes = []string{"123456"}
	}
	f := &engineFixture{
		repo:   newMemTokenRepo(),
		sender: &fakeSender{},
		clock:  newFakeClock(),
	}
	f.engine = NewOTPEngine(f.repo, f.sender, testConfig(), f.clock, fixedCodes(codes...))
	return f
}

func (f *engineFixture) token(t *testing.T, flow models.SMSFlow, key string) models.SMSVerificationToken {
	t.Helper()
	tok, ok := f.repo.peek(flow, key)
	require.True(t, ok, "expected a stored token for %s/%s", flow, key)
	return tok
}

func TestRequestCode_FirstRequestCreatesToken(t *testing.T) {
	for _, flow := range []models.SMSFlow{models.SMSFlowSignup, models.SMSFlowFindEmail, models.SMSFlowFindPassword} {
		t.Run(flow.String(), func(t *testing.T) {
			f := newEngineFixture("123456")
			ctx := context.Background()

			require.NoError(t, f.engine.RequestCode(ctx, flow, "key-1", testPhone))

			tok := f.token(t, flow, "key-1")
			require.Equal(t, "123456", tok.Code)
			require.Equal(t, 1, tok.AttemptCount)
			require.False(t, tok.Verified)
			require.Equal(t, testEpoch, tok.UpdatedAt)

			msgs := f.sender.messages()
			require.Len(t, msgs, 1)
			require.Equal(t, testPhone, msgs[0].To)
			require.Contains(t, msgs[0].Body, "[123456]")
		})
	}
}

func TestRequestCode_FiveWithinWindowThenRateLimited(t *testing.T) {
	f := newEngineFixture("111111", "222222", "333333", "444444", "555555", "666666")
	ctx := context.Background()

	for i := 1; i <= MaxCodesPerWindow; i++ {
		require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
		require.Equal(t, i, f.token(t, models.SMSFlowSignup, testPhone).AttemptCount)
		f.clock.Advance(10 * time.Second)
	}
	before := f.token(t, models.SMSFlowSignup, testPhone)

	err := f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone)
	require.ErrorIs(t, err, utils.ErrRateLimited)

	require.Equal(t, before, f.token(t, models.SMSFlowSignup, testPhone))
	require.Len(t, f.sender.messages(), MaxCodesPerWindow)
}

func TestRequestCode_RateLimitLiftsAfterWindow(t *testing.T) {
	f := newEngineFixture("111111", "999999")
	ctx := context.Background()

	for i := 0; i < MaxCodesPerWindow; i++ {
		require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
	}

	f.clock.Advance(CodeRateLimitWindow - time.Second)
	require.ErrorIs(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone), utils.ErrRateLimited)

	f.clock.Advance(time.Second)
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))

	tok := f.token(t, models.SMSFlowSignup, testPhone)
	require.Equal(t, 1, tok.AttemptCount)
	require.Equal(t, "999999", tok.Code)
	require.False(t, tok.Verified)
}

func TestRequestCode_ResendReplacesCodeAndClearsVerified(t *testing.T) {
	f := newEngineFixture("123456", "654321")
	ctx := context.Background()

	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
	require.NoError(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, testPhone, "123456"))
	require.True(t, f.token(t, models.SMSFlowSignup, testPhone).Verified)

	// Signup has no post-verification lockout.
	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))

	tok := f.token(t, models.SMSFlowSignup, testPhone)
	require.Equal(t, "654321", tok.Code)
	require.Equal(t, 2, tok.AttemptCount)
	require.False(t, tok.Verified)
	require.Equal(t, testEpoch.Add(time.Minute), tok.UpdatedAt)
}

func TestRequestCode_DeliveryFailureLeavesStoreUntouched(t *testing.T) {
	f := newEngineFixture("123456", "654321")
	ctx := context.Background()

	f.sender.setErr(errCarrierDown)
	err := f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone)
	require.ErrorIs(t, err, utils.ErrDeliveryFailed)
	_, ok := f.repo.peek(models.SMSFlowSignup, testPhone)
	require.False(t, ok)

	f.sender.setErr(nil)
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
	before := f.token(t, models.SMSFlowSignup, testPhone)

	f.sender.setErr(errCarrierDown)
	f.clock.Advance(time.Minute)
	err = f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone)
	require.ErrorIs(t, err, utils.ErrDeliveryFailed)
	require.Equal(t, before, f.token(t, models.SMSFlowSignup, testPhone))
}

func TestRequestCode_SendTimeoutIsDeliveryFailure(t *testing.T) {
	repo := newMemTokenRepo()
	sender := &fakeSender{block: true}
	cfg := testConfig()
	cfg.SMSSendTimeout = 20 * time.Millisecond
	engine := NewOTPEngine(repo, sender, cfg, newFakeClock(), fixedCodes("123456"))

	err := engine.RequestCode(context.Background(), models.SMSFlowSignup, testPhone, testPhone)
	require.ErrorIs(t, err, utils.ErrDeliveryFailed)
	_, ok := repo.peek(models.SMSFlowSignup, testPhone)
	require.False(t, ok)
}

func TestRequestCode_ConcurrentCallsNeverExceedBudget(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()

	const callers = 12
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, limited int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, utils.ErrRateLimited):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, MaxCodesPerWindow, ok)
	require.Equal(t, callers-MaxCodesPerWindow, limited)
	require.Equal(t, MaxCodesPerWindow, f.token(t, models.SMSFlowSignup, testPhone).AttemptCount)
}

func TestConfirmCode_SucceedsExactlyOnce(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()

	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
	f.clock.Advance(2 * time.Minute)

	require.NoError(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, testPhone, "123456"))
	tok := f.token(t, models.SMSFlowSignup, testPhone)
	require.True(t, tok.Verified)
	require.Equal(t, testEpoch.Add(2*time.Minute), tok.UpdatedAt)

	err := f.engine.ConfirmCode(ctx, models.SMSFlowSignup, testPhone, "123456")
	require.ErrorIs(t, err, utils.ErrAlreadyVerified)
}

func TestConfirmCode_ExpiryBoundary(t *testing.T) {
	t.Run("at five minutes", func(t *testing.T) {
		f := newEngineFixture("123456")
		ctx := context.Background()
		require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowFindEmail, "user-1", testPhone))

		f.clock.Advance(CodeExpiry)
		require.NoError(t, f.engine.ConfirmCode(ctx, models.SMSFlowFindEmail, "user-1", "123456"))
	})

	t.Run("past five minutes", func(t *testing.T) {
		f := newEngineFixture("123456")
		ctx := context.Background()
		require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowFindEmail, "user-1", testPhone))

		f.clock.Advance(CodeExpiry + time.Second)
		require.ErrorIs(t, f.engine.ConfirmCode(ctx, models.SMSFlowFindEmail, "user-1", "123456"), utils.ErrExpired)
		require.ErrorIs(t, f.engine.ConfirmCode(ctx, models.SMSFlowFindEmail, "user-1", "000000"), utils.ErrExpired)
		require.False(t, f.token(t, models.SMSFlowFindEmail, "user-1").Verified)
	})
}

func TestConfirmCode_ExpiredTakesPrecedenceOverAlreadyVerified(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
	require.NoError(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, testPhone, "123456"))

	f.clock.Advance(CodeExpiry + time.Second)
	require.ErrorIs(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, testPhone, "123456"), utils.ErrExpired)
}

func TestConfirmCode_MismatchDoesNotMutate(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()

	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
	before := f.token(t, models.SMSFlowSignup, testPhone)

	f.clock.Advance(time.Minute)
	for _, wrong := range []string{"000000", "123457", "654321"} {
		require.ErrorIs(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, testPhone, wrong), utils.ErrMismatch)
	}
	require.Equal(t, before, f.token(t, models.SMSFlowSignup, testPhone))
}

func TestConfirmCode_NotRequested(t *testing.T) {
	f := newEngineFixture()
	err := f.engine.ConfirmCode(context.Background(), models.SMSFlowSignup, testPhone, "123456")
	require.ErrorIs(t, err, utils.ErrNotRequested)
}

func TestConfirmCode_InvalidFormatNeverTouchesStore(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
	accesses := f.repo.accessCount()

	for _, code := range []string{"", "12345", "1234567", "abcdef", "12 456", " 123456", "123456\n", "１２３４５６", "-12345"} {
		err := f.engine.ConfirmCode(ctx, models.SMSFlowSignup, testPhone, code)
		require.ErrorIs(t, err, utils.ErrInvalidFormat, "code %q", code)
	}
	require.Equal(t, accesses, f.repo.accessCount())
	require.False(t, f.token(t, models.SMSFlowSignup, testPhone).Verified)
}

func TestRequestCode_VerifiedLockoutOnFindFlows(t *testing.T) {
	for _, flow := range []models.SMSFlow{models.SMSFlowFindEmail, models.SMSFlowFindPassword} {
		t.Run(flow.String(), func(t *testing.T) {
			f := newEngineFixture("123456", "777777")
			ctx := context.Background()

			require.NoError(t, f.engine.RequestCode(ctx, flow, "user-1", testPhone))
			require.NoError(t, f.engine.ConfirmCode(ctx, flow, "user-1", "123456"))

			f.clock.Advance(VerifiedLockout - time.Second)
			require.ErrorIs(t, f.engine.RequestCode(ctx, flow, "user-1", testPhone), utils.ErrAlreadyVerifiedRecently)
			require.True(t, f.token(t, flow, "user-1").Verified)

			f.clock.Advance(time.Second)
			require.NoError(t, f.engine.RequestCode(ctx, flow, "user-1", testPhone))
			tok := f.token(t, flow, "user-1")
			require.False(t, tok.Verified)
			require.Equal(t, "777777", tok.Code)
			require.Equal(t, 2, tok.AttemptCount)
		})
	}
}

func TestRequestCode_LockoutCheckedBeforeRateLimit(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()
	for i := 0; i < MaxCodesPerWindow; i++ {
		require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowFindPassword, "user-1", testPhone))
	}
	require.NoError(t, f.engine.ConfirmCode(ctx, models.SMSFlowFindPassword, "user-1", "123456"))

	require.ErrorIs(t, f.engine.RequestCode(ctx, models.SMSFlowFindPassword, "user-1", testPhone), utils.ErrAlreadyVerifiedRecently)

	f.clock.Advance(VerifiedLockout)
	require.ErrorIs(t, f.engine.RequestCode(ctx, models.SMSFlowFindPassword, "user-1", testPhone), utils.ErrRateLimited)
}

func TestFlowsKeepSeparateTokens(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()

	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowFindEmail, "user-1", testPhone))
	require.ErrorIs(t, f.engine.ConfirmCode(ctx, models.SMSFlowFindPassword, "user-1", "123456"), utils.ErrNotRequested)
	require.NoError(t, f.engine.ConfirmCode(ctx, models.SMSFlowFindEmail, "user-1", "123456"))
}

func TestConfirmCodeThen_ActionFailureKeepsTokenUnverified(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowFindPassword, "user-1", testPhone))

	boom := errors.New("boom")
	err := f.engine.ConfirmCodeThen(ctx, models.SMSFlowFindPassword, "user-1", "123456", func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, f.token(t, models.SMSFlowFindPassword, "user-1").Verified)

	called := false
	require.NoError(t, f.engine.ConfirmCodeThen(ctx, models.SMSFlowFindPassword, "user-1", "123456", func(context.Context) error {
		called = true
		return nil
	}))
	require.True(t, called)
	require.True(t, f.token(t, models.SMSFlowFindPassword, "user-1").Verified)
}

func TestConfirmCodeThen_ActionNotRunOnMismatch(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowFindPassword, "user-1", testPhone))

	called := false
	err := f.engine.ConfirmCodeThen(ctx, models.SMSFlowFindPassword, "user-1", "000000", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, utils.ErrMismatch)
	require.False(t, called)
}

func TestRedeem(t *testing.T) {
	setup := func(t *testing.T) *engineFixture {
		f := newEngineFixture("123456")
		ctx := context.Background()
		require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))
		require.NoError(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, testPhone, "123456"))
		return f
	}

	t.Run("fresh verification runs action and deletes token", func(t *testing.T) {
		f := setup(t)
		f.clock.Advance(CodeExpiry)
		called := 0
		require.NoError(t, f.engine.Redeem(context.Background(), models.SMSFlowSignup, testPhone, CodeExpiry, func(context.Context) error {
			called++
			return nil
		}))
		require.Equal(t, 1, called)
		_, ok := f.repo.peek(models.SMSFlowSignup, testPhone)
		require.False(t, ok)

		err := f.engine.Redeem(context.Background(), models.SMSFlowSignup, testPhone, CodeExpiry, func(context.Context) error {
			called++
			return nil
		})
		require.ErrorIs(t, err, utils.ErrPhoneNotVerified)
		require.Equal(t, 1, called)
	})

	t.Run("stale verification is rejected", func(t *testing.T) {
		f := setup(t)
		f.clock.Advance(CodeExpiry + time.Second)
		err := f.engine.Redeem(context.Background(), models.SMSFlowSignup, testPhone, CodeExpiry, func(context.Context) error {
			t.Fatal("action must not run")
			return nil
		})
		require.ErrorIs(t, err, utils.ErrPhoneNotVerified)
	})

	t.Run("unverified token is rejected", func(t *testing.T) {
		f := newEngineFixture("123456")
		require.NoError(t, f.engine.RequestCode(context.Background(), models.SMSFlowSignup, testPhone, testPhone))
		err := f.engine.Redeem(context.Background(), models.SMSFlowSignup, testPhone, CodeExpiry, func(context.Context) error {
			return nil
		})
		require.ErrorIs(t, err, utils.ErrPhoneNotVerified)
	})

	t.Run("action failure keeps token", func(t *testing.T) {
		f := setup(t)
		boom := errors.New("boom")
		err := f.engine.Redeem(context.Background(), models.SMSFlowSignup, testPhone, CodeExpiry, func(context.Context) error {
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.True(t, f.token(t, models.SMSFlowSignup, testPhone).Verified)
	})
}

func TestScenario_MismatchThenConfirmThenRepeat(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()

	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, "01012345678", "01012345678"))
	require.Equal(t, 1, f.token(t, models.SMSFlowSignup, "01012345678").AttemptCount)

	require.ErrorIs(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, "01012345678", "000000"), utils.ErrMismatch)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, "01012345678", "123456"))
	require.ErrorIs(t, f.engine.ConfirmCode(ctx, models.SMSFlowSignup, "01012345678", "123456"), utils.ErrAlreadyVerified)
}

func TestScenario_FiveRequestsInAMinuteThenLimited(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, "01012345678", "01012345678"))
		require.Equal(t, i, f.token(t, models.SMSFlowSignup, "01012345678").AttemptCount)
		f.clock.Advance(10 * time.Second)
	}
	require.ErrorIs(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, "01012345678", "01012345678"), utils.ErrRateLimited)
}

func TestRequestCode_UnknownFlow(t *testing.T) {
	f := newEngineFixture()
	err := f.engine.RequestCode(context.Background(), models.SMSFlow("login"), "k", testPhone)
	require.Error(t, err)
	require.Zero(t, f.repo.accessCount())
}

func TestUnitOfWorkContextReachesCallbacks(t *testing.T) {
	f := newEngineFixture("123456")
	ctx := context.Background()
	require.NoError(t, f.engine.RequestCode(ctx, models.SMSFlowSignup, testPhone, testPhone))

	var thenBound, redeemBound bool
	require.NoError(t, f.engine.ConfirmCodeThen(ctx, models.SMSFlowSignup, testPhone, "123456", func(ctx context.Context) error {
		thenBound = inTokenTx(ctx)
		return nil
	}))
	require.NoError(t, f.engine.Redeem(ctx, models.SMSFlowSignup, testPhone, CodeExpiry, func(ctx context.Context) error {
		redeemBound = inTokenTx(ctx)
		return nil
	}))
	require.True(t, thenBound)
	require.True(t, redeemBound)
}
