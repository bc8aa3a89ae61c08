package services_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tryhardly/apiserver/internal/auth"
	"github.com/tryhardly/apiserver/internal/metrics"
	"github.com/tryhardly/apiserver/internal/services"
	"github.com/tryhardly/apiserver/internal/store"
	"github.com/tryhardly/apiserver/internal/store/memory"
	"github.com/tryhardly/apiserver/types"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	svc    *services.AuthService
	repo   *memory.UserRepository
	tokens *auth.TokenService
	hasher *auth.Argon2idHasher
	logs   *bytes.Buffer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.NewUserRepository()
	return newFixtureWithRepo(t, repo, repo)
}

func newFixtureWithRepo(t *testing.T, users services.UserRepository, mem *memory.UserRepository) fixture {
	t.Helper()
	hasher := auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1})
	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	svc := services.NewAuthService(users, auth.NewHashPool(hasher, 2), tokens, time.Hour, logger)
	return fixture{svc: svc, repo: mem, tokens: tokens, hasher: hasher, logs: &logs}
}

func heroInput() services.RegisterInput {
	return services.RegisterInput{
		Email:       "a@b.com",
		Username:    "hero1",
		DisplayName: "Hero",
		Password:    "Secr3t!",
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Register(ctx, heroInput())
	require.NoError(t, err)

	assert.NotEmpty(t, res.Token)
	assert.NotEmpty(t, res.User.ID)
	assert.Equal(t, "a@b.com", res.User.Email)
	assert.Equal(t, "hero1", res.User.Username)
	assert.Equal(t, "Hero", res.User.DisplayName)
	assert.Equal(t, types.ClassWarrior, res.User.Class)
	assert.Equal(t, types.DefaultLevel, res.User.Level)
	assert.Equal(t, types.DefaultXP, res.User.XP)

	claims, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)

	stored, err := f.repo.FindByID(ctx, res.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "Secr3t!", stored.PasswordHash)
	ok, err := f.hasher.Verify("Secr3t!", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterNormalizesInput(t *testing.T) {
	f := newFixture(t)

	in := heroInput()
	in.Email = "  Hero@Example.COM "
	in.Username = " hero1 "
	in.Class = "mage"

	res, err := f.svc.Register(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "hero@example.com", res.User.Email)
	assert.Equal(t, "hero1", res.User.Username)
	assert.Equal(t, types.ClassMage, res.User.Class)
}

func TestRegisterValidation(t *testing.T) {
	cases := map[string]func(*services.RegisterInput){
		"missing email":        func(in *services.RegisterInput) { in.Email = "" },
		"missing username":     func(in *services.RegisterInput) { in.Username = "  " },
		"missing display name": func(in *services.RegisterInput) { in.DisplayName = "" },
		"missing password":     func(in *services.RegisterInput) { in.Password = "" },
		"bad email":            func(in *services.RegisterInput) { in.Email = "not-an-email" },
		"email with name":      func(in *services.RegisterInput) { in.Email = "Hero <a@b.com>" },
		"short username":       func(in *services.RegisterInput) { in.Username = "ab" },
		"username with space":  func(in *services.RegisterInput) { in.Username = "hero one" },
		"unknown class":        func(in *services.RegisterInput) { in.Class = "BARD" },
		"huge password": func(in *services.RegisterInput) {
			in.Password = string(bytes.Repeat([]byte("x"), 1025))
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			in := heroInput()
			mutate(&in)

			_, err := f.svc.Register(context.Background(), in)
			require.ErrorIs(t, err, services.ErrValidation)

			var vErr *services.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.NotEmpty(t, vErr.Message)
			assert.Equal(t, 0, f.repo.Len())
		})
	}
}

func TestRegisterConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate email", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, heroInput())
		require.NoError(t, err)

		in := heroInput()
		in.Username = "hero2"
		in.Email = "A@B.COM"
		_, err = f.svc.Register(ctx, in)
		assert.ErrorIs(t, err, services.ErrConflict)
		assert.Equal(t, 1, f.repo.Len())
	})

	t.Run("duplicate username", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Register(ctx, heroInput())
		require.NoError(t, err)

		in := heroInput()
		in.Email = "other@b.com"
		_, err = f.svc.Register(ctx, in)
		assert.ErrorIs(t, err, services.ErrConflict)
		assert.Equal(t, 1, f.repo.Len())
	})
}

func TestRegisterConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)

	var (
		wg        sync.WaitGroup
		ok        atomic.Int32
		conflicts atomic.Int32
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := heroInput()
			in.Username = "racer" + string(rune('a'+i))
			_, err := f.svc.Register(context.Background(), in)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, services.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), conflicts.Load())
	assert.Equal(t, 1, f.repo.Len())
}

// racingRepo reports every lookup as not found, mimicking a concurrent writer
// that wins between the pre-check and the insert.
type racingRepo struct {
	*memory.UserRepository
}

func (r racingRepo) FindByEmail(context.Context, string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

func (r racingRepo) FindByUsername(context.Context, string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

func TestRegisterConflictDetectedAtWrite(t *testing.T) {
	mem := memory.NewUserRepository()
	f := newFixtureWithRepo(t, racingRepo{mem}, mem)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, heroInput())
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, heroInput())
	assert.ErrorIs(t, err, services.ErrConflict)
	assert.Equal(t, 1, mem.Len())
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	registered, err := f.svc.Register(ctx, heroInput())
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, " A@b.com ", "Secr3t!")
	require.NoError(t, err)
	assert.Equal(t, registered.User, res.User)

	claims, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, claims.UserID)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, heroInput())
	require.NoError(t, err)

	_, wrongPassword := f.svc.Login(ctx, "a@b.com", "wrong")
	_, unknownEmail := f.svc.Login(ctx, "nobody@b.com", "Secr3t!")

	require.ErrorIs(t, wrongPassword, services.ErrUnauthorized)
	require.ErrorIs(t, unknownEmail, services.ErrUnauthorized)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLoginMissingCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), "", "pw")
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = f.svc.Login(context.Background(), "a@b.com", "")
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestLoginCorruptCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.repo.Create(ctx, types.User{
		ID:           "broken",
		Email:        "broken@b.com",
		Username:     "broken",
		DisplayName:  "Broken",
		PasswordHash: "$argon2id$garbage",
		Class:        types.ClassRogue,
	})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "broken@b.com", "whatever")
	assert.ErrorIs(t, err, auth.ErrCorruptCredential)
	assert.NotErrorIs(t, err, services.ErrUnauthorized)
}

func TestLoginPerformsNoWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, heroInput())
	require.NoError(t, err)
	before, err := f.repo.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "a@b.com", "Secr3t!")
	require.NoError(t, err)

	after, err := f.repo.FindByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.repo.Len())
}

type failingRepo struct {
	err error
}

func (r failingRepo) FindByID(context.Context, string) (types.User, error) {
	return types.User{}, r.err
}

func (r failingRepo) FindByEmail(context.Context, string) (types.User, error) {
	return types.User{}, r.err
}

func (r failingRepo) FindByUsername(context.Context, string) (types.User, error) {
	return types.User{}, r.err
}

func (r failingRepo) Create(context.Context, types.User) (types.User, error) {
	return types.User{}, r.err
}

func TestRepositoryFailuresAreInternal(t *testing.T) {
	boom := errors.New("db down")
	f := newFixtureWithRepo(t, failingRepo{err: boom}, memory.NewUserRepository())
	ctx := context.Background()

	_, err := f.svc.Register(ctx, heroInput())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, services.ErrConflict)

	_, err = f.svc.Login(ctx, "a@b.com", "Secr3t!")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, services.ErrUnauthorized)
}

func TestUserServiceGetPublic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	users := services.NewUserService(f.repo)

	res, err := f.svc.Register(ctx, heroInput())
	require.NoError(t, err)

	got, err := users.GetPublic(ctx, res.User.ID)
	require.NoError(t, err)
	assert.Equal(t, res.User, got)

	_, err = users.GetPublic(ctx, "missing")
	assert.ErrorIs(t, err, services.ErrUnauthorized)
}

type stubHasher struct {
	verifyErr error
}

func (h stubHasher) Hash(context.Context, string) (string, error) {
	return "", h.verifyErr
}

func (h stubHasher) Verify(context.Context, string, string) (bool, error) {
	return false, h.verifyErr
}

func (stubHasher) NeedsUpgrade(string) bool {
	return false
}

func TestLoginUnknownEmailPassesContextErrors(t *testing.T) {
	tokens, err := auth.NewTokenService(testSecret)
	require.NoError(t, err)

	for _, ctxErr := range []error{context.Canceled, context.DeadlineExceeded} {
		t.Run(ctxErr.Error(), func(t *testing.T) {
			svc := services.NewAuthService(memory.NewUserRepository(), stubHasher{verifyErr: ctxErr}, tokens, time.Hour, nil)

			_, err := svc.Login(context.Background(), "ghost@b.com", "Secr3t!")
			assert.ErrorIs(t, err, ctxErr)
			assert.NotErrorIs(t, err, services.ErrUnauthorized)
		})
	}
}

func TestLoginWithLegacyBcryptRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("oldpassword"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = f.repo.Create(ctx, types.User{
		ID:           "legacy-1",
		Email:        "old@b.com",
		Username:     "oldtimer",
		DisplayName:  "Old Timer",
		PasswordHash: string(legacy),
		Class:        types.ClassRogue,
		Level:        types.DefaultLevel,
	})
	require.NoError(t, err)

	before := testutil.ToFloat64(metrics.LegacyCredentialLoginsTotal)

	res, err := f.svc.Login(ctx, "old@b.com", "oldpassword")
	require.NoError(t, err)
	assert.Equal(t, "legacy-1", res.User.ID)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LegacyCredentialLoginsTotal))
	assert.Contains(t, f.logs.String(), "login with legacy password hash")

	stored, err := f.repo.FindByID(ctx, "legacy-1")
	require.NoError(t, err)
	assert.Equal(t, string(legacy), stored.PasswordHash)

	_, err = f.svc.Login(ctx, "a@b.com", "nope")
	require.ErrorIs(t, err, services.ErrUnauthorized)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LegacyCredentialLoginsTotal))
}
