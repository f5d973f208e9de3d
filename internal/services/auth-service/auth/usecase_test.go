package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/Sentinel/internal/authority"
	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/domain/user"
	"github.com/NordCoder/Sentinel/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminPassword = "Admin#12345"
	userPassword  = "User#12345"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	uc    *Usecase
	a     *authority.Authority
	users *memory.UserRepo
	clock *clock
	admin *user.User
	user  *user.User
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	return newFixtureOn(t, cfg, memory.NewRevocationStore(), nil)
}

// newFixtureOn builds the fixture over store and logs to log.
func newFixtureOn(t *testing.T, cfg Config, store token.Store, log *zap.Logger) *fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	a, err := authority.New(authority.Config{
		Secret:     []byte("0123456789abcdef0123456789abcdef"),
		Issuer:     "auth-service-test",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
		Now:        clk.Now,
	}, store, authority.Opts{Logger: log})
	require.NoError(t, err)

	users := memory.NewUserRepo()
	uc := NewUsecase(users, BcryptHasher{Cost: bcrypt.MinCost}, a, cfg, Opts{Logger: log})

	ctx := context.Background()
	admin, created, err := uc.EnsureAdmin(ctx, RegisterInput{Username: "root", Email: "root@example.com", Password: adminPassword})
	require.NoError(t, err)
	require.True(t, created)
	u, err := uc.Register(ctx, admin.SubjectID(), RegisterInput{Username: "alice", Email: "alice@example.com", Password: userPassword})
	require.NoError(t, err)

	return &fixture{uc: uc, a: a, users: users, clock: clk, admin: admin, user: u}
}

// tick moves the clock so consecutive issuances and cutoffs are ordered.
func (f *fixture) tick() { f.clock.Advance(time.Second) }

func TestLogin(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	s, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, s.User.ID)
	assert.Equal(t, f.user.SubjectID(), s.Pair.Access.Claims.Subject)
	assert.Equal(t, user.RoleUser, s.Pair.Access.Claims.Role)

	_, err = f.uc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.uc.Login(ctx, "nobody", userPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	var verr *ValidationError
	_, err = f.uc.Login(ctx, " ", "")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "username")
	assert.Contains(t, verr.Fields, "password")

	require.NoError(t, f.users.SetActive(ctx, f.user.ID, false))
	_, err = f.uc.Login(ctx, "alice", userPassword)
	assert.ErrorIs(t, err, ErrAccountDisabled)
}

func TestRefreshRotates(t *testing.T) {
	f := newFixture(t, Config{RotateRefresh: true})
	ctx := context.Background()

	s, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)
	f.tick()

	next, err := f.uc.Refresh(ctx, s.Pair.Refresh.Raw)
	require.NoError(t, err)
	assert.NotEqual(t, s.Pair.Refresh.Raw, next.Pair.Refresh.Raw)

	_, err = f.uc.Refresh(ctx, s.Pair.Refresh.Raw)
	assert.ErrorIs(t, err, token.ErrRevoked, "a rotated refresh token cannot be reused")

	_, err = f.uc.Refresh(ctx, next.Pair.Refresh.Raw)
	assert.NoError(t, err)
}

func TestRefreshConcurrentRotationHasOneWinner(t *testing.T) {
	f := newFixture(t, Config{RotateRefresh: true})
	ctx := context.Background()

	s, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.uc.Refresh(ctx, s.Pair.Refresh.Raw); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRefreshWithoutRotation(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	s, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)
	f.tick()

	next, err := f.uc.Refresh(ctx, s.Pair.Refresh.Raw)
	require.NoError(t, err)
	assert.Equal(t, s.Pair.Refresh.Raw, next.Pair.Refresh.Raw)
	assert.NotEqual(t, s.Pair.Access.Raw, next.Pair.Access.Raw)
}

func TestRefreshRejects(t *testing.T) {
	f := newFixture(t, Config{RotateRefresh: true})
	ctx := context.Background()

	s, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)

	_, err = f.uc.Refresh(ctx, s.Pair.Access.Raw)
	assert.ErrorIs(t, err, token.ErrWrongKind)

	require.NoError(t, f.users.SetActive(ctx, f.user.ID, false))
	_, err = f.uc.Refresh(ctx, s.Pair.Refresh.Raw)
	assert.ErrorIs(t, err, ErrAccountDisabled, "status is read fresh on refresh")

	ghost, err := f.a.IssueRefresh(ctx, token.Identity{Subject: "999"})
	require.NoError(t, err)
	_, err = f.uc.Refresh(ctx, ghost.Raw)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	laptop, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)
	phone, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)

	f.uc.Logout(ctx, laptop.Pair.Access.Raw, laptop.Pair.Refresh.Raw)

	_, err = f.a.Verify(ctx, laptop.Pair.Access.Raw, token.KindAccess)
	assert.ErrorIs(t, err, token.ErrRevoked)
	_, err = f.a.Verify(ctx, laptop.Pair.Refresh.Raw, token.KindRefresh)
	assert.ErrorIs(t, err, token.ErrRevoked)

	_, err = f.a.Verify(ctx, phone.Pair.Access.Raw, token.KindAccess)
	assert.NoError(t, err, "other devices stay signed in")

	// garbage and repeated logouts are ignored
	f.uc.Logout(ctx, "not-a-token", "")
	f.uc.Logout(ctx, laptop.Pair.Access.Raw, laptop.Pair.Refresh.Raw)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	old, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)
	f.tick()

	_, err = f.uc.ChangePassword(ctx, f.user.SubjectID(), "wrong", "N3w#password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	var verr *ValidationError
	_, err = f.uc.ChangePassword(ctx, f.user.SubjectID(), userPassword, "short")
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "new_password")

	s, err := f.uc.ChangePassword(ctx, f.user.SubjectID(), userPassword, "N3w#password")
	require.NoError(t, err)

	_, err = f.a.Verify(ctx, old.Pair.Access.Raw, token.KindAccess)
	assert.ErrorIs(t, err, token.ErrRevoked)
	_, err = f.a.Verify(ctx, old.Pair.Refresh.Raw, token.KindRefresh)
	assert.ErrorIs(t, err, token.ErrRevoked)

	_, err = f.a.Verify(ctx, s.Pair.Access.Raw, token.KindAccess)
	assert.NoError(t, err, "pair issued with the cutoff stays valid")

	_, err = f.uc.Login(ctx, "alice", userPassword)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.uc.Login(ctx, "alice", "N3w#password")
	assert.NoError(t, err)
}

func TestRegister(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	admin := f.admin.SubjectID()

	_, err := f.uc.Register(ctx, f.user.SubjectID(), RegisterInput{Username: "bob", Email: "bob@example.com", Password: userPassword})
	assert.ErrorIs(t, err, ErrInsufficientRole)

	_, err = f.uc.Register(ctx, admin, RegisterInput{Username: "alice", Email: "other@example.com", Password: userPassword})
	assert.ErrorIs(t, err, user.ErrDuplicateUsername)
	_, err = f.uc.Register(ctx, admin, RegisterInput{Username: "alice2", Email: "ALICE@example.com", Password: userPassword})
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)

	var verr *ValidationError
	_, err = f.uc.Register(ctx, admin, RegisterInput{Username: "x", Email: "nope", Password: "password", Role: "root"})
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 4)

	u, err := f.uc.Register(ctx, admin, RegisterInput{Username: "bob", Email: "bob@example.com", Password: userPassword})
	require.NoError(t, err)
	assert.Equal(t, user.RoleUser, u.Role)
	assert.True(t, u.Active)
	assert.NotEqual(t, userPassword, u.PasswordHash)
}

func TestRegisterChecksRoleFreshly(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	demoted := *f.admin
	demoted.Role = user.RoleUser
	require.NoError(t, f.users.Update(ctx, &demoted))

	_, err := f.uc.Register(ctx, f.admin.SubjectID(), RegisterInput{Username: "bob", Email: "bob@example.com", Password: userPassword})
	assert.ErrorIs(t, err, ErrInsufficientRole)
}

func TestSetActive(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	_, err := f.uc.SetActive(ctx, f.admin.SubjectID(), f.admin.ID, false)
	assert.ErrorIs(t, err, ErrCannotDeactivateSelf)

	s, err := f.uc.Login(ctx, "alice", userPassword)
	require.NoError(t, err)
	f.tick()

	u, err := f.uc.SetActive(ctx, f.admin.SubjectID(), f.user.ID, false)
	require.NoError(t, err)
	assert.False(t, u.Active)

	_, err = f.a.Verify(ctx, s.Pair.Access.Raw, token.KindAccess)
	assert.ErrorIs(t, err, token.ErrRevoked)
	_, err = f.uc.Login(ctx, "alice", userPassword)
	assert.ErrorIs(t, err, ErrAccountDisabled)

	u, err = f.uc.SetActive(ctx, f.admin.SubjectID(), f.user.ID, true)
	require.NoError(t, err)
	assert.True(t, u.Active)
	_, err = f.uc.Login(ctx, "alice", userPassword)
	assert.NoError(t, err)

	_, err = f.uc.SetActive(ctx, f.admin.SubjectID(), 404, false)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func TestRevokeSessions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, err := f.uc.Login(ctx, "alice", userPassword)
		require.NoError(t, err)
		sessions = append(sessions, s)
	}
	f.tick()

	rev, err := f.uc.RevokeSessions(ctx, f.admin.SubjectID(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, token.ReasonAdmin, rev.Reason)

	for _, s := range sessions {
		_, err := f.a.Verify(ctx, s.Pair.Access.Raw, token.KindAccess)
		assert.ErrorIs(t, err, token.ErrRevoked)
	}

	_, err = f.uc.RevokeSessions(ctx, f.user.SubjectID(), f.admin.ID)
	assert.ErrorIs(t, err, ErrInsufficientRole)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})

	u, created, err := f.uc.EnsureAdmin(context.Background(), RegisterInput{Username: "root", Email: "x@example.com", Password: "whatever"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, f.admin.ID, u.ID)
	assert.Equal(t, user.RoleAdmin, u.Role)
}
