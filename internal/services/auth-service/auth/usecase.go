package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/NordCoder/Sentinel/internal/authority"
	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/NordCoder/Sentinel/internal/domain/user"
	"github.com/NordCoder/Sentinel/internal/obs"
	"go.uber.org/zap"
)

var (
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrAccountDisabled      = errors.New("account is disabled")
	ErrInsufficientRole     = errors.New("insufficient role")
	ErrCannotDeactivateSelf = errors.New("cannot deactivate own account")
)

// ValidationError lists the rejected fields of a request.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for f, msgs := range e.Fields {
		parts = append(parts, f+": "+strings.Join(msgs, ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

type Config struct {
	// RotateRefresh revokes the presented refresh token and issues a new
	// pair on every refresh.
	RotateRefresh bool
}

type Usecase struct {
	users  user.Repo
	hasher user.PasswordHasher
	tokens *authority.Authority
	tx     token.Transactor
	cfg    Config
	log    *zap.Logger
}

type Opts struct {
	Logger *zap.Logger
	// Tx groups identity writes with the revocation they trigger.
	Tx token.Transactor
}

func NewUsecase(users user.Repo, hasher user.PasswordHasher, tokens *authority.Authority, cfg Config, o Opts) *Usecase {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Tx == nil {
		o.Tx = noTx{}
	}
	return &Usecase{users: users, hasher: hasher, tokens: tokens, tx: o.Tx, cfg: cfg, log: o.Logger}
}

// Session is the result of a successful login or refresh.
type Session struct {
	User *user.User
	Pair *token.Pair
}

func identityOf(u *user.User) token.Identity {
	return token.Identity{Subject: u.SubjectID(), Username: u.Username, Email: u.Email, Role: u.Role}
}

func (uc *Usecase) Login(ctx context.Context, username, password string) (*Session, error) {
	verr := &ValidationError{}
	if strings.TrimSpace(username) == "" {
		verr.add("username", "username is required")
	}
	if password == "" {
		verr.add("password", "password is required")
	}
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	u, err := uc.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, user.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !uc.hasher.Compare(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if !u.Active {
		return nil, ErrAccountDisabled
	}

	pair, err := uc.tokens.IssuePair(ctx, identityOf(u))
	if err != nil {
		return nil, err
	}
	obs.WithTrace(ctx, uc.log).Info("auth.login", zap.Int64("user_id", u.ID))
	return &Session{User: u, Pair: pair}, nil
}

// Refresh exchanges a refresh token for new credentials. Account status is
// read fresh. With rotation on, only one of several concurrent refreshes
// with the same token succeeds.
func (uc *Usecase) Refresh(ctx context.Context, raw string) (*Session, error) {
	claims, err := uc.tokens.Verify(ctx, raw, token.KindRefresh)
	if err != nil {
		return nil, err
	}
	u, err := uc.userBySubject(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !u.Active {
		return nil, ErrAccountDisabled
	}

	if !uc.cfg.RotateRefresh {
		access, err := uc.tokens.IssueAccess(ctx, identityOf(u))
		if err != nil {
			return nil, err
		}
		return session(u, access, &token.Token{Raw: raw, Claims: *claims}), nil
	}

	_, created, err := uc.tokens.Revoke(ctx, authority.RequestFor(claims, token.ReasonRotation))
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, token.ErrRevoked
	}
	pair, err := uc.tokens.IssuePair(ctx, identityOf(u))
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Pair: pair}, nil
}

func session(u *user.User, access, refresh *token.Token) *Session {
	return &Session{User: u, Pair: &token.Pair{Access: access, Refresh: refresh}}
}

// Logout revokes whichever of the two tokens verify by signature. It never
// fails: revocation errors are logged and counted by the authority.
func (uc *Usecase) Logout(ctx context.Context, accessRaw, refreshRaw string) {
	log := obs.WithTrace(ctx, uc.log)
	for _, raw := range []string{accessRaw, refreshRaw} {
		if raw == "" {
			continue
		}
		if _, err := uc.tokens.RevokeToken(ctx, raw, token.ReasonLogout); err != nil {
			if token.IsFatal(err) {
				log.Debug("logout: token ignored", zap.Error(err))
				continue
			}
			log.Error("logout: revoke failed", zap.Error(err))
		}
	}
}

func (uc *Usecase) Me(ctx context.Context, subject string) (*user.User, error) {
	return uc.userBySubject(ctx, subject)
}

// ChangePassword stores the new hash, revokes every session of the user
// and returns a fresh pair for the caller.
func (uc *Usecase) ChangePassword(ctx context.Context, subject, oldPassword, newPassword string) (*Session, error) {
	verr := &ValidationError{}
	if oldPassword == "" {
		verr.add("old_password", "old_password is required")
	}
	checkPassword(verr, "new_password", newPassword)
	if err := verr.orNil(); err != nil {
		return nil, err
	}

	u, err := uc.userBySubject(ctx, subject)
	if err != nil {
		return nil, err
	}
	if !uc.hasher.Compare(u.PasswordHash, oldPassword) {
		return nil, ErrInvalidCredentials
	}
	hash, err := uc.hasher.Hash(newPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	err = uc.tx.WithTx(ctx, func(ctx context.Context) error {
		u.PasswordHash = hash
		if err := uc.users.Update(ctx, u); err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		_, err := uc.tokens.RevokeSubject(ctx, subject, token.ReasonPasswordChange)
		return err
	})
	if err != nil {
		return nil, err
	}

	pair, err := uc.tokens.IssuePair(ctx, identityOf(u))
	if err != nil {
		return nil, err
	}
	obs.WithTrace(ctx, uc.log).Info("auth.password_changed", zap.Int64("user_id", u.ID))
	return &Session{User: u, Pair: pair}, nil
}

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (in *RegisterInput) validate() error {
	verr := &ValidationError{}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if n := len(in.Username); n < 3 || n > 50 {
		verr.add("username", "username must be 3 to 50 characters")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil || in.Email == "" {
		verr.add("email", "email is invalid")
	}
	checkPassword(verr, "password", in.Password)
	switch in.Role {
	case "":
		in.Role = user.RoleUser
	case user.RoleUser, user.RoleAdmin:
	default:
		verr.add("role", "role must be user or admin")
	}
	return verr.orNil()
}

func checkPassword(verr *ValidationError, field, p string) {
	if len(p) < 8 {
		verr.add(field, "password must be at least 8 characters")
	}
	var upper, lower, digit, special bool
	for _, r := range p {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !upper || !lower || !digit || !special {
		verr.add(field, "password needs an upper case letter, a lower case letter, a digit and a special character")
	}
}

// Register creates an account. The actor's role is read from the identity
// store, not from the token.
func (uc *Usecase) Register(ctx context.Context, actor string, in RegisterInput) (*user.User, error) {
	if _, err := uc.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	if err := in.validate(); err != nil {
		return nil, err
	}
	return uc.create(ctx, in)
}

func (uc *Usecase) create(ctx context.Context, in RegisterInput) (*user.User, error) {
	hash, err := uc.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &user.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		Active:       true,
	}
	if err := uc.users.Create(ctx, u); err != nil {
		return nil, err
	}
	obs.WithTrace(ctx, uc.log).Info("auth.user_created", zap.Int64("user_id", u.ID), zap.String("role", u.Role))
	return u, nil
}

// EnsureAdmin creates an admin account unless the username is taken.
// created is false when the user already existed.
func (uc *Usecase) EnsureAdmin(ctx context.Context, in RegisterInput) (u *user.User, created bool, err error) {
	existing, err := uc.users.GetByUsername(ctx, strings.TrimSpace(in.Username))
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, user.ErrNotFound):
		return nil, false, err
	}
	in.Role = user.RoleAdmin
	if err := in.validate(); err != nil {
		return nil, false, err
	}
	u, err = uc.create(ctx, in)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// SetActive toggles an account. Deactivation also revokes every session.
func (uc *Usecase) SetActive(ctx context.Context, actor string, id int64, active bool) (*user.User, error) {
	admin, err := uc.requireAdmin(ctx, actor)
	if err != nil {
		return nil, err
	}
	if admin.ID == id && !active {
		return nil, ErrCannotDeactivateSelf
	}

	err = uc.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := uc.users.SetActive(ctx, id, active); err != nil {
			return err
		}
		if active {
			return nil
		}
		_, err := uc.tokens.RevokeSubject(ctx, (&user.User{ID: id}).SubjectID(), token.ReasonDeactivation)
		return err
	})
	if err != nil {
		return nil, err
	}
	obs.WithTrace(ctx, uc.log).Info("auth.status_changed",
		zap.Int64("user_id", id), zap.Bool("active", active), zap.Int64("by", admin.ID))
	return uc.users.GetByID(ctx, id)
}

// RevokeSessions logs the user out everywhere.
func (uc *Usecase) RevokeSessions(ctx context.Context, actor string, id int64) (token.SubjectRevocation, error) {
	if _, err := uc.requireAdmin(ctx, actor); err != nil {
		return token.SubjectRevocation{}, err
	}
	return uc.RevokeUser(ctx, id, token.ReasonAdmin)
}

// RevokeUser is RevokeSessions without the actor check, for operator tooling.
func (uc *Usecase) RevokeUser(ctx context.Context, id int64, reason token.RevokeReason) (token.SubjectRevocation, error) {
	u, err := uc.users.GetByID(ctx, id)
	if err != nil {
		return token.SubjectRevocation{}, err
	}
	return uc.tokens.RevokeSubject(ctx, u.SubjectID(), reason)
}

func (uc *Usecase) requireAdmin(ctx context.Context, actor string) (*user.User, error) {
	u, err := uc.userBySubject(ctx, actor)
	if errors.Is(err, user.ErrNotFound) {
		return nil, ErrInsufficientRole
	}
	if err != nil {
		return nil, err
	}
	if !u.Active || u.Role != user.RoleAdmin {
		return nil, ErrInsufficientRole
	}
	return u, nil
}

func (uc *Usecase) userBySubject(ctx context.Context, subject string) (*user.User, error) {
	id, err := user.ParseSubject(subject)
	if err != nil {
		return nil, user.ErrNotFound
	}
	return uc.users.GetByID(ctx, id)
}

type noTx struct{}

func (noTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
