package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"vidgrab/internal/auth"
	"vidgrab/internal/consts"
	"vidgrab/internal/entity"
	"vidgrab/internal/errs"
	"vidgrab/internal/observability"
	"vidgrab/internal/userstore"

	"github.com/google/uuid"
)

const (
	maxUsernameLen = 64
	// bcrypt ignores input past 72 bytes.
	maxPasswordBytes = 72
)

// Signup is the payload of a new account.
type Signup struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LogValue implements the slog.LogValuer interface and never logs the password.
func (s Signup) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("email", s.Email),
	)
}

// Token is an issued access token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Users manages accounts and issues tokens.
type Users interface {
	Signup(ctx context.Context, in Signup) (*entity.User, error)
	Login(ctx context.Context, username, password string) (Token, error)
	// Seed creates username unless it exists.
	Seed(ctx context.Context, username, password string) error
	Health(ctx context.Context) error
}

type users struct {
	log     *slog.Logger
	store   userstore.Storer
	tokens  *auth.Tokens
	hasher  auth.Hasher
	metrics *observability.Metrics
	now     func() time.Time
}

var _ Users = (*users)(nil)

// NewUsers creates the user service.
func NewUsers(log *slog.Logger, store userstore.Storer, tokens *auth.Tokens, hasher auth.Hasher,
	metrics *observability.Metrics,
) Users {
	return &users{
		log:     log.With(slog.String("package", "service"), slog.String("service", "users")),
		store:   store,
		tokens:  tokens,
		hasher:  hasher,
		metrics: metrics,
		now:     time.Now,
	}
}

// ValidateSignup checks in and returns it with surrounding spaces trimmed from
// username and email.
func ValidateSignup(in Signup) (Signup, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if in.Username == "" || utf8.RuneCountInString(in.Username) > maxUsernameLen ||
		strings.ContainsFunc(in.Username, func(r rune) bool { return r < ' ' || r == ':' }) {
		return in, errs.ErrInvalidUsername
	}

	if in.Email != "" {
		addr, err := mail.ParseAddress(in.Email)
		if err != nil || addr.Address != in.Email {
			return in, errs.ErrInvalidEmail
		}
	}

	if in.Password == "" || len(in.Password) > maxPasswordBytes {
		return in, errs.ErrInvalidPassword
	}

	return in, nil
}

func (svc *users) Signup(ctx context.Context, in Signup) (*entity.User, error) {
	in, err := ValidateSignup(in)
	if err != nil {
		return nil, err
	}

	user, err := svc.create(ctx, in)
	if err != nil {
		return nil, err
	}

	svc.metrics.RecordSignup()
	svc.log.InfoContext(ctx, "user signed up", slog.Any("user", user))

	return user, nil
}

func (svc *users) create(ctx context.Context, in Signup) (*entity.User, error) {
	hash, err := svc.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &entity.User{
		ID:             uuid.New(),
		Username:       in.Username,
		Email:          in.Email,
		HashedPassword: hash,
		IsActive:       true,
		CreatedAt:      svc.now().UTC(),
	}

	if err := svc.store.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user %q: %w", in.Username, err)
	}

	return user, nil
}

func (svc *users) Login(ctx context.Context, username, password string) (Token, error) {
	user, err := svc.store.GetByUsername(ctx, username)

	switch {
	case errors.Is(err, errs.ErrUserNotFound):
		// keep timing close to a wrong password
		svc.hasher.Check("", password)
		svc.metrics.RecordLogin(false)

		return Token{}, errs.ErrBadCredentials
	case err != nil:
		return Token{}, err
	}

	if !svc.hasher.Check(user.HashedPassword, password) {
		svc.metrics.RecordLogin(false)
		svc.log.InfoContext(ctx, "login rejected", slog.String("username", username))

		return Token{}, errs.ErrBadCredentials
	}

	if !user.IsActive {
		svc.metrics.RecordLogin(false)

		return Token{}, errs.ErrInactiveUser
	}

	raw, err := svc.tokens.Issue(user.Username)
	if err != nil {
		return Token{}, err
	}

	svc.metrics.RecordLogin(true)
	svc.log.DebugContext(ctx, "token issued", slog.String("username", username))

	return Token{AccessToken: raw, TokenType: consts.TokenTypeBearer}, nil
}

func (svc *users) Seed(ctx context.Context, username, password string) error {
	if username == "" {
		return nil
	}

	_, err := svc.store.GetByUsername(ctx, username)
	if err == nil {
		svc.log.DebugContext(ctx, "seed user exists", slog.String("username", username))

		return nil
	}

	if !errors.Is(err, errs.ErrUserNotFound) {
		return err
	}

	in, err := ValidateSignup(Signup{Username: username, Password: password})
	if err != nil {
		return fmt.Errorf("seed user: %w", err)
	}

	user, err := svc.create(ctx, in)
	if errors.Is(err, errs.ErrUserExists) {
		return nil
	}

	if err != nil {
		return err
	}

	svc.log.InfoContext(ctx, "seed user created", slog.Any("user", user))

	return nil
}

func (svc *users) Health(ctx context.Context) error {
	return svc.store.Ping(ctx)
}
