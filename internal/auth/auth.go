// Package auth manages accounts: registration, password login, bearer
// tokens, profile updates and account deletion.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/user"
)

const (
	minPasswordRunes = 8
	maxUsernameRunes = 150
)

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrInvalidToken       = errors.New("auth: invalid token")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrEmailTaken         = errors.New("auth: email already registered")
)

// Registration is the sign-up form.
type Registration struct {
	Email    string       `json:"email"`
	Username string       `json:"username"`
	Password string       `json:"password"`
	Profile  user.Profile `json:"profile"`
}

// Validate joins every problem found in r.
func (r Registration) Validate() error {
	var errs []error
	if _, err := mail.ParseAddress(r.Email); err != nil || !strings.Contains(r.Email, "@") {
		errs = append(errs, fmt.Errorf("%w: email %q", ErrInvalidInput, r.Email))
	}
	if n := utf8.RuneCountInString(r.Username); n == 0 || n > maxUsernameRunes {
		errs = append(errs, fmt.Errorf("%w: username must be 1 to %d characters", ErrInvalidInput, maxUsernameRunes))
	}
	if utf8.RuneCountInString(r.Password) < minPasswordRunes {
		errs = append(errs, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordRunes))
	}
	if err := r.Profile.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Session is a successful login.
type Session struct {
	Token     string     `json:"token"`
	ExpiresAt int64      `json:"expires_at"`
	User      *user.User `json:"-"`
}

// Invalidator drops cached per-user data.
type Invalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// Service implements the account operations.
type Service struct {
	users  store.Users
	tokens *Tokens
	cost   int
	inval  Invalidator
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option { return func(s *Service) { s.cost = cost } }

// WithInvalidator drops the user's cached stats on account deletion.
func WithInvalidator(i Invalidator) Option { return func(s *Service) { s.inval = i } }

// NewService returns a Service.
func NewService(users store.Users, tokens *Tokens, opts ...Option) *Service {
	s := &Service{users: users, tokens: tokens, cost: bcrypt.DefaultCost}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register creates an account and logs it in.
func (s *Service) Register(ctx context.Context, r Registration) (*Session, error) {
	r.Email = user.NormalizeEmail(r.Email)
	r.Username = strings.TrimSpace(r.Username)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(r.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}
	u := &user.User{Email: r.Email, Username: r.Username, PasswordHash: hash, Profile: r.Profile}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("auth: register: %w", err)
	}
	slog.InfoContext(ctx, "auth: user registered", "user_id", u.ID)
	return s.session(u)
}

// Login checks the password of email.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("auth: login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	slog.InfoContext(ctx, "auth: user logged in", "user_id", u.ID)
	return s.session(u)
}

func (s *Service) session(u *user.User) (*Session, error) {
	token, exp, err := s.tokens.Issue(u.ID)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp.Unix(), User: u}, nil
}

// Authenticate returns the user ID of a bearer token.
func (s *Service) Authenticate(_ context.Context, token string) (uuid.UUID, error) {
	return s.tokens.Verify(token)
}

// Me returns the account of id.
func (s *Service) Me(ctx context.Context, id uuid.UUID) (*user.User, error) {
	u, err := s.users.UserByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auth: me: %w", err)
	}
	return u, nil
}

// UpdateProfile validates and stores p.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, p user.Profile) (*user.User, error) {
	p.Bio = strings.TrimSpace(p.Bio)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.users.UpdateProfile(ctx, id, p); err != nil {
		return nil, fmt.Errorf("auth: update profile: %w", err)
	}
	return s.Me(ctx, id)
}

// DeleteAccount removes the account and all of its dreams.
func (s *Service) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return fmt.Errorf("auth: delete account: %w", err)
	}
	if s.inval != nil {
		if err := s.inval.Invalidate(ctx, id); err != nil {
			slog.WarnContext(ctx, "auth: stats cache invalidation failed", "user_id", id, "err", err)
		}
	}
	slog.InfoContext(ctx, "auth: account deleted", "user_id", id)
	return nil
}
