package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/frahmantamala/memory-permissions/internal"
	"github.com/frahmantamala/memory-permissions/internal/core/common/validation"
	"github.com/frahmantamala/memory-permissions/internal/user"
	"github.com/frahmantamala/memory-permissions/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// bcrypt ignores everything past 72 bytes, so longer passwords are refused.
const maxPasswordBytes = 72

// ServiceAPI is what the HTTP layer needs from the auth service.
type ServiceAPI interface {
	Register(ctx context.Context, dto RegisterDTO) (*AuthResult, error)
	Login(ctx context.Context, dto LoginDTO) (*AuthResult, error)
	VerifyToken(ctx context.Context, token string) (*user.User, error)
	Logout(ctx context.Context, token string) error
}

type Options struct {
	BCryptCost   int
	QueryTimeout time.Duration
	// TokenTTL bounds how long a logged out token is remembered.
	TokenTTL time.Duration
	Denylist TokenDenylist
}

// Service is the main auth service with dependencies
type Service struct {
	repo           user.RepositoryAPI
	tokenGenerator TokenGenerator
	denylist       TokenDenylist
	bcryptCost     int
	queryTimeout   time.Duration
	tokenTTL       time.Duration
	logger         *slog.Logger
}

// NewService creates a new auth service
func NewService(repo user.RepositoryAPI, tokenGen TokenGenerator, opts Options, logger *slog.Logger) *Service {
	if opts.BCryptCost == 0 {
		opts.BCryptCost = bcrypt.DefaultCost
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.Denylist == nil {
		opts.Denylist = NopDenylist{}
	}
	return &Service{
		repo:           repo,
		tokenGenerator: tokenGen,
		denylist:       opts.Denylist,
		bcryptCost:     opts.BCryptCost,
		queryTimeout:   opts.QueryTimeout,
		tokenTTL:       opts.TokenTTL,
		logger:         logger,
	}
}

// Register creates an account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, dto RegisterDTO) (*AuthResult, error) {
	email := user.NormalizeEmail(dto.Email)

	if email == "" || dto.Password == "" || dto.ConfirmPassword == "" {
		return nil, internal.ErrAllFieldsRequired
	}
	if !validation.IsEmail(email) {
		return nil, internal.ErrInvalidEmail
	}
	if dto.Password != dto.ConfirmPassword {
		return nil, internal.ErrPasswordsMismatch
	}

	existing, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log(ctx).Warn("registration rejected, email in use", "email", email)
		return nil, internal.ErrEmailInUse
	}

	if len(dto.Password) > maxPasswordBytes {
		return nil, internal.ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), s.bcryptCost)
	if err != nil {
		return nil, internal.NewInternalError("failed to hash password", err)
	}

	u := user.New(email, string(hash))

	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := s.repo.Create(storeCtx, user.ToDataModel(u)); err != nil {
		// a concurrent registration can win between the lookup and the insert
		if errors.Is(err, user.ErrEmailTaken) {
			return nil, internal.ErrEmailInUse
		}
		return nil, internal.NewInternalError("failed to create user", err)
	}

	token, err := s.issue(u.ID)
	if err != nil {
		return nil, err
	}

	s.log(ctx).Info("user registered", "user_id", u.ID, "email", u.Email)
	return &AuthResult{User: u, Token: token}, nil
}

func (s *Service) Login(ctx context.Context, dto LoginDTO) (*AuthResult, error) {
	email := user.NormalizeEmail(dto.Email)
	if email == "" || dto.Password == "" {
		return nil, internal.ErrCredentialsRequired
	}

	u, err := s.findByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, internal.ErrUserNotFound
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(dto.Password)); err != nil {
		s.log(ctx).Warn("login rejected, bad password", "user_id", u.ID)
		return nil, internal.ErrInvalidCredentials
	}

	token, err := s.issue(u.ID)
	if err != nil {
		return nil, err
	}

	s.log(ctx).Debug("user logged in", "user_id", u.ID)
	return &AuthResult{User: u, Token: token}, nil
}

// GetUserByEmail returns (nil, nil) when no account has that email.
func (s *Service) GetUserByEmail(ctx context.Context, email string) (*user.User, error) {
	email = user.NormalizeEmail(email)
	if email == "" {
		return nil, internal.ErrEmailRequired
	}
	return s.findByEmail(ctx, email)
}

// GetUserByID returns (nil, nil) when the id is unknown.
func (s *Service) GetUserByID(ctx context.Context, id string) (*user.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}

	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row, err := s.repo.GetByID(storeCtx, id)
	if err != nil {
		return nil, internal.NewInternalError("failed to load user", err)
	}
	return user.FromDataModel(row), nil
}

// VerifyToken resolves a bearer token to the user it was issued for.
func (s *Service) VerifyToken(ctx context.Context, token string) (*user.User, error) {
	if token == "" {
		return nil, internal.ErrMissingToken
	}

	userID, err := s.tokenGenerator.Verify(token)
	if err != nil {
		s.log(ctx).Debug("token verification failed", "error", err)
		return nil, internal.ErrInvalidToken
	}

	denied, err := s.denylist.Contains(ctx, token)
	if err != nil {
		// an unreachable denylist must not lock every caller out
		s.log(ctx).Warn("token denylist unavailable", "user_id", userID, "error", err)
	}
	if denied {
		s.log(ctx).Debug("token was logged out", "user_id", userID)
		return nil, internal.ErrInvalidToken
	}

	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		s.log(ctx).Warn("token issued for unknown user", "user_id", userID)
		return nil, internal.ErrInvalidToken
	}
	return u, nil
}

// Logout denies a valid token for the rest of its lifetime. A missing or
// already invalid token has nothing to revoke and succeeds.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	userID, err := s.tokenGenerator.Verify(token)
	if err != nil {
		return nil
	}

	if err := s.denylist.Add(ctx, token, s.tokenTTL); err != nil {
		return internal.NewInternalError("failed to log out", err)
	}
	s.log(ctx).Info("user logged out", "user_id", userID)
	return nil
}

func (s *Service) findByEmail(ctx context.Context, email string) (*user.User, error) {
	storeCtx, cancel := internal.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	row, err := s.repo.GetByEmail(storeCtx, email)
	if err != nil {
		return nil, internal.NewInternalError("failed to load user", err)
	}
	return user.FromDataModel(row), nil
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromOr(ctx, s.logger)
}

func (s *Service) issue(userID string) (string, error) {
	token, err := s.tokenGenerator.Issue(userID)
	if err != nil {
		return "", internal.NewInternalError("failed to issue token", err)
	}
	return token, nil
}
