package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/satchelhq/satchel/internal/common"
	"github.com/satchelhq/satchel/pkg/config"
	"github.com/satchelhq/satchel/pkg/types"
	"github.com/satchelhq/satchel/pkg/utils"
)

// Service is the access guard: it turns credentials or tokens into a user
// identity. The session core never trusts a client-supplied user id; it only
// acts on identities resolved here.
type Service struct {
	db     *common.Database
	cache  *common.Cache
	config *config.AuthConfig
}

// NewService creates a new authentication service. cache may be nil; token
// and user lookups then always hit the database.
func NewService(db *common.Database, cache *common.Cache, config *config.AuthConfig) *Service {
	return &Service{
		db:     db,
		cache:  cache,
		config: config,
	}
}

// Signup creates a new user account
func (s *Service) Signup(ctx context.Context, email, password string) (*types.User, error) {
	email = utils.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", types.ErrInvalidInput)
	}

	var existing types.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error; err == nil {
		return nil, fmt.Errorf("%w: user already exists", types.ErrInvalidInput)
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: looking up user: %v", types.ErrStorageFailure, err)
	}

	hashed, err := utils.HashPassword(password, s.config.BCryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		Email:    email,
		Password: hashed,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("%w: creating user: %v", types.ErrStorageFailure, err)
	}

	log.Info().Str("user_id", user.ID.String()).Msg("user registered")

	user.Password = ""
	return user, nil
}

// Login verifies credentials and issues a JWT token
func (s *Service) Login(ctx context.Context, email, password string) (*types.AuthToken, error) {
	email = utils.NormalizeEmail(email)

	var user types.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: invalid credentials", types.ErrUnauthenticated)
		}
		return nil, fmt.Errorf("%w: looking up user: %v", types.ErrStorageFailure, err)
	}

	if !utils.CheckPassword(password, user.Password) {
		return nil, fmt.Errorf("%w: invalid credentials", types.ErrUnauthenticated)
	}

	token, err := utils.GenerateJWT(user.ID, s.config.JWTSecret, s.config.JWTExpiration)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	authToken := &types.AuthToken{
		Token:     token,
		ExpiresAt: time.Now().Add(s.config.JWTExpiration),
		UserID:    user.ID,
	}

	if s.cache != nil {
		cacheKey := fmt.Sprintf("user:%s", user.ID.String())
		user.Password = ""
		if err := s.cache.Set(ctx, cacheKey, &user, s.config.JWTExpiration); err != nil {
			log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("failed to cache user")
		}
	}

	return authToken, nil
}

// Authenticate resolves a bearer token to a user identity
func (s *Service) Authenticate(ctx context.Context, tokenString string) (uuid.UUID, error) {
	userID, err := utils.ValidateJWT(tokenString, s.config.JWTSecret)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid token", types.ErrUnauthenticated)
	}

	if s.cache != nil {
		var cached types.User
		if err := s.cache.Get(ctx, fmt.Sprintf("user:%s", userID.String()), &cached); err == nil {
			return cached.ID, nil
		}
	}

	var user types.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, fmt.Errorf("%w: unknown user", types.ErrUnauthenticated)
		}
		return uuid.Nil, fmt.Errorf("%w: loading user: %v", types.ErrStorageFailure, err)
	}

	return user.ID, nil
}

// Logout drops the user's cached identity; the token itself expires on its own
func (s *Service) Logout(ctx context.Context, userID uuid.UUID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, fmt.Sprintf("user:%s", userID.String()))
}
