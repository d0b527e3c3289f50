package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/satchelhq/satchel/internal/common"
	"github.com/satchelhq/satchel/pkg/config"
	"github.com/satchelhq/satchel/pkg/types"
)

func setupTestDB(t *testing.T) *common.Database {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&types.User{})
	require.NoError(t, err)

	return &common.Database{DB: db}
}

func setupTestService(t *testing.T) *Service {
	authConfig := &config.AuthConfig{
		JWTSecret:     "test-secret-key-for-testing-purposes",
		JWTExpiration: time.Hour,
		BCryptCost:    4, // Low cost for testing speed
	}

	return NewService(setupTestDB(t), nil, authConfig)
}

func TestSignup_Success(t *testing.T) {
	service := setupTestService(t)

	user, err := service.Signup(context.Background(), "Student@Example.com", "correct horse battery")
	require.NoError(t, err)

	assert.Equal(t, "student@example.com", user.Email)
	assert.Empty(t, user.Password)
	assert.NotEqual(t, user.ID.String(), "00000000-0000-0000-0000-000000000000")
}

func TestSignup_DuplicateEmail(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	_, err := service.Signup(ctx, "student@example.com", "password123")
	require.NoError(t, err)

	_, err = service.Signup(ctx, "STUDENT@example.com", "different456")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestSignup_MissingFields(t *testing.T) {
	service := setupTestService(t)

	_, err := service.Signup(context.Background(), "", "password123")
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = service.Signup(context.Background(), "student@example.com", "")
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestLogin(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	_, err := service.Signup(ctx, "student@example.com", "password123")
	require.NoError(t, err)

	t.Run("valid credentials", func(t *testing.T) {
		token, err := service.Login(ctx, "student@example.com", "password123")
		require.NoError(t, err)
		assert.NotEmpty(t, token.Token)
		assert.True(t, token.ExpiresAt.After(time.Now()))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := service.Login(ctx, "student@example.com", "nope")
		assert.ErrorIs(t, err, types.ErrUnauthenticated)
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := service.Login(ctx, "stranger@example.com", "password123")
		assert.ErrorIs(t, err, types.ErrUnauthenticated)
	})
}

func TestAuthenticate(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	user, err := service.Signup(ctx, "student@example.com", "password123")
	require.NoError(t, err)

	token, err := service.Login(ctx, "student@example.com", "password123")
	require.NoError(t, err)

	got, err := service.Authenticate(ctx, token.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got)

	_, err = service.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, types.ErrUnauthenticated)

	_, err = service.Authenticate(ctx, token.Token+"tampered")
	assert.ErrorIs(t, err, types.ErrUnauthenticated)
}
