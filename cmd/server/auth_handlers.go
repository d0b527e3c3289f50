package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/auth"
	"github.com/satchelhq/satchel/pkg/types"
)

const userIDKey = "userID"

// statusForError maps the core error kinds onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrStorageFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), types.APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// authMiddleware resolves the caller's identity from a bearer token or the
// auth cookie. Handlers only ever see the resolved user id, never a
// client-supplied one.
func authMiddleware(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""

		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		} else if cookie, err := c.Cookie("token"); err == nil {
			token = cookie
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "missing credentials",
			})
			c.Abort()
			return
		}

		userID, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, types.APIResponse{
				Success: false,
				Error:   "invalid credentials",
			})
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUserID(c *gin.Context) uuid.UUID {
	return c.MustGet(userIDKey).(uuid.UUID)
}

func handleSignup(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.SignupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid request format",
			})
			return
		}

		user, err := authService.Signup(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{
			Success: true,
			Message: "user created",
			Data:    user,
		})
	}
}

func handleLogin(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{
				Success: false,
				Error:   "invalid request format",
			})
			return
		}

		token, err := authService.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			respondError(c, err)
			return
		}

		c.SetCookie("token", token.Token, int(time.Until(token.ExpiresAt).Seconds()), "/", "", false, true)
		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "login successful",
			Data:    token,
		})
	}
}

func handleLogout(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := authService.Logout(c.Request.Context(), currentUserID(c)); err != nil {
			respondError(c, err)
			return
		}

		c.SetCookie("token", "", -1, "/", "", false, true)
		c.JSON(http.StatusOK, types.APIResponse{
			Success: true,
			Message: "logged out",
		})
	}
}
