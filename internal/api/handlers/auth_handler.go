package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perimeterd/perimeter/internal/auth"
	"github.com/perimeterd/perimeter/internal/enforce"
	"github.com/perimeterd/perimeter/internal/threat"
)

// AuthHandler serves login/logout/me. Failed logins feed the threat
// tracker so brute-force and credential-stuffing evidence accumulates.
type AuthHandler struct {
	sessions *auth.Service
	tracker  *threat.Tracker
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(sessions *auth.Service, tracker *threat.Tracker) *AuthHandler {
	return &AuthHandler{sessions: sessions, tracker: tracker}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login verifies credentials and issues a session token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	token, user, err := h.sessions.Login(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrAccountDisabled) {
			h.tracker.ObserveLoginFailure(enforce.ClientIP(c), req.Email)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.SetCookie(auth.SessionCookie, token, 12*60*60, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Logout revokes every session issued to the caller.
func (h *AuthHandler) Logout(c *gin.Context) {
	session := sessionFromContext(c)
	if session.Authenticated {
		if err := h.sessions.RevokeSessions(session.UserUUID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
			return
		}
	}
	c.SetCookie(auth.SessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// Me returns the caller's session identity.
func (h *AuthHandler) Me(c *gin.Context) {
	session := sessionFromContext(c)
	if !session.Authenticated {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":     session.Email,
		"role":      session.Role,
		"issued_at": session.IssuedAt,
	})
}

func sessionFromContext(c *gin.Context) auth.Session {
	if v, ok := c.Get(enforce.ContextSession); ok {
		if s, ok := v.(auth.Session); ok {
			return s
		}
	}
	return auth.Session{}
}
