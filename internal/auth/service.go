// Package auth implements the identity/session collaborator: JWT sessions
// over a minimal user store.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/perimeterd/perimeter/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account disabled")
)

const tokenTTL = 12 * time.Hour

// SessionCookie is the cookie fallback for browser clients.
const SessionCookie = "perimeter_session"

// Session is the per-request identity supplied to the enforcement pipeline.
type Session struct {
	Authenticated bool
	UserUUID      string
	Email         string
	Role          string
	IssuedAt      time.Time
}

// IsAdmin reports whether the session holds the admin role. Admin sessions
// bypass IP blocks so operators never lock themselves out.
func (s Session) IsAdmin() bool {
	return s.Authenticated && s.Role == "admin"
}

// Service issues and validates session tokens.
type Service struct {
	db     *gorm.DB
	secret []byte
}

// NewService builds the session service with the signing secret.
func NewService(db *gorm.DB, secret string) *Service {
	return &Service{db: db, secret: []byte(secret)}
}

// Login verifies credentials and returns a signed session token.
func (s *Service) Login(email, password string) (string, *models.User, error) {
	var user models.User
	if err := s.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}
	if !user.Enabled {
		return "", nil, ErrAccountDisabled
	}
	if !user.CheckPassword(password) {
		return "", nil, ErrInvalidCredentials
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.Model(&user).Update("last_login", &now)

	token, err := s.issueToken(&user, now)
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}

func (s *Service) issueToken(user *models.User, now time.Time) (string, error) {
	claims := jwt.MapClaims{
		"sub":   user.UUID,
		"email": user.Email,
		"role":  user.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// RevokeSessions invalidates every token issued to the user before now.
func (s *Service) RevokeSessions(userUUID string) error {
	now := time.Now()
	return s.db.Model(&models.User{}).
		Where("uuid = ?", userUUID).
		Update("token_revoked_before", &now).Error
}

// SessionFromRequest resolves the caller's session from the Authorization
// header or session cookie. Invalid or revoked tokens yield an
// unauthenticated session, never an error.
func (s *Service) SessionFromRequest(c *gin.Context) Session {
	raw := ""
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else if cookie, err := c.Cookie(SessionCookie); err == nil {
		raw = cookie
	}
	if raw == "" {
		return Session{}
	}
	return s.SessionFromToken(raw)
}

// SessionFromToken validates a raw token and checks it against the user's
// revocation cutoff: tokens issued before TokenRevokedBefore force
// re-authentication.
func (s *Service) SessionFromToken(raw string) Session {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return Session{}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}
	}
	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	iatUnix, _ := claims["iat"].(float64)
	issuedAt := time.Unix(int64(iatUnix), 0)

	var user models.User
	if err := s.db.Where("uuid = ?", sub).First(&user).Error; err != nil {
		return Session{}
	}
	if !user.Enabled {
		return Session{}
	}
	if user.TokenRevokedBefore != nil && issuedAt.Before(*user.TokenRevokedBefore) {
		return Session{}
	}

	return Session{
		Authenticated: true,
		UserUUID:      sub,
		Email:         email,
		Role:          role,
		IssuedAt:      issuedAt,
	}
}
