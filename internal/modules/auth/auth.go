// Package auth implements admin login: a bcrypt-checked password exchanged
// for a signed JWT.
package auth

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/contentforge/core/internal/middleware"
	"github.com/contentforge/core/internal/pkg/jwt"
	"github.com/contentforge/core/internal/pkg/response"
)

const tokenTTL = 7 * 24 * time.Hour

type LoginDTO struct {
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

type Service struct {
	adminUser    string
	passwordHash string
	logger       *zap.Logger
}

func NewService(adminUser, passwordHash string, logger *zap.Logger) *Service {
	if adminUser == "" {
		adminUser = "admin"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{adminUser: adminUser, passwordHash: passwordHash, logger: logger.Named("Auth")}
}

// Login checks the password against the configured bcrypt hash and issues a
// token. An empty configured hash disables password login entirely.
func (s *Service) Login(username, password string) (string, bool) {
	if s.passwordHash == "" {
		s.logger.Warn("login rejected: no admin password configured")
		return "", false
	}
	if username != "" && username != s.adminUser {
		return "", false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		return "", false
	}
	token, err := jwt.Sign(s.adminUser, tokenTTL)
	if err != nil {
		s.logger.Error("token signing failed", zap.Error(err))
		return "", false
	}
	return token, true
}

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/auth")
	g.POST("/login", h.login)
	g.GET("/me", authMW, h.me)
}

func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, ok := h.svc.Login(dto.Username, dto.Password)
	if !ok {
		response.Unauthorized(c)
		return
	}
	response.OK(c, gin.H{"token": token})
}

func (h *Handler) me(c *gin.Context) {
	response.OK(c, gin.H{"user": middleware.CurrentUser(c)})
}
