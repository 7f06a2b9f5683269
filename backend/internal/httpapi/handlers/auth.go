package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fileCollab/backend/internal/authservice"
	"fileCollab/backend/internal/user"
)

const accessTokenTTL = 12 * time.Hour

type Auth struct {
	db *sql.DB
}

func NewAuth(db *sql.DB) *Auth {
	return &Auth{db: db}
}

type credentialsReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Auth) Register(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := user.CreateUser(c.Request.Context(), h.db, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "USERNAME_TAKEN"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "REGISTER_FAILED"})
		return
	}
	u := &user.User{ID: id, Username: req.Username}
	h.issueToken(c, u)
}

func (h *Auth) Login(c *gin.Context) {
	var req credentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := user.GetUserByUsername(c.Request.Context(), h.db, req.Username)
	if err != nil || !user.CheckPassword(u, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "INVALID_CREDENTIALS"})
		return
	}
	h.issueToken(c, u)
}

func (h *Auth) issueToken(c *gin.Context, u *user.User) {
	token, expiresAt, err := authservice.SignAccessToken(u.StringID(), u.Username, accessTokenTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "TOKEN_SIGN_FAILED"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt.Format(time.RFC3339),
		"user":      gin.H{"_id": u.StringID(), "name": u.Username},
	})
}
