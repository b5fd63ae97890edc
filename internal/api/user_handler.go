package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"craftfolio/internal/api/middleware"
	"craftfolio/internal/auth"
	"craftfolio/internal/config"
	"craftfolio/internal/database"
	"craftfolio/internal/mail"
)

// UserHandler serves registration, login, the password reset flow and the
// account-scoped read endpoints.
type UserHandler struct {
	db      *gorm.DB
	tokens  *auth.TokenService
	redis   redis.UniversalClient
	mailer  mail.Mailer
	logger  *slog.Logger
	authCfg config.AuthConfig
}

// NewUserHandler builds the handler.
func NewUserHandler(db *gorm.DB, tokens *auth.TokenService, redisClient redis.UniversalClient, mailer mail.Mailer, logger *slog.Logger, authCfg config.AuthConfig) *UserHandler {
	return &UserHandler{
		db:      db,
		tokens:  tokens,
		redis:   redisClient,
		mailer:  mailer,
		logger:  logger,
		authCfg: authCfg,
	}
}

type userResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

func newUserResponse(user database.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=128"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

// Register creates a new account and returns a signed token with the profile.
func (h *UserHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "missing required fields")
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	user := database.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		PasswordHash: hashed,
	}
	// The unique index on email is the source of truth; a pre-check would
	// still race with a concurrent registration.
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			logger.Info("register conflict: email already registered")
			Conflict(c, "user already exists")
			return
		}
		logger.Error("create user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	token, err := h.tokens.GenerateToken(user.ID)
	if err != nil {
		logger.Error("generate token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusCreated, gin.H{
		"message": "user created successfully",
		"token":   token,
		"user":    newUserResponse(user),
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks the credentials and returns a signed token with the profile.
func (h *UserHandler) Login(c *gin.Context) {
	ip := c.ClientIP()
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "missing required fields")
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	// Rate limit: per IP+email per hour. Redis being down degrades open.
	rateKey := "rate:login:" + ip + ":" + email + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		count = 0
	}
	if h.authCfg.LoginRateLimitPerHour > 0 && count > int64(h.authCfg.LoginRateLimitPerHour) {
		c.JSON(http.StatusTooManyRequests, gin.H{"message": "rate limit exceeded"})
		return
	}

	lockKey := "lock:login:" + email
	if ttl, _ := h.redis.TTL(ctx, lockKey).Result(); ttl > 0 {
		c.JSON(http.StatusTooManyRequests, gin.H{"message": "account temporarily locked"})
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("login failed: user not found")
			_ = h.incrementLoginFail(c, email)
			BadRequest(c, "invalid email or password")
			return
		}
		logger.Error("login query failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Info("login failed: password mismatch", slog.Uint64("user_id", uint64(user.ID)))
		_ = h.incrementLoginFail(c, email)
		BadRequest(c, "invalid email or password")
		return
	}

	_ = h.redis.Del(ctx, "lock:login:fail:"+email).Err()

	token, err := h.tokens.GenerateToken(user.ID)
	if err != nil {
		logger.Error("generate token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "login successful",
		"token":   token,
		"user":    newUserResponse(user),
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ForgotPassword issues a short-lived reset token and mails it to the account.
// The token is rolled back when the mail cannot be sent.
func (h *UserHandler) ForgotPassword(c *gin.Context) {
	ip := c.ClientIP()
	var req forgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "missing required fields")
		return
	}

	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(req.Email))
	logger := h.loggerFromContext(c).With(slog.String("email", email))

	rateKey := "rate:forgot:" + ip + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(ctx, h.redis, rateKey, time.Hour)
	if err != nil {
		count = 0
	}
	if count > 5 {
		c.JSON(http.StatusTooManyRequests, gin.H{"message": "rate limit exceeded"})
		return
	}

	var user database.User
	if err := h.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Info("forgot password: user not found")
			NotFound(c, "user not found")
			return
		}
		logger.Error("forgot password lookup failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	resetToken, err := auth.GenerateResetToken()
	if err != nil {
		logger.Error("generate reset token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	expiry := time.Now().Add(h.authCfg.ResetTokenTTL)

	if err := h.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"reset_token":        resetToken,
		"reset_token_expiry": expiry,
	}).Error; err != nil {
		logger.Error("store reset token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	subject := "Craftfolio password reset"
	body := fmt.Sprintf(
		"Your password reset token is: %s\n\nThis token will expire in %d minutes.",
		resetToken,
		int(h.authCfg.ResetTokenTTL.Minutes()),
	)
	if err := h.mailer.Send(ctx, user.Email, subject, body); err != nil {
		logger.Error("send reset mail failed", slog.Any("error", err))
		// No usable token may remain when the user never received it.
		if rbErr := h.db.WithContext(ctx).Model(&user).Updates(map[string]any{
			"reset_token":        nil,
			"reset_token_expiry": nil,
		}).Error; rbErr != nil {
			logger.Error("rollback reset token failed", slog.Any("error", rbErr))
		}
		Internal(c, "email could not be sent")
		return
	}

	logger.Info("reset token issued", slog.Uint64("user_id", uint64(user.ID)))
	c.JSON(http.StatusOK, gin.H{"message": "reset code sent to your email"})
}

type resetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required,min=8,max=72"`
}

// ResetPassword consumes a reset token and replaces the password hash. The
// match, the swap and the token clear happen in a single UPDATE so a token is
// accepted at most once.
func (h *UserHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "missing token or password")
		return
	}

	ctx := c.Request.Context()
	logger := h.loggerFromContext(c)

	hashed, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		logger.Error("hash password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	res := h.db.WithContext(ctx).Model(&database.User{}).
		Where("reset_token = ? AND reset_token_expiry > ?", req.Token, time.Now()).
		Updates(map[string]any{
			"password_hash":      hashed,
			"reset_token":        nil,
			"reset_token_expiry": nil,
		})
	if res.Error != nil {
		logger.Error("reset password update failed", slog.Any("error", res.Error))
		Internal(c, "internal error")
		return
	}
	if res.RowsAffected == 0 {
		logger.Info("reset password: invalid or expired token")
		BadRequest(c, "invalid or expired token")
		return
	}

	logger.Info("password reset completed")
	c.JSON(http.StatusOK, gin.H{"message": "password reset successfully"})
}

// GetUser returns the authenticated account's profile.
func (h *UserHandler) GetUser(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var user database.User
	if err := h.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "user not found")
			return
		}
		h.loggerFromContext(c).Error("load user failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

type resumeListItem struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Public    bool      `json:"public"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListResumes returns every resume owned by the caller, newest first.
func (h *UserHandler) ListResumes(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	var resumes []database.Resume
	if err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&resumes).Error; err != nil {
		h.loggerFromContext(c).Error("list resumes failed", slog.Any("error", err))
		Internal(c, "failed to list resumes")
		return
	}

	items := make([]resumeListItem, 0, len(resumes))
	for _, r := range resumes {
		items = append(items, resumeListItem{
			ID:        r.ID,
			Title:     r.Title,
			Public:    r.IsPublic,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"resumes": items})
}

func (h *UserHandler) incrementLoginFail(c *gin.Context, email string) error {
	ctx := c.Request.Context()
	failKey := "lock:login:fail:" + email
	count, err := h.redis.Incr(ctx, failKey).Result()
	if err != nil {
		return err
	}
	if count == 1 {
		_ = h.redis.Expire(ctx, failKey, h.authCfg.LoginLockTTL).Err()
	}
	if h.authCfg.LoginLockThreshold > 0 && count >= int64(h.authCfg.LoginLockThreshold) {
		_ = h.redis.Set(ctx, "lock:login:"+email, "1", h.authCfg.LoginLockTTL).Err()
	}
	return nil
}

func (h *UserHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.logger != nil {
		return h.logger
	}
	return slog.Default()
}
