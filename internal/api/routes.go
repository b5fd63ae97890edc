package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"craftfolio/internal/ai"
	"craftfolio/internal/api/middleware"
	"craftfolio/internal/auth"
	"craftfolio/internal/config"
	"craftfolio/internal/mail"
	"craftfolio/internal/storage"
)

// RegisterRoutes mounts the REST surface under /api.
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	tokenService *auth.TokenService,
	redisClient *redis.Client,
	asynqClient *asynq.Client,
	storageClient *storage.Client,
	mailer mail.Mailer,
	enhancer ai.Enhancer,
	extractor ai.Extractor,
	logger *slog.Logger,
) {
	userHandler := NewUserHandler(db, tokenService, redisClient, mailer, logger, cfg.Auth)
	resumeHandler := NewResumeHandler(db, storageClient, asynqClient, cfg.Clamd.Addr, cfg.API.MaxPhotoBytes)
	aiHandler := NewAIHandler(db, enhancer, extractor)
	wsHandler := NewWsHandler(redisClient, tokenService, logger, cfg.API.AllowedOrigins)
	authMiddleware := middleware.AuthMiddleware(tokenService)

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/ws", wsHandler.HandleConnection)

		userGroup := apiGroup.Group("/users")
		{
			userGroup.POST("/register", userHandler.Register)
			userGroup.POST("/login", userHandler.Login)
			userGroup.POST("/forgot-password", userHandler.ForgotPassword)
			userGroup.POST("/reset-password", userHandler.ResetPassword)
			userGroup.GET("/data", authMiddleware, userHandler.GetUser)
			userGroup.GET("/resumes", authMiddleware, userHandler.ListResumes)
		}

		resumeGroup := apiGroup.Group("/resumes")
		{
			resumeGroup.GET("/public/:id", resumeHandler.GetPublicResume)

			resumeGroup.POST("/create", authMiddleware, resumeHandler.CreateResume)
			resumeGroup.GET("/get/:id", authMiddleware, resumeHandler.GetResume)
			resumeGroup.PUT("/update", authMiddleware, resumeHandler.UpdateResume)
			resumeGroup.DELETE("/delete/:id", authMiddleware, resumeHandler.DeleteResume)
		}

		aiGroup := apiGroup.Group("/ai")
		aiGroup.Use(authMiddleware)
		{
			aiGroup.POST("/enhance-pro-sum", aiHandler.EnhanceProfessionalSummary)
			aiGroup.POST("/enhance-job-desc", aiHandler.EnhanceJobDescription)
			aiGroup.POST("/upload-resume", aiHandler.UploadResume)
		}
	}
}
