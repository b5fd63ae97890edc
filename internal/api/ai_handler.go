package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"craftfolio/internal/ai"
	"craftfolio/internal/api/middleware"
	"craftfolio/internal/database"
)

// AIHandler serves the text-enhancement proxy and the resume ingestion path.
type AIHandler struct {
	db        *gorm.DB
	enhancer  ai.Enhancer
	extractor ai.Extractor
}

// NewAIHandler builds the handler.
func NewAIHandler(db *gorm.DB, enhancer ai.Enhancer, extractor ai.Extractor) *AIHandler {
	return &AIHandler{
		db:        db,
		enhancer:  enhancer,
		extractor: extractor,
	}
}

type enhanceRequest struct {
	UserContent string `json:"userContent"`
}

// EnhanceProfessionalSummary rewrites a summary paragraph via the provider.
func (h *AIHandler) EnhanceProfessionalSummary(c *gin.Context) {
	h.enhance(c, ai.KindProfessionalSummary)
}

// EnhanceJobDescription rewrites an experience description via the provider.
func (h *AIHandler) EnhanceJobDescription(c *gin.Context) {
	h.enhance(c, ai.KindJobDescription)
}

// enhance forwards one text blob to the provider and returns its output
// verbatim. Blank input is rejected before the provider is contacted; a
// provider failure surfaces as 502 and leaves the client's draft untouched.
func (h *AIHandler) enhance(c *gin.Context, kind ai.EnhanceKind) {
	var req enhanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "userContent is required")
		return
	}

	text := strings.TrimSpace(req.UserContent)
	if text == "" {
		BadRequest(c, "userContent is required")
		return
	}

	enhanced, err := h.enhancer.Enhance(c.Request.Context(), kind, text)
	if err != nil {
		middleware.LoggerFromContext(c).Error("enhancement failed",
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		BadGateway(c, "enhancement service unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{"enhancedContent": enhanced})
}

type uploadResumeRequest struct {
	ResumeText string `json:"resumeText"`
	Title      string `json:"title"`
}

// UploadResume turns extracted PDF text into a new structured document via the
// provider. Nothing is persisted unless extraction succeeds.
func (h *AIHandler) UploadResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req uploadResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "resumeText is required")
		return
	}

	rawText := strings.TrimSpace(req.ResumeText)
	if rawText == "" {
		BadRequest(c, "resumeText is required")
		return
	}

	content, err := h.extractor.Extract(c.Request.Context(), rawText)
	if err != nil {
		middleware.LoggerFromContext(c).Error("resume extraction failed", slog.Any("error", err))
		BadGateway(c, "extraction service unavailable")
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Imported Resume"
	}
	content.Title = title
	content.Public = false

	data, err := content.Marshal()
	if err != nil {
		Internal(c, "failed to encode resume")
		return
	}

	resumeModel := database.Resume{
		Title:   title,
		Content: datatypes.JSON(data),
		UserID:  userID,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&resumeModel).Error; err != nil {
		Internal(c, "failed to create resume")
		return
	}

	c.JSON(http.StatusOK, gin.H{"resumeId": resumeModel.ID})
}
