package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	clamd "github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"craftfolio/internal/api/middleware"
	"craftfolio/internal/database"
	"craftfolio/internal/resume"
	"craftfolio/internal/storage"
	"craftfolio/internal/tasks"
)

// photoStorage is the slice of the storage client the resume handler needs.
// Narrowed to an interface so tests can substitute a fake.
type photoStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// taskEnqueuer is the slice of the asynq client used for photo processing.
type taskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ResumeHandler serves the resume document endpoints.
type ResumeHandler struct {
	db            *gorm.DB
	storage       photoStorage
	queue         taskEnqueuer
	clamdAddr     string
	maxPhotoBytes int64
}

// NewResumeHandler builds the handler.
func NewResumeHandler(db *gorm.DB, storageClient *storage.Client, asynqClient *asynq.Client, clamdAddr string, maxPhotoBytes int64) *ResumeHandler {
	return &ResumeHandler{
		db:            db,
		storage:       storageClient,
		queue:         asynqClient,
		clamdAddr:     clamdAddr,
		maxPhotoBytes: maxPhotoBytes,
	}
}

var errInvalidResumeID = errors.New("invalid resume id")

type resumeResponse struct {
	ID        uint           `json:"id"`
	Title     string         `json:"title"`
	Content   datatypes.JSON `json:"content"`
	Public    bool           `json:"public"`
	ImageURL  string         `json:"image_url,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (h *ResumeHandler) newResumeResponse(c *gin.Context, r database.Resume) resumeResponse {
	resp := resumeResponse{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Public:    r.IsPublic,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	var content resume.Content
	if err := json.Unmarshal(r.Content, &content); err != nil {
		return resp
	}
	if key := content.PersonalInfo.Image; key != "" {
		url, err := h.storage.GeneratePresignedURL(c.Request.Context(), key, 15*time.Minute)
		if err != nil {
			middleware.LoggerFromContext(c).Error("presign photo failed",
				slog.String("object_key", key),
				slog.Any("error", err),
			)
		} else {
			resp.ImageURL = url
		}
	}
	return resp
}

type createResumeRequest struct {
	Title string `json:"title" binding:"required,max=255"`
}

// CreateResume creates an empty private document owned by the caller.
func (h *ResumeHandler) CreateResume(c *gin.Context) {
	var req createResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "title is required")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	content := resume.Default(req.Title)
	data, err := content.Marshal()
	if err != nil {
		Internal(c, "failed to encode resume")
		return
	}

	ctx := c.Request.Context()
	resumeModel := database.Resume{
		Title:   content.Title,
		Content: datatypes.JSON(data),
		UserID:  userID,
	}
	if err := h.db.WithContext(ctx).Create(&resumeModel).Error; err != nil {
		Internal(c, "failed to create resume")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"resume": h.newResumeResponse(c, resumeModel)})
}

// GetResume returns a document owned by the caller.
func (h *ResumeHandler) GetResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resumeModel, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"resume": h.newResumeResponse(c, *resumeModel)})
}

// GetPublicResume returns a document for anonymous readers. The public flag is
// the only gate; flipping it off makes the id 404 immediately.
func (h *ResumeHandler) GetPublicResume(c *gin.Context) {
	resumeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		BadRequest(c, "invalid resume id")
		return
	}

	ctx := c.Request.Context()
	var resumeModel database.Resume
	if err := h.db.WithContext(ctx).
		Where("id = ? AND is_public = ?", uint(resumeID), true).
		First(&resumeModel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "resume not found")
			return
		}
		Internal(c, "failed to query resume")
		return
	}

	c.JSON(http.StatusOK, gin.H{"resume": h.newResumeResponse(c, resumeModel)})
}

// UpdateResume replaces the whole stored document with the submitted one.
// An uploaded photo is scanned, stored and its object key substituted into the
// document before persistence; with removeBackground set a processing job is
// enqueued after the save.
func (h *ResumeHandler) UpdateResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resumeModel, err := h.getResumeForUser(c.Request.Context(), c.PostForm("resumeId"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	rawDocument := c.PostForm("resumeData")
	if strings.TrimSpace(rawDocument) == "" {
		BadRequest(c, "resumeData is required")
		return
	}

	content, err := resume.Parse([]byte(rawDocument))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if content.Title == "" {
		content.Title = resumeModel.Title
	}

	oldKey := storedPhotoKey(resumeModel.Content)

	// The client echoes presigned URLs or blanks back in the image field; only
	// a key this user owns is trusted, anything else keeps the stored photo.
	if !isValidUserPhotoKey(userID, content.PersonalInfo.Image) {
		content.PersonalInfo.Image = oldKey
	}

	ctx := c.Request.Context()
	var uploadedKey, uploadedContentType string
	if file, err := c.FormFile("image"); err == nil && file != nil {
		uploadedKey, uploadedContentType, err = h.storePhoto(ctx, c, userID, file)
		if err != nil {
			return // response already written
		}
		content.PersonalInfo.Image = uploadedKey
	}

	data, err := content.Marshal()
	if err != nil {
		Internal(c, "failed to encode resume")
		return
	}

	updates := map[string]any{
		"title":     content.Title,
		"content":   datatypes.JSON(data),
		"is_public": content.Public,
	}
	if err := h.db.WithContext(ctx).Model(resumeModel).Updates(updates).Error; err != nil {
		Internal(c, "failed to update resume")
		return
	}

	if uploadedKey != "" && oldKey != "" && oldKey != uploadedKey {
		if err := h.storage.DeleteObject(ctx, oldKey); err != nil {
			middleware.LoggerFromContext(c).Error("delete replaced photo failed",
				slog.String("object_key", oldKey),
				slog.Any("error", err),
			)
		}
	}

	if c.PostForm("removeBackground") == "true" && content.PersonalInfo.Image != "" && h.queue != nil {
		correlationID := middleware.GetCorrelationID(c)
		task, err := tasks.NewPhotoProcessTask(resumeModel.ID, content.PersonalInfo.Image, uploadedContentType, correlationID)
		if err != nil {
			Internal(c, "failed to create photo task")
			return
		}
		if _, err := h.queue.Enqueue(task, asynq.MaxRetry(5)); err != nil {
			middleware.LoggerFromContext(c).Error("enqueue photo processing failed", slog.Any("error", err))
		}
	}

	if err := h.db.WithContext(ctx).First(resumeModel, resumeModel.ID).Error; err != nil {
		Internal(c, "failed to reload resume")
		return
	}

	c.JSON(http.StatusOK, gin.H{"resume": h.newResumeResponse(c, *resumeModel)})
}

// DeleteResume removes a document permanently, together with its photo object.
func (h *ResumeHandler) DeleteResume(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	resumeModel, err := h.getResumeForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.replyResumeLookupError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Unscoped().Delete(&database.Resume{}, resumeModel.ID).Error; err != nil {
		Internal(c, "failed to delete resume")
		return
	}

	if key := storedPhotoKey(resumeModel.Content); key != "" {
		if err := h.storage.DeleteObject(ctx, key); err != nil {
			middleware.LoggerFromContext(c).Error("delete photo failed",
				slog.String("object_key", key),
				slog.Any("error", err),
			)
		}
	}

	c.JSON(http.StatusOK, gin.H{})
}

// storePhoto scans and uploads a submitted photo, returning the object key.
// On failure the HTTP response has already been written.
func (h *ResumeHandler) storePhoto(ctx context.Context, c *gin.Context, userID uint, file *multipart.FileHeader) (string, string, error) {
	if h.maxPhotoBytes > 0 && file.Size > h.maxPhotoBytes {
		BadRequest(c, "photo too large")
		return "", "", errors.New("photo too large")
	}

	ext := strings.ToLower(path.Ext(file.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
	default:
		BadRequest(c, "unsupported photo type")
		return "", "", errors.New("unsupported photo type")
	}

	if h.clamdAddr != "" {
		clean, err := h.scanPhoto(file)
		if err != nil {
			Internal(c, "failed to scan photo")
			return "", "", err
		}
		if !clean {
			BadRequest(c, "malicious file detected")
			return "", "", errors.New("malicious file detected")
		}
	}

	reader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open photo")
		return "", "", err
	}
	defer reader.Close()

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objectKey := fmt.Sprintf("user-photos/%d/%s%s", userID, uuid.NewString(), ext)
	if _, err := h.storage.UploadFile(ctx, objectKey, reader, file.Size, contentType); err != nil {
		middleware.LoggerFromContext(c).Error("upload photo failed", slog.Any("error", err))
		Internal(c, "failed to upload photo")
		return "", "", err
	}

	return objectKey, contentType, nil
}

func (h *ResumeHandler) scanPhoto(file *multipart.FileHeader) (bool, error) {
	reader, err := file.Open()
	if err != nil {
		return false, err
	}
	defer reader.Close()

	clamdClient := clamd.NewClamd(h.clamdAddr)
	abortChan := make(chan bool)
	scanChan, err := clamdClient.ScanStream(reader, abortChan)
	if err != nil {
		return false, err
	}
	defer close(abortChan)

	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return false, nil
		}
	}
	return true, nil
}

func (h *ResumeHandler) replyResumeLookupError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errInvalidResumeID):
		BadRequest(c, "invalid resume id")
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "resume not found")
	default:
		Internal(c, "failed to query resume")
	}
}

func (h *ResumeHandler) getResumeForUser(ctx context.Context, idParam string, userID uint) (*database.Resume, error) {
	resumeID, err := strconv.ParseUint(strings.TrimSpace(idParam), 10, 64)
	if err != nil {
		return nil, errInvalidResumeID
	}

	var resumeModel database.Resume
	if err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", uint(resumeID), userID).
		First(&resumeModel).Error; err != nil {
		return nil, err
	}

	return &resumeModel, nil
}

func storedPhotoKey(data datatypes.JSON) string {
	var content resume.Content
	if err := json.Unmarshal(data, &content); err != nil {
		return ""
	}
	return content.PersonalInfo.Image
}

func userIDFromContext(c *gin.Context) (uint, bool) {
	value, exists := c.Get("userID")
	if !exists {
		return 0, false
	}

	switch v := value.(type) {
	case uint:
		return v, true
	case int:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	case uint64:
		return uint(v), true
	case int64:
		if v < 0 {
			return 0, false
		}
		return uint(v), true
	default:
		return 0, false
	}
}
