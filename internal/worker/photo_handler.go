package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"craftfolio/internal/database"
	"craftfolio/internal/errcode"
	"craftfolio/internal/imaging"
	"craftfolio/internal/resume"
	"craftfolio/internal/storage"
	"craftfolio/internal/tasks"
)

// photoStorage is the slice of the storage client the photo task needs.
// Narrowed to an interface so tests can substitute a fake.
type photoStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// PhotoTaskHandler consumes background-removal jobs for saved profile photos.
type PhotoTaskHandler struct {
	db          *gorm.DB
	storage     photoStorage
	redisClient *redis.Client
	remover     imaging.BackgroundRemover
	logger      *slog.Logger
}

// NewPhotoTaskHandler builds the task handler.
func NewPhotoTaskHandler(
	db *gorm.DB,
	storageClient *storage.Client,
	redisClient *redis.Client,
	remover imaging.BackgroundRemover,
	logger *slog.Logger,
) *PhotoTaskHandler {
	return &PhotoTaskHandler{
		db:          db,
		storage:     storageClient,
		redisClient: redisClient,
		remover:     remover,
		logger:      logger,
	}
}

// ProcessTask implements asynq.Handler.
func (h *PhotoTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.PhotoProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Int("resume_id", int(payload.ResumeID)),
	)

	var resumeModel database.Resume
	if err := h.db.WithContext(ctx).First(&resumeModel, payload.ResumeID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("resume not found, skipping photo task")
			return nil
		}
		log.Error("query resume failed", slog.Any("error", err))
		return err
	}

	log = log.With(slog.Uint64("user_id", uint64(resumeModel.UserID)))

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := PhotoProcessNotifyMessage{
			Status:        "error",
			ResumeID:      resumeModel.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SystemError,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishNotify(ctx, resumeModel.UserID, notify); err != nil {
			log.Error("publish photo error notification failed", slog.Any("error", err))
		}
	}()

	var content resume.Content
	if err := json.Unmarshal(resumeModel.Content, &content); err != nil {
		log.Error("decode resume content failed", slog.Any("error", err))
		return err
	}

	// The user may have replaced the photo after enqueueing; the old object is
	// gone or about to be, so there is nothing to process.
	if content.PersonalInfo.Image != payload.ObjectKey {
		log.Warn("photo no longer referenced, skipping task",
			slog.String("object_key", payload.ObjectKey),
		)
		return nil
	}

	original, err := h.storage.ReadObject(ctx, payload.ObjectKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			log.Warn("photo object missing, skipping task", slog.String("object_key", payload.ObjectKey))
			return nil
		}
		log.Error("read photo object failed", slog.Any("error", err))
		return err
	}

	processed, err := h.remover.RemoveBackground(ctx, original, payload.ContentType)
	if err != nil {
		log.Error("background removal failed", slog.Any("error", err))
		return err
	}

	newKey := fmt.Sprintf("user-photos/%d/%s.png", resumeModel.UserID, uuid.NewString())
	if _, err := h.storage.UploadFile(ctx, newKey, bytes.NewReader(processed), int64(len(processed)), "image/png"); err != nil {
		log.Error("upload processed photo failed", slog.Any("error", err))
		return err
	}

	content.PersonalInfo.Image = newKey
	updated, err := content.Marshal()
	if err != nil {
		log.Error("encode resume content failed", slog.Any("error", err))
		return err
	}

	// Swap the reference only if the document still points at the photo we
	// processed; a concurrent save wins otherwise.
	res := h.db.WithContext(ctx).Model(&database.Resume{}).
		Where("id = ?", resumeModel.ID).
		Where(datatypes.JSONQuery("content").Equals(payload.ObjectKey, "personal_info", "image")).
		Update("content", datatypes.JSON(updated))
	if res.Error != nil {
		log.Error("update resume content failed", slog.Any("error", res.Error))
		return res.Error
	}
	if res.RowsAffected == 0 {
		log.Warn("resume changed while processing, dropping result")
		if err := h.storage.DeleteObject(ctx, newKey); err != nil {
			log.Error("delete orphaned processed photo failed", slog.Any("error", err))
		}
		return nil
	}

	if err := h.storage.DeleteObject(ctx, payload.ObjectKey); err != nil {
		log.Error("delete original photo failed", slog.Any("error", err))
	}

	notify := PhotoProcessNotifyMessage{
		Status:        "done",
		ResumeID:      resumeModel.ID,
		ObjectKey:     newKey,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
	}
	if err := h.publishNotify(ctx, resumeModel.UserID, notify); err != nil {
		log.Error("publish photo notification failed", slog.Any("error", err))
	}

	log.Info("photo background removal completed", slog.String("object_key", newKey))
	return nil
}

func (h *PhotoTaskHandler) publishNotify(ctx context.Context, userID uint, msg PhotoProcessNotifyMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notify message: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
