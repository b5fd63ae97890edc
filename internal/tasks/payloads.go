package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// Task type constants shared by the queue producer and the worker.
const (
	TypePhotoProcess = "photo:process"
)

// PhotoProcessPayload describes one background-removal job. ObjectKey pins the
// photo the user saved; the worker skips the job if the resume no longer
// references it.
type PhotoProcessPayload struct {
	ResumeID      uint   `json:"resume_id"`
	ObjectKey     string `json:"object_key"`
	ContentType   string `json:"content_type"`
	CorrelationID string `json:"correlation_id"`
}

// NewPhotoProcessTask builds a background-removal task for a saved photo.
func NewPhotoProcessTask(resumeID uint, objectKey, contentType, correlationID string) (*asynq.Task, error) {
	payload, err := json.Marshal(PhotoProcessPayload{
		ResumeID:      resumeID,
		ObjectKey:     objectKey,
		ContentType:   contentType,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePhotoProcess, payload), nil
}
