package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"gorm.io/gorm"

	"craftfolio/internal/database"
	"craftfolio/internal/resume"
	"craftfolio/internal/tasks"
)

type fakeStorage struct {
	uploaded map[string][]byte
	deleted  []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.uploaded[objectName] = b
	return &minio.UploadInfo{}, nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://example.invalid/" + objectKey, nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

type fakeQueue struct {
	enqueued []*asynq.Task
}

func (q *fakeQueue) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.enqueued = append(q.enqueued, task)
	return &asynq.TaskInfo{}, nil
}

func newResumeTestHandler(db *gorm.DB, storage *fakeStorage, queue *fakeQueue) *ResumeHandler {
	h := &ResumeHandler{
		db:            db,
		storage:       storage,
		clamdAddr:     "",
		maxPhotoBytes: 5 * 1024 * 1024,
	}
	if queue != nil {
		h.queue = queue
	}
	return h
}

func newFormContext(t *testing.T, method, target string, fields map[string]string, filename string, fileContent []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field %s: %v", key, err)
		}
	}
	if filename != "" {
		part, err := writer.CreateFormFile("image", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(fileContent); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	return c, w
}

func createResume(t *testing.T, h *ResumeHandler, userID uint, title string) uint {
	t.Helper()
	c, w := newJSONContext(t, http.MethodPost, "/api/resumes/create", gin.H{"title": title})
	c.Set("userID", userID)
	h.CreateResume(c)
	if w.Code != http.StatusCreated {
		t.Fatalf("create resume: expected 201 got %d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	r, _ := body["resume"].(map[string]any)
	id, _ := r["id"].(float64)
	return uint(id)
}

func updateResume(t *testing.T, h *ResumeHandler, userID, resumeID uint, document string) *httptest.ResponseRecorder {
	t.Helper()
	c, w := newFormContext(t, http.MethodPut, "/api/resumes/update", map[string]string{
		"resumeId":   strconv.FormatUint(uint64(resumeID), 10),
		"resumeData": document,
	}, "", nil)
	c.Set("userID", userID)
	h.UpdateResume(c)
	return w
}

func TestCreateResume_DefaultsPrivate(t *testing.T) {
	db := newTestDB(t)
	h := newResumeTestHandler(db, newFakeStorage(), nil)

	resumeID := createResume(t, h, 1, "My Resume")

	var stored database.Resume
	if err := db.First(&stored, resumeID).Error; err != nil {
		t.Fatalf("load resume: %v", err)
	}
	if stored.IsPublic {
		t.Fatal("new resumes must be private")
	}
	if stored.UserID != 1 {
		t.Fatalf("expected owner 1 got %d", stored.UserID)
	}

	content, err := resume.Parse(stored.Content)
	if err != nil {
		t.Fatalf("parse stored content: %v", err)
	}
	if content.Title != "My Resume" {
		t.Fatalf("unexpected title %q", content.Title)
	}
}

func TestUpdateResume_ReplacesWholeDocument(t *testing.T) {
	db := newTestDB(t)
	h := newResumeTestHandler(db, newFakeStorage(), nil)
	resumeID := createResume(t, h, 1, "My Resume")

	first := `{
		"title": "My Resume",
		"experience": [
			{"company": "A Corp", "position": "Engineer"},
			{"company": "B Corp", "position": "Senior Engineer"}
		],
		"skills": ["go", "sql"]
	}`
	if w := updateResume(t, h, 1, resumeID, first); w.Code != http.StatusOK {
		t.Fatalf("first update: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	// The second save omits one experience entry; it must disappear.
	second := `{
		"title": "My Resume",
		"experience": [
			{"company": "B Corp", "position": "Senior Engineer"}
		],
		"skills": ["go"]
	}`
	if w := updateResume(t, h, 1, resumeID, second); w.Code != http.StatusOK {
		t.Fatalf("second update: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var stored database.Resume
	if err := db.First(&stored, resumeID).Error; err != nil {
		t.Fatalf("load resume: %v", err)
	}
	content, err := resume.Parse(stored.Content)
	if err != nil {
		t.Fatalf("parse stored content: %v", err)
	}
	if len(content.Experience) != 1 || content.Experience[0].Company != "B Corp" {
		t.Fatalf("expected the removed entry to be gone, got %v", content.Experience)
	}
	if len(content.Skills) != 1 {
		t.Fatalf("expected one skill, got %v", content.Skills)
	}
}

func TestUpdateResume_RejectsForeignImageKey(t *testing.T) {
	db := newTestDB(t)
	h := newResumeTestHandler(db, newFakeStorage(), nil)
	resumeID := createResume(t, h, 1, "My Resume")

	doc := `{"title": "My Resume", "personal_info": {"image": "user-photos/99/stolen.png"}}`
	if w := updateResume(t, h, 1, resumeID, doc); w.Code != http.StatusOK {
		t.Fatalf("update: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var stored database.Resume
	if err := db.First(&stored, resumeID).Error; err != nil {
		t.Fatalf("load resume: %v", err)
	}
	if key := storedPhotoKey(stored.Content); key != "" {
		t.Fatalf("expected foreign key to be dropped, got %q", key)
	}
}

func TestUpdateResume_UploadsPhotoAndEnqueuesProcessing(t *testing.T) {
	db := newTestDB(t)
	storage := newFakeStorage()
	queue := &fakeQueue{}
	h := newResumeTestHandler(db, storage, queue)
	resumeID := createResume(t, h, 1, "My Resume")

	c, w := newFormContext(t, http.MethodPut, "/api/resumes/update", map[string]string{
		"resumeId":         strconv.FormatUint(uint64(resumeID), 10),
		"resumeData":       `{"title": "My Resume"}`,
		"removeBackground": "true",
	}, "photo.png", []byte("\x89PNG\r\n\x1a\n"))
	c.Set("userID", uint(1))
	h.UpdateResume(c)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	if len(storage.uploaded) != 1 {
		t.Fatalf("expected one uploaded object, got %d", len(storage.uploaded))
	}
	var stored database.Resume
	if err := db.First(&stored, resumeID).Error; err != nil {
		t.Fatalf("load resume: %v", err)
	}
	key := storedPhotoKey(stored.Content)
	if !isValidUserPhotoKey(1, key) {
		t.Fatalf("stored image key %q is not a valid owned key", key)
	}

	if len(queue.enqueued) != 1 {
		t.Fatalf("expected one enqueued task, got %d", len(queue.enqueued))
	}
	task := queue.enqueued[0]
	if task.Type() != tasks.TypePhotoProcess {
		t.Fatalf("unexpected task type %q", task.Type())
	}
	var payload tasks.PhotoProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("decode task payload: %v", err)
	}
	if payload.ResumeID != resumeID || payload.ObjectKey != key {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestUpdateResume_RejectsUnsupportedPhotoType(t *testing.T) {
	db := newTestDB(t)
	h := newResumeTestHandler(db, newFakeStorage(), nil)
	resumeID := createResume(t, h, 1, "My Resume")

	c, w := newFormContext(t, http.MethodPut, "/api/resumes/update", map[string]string{
		"resumeId":   strconv.FormatUint(uint64(resumeID), 10),
		"resumeData": `{"title": "My Resume"}`,
	}, "payload.exe", []byte("MZ"))
	c.Set("userID", uint(1))
	h.UpdateResume(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestGetResume_OwnershipIsolation(t *testing.T) {
	db := newTestDB(t)
	h := newResumeTestHandler(db, newFakeStorage(), nil)
	resumeID := createResume(t, h, 1, "Owner Resume")

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/resumes/get/1", nil)
	c.Params = gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(resumeID), 10)}}
	c.Set("userID", uint(2))

	h.GetResume(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's resume, got %d", w.Code)
	}
}

func TestGetPublicResume_Gating(t *testing.T) {
	db := newTestDB(t)
	h := newResumeTestHandler(db, newFakeStorage(), nil)
	resumeID := createResume(t, h, 1, "My Resume")

	fetchPublic := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/api/resumes/public/1", nil)
		c.Params = gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(resumeID), 10)}}
		h.GetPublicResume(c)
		return w
	}

	if w := fetchPublic(); w.Code != http.StatusNotFound {
		t.Fatalf("private resume: expected 404 got %d", w.Code)
	}

	if w := updateResume(t, h, 1, resumeID, `{"title": "My Resume", "public": true}`); w.Code != http.StatusOK {
		t.Fatalf("publish: expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if w := fetchPublic(); w.Code != http.StatusOK {
		t.Fatalf("public resume: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	if w := updateResume(t, h, 1, resumeID, `{"title": "My Resume", "public": false}`); w.Code != http.StatusOK {
		t.Fatalf("unpublish: expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if w := fetchPublic(); w.Code != http.StatusNotFound {
		t.Fatalf("unpublished resume: expected 404 got %d", w.Code)
	}
}

func TestDeleteResume(t *testing.T) {
	db := newTestDB(t)
	h := newResumeTestHandler(db, newFakeStorage(), nil)
	resumeID := createResume(t, h, 1, "My Resume")

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/api/resumes/delete/1", nil)
	c.Params = gin.Params{{Key: "id", Value: strconv.FormatUint(uint64(resumeID), 10)}}
	c.Set("userID", uint(1))
	h.DeleteResume(c)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var stored database.Resume
	err := db.Unscoped().First(&stored, resumeID).Error
	if err == nil {
		t.Fatal("expected the resume row to be gone")
	}
	if err != gorm.ErrRecordNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateResume_InvalidDocument(t *testing.T) {
	db := newTestDB(t)
	h := newResumeTestHandler(db, newFakeStorage(), nil)
	resumeID := createResume(t, h, 1, "My Resume")

	if w := updateResume(t, h, 1, resumeID, `{"title": `); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json got %d", w.Code)
	}
	if w := updateResume(t, h, 1, resumeID, `{"title": "x", "template": "bogus"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown template got %d", w.Code)
	}
}
