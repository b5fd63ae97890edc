package worker

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"craftfolio/internal/database"
	"craftfolio/internal/resume"
	"craftfolio/internal/tasks"
)

type fakePhotoStore struct {
	objects map[string][]byte
	uploads []string
	deleted []string
}

func newFakePhotoStore() *fakePhotoStore {
	return &fakePhotoStore{objects: map[string][]byte{}}
}

func (s *fakePhotoStore) ReadObject(_ context.Context, objectKey string) ([]byte, error) {
	b, ok := s.objects[objectKey]
	if !ok {
		return nil, minio.ErrorResponse{Code: "NoSuchKey", Key: objectKey}
	}
	return b, nil
}

func (s *fakePhotoStore) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	s.objects[objectName] = b
	s.uploads = append(s.uploads, objectName)
	return &minio.UploadInfo{}, nil
}

func (s *fakePhotoStore) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	delete(s.objects, objectKey)
	return nil
}

type fakeRemover struct {
	calls        int
	result       []byte
	beforeReturn func()
}

func (r *fakeRemover) RemoveBackground(_ context.Context, _ []byte, _ string) ([]byte, error) {
	r.calls++
	if r.beforeReturn != nil {
		r.beforeReturn()
	}
	return r.result, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Resume{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestHandler(db *gorm.DB, store *fakePhotoStore, remover *fakeRemover) *PhotoTaskHandler {
	return &PhotoTaskHandler{
		db:          db,
		storage:     store,
		redisClient: redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}),
		remover:     remover,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func seedResume(t *testing.T, db *gorm.DB, userID uint, imageKey string) uint {
	t.Helper()
	content := resume.Default("Seeded")
	content.PersonalInfo.Image = imageKey
	data, err := content.Marshal()
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	r := database.Resume{Title: content.Title, Content: datatypes.JSON(data), UserID: userID}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	return r.ID
}

func loadImageKey(t *testing.T, db *gorm.DB, resumeID uint) string {
	t.Helper()
	var r database.Resume
	if err := db.First(&r, resumeID).Error; err != nil {
		t.Fatalf("load resume: %v", err)
	}
	content, err := resume.Parse(r.Content)
	if err != nil {
		t.Fatalf("parse content: %v", err)
	}
	return content.PersonalInfo.Image
}

func TestProcessTask_SwapsReferenceAndCleansUp(t *testing.T) {
	db := newTestDB(t)
	store := newFakePhotoStore()
	remover := &fakeRemover{result: []byte("processed-bytes")}
	h := newTestHandler(db, store, remover)

	const oldKey = "user-photos/1/original.png"
	resumeID := seedResume(t, db, 1, oldKey)
	store.objects[oldKey] = []byte("original-bytes")

	task, err := tasks.NewPhotoProcessTask(resumeID, oldKey, "image/png", "test-correlation")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process task: %v", err)
	}

	newKey := loadImageKey(t, db, resumeID)
	if newKey == oldKey {
		t.Fatal("expected the stored key to change")
	}
	if !strings.HasPrefix(newKey, "user-photos/1/") || !strings.HasSuffix(newKey, ".png") {
		t.Fatalf("unexpected processed key %q", newKey)
	}
	if got := string(store.objects[newKey]); got != "processed-bytes" {
		t.Fatalf("expected processed bytes under the new key, got %q", got)
	}

	deletedOld := false
	for _, key := range store.deleted {
		if key == oldKey {
			deletedOld = true
		}
	}
	if !deletedOld {
		t.Fatalf("expected the original object to be deleted, deleted=%v", store.deleted)
	}
}

func TestProcessTask_SkipsStaleReference(t *testing.T) {
	db := newTestDB(t)
	store := newFakePhotoStore()
	remover := &fakeRemover{result: []byte("processed")}
	h := newTestHandler(db, store, remover)

	// The resume already points at a different photo than the enqueued one.
	resumeID := seedResume(t, db, 1, "user-photos/1/replacement.png")
	store.objects["user-photos/1/stale.png"] = []byte("stale-bytes")

	task, err := tasks.NewPhotoProcessTask(resumeID, "user-photos/1/stale.png", "image/png", "test-correlation")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("expected stale task to be dropped, got %v", err)
	}

	if remover.calls != 0 {
		t.Fatalf("remover must not run for a stale key, got %d calls", remover.calls)
	}
	if len(store.uploads) != 0 {
		t.Fatalf("nothing should be uploaded, got %v", store.uploads)
	}
	if got := loadImageKey(t, db, resumeID); got != "user-photos/1/replacement.png" {
		t.Fatalf("stored key changed to %q", got)
	}
}

func TestProcessTask_SkipsMissingObject(t *testing.T) {
	db := newTestDB(t)
	store := newFakePhotoStore()
	remover := &fakeRemover{result: []byte("processed")}
	h := newTestHandler(db, store, remover)

	const key = "user-photos/1/gone.png"
	resumeID := seedResume(t, db, 1, key)

	task, err := tasks.NewPhotoProcessTask(resumeID, key, "image/png", "test-correlation")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("expected missing object to be skipped, got %v", err)
	}

	if remover.calls != 0 {
		t.Fatalf("remover must not run when the object is gone, got %d calls", remover.calls)
	}
}

func TestProcessTask_SkipsMissingResume(t *testing.T) {
	db := newTestDB(t)
	h := newTestHandler(db, newFakePhotoStore(), &fakeRemover{})

	task, err := tasks.NewPhotoProcessTask(9999, "user-photos/1/x.png", "image/png", "test-correlation")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("expected missing resume to be skipped, got %v", err)
	}
}

func TestProcessTask_ConcurrentSaveWinsOverProcessedResult(t *testing.T) {
	db := newTestDB(t)
	store := newFakePhotoStore()
	h := newTestHandler(db, store, nil)

	const oldKey = "user-photos/1/original.png"
	const userKey = "user-photos/1/user-chose-this.png"
	resumeID := seedResume(t, db, 1, oldKey)
	store.objects[oldKey] = []byte("original-bytes")

	// The user saves a different photo while background removal is running.
	remover := &fakeRemover{
		result: []byte("processed-bytes"),
		beforeReturn: func() {
			content := resume.Default("Seeded")
			content.PersonalInfo.Image = userKey
			data, err := content.Marshal()
			if err != nil {
				t.Fatalf("marshal replacement: %v", err)
			}
			if err := db.Model(&database.Resume{}).
				Where("id = ?", resumeID).
				Update("content", datatypes.JSON(data)).Error; err != nil {
				t.Fatalf("simulate concurrent save: %v", err)
			}
		},
	}
	h.remover = remover

	task, err := tasks.NewPhotoProcessTask(resumeID, oldKey, "image/png", "test-correlation")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := h.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("expected losing the swap to be non-fatal, got %v", err)
	}

	if got := loadImageKey(t, db, resumeID); got != userKey {
		t.Fatalf("expected the concurrent save to win, stored key is %q", got)
	}
	if len(store.uploads) != 1 {
		t.Fatalf("expected one uploaded result, got %v", store.uploads)
	}
	orphan := store.uploads[0]
	if _, stillThere := store.objects[orphan]; stillThere {
		t.Fatalf("expected the orphaned result %q to be deleted", orphan)
	}
}
