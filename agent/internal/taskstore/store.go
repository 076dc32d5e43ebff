package taskstore

import (
	"errors"
	"sync"
	"time"

	"fleet-steward/agent/internal/db"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewTask carries the caller-supplied fields of a task.
type NewTask struct {
	TaskType          db.TaskType
	PackageName       string
	TargetVersionCode int64
	DownloadURL       string
	ExpectedDigest    string
	Metadata          string
}

// Store persists install tasks. Every access runs under one mutex.
type Store struct {
	mu      sync.Mutex
	db      *gorm.DB
	history int
	now     func() time.Time
}

// New returns a store keeping at most history terminal tasks (0 keeps all).
func New(gdb *gorm.DB, history int) *Store {
	return &Store{db: gdb, history: history, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Create(in NewTask) (*db.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec := &db.TaskRecord{
		TaskID:            uuid.NewString(),
		TaskType:          in.TaskType,
		PackageName:       in.PackageName,
		TargetVersionCode: in.TargetVersionCode,
		DownloadURL:       in.DownloadURL,
		ExpectedDigest:    in.ExpectedDigest,
		Metadata:          in.Metadata,
		Status:            db.TaskPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.db.Create(rec).Error; err != nil {
		return nil, err
	}
	if err := s.prune(); err != nil {
		return nil, err
	}
	out := *rec
	return &out, nil
}

// prune drops terminal tasks older than the newest s.history records.
func (s *Store) prune() error {
	if s.history <= 0 {
		return nil
	}
	var cutoff []uint
	if err := s.db.Model(&db.TaskRecord{}).
		Order("seq DESC").Offset(s.history-1).Limit(1).
		Pluck("seq", &cutoff).Error; err != nil {
		return err
	}
	if len(cutoff) == 0 {
		return nil
	}
	return s.db.Where("seq < ? AND status IN ?", cutoff[0], []db.TaskStatus{db.TaskSuccess, db.TaskFailed}).
		Delete(&db.TaskRecord{}).Error
}

// Get returns nil, nil for an unknown id.
func (s *Store) Get(id string) (*db.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id string) (*db.TaskRecord, error) {
	var rec db.TaskRecord
	err := s.db.Where("task_id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update applies mutate to a copy of the stored record and saves it. Progress never
// moves backwards while RUNNING and is forced to 100 once terminal. It returns
// nil, nil for an unknown id.
func (s *Store) Update(id string, mutate func(*db.TaskRecord)) (*db.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.get(id)
	if err != nil || cur == nil {
		return nil, err
	}
	next := *cur
	mutate(&next)

	// identity fields are fixed at creation
	next.Seq = cur.Seq
	next.TaskID = cur.TaskID
	next.CreatedAt = cur.CreatedAt

	switch {
	case next.Status.Terminal():
		next.Progress = 100
	case next.Status == db.TaskRunning && cur.Status == db.TaskRunning && next.Progress < cur.Progress:
		next.Progress = cur.Progress
	}
	if next.Progress < 0 {
		next.Progress = 0
	}
	if next.Progress > 100 {
		next.Progress = 100
	}
	next.UpdatedAt = s.now()
	if err := s.db.Save(&next).Error; err != nil {
		return nil, err
	}
	return &next, nil
}

// Recent returns up to limit tasks, newest first.
func (s *Store) Recent(limit int) ([]db.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.db.Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []db.TaskRecord
	return out, q.Find(&out).Error
}

// WithStatus lists tasks in one status, oldest first.
func (s *Store) WithStatus(status db.TaskStatus) ([]db.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []db.TaskRecord
	return out, s.db.Where("status = ?", status).Order("seq ASC").Find(&out).Error
}

// HasActive reports whether pkg has a PENDING or RUNNING task.
func (s *Store) HasActive(pkg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	err := s.db.Model(&db.TaskRecord{}).
		Where("package_name = ? AND status IN ?", pkg, []db.TaskStatus{db.TaskPending, db.TaskRunning}).
		Count(&n).Error
	return n > 0, err
}
