package taskstore

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"fleet-steward/agent/internal/db"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Open(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func TestCreateAssignsDefaults(t *testing.T) {
	s := New(openTestDB(t), 0)
	a, err := s.Create(NewTask{TaskType: db.TaskInstall, PackageName: "com.example.app", TargetVersionCode: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := s.Create(NewTask{TaskType: db.TaskInstall, PackageName: "com.example.app", TargetVersionCode: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.TaskID == "" || a.TaskID == b.TaskID {
		t.Fatalf("expected distinct ids, got %q and %q", a.TaskID, b.TaskID)
	}
	if a.Status != db.TaskPending || a.Progress != 0 || a.RetryCount != 0 {
		t.Fatalf("unexpected initial state: %+v", a)
	}
	got, err := s.Get(a.TaskID)
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.PackageName != "com.example.app" || got.TargetVersionCode != 3 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestGetAndUpdateUnknown(t *testing.T) {
	s := New(openTestDB(t), 0)
	if got, err := s.Get("missing"); got != nil || err != nil {
		t.Fatalf("expected nil, nil; got %v %v", got, err)
	}
	called := false
	got, err := s.Update("missing", func(*db.TaskRecord) { called = true })
	if got != nil || err != nil || called {
		t.Fatalf("expected untouched nil, nil; got %v %v called=%v", got, err, called)
	}
}

func TestUpdateKeepsProgressInvariants(t *testing.T) {
	s := New(openTestDB(t), 0)
	rec, _ := s.Create(NewTask{TaskType: db.TaskInstall, PackageName: "p"})

	rec, err := s.Update(rec.TaskID, func(r *db.TaskRecord) { r.Status = db.TaskRunning; r.Progress = 55 })
	if err != nil || rec.Progress != 55 {
		t.Fatalf("update: %v %+v", err, rec)
	}
	rec, _ = s.Update(rec.TaskID, func(r *db.TaskRecord) { r.Progress = 10 })
	if rec.Progress != 55 {
		t.Fatalf("progress went backwards: %d", rec.Progress)
	}
	rec, _ = s.Update(rec.TaskID, func(r *db.TaskRecord) { r.Status = db.TaskFailed; r.Message = "boom" })
	if rec.Progress != 100 {
		t.Fatalf("terminal progress: %d", rec.Progress)
	}
	stored, _ := s.Get(rec.TaskID)
	if stored.Status != db.TaskFailed || stored.Progress != 100 || stored.Message != "boom" {
		t.Fatalf("stored: %+v", stored)
	}
}

func TestConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	s := New(openTestDB(t), 0)
	rec, _ := s.Create(NewTask{TaskType: db.TaskInstall, PackageName: "p"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Update(rec.TaskID, func(r *db.TaskRecord) { r.RetryCount++ }); err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()
	got, _ := s.Get(rec.TaskID)
	if got.RetryCount != 20 {
		t.Fatalf("expected 20 increments, got %d", got.RetryCount)
	}
}

func TestRecentNewestFirstAndPrune(t *testing.T) {
	s := New(openTestDB(t), 3)
	var ids []string
	for i := 0; i < 5; i++ {
		rec, err := s.Create(NewTask{TaskType: db.TaskUninstall, PackageName: "p"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, rec.TaskID)
		// #0 and #4 stay PENDING
		if i != 0 && i != 4 {
			s.Update(rec.TaskID, func(r *db.TaskRecord) { r.Status = db.TaskSuccess })
		}
	}
	// one more create triggers pruning against the final state
	last, _ := s.Create(NewTask{TaskType: db.TaskUninstall, PackageName: "p"})
	ids = append(ids, last.TaskID)

	recent, err := s.Recent(0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	got := make([]string, 0, len(recent))
	for _, r := range recent {
		got = append(got, r.TaskID)
	}
	// newest three plus the non-terminal first task
	want := []string{ids[5], ids[4], ids[3], ids[0]}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	limited, _ := s.Recent(2)
	if len(limited) != 2 || limited[0].TaskID != ids[5] {
		t.Fatalf("limit: %+v", limited)
	}
}

func TestHasActiveAndWithStatus(t *testing.T) {
	s := New(openTestDB(t), 0)
	a, _ := s.Create(NewTask{TaskType: db.TaskInstall, PackageName: "a"})
	b, _ := s.Create(NewTask{TaskType: db.TaskInstall, PackageName: "b"})
	s.Update(b.TaskID, func(r *db.TaskRecord) { r.Status = db.TaskSuccess })

	if ok, _ := s.HasActive("a"); !ok {
		t.Fatal("a should be active")
	}
	if ok, _ := s.HasActive("b"); ok {
		t.Fatal("b is finished")
	}
	pending, _ := s.WithStatus(db.TaskPending)
	if len(pending) != 1 || pending[0].TaskID != a.TaskID {
		t.Fatalf("pending: %+v", pending)
	}
}

func TestManagedSetAndHeartbeats(t *testing.T) {
	gdb := openTestDB(t)
	m := NewManagedSet(gdb)
	for _, p := range []string{"b", "a", "a"} {
		if err := m.Add(p); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	names, _ := m.List()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("list: %v", names)
	}
	_ = m.Remove("a")
	if ok, _ := m.Contains("a"); ok {
		t.Fatal("a was removed")
	}

	h := NewHeartbeats(gdb)
	if hb, err := h.Last("launcher"); hb != nil || err != nil {
		t.Fatalf("expected nothing yet: %v %v", hb, err)
	}
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_ = h.Record("launcher", t0, `{"v":1}`)
	_ = h.Record("launcher", t0.Add(time.Minute), `{"v":2}`)
	hb, err := h.Last("launcher")
	if err != nil || hb == nil {
		t.Fatalf("last: %v %v", hb, err)
	}
	if !hb.ReportedAt.Equal(t0.Add(time.Minute)) || hb.Meta != `{"v":2}` {
		t.Fatalf("heartbeat: %+v", hb)
	}
}
