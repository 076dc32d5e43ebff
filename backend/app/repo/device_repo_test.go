package repo

import (
	"testing"
	"time"
)

func TestDeviceTouch(t *testing.T) {
	r := NewDeviceRepository(newTestDB(t))
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if d, err := r.FindByID("dev-1"); err != nil || d != nil {
		t.Fatalf("expected nil, nil for unknown device, got %v, %v", d, err)
	}
	if err := r.Touch("dev-1", "10.0.0.5:4000", 2, t0); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if err := r.Touch("dev-1", "10.0.0.6:4000", 0, t0.Add(time.Hour)); err != nil {
		t.Fatalf("touch again: %v", err)
	}
	if err := r.Touch("dev-0", "10.0.0.7:4000", 1, t0); err != nil {
		t.Fatalf("touch other: %v", err)
	}

	d, err := r.FindByID("dev-1")
	if err != nil || d == nil {
		t.Fatalf("find: %v, %v", d, err)
	}
	if !d.LastSeenAt.Equal(t0.Add(time.Hour)) || d.LastAddr != "10.0.0.6:4000" || d.LastClaimed != 0 {
		t.Fatalf("touch did not refresh: %+v", d)
	}
	if !d.CreatedAt.Equal(t0) {
		t.Fatalf("created_at moved: %v", d.CreatedAt)
	}

	all, err := r.ListAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "dev-0" || all[1].ID != "dev-1" {
		t.Fatalf("unexpected list: %+v", all)
	}
}
