package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
)

func archive(t *testing.T, manifest string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, _ := zw.Create("manifest.yaml")
	w.Write([]byte(manifest))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func next(t *testing.T, fs *FS) Event {
	t.Helper()
	select {
	case ev := <-fs.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no completion event")
	}
	return Event{}
}

func TestInstallUninstallRoundTrip(t *testing.T) {
	fs := NewFS(t.TempDir(), false)
	if err := fs.Ready(); err != nil {
		t.Fatalf("ready: %v", err)
	}
	art := archive(t, "package: com.example.app\nversion_code: 3\nversion_name: \"3.0\"\n")

	if err := fs.Install(context.Background(), "t1", "com.example.app", art); err != nil {
		t.Fatalf("install: %v", err)
	}
	ev := next(t, fs)
	if ev.TaskID != "t1" || ev.Outcome != Success {
		t.Fatalf("event: %+v", ev)
	}
	v, ok, err := fs.InstalledVersion("com.example.app")
	if err != nil || !ok || v.Code != 3 || v.Name != "3.0" {
		t.Fatalf("installed version: %+v %v %v", v, ok, err)
	}
	if _, err := os.Stat(art); err != nil {
		t.Fatalf("source artifact must be left in place: %v", err)
	}

	if err := fs.SetHomeLauncher("com.example.app"); err != nil {
		t.Fatalf("home: %v", err)
	}
	if home, _ := fs.HomeLauncher(); home != "com.example.app" {
		t.Fatalf("home launcher: %q", home)
	}

	if err := fs.Uninstall(context.Background(), "t2", "com.example.app"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if ev := next(t, fs); ev.Outcome != Success {
		t.Fatalf("uninstall event: %+v", ev)
	}
	if _, ok, _ := fs.InstalledVersion("com.example.app"); ok {
		t.Fatal("package still installed")
	}
	if err := fs.Uninstall(context.Background(), "t3", "com.example.app"); err != nil {
		t.Fatalf("uninstall: %v", err)
	}
	if ev := next(t, fs); ev.Outcome != Failure {
		t.Fatalf("expected failure for missing package, got %+v", ev)
	}
}

func TestInstallRequiringConfirmation(t *testing.T) {
	fs := NewFS(t.TempDir(), false)
	art := archive(t, "package: com.example.prompt\nversion_code: 1\nrequires_confirmation: true\n")
	if err := fs.Install(context.Background(), "t1", "com.example.prompt", art); err != nil {
		t.Fatalf("install: %v", err)
	}
	if ev := next(t, fs); ev.Outcome != PendingUserAction {
		t.Fatalf("event: %+v", ev)
	}
	if _, ok, _ := fs.InstalledVersion("com.example.prompt"); ok {
		t.Fatal("prompting package must not be committed")
	}
}

func TestRejectsBadNames(t *testing.T) {
	fs := NewFS(t.TempDir(), false)
	for _, name := range []string{"", "..", "../etc", ".staging", `a\b`} {
		if err := fs.Install(context.Background(), "t", name, "/nonexistent"); err == nil {
			t.Fatalf("expected %q to be rejected", name)
		}
	}
	if err := fs.SetHomeLauncher("com.missing"); err == nil {
		t.Fatal("home launcher for a missing package should fail")
	}
}
