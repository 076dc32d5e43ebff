package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
)

func writeArchive(t *testing.T, manifest string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pkg.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	if manifest != "" {
		w, _ := zw.Create(ManifestName)
		w.Write([]byte(manifest))
	}
	w, _ := zw.Create("bin/app")
	w.Write([]byte("payload"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func TestVerifyDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	os.WriteFile(path, []byte("hello fleet"), 0o644)
	sum := sha256.Sum256([]byte("hello fleet"))
	hexSum := hex.EncodeToString(sum[:])
	b3 := blake3.Sum256([]byte("hello fleet"))

	cases := []struct {
		name     string
		expected string
		ok       bool
	}{
		{"unset", "", true},
		{"bare hex", hexSum, true},
		{"upper case", "sha256:" + strings.ToUpper(hexSum), true},
		{"blake3", "blake3:" + hex.EncodeToString(b3[:]), true},
		{"wrong", "sha256:" + strings.Repeat("0", 64), false},
		{"blake3 wrong", "blake3:" + hexSum, false},
		{"malformed", "sha256:xyz", false},
		{"unknown algo", "md5:" + hexSum, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyDigest(tc.expected, path)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrIntegrity) {
					t.Fatalf("expected integrity error, got %v", err)
				}
				if errors.Is(err, ErrIdentity) {
					t.Fatal("digest failure classified as identity failure")
				}
			}
		})
	}
}

func TestVerifyArchiveIdentity(t *testing.T) {
	good := writeArchive(t, "package: com.example.app\nversion_code: 3\nversion_name: \"1.2\"\n")

	m, err := VerifyArchiveIdentity("com.example.app", 3, good)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if m.VersionName != "1.2" {
		t.Fatalf("manifest: %+v", m)
	}
	if _, err := VerifyArchiveIdentity("com.example.app", 0, good); err != nil {
		t.Fatalf("version 0 should skip the version check: %v", err)
	}

	var pm *PackageMismatchError
	if _, err := VerifyArchiveIdentity("com.other", 3, good); !errors.As(err, &pm) || !errors.Is(err, ErrIdentity) {
		t.Fatalf("expected package mismatch, got %v", err)
	}
	var vm *VersionMismatchError
	if _, err := VerifyArchiveIdentity("com.example.app", 4, good); !errors.As(err, &vm) || vm.Declared != 3 {
		t.Fatalf("expected version mismatch, got %v", err)
	}

	noManifest := writeArchive(t, "")
	if _, err := VerifyArchiveIdentity("com.example.app", 3, noManifest); !errors.Is(err, ErrIdentity) {
		t.Fatalf("expected identity error for missing manifest, got %v", err)
	}

	notZip := filepath.Join(t.TempDir(), "plain")
	os.WriteFile(notZip, []byte("not a zip"), 0o644)
	if _, err := VerifyArchiveIdentity("com.example.app", 3, notZip); !errors.Is(err, ErrIdentity) {
		t.Fatalf("expected identity error for non-archive, got %v", err)
	}
}
