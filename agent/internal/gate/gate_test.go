package gate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCert(t *testing.T, cn string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), cn+".pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAuthorize(t *testing.T) {
	fleetCert := writeCert(t, "fleet")
	otherCert := writeCert(t, "other")
	own, err := CertFingerprint(fleetCert)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}

	reg, err := NewPrincipalRegistry(map[string]PrincipalSpec{
		"com.fleet.launcher": {UID: 1001, CertPath: fleetCert},
		"com.fleet.spoof":    {UID: 1002, CertPath: otherCert},
		"com.fleet.unlisted": {UID: 1003, CertPath: fleetCert},
		"com.fleet.watchdog": {UID: 1004, CertPath: fleetCert},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	g := New(Config{
		Privileged:  []string{"com.fleet.launcher", "com.fleet.spoof"},
		Liveness:    []string{"com.fleet.watchdog"},
		OwnIdentity: own,
	}, reg)

	cases := []struct {
		name string
		uid  int
		tier Tier
		ok   bool
	}{
		{"listed and signed", 1001, Privileged, true},
		{"listed but signature differs", 1002, Privileged, false},
		{"signed but not listed", 1003, Privileged, false},
		{"unknown uid", 4242, Privileged, false},
		{"liveness caller on privileged op", 1004, Privileged, false},
		{"liveness caller heartbeat", 1004, Liveness, true},
		{"privileged caller heartbeat", 1001, Liveness, true},
		{"unlisted heartbeat", 1003, Liveness, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Authorize(Caller{UID: tc.uid, PID: 1}, tc.tier, "test")
			if tc.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tc.ok {
				var ae *AuthorizationError
				if !errors.Is(err, ErrUnauthorized) || !errors.As(err, &ae) || ae.UID != tc.uid {
					t.Fatalf("expected authorization error, got %v", err)
				}
			}
		})
	}
}

func TestEmptyOwnIdentityFailsClosed(t *testing.T) {
	cert := writeCert(t, "fleet")
	reg, _ := NewPrincipalRegistry(map[string]PrincipalSpec{"app": {UID: 7, CertPath: cert}})
	g := New(Config{Privileged: []string{"app"}}, reg)
	if err := g.Authorize(Caller{UID: 7}, Privileged, "install"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestRegistryRejectsBadCert(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.pem")
	os.WriteFile(bad, []byte("not a cert"), 0o644)
	if _, err := NewPrincipalRegistry(map[string]PrincipalSpec{"app": {UID: 1, CertPath: bad}}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := CertFingerprint(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestPinnedExecutable(t *testing.T) {
	cert := writeCert(t, "fleet")
	own, err := CertFingerprint(cert)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := NewPrincipalRegistry(map[string]PrincipalSpec{
		"com.fleet.launcher": {UID: 1001, CertPath: cert, Exe: "/opt/fleet/launcher"},
		"com.fleet.watchdog": {UID: 1002, CertPath: cert},
	})
	if err != nil {
		t.Fatal(err)
	}
	exes := map[int]string{10: "/opt/fleet/launcher", 11: "/usr/bin/python3"}
	reg.exeOf = func(pid int) (string, error) {
		if exe, ok := exes[pid]; ok {
			return exe, nil
		}
		return "", errors.New("no such process")
	}
	g := New(Config{Privileged: []string{"com.fleet.launcher"}, Liveness: []string{"com.fleet.watchdog"}, OwnIdentity: own}, reg)

	cases := []struct {
		name string
		c    Caller
		tier Tier
		ok   bool
	}{
		{"pinned binary", Caller{UID: 1001, PID: 10}, Privileged, true},
		{"same uid other binary", Caller{UID: 1001, PID: 11}, Privileged, false},
		{"same uid vanished process", Caller{UID: 1001, PID: 99}, Privileged, false},
		{"unpinned principal", Caller{UID: 1002, PID: 11}, Liveness, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := g.Authorize(tc.c, tc.tier, "test")
			if tc.ok != (err == nil) {
				t.Fatalf("ok=%v, got %v", tc.ok, err)
			}
		})
	}
	if got := reg.Unpinned(); len(got) != 1 || got[0] != "com.fleet.watchdog" {
		t.Fatalf("unpinned: %v", got)
	}
}
