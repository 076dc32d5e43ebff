package gate

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

type principal struct {
	name     string
	uid      int
	exe      string
	identity string
}

// PrincipalRegistry resolves callers by UID, and by executable when one is
// pinned, to configured principals whose signing identity is the fingerprint
// of a pinned certificate.
type PrincipalRegistry struct {
	byUID  map[int][]string
	byName map[string]principal
	exeOf  func(pid int) (string, error)
}

// PrincipalSpec is one configured principal. With Exe set, only a process
// running that binary resolves to the principal.
type PrincipalSpec struct {
	UID      int
	CertPath string
	Exe      string
}

// NewPrincipalRegistry loads every certificate up front so lookups never touch disk.
func NewPrincipalRegistry(specs map[string]PrincipalSpec) (*PrincipalRegistry, error) {
	r := &PrincipalRegistry{byUID: map[int][]string{}, byName: map[string]principal{}, exeOf: procExe}
	for name, spec := range specs {
		fp, err := CertFingerprint(spec.CertPath)
		if err != nil {
			return nil, fmt.Errorf("principal %s: %w", name, err)
		}
		exe := spec.Exe
		if exe != "" {
			exe = filepath.Clean(exe)
		}
		r.byName[name] = principal{name: name, uid: spec.UID, exe: exe, identity: fp}
		r.byUID[spec.UID] = append(r.byUID[spec.UID], name)
	}
	for uid := range r.byUID {
		sort.Strings(r.byUID[uid])
	}
	return r, nil
}

func (r *PrincipalRegistry) Candidates(c Caller) []string {
	var out []string
	var exe string
	var exeErr error
	resolved := false
	for _, name := range r.byUID[c.UID] {
		p := r.byName[name]
		if p.exe != "" {
			if !resolved {
				exe, exeErr = r.exeOf(c.PID)
				resolved = true
			}
			if exeErr != nil || exe != p.exe {
				continue
			}
		}
		out = append(out, name)
	}
	return out
}

// Unpinned lists principals that any process of their UID can act as.
func (r *PrincipalRegistry) Unpinned() []string {
	var out []string
	for name, p := range r.byName {
		if p.exe == "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func procExe(pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("no pid for caller")
	}
	return os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "exe"))
}

func (r *PrincipalRegistry) SigningIdentity(name string) (string, bool) {
	p, ok := r.byName[name]
	return p.identity, ok
}

// CertFingerprint returns the hex SHA-256 of the first PEM certificate in path.
func CertFingerprint(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != "CERTIFICATE" {
		return "", fmt.Errorf("%s: no PEM certificate", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:]), nil
}
