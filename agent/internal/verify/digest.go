package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// ParseDigest splits "algo:hex". A bare hex value is sha256.
func ParseDigest(s string) (Algorithm, string, error) {
	s = strings.TrimSpace(s)
	algo, value := SHA256, s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		algo, value = Algorithm(strings.ToLower(s[:i])), s[i+1:]
	}
	switch algo {
	case SHA256, BLAKE3:
	default:
		return "", "", fmt.Errorf("unsupported digest algorithm %q", algo)
	}
	if _, err := hex.DecodeString(value); err != nil || len(value) != 64 {
		return "", "", fmt.Errorf("malformed %s digest", algo)
	}
	return algo, strings.ToLower(value), nil
}

func newHash(algo Algorithm) hash.Hash {
	if algo == BLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// Digest hashes the whole file and returns lower-case hex.
func Digest(path string, algo Algorithm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := newHash(algo)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyDigest checks path against expected. An empty expected digest means unset
// and always passes.
func VerifyDigest(expected, path string) error {
	if strings.TrimSpace(expected) == "" {
		return nil
	}
	algo, want, err := ParseDigest(expected)
	if err != nil {
		return &IntegrityError{Expected: expected, Actual: err.Error()}
	}
	got, err := Digest(path, algo)
	if err != nil {
		return fmt.Errorf("digest %s: %w", path, err)
	}
	if !strings.EqualFold(got, want) {
		return &IntegrityError{Expected: string(algo) + ":" + want, Actual: string(algo) + ":" + got}
	}
	return nil
}
