package verify

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity matches every digest failure.
	ErrIntegrity = errors.New("artifact integrity check failed")
	// ErrIdentity matches every manifest identity failure.
	ErrIdentity = errors.New("artifact identity check failed")
)

type IntegrityError struct {
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("digest mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

type PackageMismatchError struct {
	Expected string
	Declared string
}

func (e *PackageMismatchError) Error() string {
	return fmt.Sprintf("package mismatch: expected %q, archive declares %q", e.Expected, e.Declared)
}

func (e *PackageMismatchError) Is(target error) bool { return target == ErrIdentity }

type VersionMismatchError struct {
	Expected int64
	Declared int64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: expected %d, archive declares %d", e.Expected, e.Declared)
}

func (e *VersionMismatchError) Is(target error) bool { return target == ErrIdentity }

// ManifestError reports an archive without a readable manifest.
type ManifestError struct {
	Err error
}

func (e *ManifestError) Error() string { return "read manifest: " + e.Err.Error() }

func (e *ManifestError) Unwrap() error { return e.Err }

func (e *ManifestError) Is(target error) bool { return target == ErrIdentity }
