package verify

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"gopkg.in/yaml.v3"
)

// ManifestName is the manifest path at the archive root.
const ManifestName = "manifest.yaml"

type Manifest struct {
	Package     string `yaml:"package"`
	VersionCode int64  `yaml:"version_code"`
	VersionName string `yaml:"version_name"`
	// RequiresConfirmation marks packages whose installer needs an interactive prompt.
	RequiresConfirmation bool `yaml:"requires_confirmation"`
}

func ReadManifest(path string) (*Manifest, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &ManifestError{Err: err}
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != ManifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, &ManifestError{Err: err}
		}
		defer rc.Close()
		raw, err := io.ReadAll(io.LimitReader(rc, 64<<10))
		if err != nil {
			return nil, &ManifestError{Err: err}
		}
		var m Manifest
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return nil, &ManifestError{Err: err}
		}
		if m.Package == "" {
			return nil, &ManifestError{Err: errors.New("manifest has no package")}
		}
		return &m, nil
	}
	return nil, &ManifestError{Err: fmt.Errorf("%s not found", ManifestName)}
}

// VerifyArchiveIdentity checks the declared package, and the version when
// versionCode is positive.
func VerifyArchiveIdentity(pkg string, versionCode int64, path string) (*Manifest, error) {
	m, err := ReadManifest(path)
	if err != nil {
		return nil, err
	}
	if m.Package != pkg {
		return nil, &PackageMismatchError{Expected: pkg, Declared: m.Package}
	}
	if versionCode > 0 && m.VersionCode != versionCode {
		return nil, &VersionMismatchError{Expected: versionCode, Declared: m.VersionCode}
	}
	return m, nil
}
