package dto

type InstalledPackage struct {
	PackageName string `json:"package_name"`
	VersionCode int64  `json:"version_code"`
}

type CheckUpdatesRequest struct {
	Packages []InstalledPackage `json:"packages"`
}

type UpdateCandidate struct {
	PackageName string `json:"package_name"`
	VersionCode int64  `json:"version_code"`
	VersionName string `json:"version_name,omitempty"`
	URL         string `json:"url"`
	Digest      string `json:"digest,omitempty"`
}

type PublishReleaseRequest struct {
	PackageName string `json:"package_name"`
	VersionCode int64  `json:"version_code"`
	VersionName string `json:"version_name,omitempty"`
	URL         string `json:"url"`
	Digest      string `json:"digest,omitempty"`
}
