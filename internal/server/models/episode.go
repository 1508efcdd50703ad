package models

import "time"

// Episode is one archived version of a media package. Element URIs of the
// stored package are archival URNs.
type Episode struct {
	OrganizationID string        `json:"organization_id"`
	MediaPackage   *MediaPackage `json:"media_package"`
	ACL            ACL           `json:"acl"`
	Version        Version       `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	DeletedAt      *time.Time    `json:"deleted_at,omitempty"`
}

// Deleted reports whether the episode was removed from the archive.
func (e *Episode) Deleted() bool {
	return e.DeletedAt != nil
}

// Asset records where content with a given checksum was first stored.
type Asset struct {
	Checksum    Checksum    `json:"checksum"`
	StoragePath StoragePath `json:"storage_path"`
	MimeType    string      `json:"mime_type,omitempty"`
	Size        int64       `json:"size,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
