package models

import (
	"io"
	"time"
)

// Query selects index entries. Empty fields do not constrain the result.
type Query struct {
	Text            string `json:"text,omitempty"`
	MediaPackageID  string `json:"media_package_id,omitempty"`
	OrganizationID  string `json:"organization_id,omitempty"`
	SeriesID        string `json:"series_id,omitempty"`
	OnlyLastVersion bool   `json:"only_last_version,omitempty"`
	IncludeDeleted  bool   `json:"include_deleted,omitempty"`
	Limit           int    `json:"limit,omitempty"`
	Offset          int    `json:"offset,omitempty"`
}

// ResultItem is one index hit.
type ResultItem struct {
	OrganizationID string        `json:"organization_id"`
	MediaPackage   *MediaPackage `json:"media_package"`
	ACL            ACL           `json:"acl"`
	Version        Version       `json:"version"`
	Latest         bool          `json:"latest"`
	Deleted        bool          `json:"deleted"`
	ModifiedAt     time.Time     `json:"modified_at"`
}

// SearchResult is one page of index hits. TotalSize counts every match of
// the query, not only the ones on this page.
type SearchResult struct {
	Items      []ResultItem  `json:"items"`
	Query      Query         `json:"query"`
	TotalSize  int64         `json:"total_size"`
	Offset     int           `json:"offset"`
	Limit      int           `json:"limit"`
	SearchTime time.Duration `json:"search_time"`
}

// ArchivedElement is the content of one stored element. Callers must close
// Content.
type ArchivedElement struct {
	Content  io.ReadCloser
	MimeType string
	Size     int64
}
