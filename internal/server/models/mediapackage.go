package models

import (
	"slices"
	"time"
)

// ElementType classifies the elements of a media package.
type ElementType string

const (
	ElementTrack       ElementType = "track"
	ElementCatalog     ElementType = "catalog"
	ElementAttachment  ElementType = "attachment"
	ElementPublication ElementType = "publication"
)

// Element is one member of a media package. URI points at the content: a
// fetchable location on ingest, an archival URN once archived, a delivery
// URL when handed to consumers.
type Element struct {
	ID       string      `json:"id"`
	Type     ElementType `json:"type"`
	Flavor   string      `json:"flavor,omitempty"`
	MimeType string      `json:"mime_type,omitempty"`
	URI      string      `json:"uri"`
	Size     int64       `json:"size,omitempty"`
	Checksum *Checksum   `json:"checksum,omitempty"`
	Tags     []string    `json:"tags,omitempty"`
}

// IsAsset reports whether the element carries archivable content.
// Publications only reference distributed copies and are never stored.
func (e Element) IsAsset() bool {
	return e.Type != ElementPublication
}

// Clone returns a deep copy of the element.
func (e Element) Clone() Element {
	c := e
	if e.Checksum != nil {
		cs := *e.Checksum
		c.Checksum = &cs
	}
	c.Tags = slices.Clone(e.Tags)
	return c
}

// MediaPackage is the logical unit the archive versions.
type MediaPackage struct {
	ID       string        `json:"id"`
	Title    string        `json:"title,omitempty"`
	SeriesID string        `json:"series_id,omitempty"`
	Start    time.Time     `json:"start,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Elements []Element     `json:"elements"`
}

// Clone returns a deep copy; archiving never mutates the caller's package.
func (mp *MediaPackage) Clone() *MediaPackage {
	if mp == nil {
		return nil
	}
	c := *mp
	c.Elements = make([]Element, len(mp.Elements))
	for i, e := range mp.Elements {
		c.Elements[i] = e.Clone()
	}
	return &c
}

// ElementByID returns the element with the given id.
func (mp *MediaPackage) ElementByID(id string) (Element, bool) {
	for _, e := range mp.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

// Assets returns the archivable elements in package order.
func (mp *MediaPackage) Assets() []Element {
	out := make([]Element, 0, len(mp.Elements))
	for _, e := range mp.Elements {
		if e.IsAsset() {
			out = append(out, e)
		}
	}
	return out
}

// ReplaceElement swaps the element carrying e.ID for e. It returns false
// when no such element exists.
func (mp *MediaPackage) ReplaceElement(e Element) bool {
	for i := range mp.Elements {
		if mp.Elements[i].ID == e.ID {
			mp.Elements[i] = e
			return true
		}
	}
	return false
}

// HasElementID reports whether any element uses id.
func (mp *MediaPackage) HasElementID(id string) bool {
	_, ok := mp.ElementByID(id)
	return ok
}
