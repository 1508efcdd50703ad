package models

import (
	"fmt"
	"strings"
)

// ChecksumType names a digest algorithm.
type ChecksumType string

const (
	ChecksumMD5     ChecksumType = "md5"
	ChecksumSHA1    ChecksumType = "sha1"
	ChecksumSHA256  ChecksumType = "sha256"
	ChecksumBLAKE2b ChecksumType = "blake2b"
	ChecksumBLAKE3  ChecksumType = "blake3"
)

// DefaultChecksumType is used when nothing else is configured.
const DefaultChecksumType = ChecksumMD5

// Valid reports whether t is a supported algorithm.
func (t ChecksumType) Valid() bool {
	switch t {
	case ChecksumMD5, ChecksumSHA1, ChecksumSHA256, ChecksumBLAKE2b, ChecksumBLAKE3:
		return true
	}
	return false
}

// Checksum is a typed, hex encoded digest of an element's content.
type Checksum struct {
	Type  ChecksumType `json:"type"`
	Value string       `json:"value"`
}

// String renders "type:value"; it is the dedup key of the asset map.
func (c Checksum) String() string {
	return string(c.Type) + ":" + c.Value
}

// ParseChecksum parses the "type:value" form.
func ParseChecksum(s string) (Checksum, error) {
	t, v, ok := strings.Cut(s, ":")
	if !ok || v == "" {
		return Checksum{}, fmt.Errorf("invalid checksum %q", s)
	}
	ct := ChecksumType(strings.ToLower(t))
	if !ct.Valid() {
		return Checksum{}, fmt.Errorf("unsupported checksum type %q", t)
	}
	return Checksum{Type: ct, Value: strings.ToLower(v)}, nil
}
