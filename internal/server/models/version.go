package models

import (
	"fmt"
	"strconv"
)

// Version identifies one archived snapshot of a media package. Versions of a
// package are strictly increasing; the first claimed version is FirstVersion.
type Version int64

// FirstVersion is the version assigned to the first archived episode.
const FirstVersion Version = 1

func (v Version) String() string {
	return strconv.FormatInt(int64(v), 10)
}

// ParseVersion parses the decimal form produced by String.
func ParseVersion(s string) (Version, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid version %q: negative", s)
	}
	return Version(n), nil
}
