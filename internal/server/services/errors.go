package services

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
)

// ArchiveError reports which archive step failed. Authorization failures are
// never wrapped so callers can match them directly.
type ArchiveError struct {
	Op  string
	Err error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archive: %s: %v", e.Op, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrorUnauthorized) {
		return err
	}
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return err
	}
	return &ArchiveError{Op: op, Err: err}
}
