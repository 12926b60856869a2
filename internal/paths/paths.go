// Package paths builds store-relative paths from record identifiers.
//
// Identifiers are used verbatim as directory names, so every identifier must
// pass [ValidateID] before it is joined into a path.
package paths

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength is the longest identifier accepted, in bytes. Most filesystems
// cap a single path component at 255 bytes.
const MaxIDLength = 255

// ErrInvalidID is returned when an identifier cannot be used as a directory name.
var ErrInvalidID = errors.New("invalid identifier")

// Join joins the segments with the platform path separator.
func Join(segments ...string) string {
	return filepath.Join(segments...)
}

// ValidateID checks that id is a single, non-hidden path component.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, MaxIDLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidID, id)
	case id[0] == '.':
		// Covers "." and "..", plus names reserved for .git and temporary files.
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidID, id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidID, id)
		}
	}
	return nil
}

// ValidateIDs validates each identifier in order and returns the first failure.
func ValidateIDs(ids ...string) error {
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}
