package transfer

import (
	"strings"

	"github.com/dukerupert/hostvault/internal/model"
)

const forbiddenPathChars = ";&|`$\n\r"

// ValidateRestorePath rejects destinations that are not absolute or that
// carry any shell metacharacter, wherever it appears in the string.
func ValidateRestorePath(p string) error {
	if !strings.HasPrefix(p, "/") {
		return &model.InvalidPathError{Path: p, Reason: "Restore path must be absolute"}
	}
	if strings.ContainsAny(p, forbiddenPathChars) {
		return &model.InvalidPathError{Path: p, Reason: "Restore path contains invalid characters"}
	}
	return nil
}
