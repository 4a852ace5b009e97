package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// ValidateID checks a client-supplied session id.
func ValidateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: must match %s", ErrInvalidID, idPattern.String())
	}
	return nil
}

// NewID generates a server-side session id of the form web_{unix}_{hex8}.
func NewID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("web_%d_%s", now.Unix(), suffix)
}
