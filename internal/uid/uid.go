// Package uid generates the identifier formats used on the wire and in
// the object layout: sortable, time-prefixed and collision-resistant.
package uid

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const timeLayout = "20060102150405"

func randomHex(n int) string {
	// uuid.New is backed by crypto/rand; strip the dashes and take what
	// we need.
	s := strings.ReplaceAll(uuid.New().String(), "-", "")
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// NewUploadID returns a session id of the form YYYYMMDDHHMMSS-{16 hex}.
func NewUploadID(t time.Time) string {
	return t.UTC().Format(timeLayout) + "-" + randomHex(16)
}

// NewSuffix returns a unique filename suffix: a 14-digit UTC timestamp
// followed by 10 hex characters, monotonic across seconds and
// collision-resistant within one.
func NewSuffix(t time.Time) string {
	return t.UTC().Format(timeLayout) + randomHex(10)
}
