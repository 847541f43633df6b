package evidence

import (
	"errors"
	"time"
)

var (
	// ErrUnknownFile means the file id did not resolve. Deny-equivalent to
	// callers but distinguishable for diagnostics.
	ErrUnknownFile = errors.New("evidence: unknown file")

	ErrAlreadyExists = errors.New("evidence: already exists")
	ErrInvalidInput  = errors.New("evidence: invalid input")

	// ErrNotAuthorized is the generic denial surfaced to callers. It is
	// deliberately free of detail so an unauthorized caller cannot learn
	// whether a file exists or who owns it.
	ErrNotAuthorized = errors.New("evidence: not authorized")
)

// File is a registered piece of evidence. The owner is fixed at creation and
// files are never reassigned; ContentRef is an opaque handle into the blob
// store holding the actual bytes.
type File struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Filename   string    `json:"filename"`
	ContentRef string    `json:"content_ref"`
	SHA256     string    `json:"sha256"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}
