// Package blob abstracts raw evidence file storage. The pipeline only needs
// store/read/delete of opaque bytes keyed by upload id; records about the
// files live in the uploads store.
package blob

import (
	"context"

	"github.com/google/uuid"
)

// Store is the collaborator contract for raw file storage.
type Store interface {
	// Store writes the bytes for a new upload and returns its storage path.
	Store(ctx context.Context, id uuid.UUID, data []byte, contentType string) (string, error)

	// Read returns the raw bytes of a stored upload.
	Read(ctx context.Context, id uuid.UUID) ([]byte, error)

	// Delete removes a stored upload. Deleting a missing blob is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}
