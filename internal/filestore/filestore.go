package filestore

import (
	"io"
)

// Store is a content-addressed blob store for generated images and avatars.
type Store interface {
	// Save writes the payload and returns its content hash. It is
	// idempotent: saving identical bytes twice returns the same hash.
	Save(data []byte) (string, error)

	// Get retrieves the payload for the given hash.
	Get(hash string) (io.ReadCloser, error)
}
