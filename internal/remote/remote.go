// Package remote defines the content-host collaborator contract used by
// pipeline steps, and an HTTP client implementing it.
package remote

import (
	"context"
	"errors"
)

// ErrAlreadyExists is returned by Publish when the target file is
// already present on the host. Pipelines map it to a skip, not a
// failure.
var ErrAlreadyExists = errors.New("file already exists on content host")

// ContentHost is the external media host the pipelines work against.
// Implementations only need to honor the success/failure contracts;
// pipeline steps never look inside.
type ContentHost interface {
	// Exists reports whether a file with the given identifier is
	// already present. Non-destructive pre-check.
	Exists(ctx context.Context, identifier string) (bool, error)

	// Fetch downloads the identified file and returns its local path.
	Fetch(ctx context.Context, identifier string) (string, error)

	// Transform converts a fetched file and returns the transformed
	// file's local path.
	Transform(ctx context.Context, localPath string) (string, error)

	// Publish uploads a local file under the given identifier. Returns
	// ErrAlreadyExists when the host already has it.
	Publish(ctx context.Context, identifier, localPath, description string) error

	// GetReference returns the cross-reference text for an identifier.
	GetReference(ctx context.Context, identifier string) (string, error)

	// UpdateReference replaces the cross-reference text for an identifier.
	UpdateReference(ctx context.Context, identifier, text string) error
}
