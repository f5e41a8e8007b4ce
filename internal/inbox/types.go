package inbox

import (
	"context"
	"fmt"
	"strings"

	"voice2action/internal/services"
)

// FileReference identifies one recording as listed by a provider. ID is the
// identity; Name is used for working paths and MIME inference.
type FileReference struct {
	ID   string `json:"id" msgpack:"id"`
	Name string `json:"name" msgpack:"name"`
	Size *int64 `json:"size,omitempty" msgpack:"size,omitempty"`
	ETag string `json:"etag,omitempty" msgpack:"etag,omitempty"`
}

// Validate rejects references that cannot be processed safely.
func (f FileReference) Validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return services.Wrap(services.ErrValidation, "inbox", "validate file", "file id is empty", nil)
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		return services.Wrap(services.ErrValidation, "inbox", "validate file", fmt.Sprintf("file %q has no name", f.ID), nil)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return services.Wrap(services.ErrValidation, "inbox", "validate file", fmt.Sprintf("file name %q is not a plain name", name), nil)
	}
	return nil
}

// FetchRequest asks a provider to place a recording in DestDir.
type FetchRequest struct {
	File FileReference
	// SourceFolder is the inbox folder the file was listed from.
	SourceFolder string
	DestDir      string
}

// ArchiveRequest asks a provider to move a recording out of the inbox.
type ArchiveRequest struct {
	File          FileReference
	SourceFolder  string
	ArchiveFolder string
}

// Provider is the capability set shared by the remote and local inboxes.
type Provider interface {
	// List returns audio files directly under folder in provider order.
	List(ctx context.Context, folder string) ([]FileReference, error)
	// Fetch downloads or copies the file and returns the local path.
	Fetch(ctx context.Context, req FetchRequest) (string, error)
	// Archive moves the file and returns its new location.
	Archive(ctx context.Context, req ArchiveRequest) (string, error)
}
