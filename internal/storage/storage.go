// Package storage defines the content sink the crawl stages write to: whole
// snapshots that are replaced on every write, and append-only logs.
// Blobs are addressed by container and name; implementations return a locator
// URI that identifies the blob to downstream readers.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Containers used by the pipeline.
const (
	ContainerSource = "source"
	ContainerSchema = "schema"
	ContainerUser   = "user"
	ContainerText   = "text"
)

var (
	// ErrNotFound reports a missing blob.
	ErrNotFound = errors.New("blob not found")
	// ErrExists reports a create on a blob that is already present.
	ErrExists = errors.New("blob already exists")
)

// Metadata is string-valued blob metadata.
type Metadata map[string]string

// SnapshotStore writes and reads whole blobs.
type SnapshotStore interface {
	// Write replaces the blob and its metadata and returns its locator.
	Write(ctx context.Context, container, name string, data []byte, meta Metadata) (string, error)
	Read(ctx context.Context, container, name string) ([]byte, Metadata, error)
	Exists(ctx context.Context, container, name string) (bool, error)
	Metadata(ctx context.Context, container, name string) (Metadata, error)
}

// AppendLog is an append-only blob. Create fails with ErrExists when the blob
// is present and Append fails with ErrNotFound when it is not.
type AppendLog interface {
	Exists(ctx context.Context, container, name string) (bool, error)
	Create(ctx context.Context, container, name string, meta Metadata) (string, error)
	Append(ctx context.Context, container, name string, data []byte) error
	Read(ctx context.Context, container, name string) ([]byte, Metadata, error)
	// Locator returns the locator of a blob without touching it.
	Locator(container, name string) (string, error)
}

// Store is implemented by every backend.
type Store interface {
	SnapshotStore
	AppendLog
}

// ObjectPath joins container and name into a slash-separated relative path.
func ObjectPath(container, name string) (string, error) {
	container = strings.TrimSpace(container)
	name = strings.TrimSpace(name)
	if container == "" || name == "" {
		return "", fmt.Errorf("container and name are required")
	}
	if strings.Contains(container, "/") {
		return "", fmt.Errorf("invalid container %q", container)
	}
	clean := path.Clean("/" + name)
	if clean == "/" || clean != "/"+name {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return container + "/" + name, nil
}

// EnsureLog creates the log if it is absent and returns its locator.
func EnsureLog(ctx context.Context, log AppendLog, container, name string, meta Metadata) (string, error) {
	ok, err := log.Exists(ctx, container, name)
	if err != nil {
		return "", err
	}
	if !ok {
		if _, err := log.Create(ctx, container, name, meta); err != nil && !errors.Is(err, ErrExists) {
			return "", err
		}
	}
	return log.Locator(container, name)
}

// Clone copies meta.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
