// Package blobstore is the intermediate file system of a backup: a flat
// container of named blobs that batch files and schema files are written to.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrNotFound is returned by Read when the blob does not exist.
	ErrNotFound = errors.New("blob not found")
	// ErrUnavailable wraps every failed round trip to the remote store.
	ErrUnavailable = errors.New("blob store unavailable")
)

// Blob describes one stored object.
type Blob struct {
	Name         string    `json:"name"`
	Length       int64     `json:"length"`
	LastModified time.Time `json:"last_modified"`
}

// Store is a key-value blob container. All calls are synchronous round trips.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) (bool, error)
	// List returns the blobs whose name starts with prefix, ordered by name.
	List(ctx context.Context, prefix string) ([]Blob, error)
	Close() error
}

// Open picks a store implementation from the location string:
//
//	mem://                                      in-memory
//	gs://bucket/prefix                          Google Cloud Storage
//	https://acct.blob.core.windows.net/c?<sas>  Azure Blob container (SAS URL)
//	file:///path or /path                       local directory
func Open(ctx context.Context, location string) (Store, error) {
	if location == "" {
		return nil, goerr.New("blob store location is empty")
	}

	u, err := url.Parse(location)
	if err != nil || u.Scheme == "" {
		return NewDir(location)
	}

	switch u.Scheme {
	case "mem":
		return NewMemory(), nil
	case "gs":
		return NewGCS(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	case "http", "https":
		return NewAzure(location, nil)
	case "file":
		return NewDir(u.Path)
	}

	return nil, goerr.New("unsupported blob store scheme", goerr.V("scheme", u.Scheme))
}

func unavailable(cause error, msg string, opts ...goerr.Option) error {
	return goerr.Wrap(fmt.Errorf("%w: %w", ErrUnavailable, cause), msg, opts...)
}

func notFound(name string) error {
	return goerr.Wrap(ErrNotFound, "failed to read blob", goerr.V("blob", name))
}
