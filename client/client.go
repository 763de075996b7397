package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/ll2l/indexcopy/bookmarks"
)

var (
	// ErrIndexNotFound is returned by GetSchema when the index does not exist.
	ErrIndexNotFound = errors.New("index not found")
)

// Document is one search document keyed by field name.
type Document map[string]interface{}

// Field is one entry of an index schema. Sub-fields of complex fields are
// flattened with a "/" separated path.
type Field struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Key         bool   `json:"key"`
	Retrievable bool   `json:"retrievable"`
}

// Schema is an index definition. Definition holds the backend's full
// definition so that everything Fields does not model survives a copy.
type Schema struct {
	Name       string                 `json:"name"`
	Kind       string                 `json:"kind"`
	Fields     []Field                `json:"fields"`
	Definition map[string]interface{} `json:"definition"`
}

// UploadResult counts the per-document outcome of one bulk upload.
type UploadResult struct {
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Backend is the surface of a search service used to copy an index.
type Backend interface {
	Ping(ctx context.Context) error
	GetSchema(ctx context.Context, index string) (*Schema, error)
	// PutSchema creates the index schema.Name or updates it in place.
	PutSchema(ctx context.Context, schema *Schema) error
	// DeleteIndex removes the index. A missing index is not an error.
	DeleteIndex(ctx context.Context, index string) error
	Count(ctx context.Context, index string) (int64, error)
	// Page returns up to top documents of a match-all query after skipping skip.
	Page(ctx context.Context, index string, skip, top int) ([]Document, error)
	// Upload indexes a {"value": [...]} batch into index.
	Upload(ctx context.Context, index string, batch []byte) (UploadResult, error)
}

// StatusError is a non-successful HTTP response from a search service.
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search service returned %d: %s", e.Code, e.Reason)
}

// New creates the backend described by a bookmark.
func New(conf bookmarks.Bookmark) (Backend, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	switch conf.Kind {
	case bookmarks.KindElasticsearch:
		return NewElastic(conf)
	default:
		return NewAzure(conf, nil)
	}
}

// KeyField returns the name of the document key field.
func (s *Schema) KeyField() (string, bool) {
	for _, f := range s.Fields {
		if f.Key {
			return f.Name, true
		}
	}
	return "", false
}

// Copy returns a deep copy of the schema.
func (s *Schema) Copy() *Schema {
	c := &Schema{
		Name:   s.Name,
		Kind:   s.Kind,
		Fields: append([]Field(nil), s.Fields...),
	}
	if s.Definition != nil {
		c.Definition = copyValue(s.Definition).(map[string]interface{})
	}
	return c
}

// copyValue copies the maps and slices of a decoded JSON value. Scalars are
// shared.
func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, child := range t {
			out[k] = copyValue(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, child := range t {
			out[i] = copyValue(child)
		}
		return out
	}
	return v
}

// Renamed returns a copy of the schema under another index name.
func (s *Schema) Renamed(name string) *Schema {
	c := s.Copy()
	c.Name = name
	return c
}

// ForceRetrievable marks every field retrievable and reports whether any
// field changed.
func (s *Schema) ForceRetrievable() bool {
	changed := false
	for i := range s.Fields {
		if !s.Fields[i].Retrievable {
			s.Fields[i].Retrievable = true
			changed = true
		}
	}
	return changed
}

// Validate checks that exactly one field is the key.
func (s *Schema) Validate() error {
	keys := 0
	for _, f := range s.Fields {
		if f.Key {
			keys++
		}
	}
	if keys != 1 {
		return fmt.Errorf("index %s must have exactly one key field, found %d", s.Name, keys)
	}
	return nil
}
