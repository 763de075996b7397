package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores blobs as objects of a Cloud Storage bucket, optionally below a
// key prefix.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Store = &GCS{}

func NewGCS(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCS, error) {
	if bucket == "" {
		return nil, goerr.New("bucket name is empty")
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, unavailable(err, "failed to create storage client")
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &GCS{client: client, bucket: bucket, prefix: prefix}, nil
}

func (x *GCS) object(name string) *storage.ObjectHandle {
	return x.client.Bucket(x.bucket).Object(x.prefix + name)
}

func (x *GCS) Exists(ctx context.Context, name string) (bool, error) {
	if _, err := x.object(name).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, unavailable(err, "failed to get object attributes",
			goerr.V("bucket", x.bucket),
			goerr.V("object", x.prefix+name),
		)
	}
	return true, nil
}

func (x *GCS) Read(ctx context.Context, name string) ([]byte, error) {
	rc, err := x.object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, notFound(name)
		}
		return nil, unavailable(err, "failed to create reader",
			goerr.V("bucket", x.bucket),
			goerr.V("object", x.prefix+name),
		)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, unavailable(err, "failed to read object", goerr.V("object", x.prefix+name))
	}
	return data, nil
}

func (x *GCS) Write(ctx context.Context, name string, data []byte) error {
	w := x.object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		w.Close()
		return unavailable(err, "failed to write object", goerr.V("object", x.prefix+name))
	}
	if err := w.Close(); err != nil {
		return unavailable(err, "failed to commit object", goerr.V("object", x.prefix+name))
	}
	return nil
}

func (x *GCS) Delete(ctx context.Context, name string) (bool, error) {
	if err := x.object(name).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, unavailable(err, "failed to delete object", goerr.V("object", x.prefix+name))
	}
	return true, nil
}

func (x *GCS) List(ctx context.Context, prefix string) ([]Blob, error) {
	it := x.client.Bucket(x.bucket).Objects(ctx, &storage.Query{Prefix: x.prefix + prefix})

	var blobs []Blob
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, unavailable(err, "failed to list objects",
				goerr.V("bucket", x.bucket),
				goerr.V("prefix", x.prefix+prefix),
			)
		}
		name := strings.TrimPrefix(attrs.Name, x.prefix)
		if strings.Contains(name, "/") {
			continue
		}
		blobs = append(blobs, Blob{Name: name, Length: attrs.Size, LastModified: attrs.Updated})
	}
	return blobs, nil
}

func (x *GCS) Close() error {
	return x.client.Close()
}
