package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Dir stores blobs as files of a single local directory.
type Dir struct {
	root string
}

var _ Store = &Dir{}

func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, unavailable(err, "failed to create blob directory", goerr.V("dir", root))
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", goerr.New("invalid blob name", goerr.V("blob", name))
	}
	return filepath.Join(d.root, name), nil
}

func (d *Dir) Exists(ctx context.Context, name string) (bool, error) {
	p, err := d.path(name)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, unavailable(err, "failed to stat blob", goerr.V("blob", name))
	}
	return true, nil
}

func (d *Dir) Read(ctx context.Context, name string) ([]byte, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(name)
		}
		return nil, unavailable(err, "failed to read blob", goerr.V("blob", name))
	}
	return data, nil
}

func (d *Dir) Write(ctx context.Context, name string, data []byte) error {
	p, err := d.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.root, ".tmp-"+name+"-*")
	if err != nil {
		return unavailable(err, "failed to create blob", goerr.V("blob", name))
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return unavailable(err, "failed to write blob", goerr.V("blob", name))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return unavailable(err, "failed to write blob", goerr.V("blob", name))
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return unavailable(err, "failed to commit blob", goerr.V("blob", name))
	}
	return nil
}

func (d *Dir) Delete(ctx context.Context, name string) (bool, error) {
	p, err := d.path(name)
	if err != nil {
		return false, err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, unavailable(err, "failed to delete blob", goerr.V("blob", name))
	}
	return true, nil
}

func (d *Dir) List(ctx context.Context, prefix string) ([]Blob, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, unavailable(err, "failed to list blobs", goerr.V("dir", d.root))
	}

	var blobs []Blob
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		blobs = append(blobs, Blob{Name: e.Name(), Length: info.Size(), LastModified: info.ModTime().UTC()})
	}
	return blobs, nil
}

func (d *Dir) Close() error {
	return nil
}
