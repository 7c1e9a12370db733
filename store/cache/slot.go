package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Slot is the durable location holding the latest store snapshot.
// Load returns nil, nil when nothing has been saved yet.
type Slot interface {
	Save(ctx context.Context, payload []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// NopSlot discards snapshots.
type NopSlot struct{}

func (NopSlot) Save(context.Context, []byte) error { return nil }

func (NopSlot) Load(context.Context) ([]byte, error) { return nil, nil }

// FileSlot keeps the snapshot in a single local file.
type FileSlot struct {
	path string
}

// NewFileSlot creates a slot writing to path.
func NewFileSlot(path string) *FileSlot {
	return &FileSlot{path: path}
}

// Path returns the snapshot file location.
func (f *FileSlot) Path() string {
	return f.path
}

// Save writes the payload to a temp file and renames it over the snapshot, so readers never see a partial file.
func (f *FileSlot) Save(_ context.Context, payload []byte) error {
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp snapshot in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return errors.Wrap(err, "failed to write snapshot")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close snapshot")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrapf(err, "failed to replace snapshot %s", f.path)
	}
	return nil
}

// Load reads the snapshot file.
func (f *FileSlot) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read snapshot %s", f.path)
	}
	return data, nil
}
