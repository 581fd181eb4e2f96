package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

const recordExt = ".rec"

// FileAdapter writes one JSON file per record. Writes are atomic renames, so a
// reader never sees a torn record.
type FileAdapter struct {
	dir string
}

// NewFileAdapter creates dir if needed.
func NewFileAdapter(dir string) (*FileAdapter, error) {
	if dir == "" {
		return nil, errs.InvalidArgument("file tier directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create file tier %s: %w", dir, err)
	}
	return &FileAdapter{dir: dir}, nil
}

func (f *FileAdapter) Tier() state.Tier { return state.TierFile }

// Dir returns the directory records are written to.
func (f *FileAdapter) Dir() string { return f.dir }

func (f *FileAdapter) path(id string) string {
	return filepath.Join(f.dir, url.PathEscape(id)+recordExt)
}

func (f *FileAdapter) Store(ctx context.Context, rec state.StateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return errs.InvalidArgument("record id is required")
	}
	b, err := state.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	if err := renameio.WriteFile(f.path(rec.ID), b, 0o600); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	return nil
}

func (f *FileAdapter) Load(ctx context.Context, id string) (state.StateRecord, error) {
	if err := ctx.Err(); err != nil {
		return state.StateRecord{}, err
	}
	b, err := os.ReadFile(f.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return state.StateRecord{}, errs.NotFound("record %s in file tier", id)
	}
	if err != nil {
		return state.StateRecord{}, fmt.Errorf("read record %s: %w", id, err)
	}
	return state.UnmarshalRecord(b)
}

func (f *FileAdapter) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(f.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove record %s: %w", id, err)
	}
	return nil
}

func (f *FileAdapter) Close() error { return nil }
