package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
)

const lockRetryDelay = 25 * time.Millisecond

// File keeps the whole collection in a single JSON array. Every operation holds an
// in-process mutex and an advisory lock on path+".lock" for its full
// read-modify-write cycle; writes replace the file atomically via rename.
type File struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("file storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, unavailable("create storage dir", err)
	}
	return &File{path: path, lock: flock.New(path + ".lock")}, nil
}

func (f *File) Kind() string { return config.StorageFile }

func (f *File) Close() error { return nil }

func (f *File) Insert(ctx context.Context, records []invoice.Email) error {
	if len(records) == 0 {
		return nil
	}
	return f.withLock(ctx, func() error {
		existing, err := f.read()
		if err != nil {
			return err
		}
		return f.write(append(existing, records...))
	})
}

func (f *File) List(ctx context.Context, offset, limit int) ([]invoice.Email, error) {
	var page []invoice.Email
	err := f.withLock(ctx, func() error {
		records, err := f.read()
		if err != nil {
			return err
		}
		start, end := pageBounds(len(records), offset, limit)
		page = records[start:end]
		return nil
	})
	return page, err
}

func (f *File) Count(ctx context.Context) (int, error) {
	var n int
	err := f.withLock(ctx, func() error {
		records, err := f.read()
		n = len(records)
		return err
	})
	return n, err
}

func (f *File) Clear(ctx context.Context) error {
	return f.withLock(ctx, func() error {
		return f.write([]invoice.Email{})
	})
}

func (f *File) withLock(ctx context.Context, fn func() error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return unavailable("lock invoices file", err)
	}
	if !locked {
		return unavailable("lock invoices file", errors.New("lock not acquired"))
	}
	defer f.lock.Unlock()
	return fn()
}

func (f *File) read() ([]invoice.Email, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, unavailable("read invoices file", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []invoice.Email
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, corrupt(fmt.Sprintf("decode %s", f.path), err)
	}
	return records, nil
}

func (f *File) write(records []invoice.Email) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode invoices: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return unavailable("write invoices file", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return unavailable("replace invoices file", err)
	}
	return nil
}
