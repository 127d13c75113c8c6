package store

import (
	"context"
	"errors"
	"fmt"

	"github.io/infrasutra/mockinvoice/internal/config"
	"github.io/infrasutra/mockinvoice/internal/invoice"
)

var (
	// ErrUnavailable means the backend could not be read, written or reached.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrCorrupt means persisted state exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt persisted state")
)

// Store persists invoice emails as an append-only, insertion-ordered collection.
type Store interface {
	// Insert appends records without deduplication.
	Insert(ctx context.Context, records []invoice.Email) error
	// List returns up to limit records starting at offset, in insertion order.
	List(ctx context.Context, offset, limit int) ([]invoice.Email, error)
	Count(ctx context.Context) (int, error)
	// Clear removes every record. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
	Kind() string
	Close() error
}

// Open constructs the store selected by cfg.Kind. The sqlite kind keeps invoices
// in db, which the caller owns and closes.
func Open(ctx context.Context, cfg config.StorageConfig, db *SQLite) (Store, error) {
	switch config.NormalizeStorageKind(cfg.Kind) {
	case config.StorageFile:
		return NewFile(cfg.FilePath)
	case config.StorageMongo:
		return OpenMongo(ctx, MongoOptions{
			URL:        cfg.MongoURL,
			Database:   cfg.MongoDatabase,
			Collection: cfg.MongoCollection,
			Timeout:    cfg.Timeout,
		})
	case config.StorageRedis:
		return OpenRedis(ctx, cfg.RedisURL, cfg.RedisKey, cfg.Timeout)
	case config.StorageSQLite:
		if db == nil {
			return nil, errors.New("sqlite storage requires an open database")
		}
		return db.Invoices(), nil
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func corrupt(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrCorrupt, err)
}

func pageBounds(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit >= 0 && offset+limit < total {
		end = offset + limit
	}
	return offset, end
}
