package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.io/infrasutra/mockinvoice/internal/invoice"
)

func TestFileStore(t *testing.T) {
	st, err := NewFile(filepath.Join(t.TempDir(), "data", "invoices.json"))
	require.NoError(t, err)
	exerciseStore(t, st)
}

func TestFileStoreMissingAndEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	st, err := NewFile(path)
	require.NoError(t, err)

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	n, err = st.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFileStoreCorruptContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"message_id": "msg_001",`), 0o644))

	st, err := NewFile(path)
	require.NoError(t, err)

	_, err = st.Count(context.Background())
	assert.ErrorIs(t, err, ErrCorrupt)
	_, err = st.List(context.Background(), 0, 10)
	assert.ErrorIs(t, err, ErrCorrupt)
	err = st.Insert(context.Background(), sampleRecords(1))
	assert.ErrorIs(t, err, ErrCorrupt)

	// The corrupt file is left for inspection rather than reset.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `[{"message_id": "msg_001",`, string(data))
}

func TestFileStoreUnreadablePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invoices.json")
	require.NoError(t, os.Mkdir(path, 0o755))

	st, err := NewFile(path)
	require.NoError(t, err)

	_, err = st.Count(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFileStoreConcurrentInserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	st, err := NewFile(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, st.Insert(context.Background(), sampleRecords(3)))
		}()
	}
	wg.Wait()

	n, err := st.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 24, n)
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	first, err := NewFile(path)
	require.NoError(t, err)
	records := sampleRecords(3)
	require.NoError(t, first.Insert(context.Background(), records))

	second, err := NewFile(path)
	require.NoError(t, err)
	got, err := second.List(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestFileStoreCancelledContext(t *testing.T) {
	st, err := NewFile(filepath.Join(t.TempDir(), "invoices.json"))
	require.NoError(t, err)

	// Hold the file lock from a second handle so the store has to wait.
	other, err := NewFile(st.path)
	require.NoError(t, err)
	locked, err := other.lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.lock.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = st.Insert(ctx, []invoice.Email{{MessageID: "msg_001"}})
	assert.ErrorIs(t, err, ErrUnavailable)
}
