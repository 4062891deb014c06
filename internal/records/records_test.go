package records

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/beamup/internal/common"
)

func TestFileMediaType(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"text/plain", "texts"},
		{"text/html", "texts"},
		{"video/mp4", "movies"},
		{"audio/mpeg", "audio"},
		{"image/png", ""},
		{"application/pdf", ""},
		{"", ""},
	}
	for _, tt := range tests {
		f := &File{MimeType: tt.mime}
		assert.Equal(t, tt.want, f.MediaType(), "mime %q", tt.mime)
	}
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE items (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  title TEXT NOT NULL DEFAULT '',
  collection TEXT NOT NULL DEFAULT '',
  creator TEXT NOT NULL DEFAULT ''
);
CREATE TABLE files (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  item_id INTEGER NOT NULL,
  original_filename TEXT NOT NULL,
  storage_path TEXT NOT NULL DEFAULT '',
  size INTEGER NOT NULL DEFAULT 0,
  mime_type TEXT NOT NULL DEFAULT ''
);
`)
	require.NoError(t, err)
	return db
}

func TestSQLiteStore_ItemAndFile(t *testing.T) {
	db := setupDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO items (id, title, collection, creator) VALUES (1, 'Annual Report', 'reports', 'acme')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO files (id, item_id, original_filename, storage_path, size, mime_type)
		VALUES (2, 1, 'scan.pdf', '/tmp/scan.pdf', 1024, 'application/pdf')`)
	require.NoError(t, err)

	it, err := s.Item(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Annual Report", it.Title)

	_, err = s.Item(ctx, 99)
	assert.ErrorIs(t, err, common.ErrNotFound)

	f, err := s.File(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", f.OriginalFilename)
	assert.Equal(t, int64(1), f.ItemID)

	_, err = s.File(ctx, 99)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteStore_CountFilesWithName(t *testing.T) {
	db := setupDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO files (item_id, original_filename) VALUES (1, 'scan.pdf'), (1, 'scan.pdf'), (1, 'other.pdf'), (2, 'scan.pdf')`)
	require.NoError(t, err)

	n, err := s.CountFilesWithName(ctx, 1, "scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountFilesWithName(ctx, 1, "missing.pdf")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_Open(t *testing.T) {
	s := NewSQLiteStore(nil)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

	rc, err := s.Open(ctx, &File{StoragePath: path})
	require.NoError(t, err)
	defer rc.Close()

	_, err = s.Open(ctx, &File{StoragePath: filepath.Join(dir, "gone.bin")})
	assert.ErrorIs(t, err, common.ErrLocalRecordMissing)
}
