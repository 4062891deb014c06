package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/dbx"
)

// SQLiteStore reads host items and files from the host's SQLite database and
// file payloads from disk.
type SQLiteStore struct {
	db dbx.DBTX
}

func NewSQLiteStore(db dbx.DBTX) *SQLiteStore {
	return &SQLiteStore{db: db}
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Item(ctx context.Context, id int64) (*Item, error) {
	query := `select id, title, collection, creator from items where id=?`
	row := s.db.QueryRowContext(ctx, query, id)

	it := &Item{}
	err := row.Scan(&it.ID, &it.Title, &it.Collection, &it.Creator)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load item: %w", err)
	}
	return it, nil
}

func (s *SQLiteStore) File(ctx context.Context, id int64) (*File, error) {
	query := `select id, item_id, original_filename, storage_path, size, mime_type from files where id=?`
	row := s.db.QueryRowContext(ctx, query, id)

	f := &File{}
	err := row.Scan(&f.ID, &f.ItemID, &f.OriginalFilename, &f.StoragePath, &f.Size, &f.MimeType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) CountFilesWithName(ctx context.Context, itemID int64, originalFilename string) (int, error) {
	query := `select count(id) from files where item_id=? and original_filename=?`
	row := s.db.QueryRowContext(ctx, query, itemID, originalFilename)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Open(ctx context.Context, f *File) (io.ReadCloser, error) {
	fh, err := os.Open(f.StoragePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrLocalRecordMissing
		}
		return nil, err
	}
	return fh, nil
}
