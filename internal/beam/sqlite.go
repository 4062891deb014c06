package beam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/dbx"
	"github.com/dmitrijs2005/beamup/internal/remote"
)

// SQLiteRepository persists beams in SQLite.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

var _ Repository = (*SQLiteRepository)(nil)

const beamColumns = `id, record_type, record_id, required_beam_id, status, process, public, remote_id, remote_metadata, remote_checked, modified, no_record`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeam(row rowScanner) (*Record, error) {
	r := &Record{}
	var meta sql.NullString
	var checked sql.NullTime

	err := row.Scan(&r.ID, &r.RecordType, &r.RecordID, &r.RequiredBeamID,
		&r.Status, &r.Process, &r.Public, &r.RemoteID, &meta, &checked,
		&r.Modified, &r.NoRecord)
	if err != nil {
		return nil, err
	}

	if meta.Valid && meta.String != "" {
		m := &remote.Metadata{}
		if err := json.Unmarshal([]byte(meta.String), m); err != nil {
			return nil, fmt.Errorf("failed to decode remote metadata: %w", err)
		}
		r.RemoteMetadata = m
	}
	if checked.Valid {
		r.RemoteChecked = checked.Time
	}
	return r, nil
}

func beamArgs(r *Record) ([]any, error) {
	var meta sql.NullString
	if r.RemoteMetadata != nil {
		b, err := json.Marshal(r.RemoteMetadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode remote metadata: %w", err)
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	var checked sql.NullTime
	if !r.RemoteChecked.IsZero() {
		checked = sql.NullTime{Time: r.RemoteChecked, Valid: true}
	}
	return []any{r.RecordType, r.RecordID, r.RequiredBeamID, r.Status,
		r.Process, r.Public, r.RemoteID, meta, checked, r.Modified, r.NoRecord}, nil
}

func (s *SQLiteRepository) Create(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Modified = time.Now()

	args, err := beamArgs(r)
	if err != nil {
		return err
	}
	query := `insert into beams (record_type, record_id, required_beam_id, status, process, public, remote_id, remote_metadata, remote_checked, modified, no_record)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to create beam: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read beam id: %w", err)
	}
	r.ID = id
	return nil
}

func (s *SQLiteRepository) Save(ctx context.Context, r *Record) error {
	if r.ID == 0 {
		return s.Create(ctx, r)
	}
	if err := r.Validate(); err != nil {
		return err
	}
	r.Modified = time.Now()

	args, err := beamArgs(r)
	if err != nil {
		return err
	}
	query := `update beams set record_type=?, record_id=?, required_beam_id=?, status=?, process=?, public=?, remote_id=?, remote_metadata=?, remote_checked=?, modified=?, no_record=? where id=?`
	if _, err := s.db.ExecContext(ctx, query, append(args, r.ID)...); err != nil {
		return fmt.Errorf("failed to save beam: %w", err)
	}
	return nil
}

func (s *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Record, error) {
	query := `select ` + beamColumns + ` from beams where id=?`
	r, err := scanBeam(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load beam: %w", err)
	}
	return r, nil
}

func (s *SQLiteRepository) GetByRecord(ctx context.Context, rt RecordType, recordID int64) (*Record, error) {
	query := `select ` + beamColumns + ` from beams where record_type=? and record_id=?`
	r, err := scanBeam(s.db.QueryRowContext(ctx, query, rt, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load beam: %w", err)
	}
	return r, nil
}

func (s *SQLiteRepository) FindByIDs(ctx context.Context, ids []int64) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `select ` + beamColumns + ` from beams where id in (` + placeholders + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query beams: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]*Record, len(ids))
	for rows.Next() {
		r, err := scanBeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan beam: %w", err)
		}
		byID[r.ID] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read beams: %w", err)
	}

	result := make([]*Record, 0, len(byID))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *SQLiteRepository) FindDependents(ctx context.Context, requiredBeamID int64) ([]*Record, error) {
	query := `select ` + beamColumns + ` from beams where required_beam_id=? order by id`
	rows, err := s.db.QueryContext(ctx, query, requiredBeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependent beams: %w", err)
	}
	defer rows.Close()
	return collectBeams(rows)
}

func (s *SQLiteRepository) List(ctx context.Context, f Filter) ([]*Record, error) {
	query, args := buildListQuery(f, questionPlaceholder)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query beams: %w", err)
	}
	defer rows.Close()
	return collectBeams(rows)
}

func collectBeams(rows *sql.Rows) ([]*Record, error) {
	var result []*Record
	for rows.Next() {
		r, err := scanBeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan beam: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read beams: %w", err)
	}
	return result, nil
}

func questionPlaceholder(int) string { return "?" }

// buildListQuery assembles the List statement for either placeholder style.
// next receives the 1-based ordinal of the argument.
func buildListQuery(f Filter, next func(n int) string) (string, []any) {
	var conds []string
	var args []any

	placeholder := func() string {
		return next(len(args))
	}

	if f.RecordType != "" {
		args = append(args, f.RecordType)
		conds = append(conds, "record_type="+placeholder())
	}
	if len(f.Statuses) > 0 {
		var ph []string
		for _, st := range f.Statuses {
			args = append(args, st)
			ph = append(ph, placeholder())
		}
		conds = append(conds, "status in ("+strings.Join(ph, ", ")+")")
	}
	if len(f.Processes) > 0 {
		var ph []string
		for _, p := range f.Processes {
			args = append(args, p)
			ph = append(ph, placeholder())
		}
		conds = append(conds, "process in ("+strings.Join(ph, ", ")+")")
	}
	if f.Public != nil {
		args = append(args, *f.Public)
		conds = append(conds, "public="+placeholder())
	}

	query := `select ` + beamColumns + ` from beams`
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += " order by id"
	return query, args
}
