package beam

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/dbx"
)

// PostgresRepository persists beams in PostgreSQL.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func dollarPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

func (s *PostgresRepository) Create(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.Modified = time.Now()

	args, err := beamArgs(r)
	if err != nil {
		return err
	}
	query := `insert into beams (record_type, record_id, required_beam_id, status, process, public, remote_id, remote_metadata, remote_checked, modified, no_record)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) returning id`
	row := s.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&r.ID); err != nil {
		return fmt.Errorf("failed to create beam: %w", err)
	}
	return nil
}

func (s *PostgresRepository) Save(ctx context.Context, r *Record) error {
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
	query := `update beams set record_type=$1, record_id=$2, required_beam_id=$3, status=$4, process=$5, public=$6, remote_id=$7, remote_metadata=$8, remote_checked=$9, modified=$10, no_record=$11 where id=$12`
	if _, err := s.db.ExecContext(ctx, query, append(args, r.ID)...); err != nil {
		return fmt.Errorf("failed to save beam: %w", err)
	}
	return nil
}

func (s *PostgresRepository) GetByID(ctx context.Context, id int64) (*Record, error) {
	query := `select ` + beamColumns + ` from beams where id=$1`
	r, err := scanBeam(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load beam: %w", err)
	}
	return r, nil
}

func (s *PostgresRepository) GetByRecord(ctx context.Context, rt RecordType, recordID int64) (*Record, error) {
	query := `select ` + beamColumns + ` from beams where record_type=$1 and record_id=$2`
	r, err := scanBeam(s.db.QueryRowContext(ctx, query, rt, recordID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load beam: %w", err)
	}
	return r, nil
}

func (s *PostgresRepository) FindByIDs(ctx context.Context, ids []int64) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		ph[i] = dollarPlaceholder(i + 1)
		args[i] = id
	}
	query := `select ` + beamColumns + ` from beams where id in (` + strings.Join(ph, ", ") + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query beams: %w", err)
	}
	defer rows.Close()

	found, err := collectBeams(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*Record, len(found))
	for _, r := range found {
		byID[r.ID] = r
	}
	result := make([]*Record, 0, len(found))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			result = append(result, r)
		}
	}
	return result, nil
}

func (s *PostgresRepository) FindDependents(ctx context.Context, requiredBeamID int64) ([]*Record, error) {
	query := `select ` + beamColumns + ` from beams where required_beam_id=$1 order by id`
	rows, err := s.db.QueryContext(ctx, query, requiredBeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependent beams: %w", err)
	}
	defer rows.Close()
	return collectBeams(rows)
}

func (s *PostgresRepository) List(ctx context.Context, f Filter) ([]*Record, error) {
	query, args := buildListQuery(f, dollarPlaceholder)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query beams: %w", err)
	}
	defer rows.Close()
	return collectBeams(rows)
}
