package beam

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/beamup/internal/common"
)

// Filter narrows List queries. Zero-value fields match everything.
type Filter struct {
	RecordType RecordType
	Statuses   []Status
	Processes  []Process
	// Public is a tri-state: nil matches both.
	Public *bool
}

// Repository is the persistence surface for beams.
type Repository interface {
	// Create inserts a new beam and fills in its id and timestamps.
	Create(ctx context.Context, r *Record) error

	// Save persists an existing beam after validating it.
	Save(ctx context.Context, r *Record) error

	// GetByID returns the beam with the given id, or common.ErrNotFound.
	GetByID(ctx context.Context, id int64) (*Record, error)

	// GetByRecord returns the beam tracking the given local record, or
	// common.ErrNotFound.
	GetByRecord(ctx context.Context, rt RecordType, recordID int64) (*Record, error)

	// FindByIDs returns the beams with the given ids, preserving the
	// request order. Unknown ids are skipped silently.
	FindByIDs(ctx context.Context, ids []int64) ([]*Record, error)

	// FindDependents returns the beams whose RequiredBeamID is the given
	// beam.
	FindDependents(ctx context.Context, requiredBeamID int64) ([]*Record, error)

	// List returns the beams matching the filter, ordered by id.
	List(ctx context.Context, f Filter) ([]*Record, error)
}

// ParseRange expands a range expression like "1-4,75" into a sorted list of
// beam ids. Whitespace around separators is tolerated; an empty expression is
// an error.
func ParseRange(expr string) ([]int64, error) {
	seen := map[int64]struct{}{}
	var ids []int64

	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		if !isRange {
			id, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
			if err != nil || id < 1 {
				return nil, fmt.Errorf("%w: invalid id %q", common.ErrInvalidBeam, part)
			}
			add(id)
			continue
		}
		from, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil || from < 1 {
			return nil, fmt.Errorf("%w: invalid range %q", common.ErrInvalidBeam, part)
		}
		to, err := strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil || to < from {
			return nil, fmt.Errorf("%w: invalid range %q", common.ErrInvalidBeam, part)
		}
		for id := from; id <= to; id++ {
			add(id)
		}
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty range expression", common.ErrInvalidBeam)
	}
	return ids, nil
}
