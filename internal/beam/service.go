package beam

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/config"
	"github.com/dmitrijs2005/beamup/internal/logging"
	"github.com/dmitrijs2005/beamup/internal/records"
	"github.com/dmitrijs2005/beamup/internal/remote"
	"github.com/dmitrijs2005/beamup/internal/sanitize"
)

// Service applies the state machine to beams and keeps the dependency rules
// between item and file beams.
type Service struct {
	repo  Repository
	store records.Store
	api   remote.API
	cfg   *config.Config
	log   logging.Logger
}

func NewService(repo Repository, store records.Store, api remote.API, cfg *config.Config, log logging.Logger) *Service {
	return &Service{repo: repo, store: store, api: api, cfg: cfg, log: log}
}

// EnsureBeam returns the beam tracking the given local record, creating an
// inert one if none exists yet. For files the owning item's beam is ensured
// first, so the dependency link is always in place.
func (s *Service) EnsureBeam(ctx context.Context, rt RecordType, recordID int64) (*Record, error) {
	r, err := s.repo.GetByRecord(ctx, rt, recordID)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	r = NewRecord(rt, recordID, s.cfg.IndexByDefault)
	if rt == RecordTypeFile {
		f, err := s.store.File(ctx, recordID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve file %d: %w", recordID, err)
		}
		parent, err := s.EnsureBeam(ctx, RecordTypeItem, f.ItemID)
		if err != nil {
			return nil, err
		}
		r.RequiredBeamID = parent.ID
	}
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// SetStatus runs the requested status through the transition rules and
// persists the outcome. Refused transitions are logged and returned; a no-op
// skips the save entirely.
func (s *Service) SetStatus(ctx context.Context, r *Record, requested Status) error {
	ready, err := s.IsBucketReady(ctx, r)
	if err != nil {
		return err
	}
	res, err := Transition(TransitionInput{
		Current:           r.Status,
		Process:           r.Process,
		Request:           requested,
		AccountConfigured: s.cfg.AccountConfigured(),
		BucketReady:       ready,
	})
	if err != nil {
		s.log.Warn(ctx, "status change refused", "beam", r.ID, "requested", requested, "error", err)
		return err
	}
	if !res.Changed {
		return nil
	}
	r.Status = res.Status
	r.Process = res.Process
	return s.repo.Save(ctx, r)
}

// RequiredBeam returns the parent item beam of a file beam.
func (s *Service) RequiredBeam(ctx context.Context, r *Record) (*Record, error) {
	if r.RequiredBeamID == 0 {
		return nil, fmt.Errorf("%w: beam %d has no required beam", common.ErrInvalidBeam, r.ID)
	}
	parent, err := s.repo.GetByID(ctx, r.RequiredBeamID)
	if err != nil {
		return nil, fmt.Errorf("required beam %d of beam %d: %w", r.RequiredBeamID, r.ID, err)
	}
	return parent, nil
}

// IsBucketReady answers "can an object be placed in this beam's bucket" from
// persisted state. For file beams the bucket belongs to the parent item beam.
func (s *Service) IsBucketReady(ctx context.Context, r *Record) (bool, error) {
	if r.IsItem() {
		return r.IsBucketReadyLocal(), nil
	}
	if r.RequiredBeamID == 0 {
		return false, nil
	}
	parent, err := s.RequiredBeam(ctx, r)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return parent.IsBucketReadyLocal(), nil
}

// IsReadyToBeamUp gates a queued beam right before its transfer is built. It
// verifies the local record still exists and, for files, that the parent item
// was beamed up or is finishing. A beam whose local record vanished fails
// permanently and the condition is logged exactly once; a file whose parent
// beam was deleted likewise fails, with no network call made. The answer is
// true only for a ToBeamUp beam after these adjustments.
func (s *Service) IsReadyToBeamUp(ctx context.Context, r *Record) (bool, error) {
	exists, err := s.localRecordExists(ctx, r)
	if err != nil {
		return false, err
	}
	if !exists {
		if !r.NoRecord {
			s.log.Warn(ctx, "local record vanished, beam failed", "beam", r.ID, "type", r.RecordType, "record", r.RecordID)
			r.NoRecord = true
		}
		r.Process = ProcessFailedRecord
		if err := s.repo.Save(ctx, r); err != nil {
			return false, err
		}
		return false, nil
	}

	if r.IsFile() {
		parent, err := s.RequiredBeam(ctx, r)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				s.log.Warn(ctx, "required beam missing, beam failed", "beam", r.ID, "required", r.RequiredBeamID)
				r.Process = ProcessFailedRecord
				if saveErr := s.repo.Save(ctx, r); saveErr != nil {
					return false, saveErr
				}
				return false, fmt.Errorf("%w: %w", common.ErrRecord, err)
			}
			return false, err
		}
		if !parent.IsBeamedUpOrFinishing() {
			if r.Status == StatusToBeamUp && r.Process != ProcessQueuedWaitingBucket {
				r.Process = ProcessQueuedWaitingBucket
				if err := s.repo.Save(ctx, r); err != nil {
					return false, err
				}
			}
			return false, nil
		}
		if r.Process == ProcessQueuedWaitingBucket {
			r.Process = ProcessQueued
			if err := s.repo.Save(ctx, r); err != nil {
				return false, err
			}
		}
	}
	return r.Status == StatusToBeamUp, nil
}

func (s *Service) localRecordExists(ctx context.Context, r *Record) (bool, error) {
	var err error
	if r.IsItem() {
		_, err = s.store.Item(ctx, r.RecordID)
	} else {
		_, err = s.store.File(ctx, r.RecordID)
	}
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AssignRemoteID picks and persists the remote identifier for a beam that
// does not have one yet. Identifiers are immutable once set: the remote
// service supports no renames, so an already-assigned beam is left alone.
//
// For items the identifier is the sanitized "<prefix>_<record id>", probed
// against the service and suffixed with a serial until free. For files it is
// "<parent bucket>/<sanitized filename>", with the file id spliced in when
// siblings share the same original filename.
func (s *Service) AssignRemoteID(ctx context.Context, r *Record) error {
	if r.RemoteID != "" {
		return nil
	}
	if r.Status != StatusToBeamUp {
		return fmt.Errorf("%w: beam %d has status %q, identifiers are only assigned while beaming up", common.ErrInvalidBeam, r.ID, r.Status)
	}
	if r.IsItem() {
		return s.assignItemRemoteID(ctx, r)
	}
	return s.assignFileRemoteID(ctx, r)
}

func (s *Service) assignItemRemoteID(ctx context.Context, r *Record) error {
	base := sanitize.String(s.cfg.BucketPrefix + "_" + strconv.FormatInt(r.RecordID, 10))

	candidate := base
	for serial := 1; ; serial++ {
		used, err := s.api.IdentifierInUse(ctx, candidate)
		if err != nil {
			// Leaving RemoteID empty keeps the probe retryable.
			return fmt.Errorf("failed to probe identifier %q: %w", candidate, err)
		}
		if !used {
			break
		}
		candidate = base + "_" + strconv.Itoa(serial)
	}

	r.RemoteID = candidate
	return s.repo.Save(ctx, r)
}

func (s *Service) assignFileRemoteID(ctx context.Context, r *Record) error {
	parent, err := s.RequiredBeam(ctx, r)
	if err != nil {
		return err
	}
	if parent.RemoteID == "" {
		return fmt.Errorf("%w: parent beam %d has no remote id yet", common.ErrInvalidBeam, parent.ID)
	}

	f, err := s.store.File(ctx, r.RecordID)
	if err != nil {
		return fmt.Errorf("failed to resolve file %d: %w", r.RecordID, err)
	}

	name := f.OriginalFilename
	n, err := s.store.CountFilesWithName(ctx, f.ItemID, f.OriginalFilename)
	if err != nil {
		return err
	}
	if n > 1 {
		// Sibling files with the same original name would collide in the
		// bucket; the file id keeps the object names apart.
		name = spliceBeforeExt(name, strconv.FormatInt(f.ID, 10))
	}

	base := sanitize.String(name)
	candidate := base
	for serial := 1; ; serial++ {
		used, err := s.api.IdentifierInUse(ctx, parent.RemoteID+"/"+candidate)
		if err != nil {
			return fmt.Errorf("failed to probe identifier %q: %w", parent.RemoteID+"/"+candidate, err)
		}
		if !used {
			break
		}
		candidate = spliceBeforeExt(base, strconv.Itoa(serial))
	}

	r.RemoteID = parent.RemoteID + "/" + candidate
	return s.repo.Save(ctx, r)
}

// spliceBeforeExt inserts "_suffix" before the filename extension, or appends
// it when there is none.
func spliceBeforeExt(name, suffix string) string {
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + suffix + ext
}
