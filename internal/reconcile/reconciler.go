// Package reconcile polls the remote service to refresh cached bucket
// metadata and advance beam processes toward Completed or a terminal failure.
// Reconciliation is the only path that converges local state with remote
// state after transfers finished; it is triggered by the pipeline right after
// a batch and by display or sweep passes later.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/dmitrijs2005/beamup/internal/beam"
	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/config"
	"github.com/dmitrijs2005/beamup/internal/logging"
	"github.com/dmitrijs2005/beamup/internal/remote"
)

// RemoteState is a transient classification of what the remote side currently
// looks like for one beam. It is derived, never persisted; persisted progress
// lives in the beam's process field.
type RemoteState int

const (
	// StateNotApplicable means the beam's status/process combination has
	// nothing remote to look at.
	StateNotApplicable RemoteState = iota
	// StateUnreachable means the service could not be contacted.
	StateUnreachable
	// StateNoBucket means the service answered and no bucket exists or the
	// bucket reported an error; the beam fails on the record axis.
	StateNoBucket
	// StateCreatingBucket means the bucket creation task is still running.
	StateCreatingBucket
	// StateProcessing means the bucket exists but the transfer has not been
	// fully integrated yet.
	StateProcessing
	// StateReady means the remote side reflects the requested state.
	StateReady
)

func (s RemoteState) String() string {
	switch s {
	case StateNotApplicable:
		return "not applicable"
	case StateUnreachable:
		return "unreachable"
	case StateNoBucket:
		return "no bucket"
	case StateCreatingBucket:
		return "creating bucket"
	case StateProcessing:
		return "processing"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Reconciler applies remote observations back onto beams.
type Reconciler struct {
	repo beam.Repository
	api  remote.API
	cfg  *config.Config
	log  logging.Logger
}

func NewReconciler(repo beam.Repository, api remote.API, cfg *config.Config, log logging.Logger) *Reconciler {
	return &Reconciler{repo: repo, api: api, cfg: cfg, log: log}
}

// CheckRemoteStatus polls the remote service for one beam and persists any
// process advancement. Beams checked more recently than the configured
// minimum interval are answered from the cached metadata without a network
// call.
func (r *Reconciler) CheckRemoteStatus(ctx context.Context, b *beam.Record) (RemoteState, error) {
	if !b.IsRemoteCheckable() || b.RemoteID == "" {
		return StateNotApplicable, nil
	}
	if b.IsRemoteChecked() && time.Since(b.RemoteChecked) < r.cfg.MinRecheckInterval {
		return r.cachedState(b), nil
	}

	if !r.api.ProbeConnectivity(ctx) {
		b.Process = beam.ProcessFailedConnection
		if err := r.repo.Save(ctx, b); err != nil {
			return StateUnreachable, err
		}
		r.log.Warn(ctx, "remote service unreachable", "beam", b.ID)
		return StateUnreachable, nil
	}

	if b.IsFile() {
		parent, err := r.repo.GetByID(ctx, b.RequiredBeamID)
		if err != nil {
			return StateNotApplicable, fmt.Errorf("required beam %d of beam %d: %w", b.RequiredBeamID, b.ID, err)
		}
		meta, state, err := r.refreshBucket(ctx, parent)
		if err != nil || meta == nil {
			return state, err
		}
		return r.applyFileMetadata(ctx, b, meta)
	}

	meta, state, err := r.refreshBucket(ctx, b)
	if err != nil || meta == nil {
		return state, err
	}
	return r.applyItemMetadata(ctx, b, meta)
}

// CheckFilesOfItem refreshes the item beam once, then applies the file-level
// check to every dependent file beam against that single metadata fetch.
//
// Known consistency window: the item can already read as ready here while its
// file beams are still being walked below; a display in between sees a ready
// item with pending files. The window closes on the next pass.
func (r *Reconciler) CheckFilesOfItem(ctx context.Context, itemBeam *beam.Record) (RemoteState, error) {
	state, err := r.CheckRemoteStatus(ctx, itemBeam)
	if err != nil {
		return state, err
	}

	dependents, err := r.repo.FindDependents(ctx, itemBeam.ID)
	if err != nil {
		return state, err
	}
	meta := itemBeam.RemoteMetadata
	for _, fb := range dependents {
		if !fb.IsRemoteCheckable() || fb.RemoteID == "" {
			continue
		}
		if meta == nil {
			continue
		}
		if _, err := r.applyFileMetadata(ctx, fb, meta); err != nil {
			return state, err
		}
	}
	return state, nil
}

// refreshBucket fetches metadata for the bucket beam, handling the empty
// document disambiguation. A nil returned metadata means the caller has
// nothing to apply; the returned state already tells why.
func (r *Reconciler) refreshBucket(ctx context.Context, b *beam.Record) (*remote.Metadata, RemoteState, error) {
	meta, err := r.api.WaitForMetadata(ctx, b.RemoteID, r.cfg.MaxBucketWait)
	if err != nil {
		if errors.Is(err, common.ErrConnection) {
			b.Process = beam.ProcessFailedConnection
			if saveErr := r.repo.Save(ctx, b); saveErr != nil {
				return nil, StateUnreachable, saveErr
			}
			return nil, StateUnreachable, nil
		}
		return nil, StateNotApplicable, err
	}

	if meta == nil {
		state, err := r.disambiguateEmpty(ctx, b)
		return nil, state, err
	}

	if meta.Error != "" {
		r.log.Warn(ctx, "remote bucket reported an error", "beam", b.ID, "bucket", b.RemoteID, "error", meta.Error)
		b.Process = beam.ProcessFailedRecord
		b.RemoteMetadata = meta
		b.RemoteChecked = time.Now()
		if err := r.repo.Save(ctx, b); err != nil {
			return nil, StateNoBucket, err
		}
		return nil, StateNoBucket, nil
	}
	return meta, StateProcessing, nil
}

// disambiguateEmpty resolves an empty metadata document through the task
// history: nothing ever scheduled means the bucket will never appear, which
// is a permanent record failure (wrong keys or configuration); tasks present
// mean creation is still running and the beam just waits.
func (r *Reconciler) disambiguateEmpty(ctx context.Context, b *beam.Record) (RemoteState, error) {
	hist, err := r.api.FetchTaskHistory(ctx, b.RemoteID)
	if err != nil {
		if errors.Is(err, common.ErrConnection) {
			b.Process = beam.ProcessFailedConnection
			if saveErr := r.repo.Save(ctx, b); saveErr != nil {
				return StateUnreachable, saveErr
			}
			return StateUnreachable, nil
		}
		return StateNotApplicable, err
	}

	if hist.BucketNeverCreated() {
		r.log.Warn(ctx, "bucket was never created, check the account keys", "beam", b.ID, "bucket", b.RemoteID)
		b.Process = beam.ProcessFailedRecord
		if err := r.repo.Save(ctx, b); err != nil {
			return StateNoBucket, err
		}
		return StateNoBucket, nil
	}
	return StateCreatingBucket, nil
}

func (r *Reconciler) applyItemMetadata(ctx context.Context, b *beam.Record, meta *remote.Metadata) (RemoteState, error) {
	b.RemoteChecked = time.Now()

	if b.Status == beam.StatusToRemove {
		if !meta.HasFiles() {
			b.Process = beam.ProcessCompleted
			b.RemoteMetadata = meta
			if err := r.repo.Save(ctx, b); err != nil {
				return StateReady, err
			}
			return StateReady, nil
		}
		b.Process = beam.ProcessInProgressWaitingRemote
		b.RemoteMetadata = meta
		if err := r.repo.Save(ctx, b); err != nil {
			return StateProcessing, err
		}
		return StateProcessing, nil
	}

	if !meta.HasFiles() {
		b.Process = beam.ProcessInProgressWaitingRemote
		b.RemoteMetadata = meta
		if err := r.repo.Save(ctx, b); err != nil {
			return StateProcessing, err
		}
		return StateProcessing, nil
	}

	// The remote is the source of truth from here on; the task blob is the
	// bulky part of the document and is dropped from the cache.
	meta.Tasks = nil
	b.Process = beam.ProcessCompleted
	b.RemoteMetadata = meta
	if err := r.repo.Save(ctx, b); err != nil {
		return StateReady, err
	}
	return StateReady, nil
}

// applyFileMetadata advances a file beam against its parent bucket's listing.
func (r *Reconciler) applyFileMetadata(ctx context.Context, b *beam.Record, parentMeta *remote.Metadata) (RemoteState, error) {
	name := path.Base(b.RemoteID)
	entry := parentMeta.FindFile(name)
	b.RemoteChecked = time.Now()

	if b.Status == beam.StatusToRemove {
		if entry == nil {
			b.Process = beam.ProcessCompleted
			b.RemoteMetadata = nil
			if err := r.repo.Save(ctx, b); err != nil {
				return StateReady, err
			}
			return StateReady, nil
		}
		b.Process = beam.ProcessInProgressWaitingRemote
		if err := r.repo.Save(ctx, b); err != nil {
			return StateProcessing, err
		}
		return StateProcessing, nil
	}

	if entry != nil {
		b.Process = beam.ProcessCompleted
		b.RemoteMetadata = &remote.Metadata{Files: []remote.FileEntry{*entry}}
		if err := r.repo.Save(ctx, b); err != nil {
			return StateReady, err
		}
		return StateReady, nil
	}

	if parentMeta.PendingTasks() > 0 {
		b.Process = beam.ProcessInProgressWaitingRemote
		if err := r.repo.Save(ctx, b); err != nil {
			return StateProcessing, err
		}
		return StateProcessing, nil
	}

	// No task pending and no listing entry: the upload never landed. The
	// beam goes back to the queue for another attempt.
	b.Process = beam.ProcessQueued
	if err := r.repo.Save(ctx, b); err != nil {
		return StateProcessing, err
	}
	return StateProcessing, nil
}

// cachedState answers from persisted state when the last successful check is
// fresher than the configured minimum interval.
func (r *Reconciler) cachedState(b *beam.Record) RemoteState {
	switch b.Process {
	case beam.ProcessFailedConnection:
		return StateUnreachable
	case beam.ProcessFailedRecord:
		return StateNoBucket
	case beam.ProcessCompleted:
		return StateReady
	case beam.ProcessQueuedWaitingBucket:
		return StateCreatingBucket
	default:
		return StateProcessing
	}
}
