// Package beam holds the persisted entity that ties a local record to its
// remote counterpart, the status/process state machine governing it, and the
// repository and service layers around it.
package beam

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/remote"
)

// RecordType distinguishes the two kinds of local records the engine syncs.
type RecordType string

const (
	RecordTypeItem RecordType = "Item"
	RecordTypeFile RecordType = "File"
)

// Status is the user/system intent axis of a beam. The default is
// NotToBeamUp: nothing happens until someone asks.
type Status string

const (
	StatusNotToBeamUp Status = "not to beam up"
	StatusToBeamUp    Status = "to beam up"
	// ToUpdate is very similar to ToBeamUp, except that the remote already
	// exists.
	StatusToUpdate Status = "to update"
	StatusToRemove Status = "to remove"
)

// Process is the execution/progress axis of a beam, distinct from Status.
type Process string

const (
	ProcessCompleted Process = "completed"
	ProcessQueued    Process = "queued"
	// QueuedWaitingBucket is set on an item once its bucket-creation
	// request succeeded but the bucket is not confirmed yet, and on a file
	// whose parent bucket is not ready.
	ProcessQueuedWaitingBucket Process = "queued waiting bucket creation"
	ProcessInProgress          Process = "processing"
	// InProgressWaitingRemote means the local transfer finished and the
	// service still needs time to integrate it.
	ProcessInProgressWaitingRemote Process = "processing remotely"
	ProcessFailedConnection        Process = "failed after connection error"
	ProcessFailedRecord            Process = "failed after record error"
)

// Record is one row of the beam table: the sync relationship between a local
// record and the remote service.
type Record struct {
	ID         int64
	RecordType RecordType
	RecordID   int64
	// RequiredBeamID is 0 for items; for files it references the owning
	// item's beam, which is always created first.
	RequiredBeamID int64
	Status         Status
	Process        Process
	// Public controls the remote noindex flag.
	Public bool
	// RemoteID is the bucket name (item) or "bucket/filename" (file).
	// Immutable once confirmed: the service supports no renames.
	RemoteID       string
	RemoteMetadata *remote.Metadata
	// RemoteChecked is the last successful remote poll; zero means never.
	RemoteChecked time.Time
	Modified      time.Time
	// NoRecord flags a beam whose local record vanished, so the condition
	// is logged once instead of on every pass.
	NoRecord bool
}

// NewRecord returns an inert beam for a local record: nothing is synced
// until a status is requested.
func NewRecord(rt RecordType, recordID int64, public bool) *Record {
	return &Record{
		RecordType: rt,
		RecordID:   recordID,
		Status:     StatusNotToBeamUp,
		Process:    ProcessCompleted,
		Public:     public,
	}
}

func (r *Record) IsItem() bool { return r.RecordType == RecordTypeItem }
func (r *Record) IsFile() bool { return r.RecordType == RecordTypeFile }

// NoIndex is the value of the remote noindex header for this beam.
func (r *Record) NoIndex() bool { return !r.Public }

// IsProcessCompleted covers both the steady state and the tail of a
// transfer that only waits on remote integration.
func (r *Record) IsProcessCompleted() bool {
	return r.Process == ProcessCompleted || r.Process == ProcessInProgressWaitingRemote
}

func (r *Record) IsProcessQueued() bool {
	return r.Process == ProcessQueued || r.Process == ProcessQueuedWaitingBucket
}

func (r *Record) IsProcessFailed() bool {
	return r.Process == ProcessFailedConnection || r.Process == ProcessFailedRecord
}

// IsBeamedUpOrFinishing reports whether the remote side of this beam can be
// relied on by dependents: something was requested and the transfer is done
// or only waiting on remote integration.
func (r *Record) IsBeamedUpOrFinishing() bool {
	return r.Status != StatusNotToBeamUp && r.IsProcessCompleted()
}

// IsBucketReadyLocal answers "does a usable bucket exist" from persisted
// state alone, without touching the network. For file beams the question
// belongs to the parent; callers go through Service.IsBucketReady.
func (r *Record) IsBucketReadyLocal() bool {
	switch r.Status {
	case StatusToBeamUp:
		return r.RemoteMetadata != nil && r.RemoteMetadata.Error == ""
	case StatusToUpdate, StatusToRemove:
		// These statuses are unreachable without a bucket.
		return true
	default:
		return false
	}
}

// IsRemoteCheckable reports whether polling the remote service can tell this
// beam anything. Freshly queued work has nothing remote to look at yet.
func (r *Record) IsRemoteCheckable() bool {
	switch r.Status {
	case StatusToBeamUp:
		switch r.Process {
		case ProcessCompleted, ProcessQueuedWaitingBucket, ProcessInProgress, ProcessInProgressWaitingRemote:
			return true
		}
		return false
	case StatusToUpdate, StatusToRemove:
		return true
	default:
		return false
	}
}

// IsRemoteChecked reports whether the beam was ever successfully polled.
func (r *Record) IsRemoteChecked() bool {
	return !r.RemoteChecked.IsZero()
}

var validStatuses = map[Status]struct{}{
	StatusNotToBeamUp: {}, StatusToBeamUp: {}, StatusToUpdate: {}, StatusToRemove: {},
}

var validProcesses = map[Process]struct{}{
	ProcessCompleted: {}, ProcessQueued: {}, ProcessQueuedWaitingBucket: {},
	ProcessInProgress: {}, ProcessInProgressWaitingRemote: {},
	ProcessFailedConnection: {}, ProcessFailedRecord: {},
}

// Validate rejects impossible combinations before they are persisted.
// Reaching an invalid state through Transition is a logic bug, not a runtime
// condition to recover from.
func (r *Record) Validate() error {
	if r.RecordType != RecordTypeItem && r.RecordType != RecordTypeFile {
		return fmt.Errorf("%w: record type %q is not managed", common.ErrInvalidBeam, r.RecordType)
	}
	if r.RecordID < 1 {
		return fmt.Errorf("%w: invalid record identifier %d", common.ErrInvalidBeam, r.RecordID)
	}
	if r.IsFile() && r.RequiredBeamID == 0 {
		return fmt.Errorf("%w: a file beam requires its parent item beam", common.ErrInvalidBeam)
	}
	if r.IsItem() && r.RequiredBeamID != 0 {
		return fmt.Errorf("%w: an item beam cannot require another beam", common.ErrInvalidBeam)
	}
	// The parent is always created first, so its id is always lower.
	if r.ID != 0 && r.RequiredBeamID >= r.ID {
		return fmt.Errorf("%w: beam id %d cannot be lower than its required beam %d", common.ErrInvalidBeam, r.ID, r.RequiredBeamID)
	}
	if _, ok := validStatuses[r.Status]; !ok {
		return fmt.Errorf("%w: status %q is not managed", common.ErrInvalidBeam, r.Status)
	}
	if _, ok := validProcesses[r.Process]; !ok {
		return fmt.Errorf("%w: process %q is not managed", common.ErrInvalidBeam, r.Process)
	}
	if r.Status == StatusNotToBeamUp && r.Process != ProcessCompleted {
		return fmt.Errorf("%w: no process can be pending for status %q", common.ErrInvalidBeam, r.Status)
	}
	if r.Process == ProcessQueuedWaitingBucket && r.Status != StatusToBeamUp {
		return fmt.Errorf("%w: while waiting on bucket creation the status can only be %q", common.ErrInvalidBeam, StatusToBeamUp)
	}
	return nil
}
