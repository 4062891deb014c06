package beam

import (
	"fmt"

	"github.com/dmitrijs2005/beamup/internal/common"
)

// TransitionInput carries everything the transition function may consult.
// It is deliberately a value type so the function stays pure and testable
// without persistence.
type TransitionInput struct {
	Current Status
	Process Process
	Request Status

	// AccountConfigured gates every transition: without credentials the
	// only permitted request is the NotToBeamUp no-op.
	AccountConfigured bool
	// BucketReady tells whether a remote bucket already exists for the
	// beam (for files: for its parent). Once it does, "un-sync" is no
	// longer achievable and degrades to removal.
	BucketReady bool
}

// TransitionResult is the resolved next state. Changed is false for no-ops;
// callers skip the save then.
type TransitionResult struct {
	Status  Status
	Process Process
	Changed bool
}

// Transition resolves a requested status change against the current state.
//
// The remote service supports neither bucket renames nor bucket deletion, so
// the machine never promises an operation it cannot fulfill: impossible
// requests degrade to the closest achievable action (update instead of
// re-upload, remove instead of un-sync) rather than erroring.
func Transition(in TransitionInput) (TransitionResult, error) {
	cur, proc, req := in.Current, in.Process, in.Request
	unchanged := TransitionResult{Status: cur, Process: proc}

	if _, ok := validStatuses[req]; !ok {
		return unchanged, fmt.Errorf("%w: status %q is not managed", common.ErrInvalidBeam, req)
	}

	if !in.AccountConfigured {
		if cur == StatusNotToBeamUp && req == StatusNotToBeamUp {
			return unchanged, nil
		}
		return unchanged, common.ErrAccountNotConfigured
	}

	// A beam mid-bucket-creation cannot be redirected; the wait is purely
	// a matter of time because this process is only ever set after the
	// creation request succeeded.
	if proc == ProcessQueuedWaitingBucket {
		return TransitionResult{Status: StatusToBeamUp, Process: proc, Changed: cur != StatusToBeamUp}, nil
	}

	switch req {
	case StatusNotToBeamUp:
		// Once uploaded, the status cannot go back to NotToBeamUp, only
		// forward to ToRemove: buckets cannot be deleted.
		switch cur {
		case StatusToBeamUp:
			if proc == ProcessCompleted {
				req = StatusToRemove
			} else if !in.BucketReady {
				// Nothing remote happened yet; a plain cancel is
				// still possible.
				req = StatusNotToBeamUp
			} else {
				req = StatusToBeamUp
			}
		case StatusToUpdate, StatusToRemove:
			req = StatusToRemove
		}

	case StatusToBeamUp:
		// Once uploaded, a new beam-up is really an update.
		switch cur {
		case StatusToBeamUp:
			if proc == ProcessCompleted {
				req = StatusToUpdate
			}
		case StatusToUpdate, StatusToRemove:
			req = StatusToUpdate
		}

	case StatusToUpdate:
		// Updating something never beamed up means beaming it up.
		switch cur {
		case StatusNotToBeamUp:
			req = StatusToBeamUp
		case StatusToBeamUp:
			if proc != ProcessCompleted {
				req = StatusToBeamUp
			}
		}

	case StatusToRemove:
		// Removing something never beamed up is a no-op.
		switch cur {
		case StatusNotToBeamUp:
			req = StatusNotToBeamUp
		case StatusToBeamUp:
			if proc != ProcessCompleted {
				req = StatusToBeamUp
			}
		}
	}

	// Unchanged status with a healthy process needs no re-queue. ToUpdate
	// is the exception: it always re-queues. A failed process falls
	// through so the request acts as a reset.
	if req != StatusToUpdate && req == cur {
		switch proc {
		case ProcessCompleted, ProcessQueued, ProcessQueuedWaitingBucket, ProcessInProgressWaitingRemote:
			return unchanged, nil
		}
	}

	// An in-flight transfer cannot be redirected; killing it is out of
	// scope, so the caller has to wait.
	if proc == ProcessInProgress {
		return unchanged, common.ErrTransferInProgress
	}

	next := TransitionResult{Status: req, Changed: true}
	if req == StatusNotToBeamUp {
		next.Process = ProcessCompleted
	} else {
		next.Process = ProcessQueued
	}
	return next, nil
}
