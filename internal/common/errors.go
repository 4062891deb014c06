// Package common defines shared sentinel errors used across the beamup
// engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Remote failure classification: connection vs record axis.
	// ErrConnection marks transport-level failures: timeout, DNS, no
	// response, stalled transfer. Retryable.
	ErrConnection = errors.New("connection error")
	// ErrRecord marks logical rejections by the remote service: non-2xx
	// responses, error fields in metadata, missing buckets. Blind retry
	// would repeat the failure.
	ErrRecord = errors.New("record error")

	// ErrLocalRecordMissing means the local item/file vanished while a
	// beam referencing it still exists.
	ErrLocalRecordMissing = errors.New("local record missing")

	// State machine errors.
	ErrAccountNotConfigured = errors.New("remote account not configured")
	ErrTransferInProgress   = errors.New("transfer in progress")
	ErrInvalidBeam          = errors.New("invalid beam record")

	// ErrDeadlineExceeded is returned by bounded polls that ran out of
	// their wait budget without the predicate becoming true.
	ErrDeadlineExceeded = errors.New("wait deadline exceeded")
)
