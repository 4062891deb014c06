package beam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/beamup/internal/common"
	"github.com/dmitrijs2005/beamup/internal/remote"
)

func TestNewRecord_Defaults(t *testing.T) {
	r := NewRecord(RecordTypeItem, 42, true)
	assert.Equal(t, StatusNotToBeamUp, r.Status)
	assert.Equal(t, ProcessCompleted, r.Process)
	assert.True(t, r.Public)
	assert.False(t, r.NoIndex())
	require.NoError(t, r.Validate())
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"unknown record type", func(r *Record) { r.RecordType = "Collection" }},
		{"zero record id", func(r *Record) { r.RecordID = 0 }},
		{"item with required beam", func(r *Record) { r.RequiredBeamID = 3 }},
		{"unknown status", func(r *Record) { r.Status = "gone" }},
		{"unknown process", func(r *Record) { r.Process = "spinning" }},
		{"inert status with pending process", func(r *Record) {
			r.Status = StatusNotToBeamUp
			r.Process = ProcessQueued
		}},
		{"waiting bucket with wrong status", func(r *Record) {
			r.Status = StatusToRemove
			r.Process = ProcessQueuedWaitingBucket
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecord(RecordTypeItem, 42, false)
			tt.mutate(r)
			assert.ErrorIs(t, r.Validate(), common.ErrInvalidBeam)
		})
	}
}

func TestValidate_FileNeedsParent(t *testing.T) {
	r := NewRecord(RecordTypeFile, 7, false)
	assert.ErrorIs(t, r.Validate(), common.ErrInvalidBeam)

	r.RequiredBeamID = 1
	require.NoError(t, r.Validate())

	// The parent is created first, so its id must be lower.
	r.ID = 1
	assert.ErrorIs(t, r.Validate(), common.ErrInvalidBeam)
	r.ID = 2
	require.NoError(t, r.Validate())
}

func TestIsBucketReadyLocal(t *testing.T) {
	r := NewRecord(RecordTypeItem, 1, false)
	assert.False(t, r.IsBucketReadyLocal())

	r.Status = StatusToBeamUp
	r.Process = ProcessQueued
	assert.False(t, r.IsBucketReadyLocal())

	r.RemoteMetadata = &remote.Metadata{Server: "ia800000.us.archive.org"}
	assert.True(t, r.IsBucketReadyLocal())

	r.RemoteMetadata = &remote.Metadata{Error: "item is dark"}
	assert.False(t, r.IsBucketReadyLocal())

	r.Status = StatusToUpdate
	r.RemoteMetadata = nil
	assert.True(t, r.IsBucketReadyLocal())
}

func TestIsBeamedUpOrFinishing(t *testing.T) {
	r := NewRecord(RecordTypeItem, 1, false)
	assert.False(t, r.IsBeamedUpOrFinishing())

	r.Status = StatusToBeamUp
	r.Process = ProcessQueued
	assert.False(t, r.IsBeamedUpOrFinishing())

	r.Process = ProcessInProgressWaitingRemote
	assert.True(t, r.IsBeamedUpOrFinishing())

	r.Process = ProcessCompleted
	assert.True(t, r.IsBeamedUpOrFinishing())
}

func TestIsRemoteCheckable(t *testing.T) {
	r := NewRecord(RecordTypeItem, 1, false)
	assert.False(t, r.IsRemoteCheckable())

	r.Status = StatusToBeamUp
	r.Process = ProcessQueued
	assert.False(t, r.IsRemoteCheckable())

	r.Process = ProcessQueuedWaitingBucket
	assert.True(t, r.IsRemoteCheckable())

	r.Status = StatusToRemove
	r.Process = ProcessQueued
	assert.True(t, r.IsRemoteCheckable())
}
