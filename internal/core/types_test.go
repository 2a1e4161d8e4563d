package core

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestIntervalStartFloorsToBoundary(t *testing.T) {
	require.Equal(t, uint32(1699999980), IntervalStart(1700000001, 60))
	require.Equal(t, uint32(1700000040), IntervalStart(1700000040, 60))
}

func TestIntervalDoneAndStopRecordShape(t *testing.T) {
	got := IntervalDone(2, 1700000040, 17, Stats{Accepted: 10, Dropped: 1})
	want := CoordinationRecord{
		Tag:       RecordIntervalDone,
		WorkerID:  2,
		Timestamp: 1700000040,
		SrcFd:     17,
		Stats:     Stats{Accepted: 10, Dropped: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("IntervalDone mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff(CoordinationRecord{Tag: RecordStop}, StopRecord()); diff != "" {
		t.Fatalf("StopRecord mismatch (-want +got):\n%s", diff)
	}
}
