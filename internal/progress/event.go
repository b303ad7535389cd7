package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the batch milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageBatchStart    Stage = "BATCH_START"
	StageItemDone      Stage = "ITEM_DONE"
	StageBatchDone     Stage = "BATCH_DONE"
	StageBatchCanceled Stage = "BATCH_CANCELED"
)

// Item results carried by ITEM_DONE events.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Event captures a single batch milestone.
type Event struct {
	// BatchID identifies the import batch in 16-byte UUID form.
	BatchID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// URL and Site scope ITEM_DONE events.
	URL  string
	Site string
	// Result is success or error for ITEM_DONE.
	Result   string
	Reason   string
	Attempts int
	// Total, Completed, Succeeded and Failed are running batch counters.
	Total     int
	Completed int
	Succeeded int
	Failed    int
	// Dur is the item latency for ITEM_DONE and the batch wall time otherwise.
	Dur time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.BatchID == [16]byte{} {
		return errors.New("batch id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageBatchStart, StageBatchDone, StageBatchCanceled:
	case StageItemDone:
		if e.URL == "" {
			return errors.New("item done requires url")
		}
		if e.Result != ResultSuccess && e.Result != ResultError {
			return fmt.Errorf("item done has unknown result %q", e.Result)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Completed > e.Total {
		return errors.New("completed exceeds total")
	}
	return nil
}

// BatchUUID converts the binary batch ID to uuid.UUID for repositories.
func (e Event) BatchUUID() uuid.UUID {
	return uuid.UUID(e.BatchID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
