package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRecordFound    Stage = "RECORD_FOUND"
	StagePageDone       Stage = "PAGE_DONE"
	StageSourceDone     Stage = "SOURCE_DONE"
	StageRecordEnriched Stage = "RECORD_ENRICHED"
	StageRunDone        Stage = "RUN_DONE"
	StageError          Stage = "ERROR"
)

// Event captures a single milestone of a crawl run.
type Event struct {
	// RunID identifies the crawl run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Source is the data source name; required for page/source scoped stages.
	Source string
	// Page is the 1-based listing page number, when relevant.
	Page  int
	URL   string
	Title string
	// Records counts parsed records (PAGE_DONE), accumulated records
	// (SOURCE_DONE), or merged records (RUN_DONE).
	Records int
	// NewRecords counts records newly accepted by dedup.
	NewRecords  int
	Attachments int
	// Completed and Failed carry enrichment totals on RUN_DONE.
	Completed int
	Failed    int
	// Reason explains why a source stopped, or why a record failed.
	Reason string
	Dur    time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRecordEnriched:
	case StageRecordFound, StageSourceDone:
		if e.Source == "" {
			return fmt.Errorf("%s requires source", e.Stage)
		}
	case StagePageDone:
		if e.Source == "" {
			return errors.New("page done requires source")
		}
		if e.Page <= 0 {
			return errors.New("page done requires page > 0")
		}
	case StageError:
		if e.Note == "" {
			return errors.New("error event requires note")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
