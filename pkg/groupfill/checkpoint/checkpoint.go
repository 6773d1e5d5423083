package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 1

// Record is the durable position of a run: the last input key whose batch
// fully completed, and the sequence number of that batch. On resume, the
// processor skips all input up to and including LastKey.
type Record struct {
	Version   int       `json:"version"`
	RunKey    string    `json:"run_key"`
	LastKey   string    `json:"last_key"`
	BatchSeq  int       `json:"batch_seq"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a checkpoint record for the given run position.
func New(runKey, lastKey string, batchSeq int) *Record {
	return &Record{
		Version:   Version,
		RunKey:    runKey,
		LastKey:   lastKey,
		BatchSeq:  batchSeq,
		Timestamp: time.Now().UTC(),
	}
}

// Marshal serializes a record to JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal deserializes a record from JSON.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
