package domain

import "time"

// JobStatus tracks the lifecycle of one chunk inside the queue.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusInFlight  JobStatus = "inflight"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// ValidTransition enforces the allowed job state machine edges.
func ValidTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusInFlight
	case JobStatusInFlight:
		return to == JobStatusSucceeded || to == JobStatusFailed
	default:
		return false
	}
}

// Chunk is one bounded segment of captured audio. Immutable once produced.
type Chunk struct {
	Seq       uint64    `json:"seq"`
	Audio     []byte    `json:"-"`
	Language  string    `json:"language"`
	CreatedAt time.Time `json:"createdAt"`
}

// TranscriptFragment is the terminal result of a succeeded chunk.
// Text is never empty; fragments are appended in chunk sequence order.
type TranscriptFragment struct {
	ChunkSeq    uint64    `json:"chunkNumber"`
	Text        string    `json:"text"`
	Language    string    `json:"language"`
	CompletedAt time.Time `json:"timestamp"`
}

// ErrorRecord is the terminal result of a failed chunk.
type ErrorRecord struct {
	ChunkSeq  uint64    `json:"chunkNumber"`
	Cause     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// QueueStatus is a read-only snapshot of queue progress for the UI.
type QueueStatus struct {
	Busy          bool   `json:"busy"`
	ProcessingSeq uint64 `json:"processingSeq,omitempty"`
	BacklogDepth  int    `json:"backlogDepth"`
	Enqueued      uint64 `json:"enqueued"`
	Completed     uint64 `json:"completed"`
}
