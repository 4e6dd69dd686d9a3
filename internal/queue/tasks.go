package queue

const (
	TypeThreadSummarize = "thread:summarize"
	TypeFilesSweep      = "files:sweep"
)

type ThreadSummarizePayload struct {
	ThreadID string `json:"thread_id"`
}

// FilesSweepPayload is empty; the sweep cutoff is worker configuration.
type FilesSweepPayload struct{}
