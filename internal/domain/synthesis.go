package domain

type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobReady   JobStatus = "ready"
	JobFailed  JobStatus = "failed"
)

// SynthesisJob is a remote text-to-speech render. It lives for a single turn
// and is never persisted. OutputURL is set only once the job is ready.
type SynthesisJob struct {
	ID        string
	Status    JobStatus
	OutputURL string
}

// Ready reports whether the job has produced downloadable audio. The output
// URL is the only success signal the provider gives.
func (j SynthesisJob) Ready() bool {
	return j.OutputURL != ""
}
