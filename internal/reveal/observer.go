package reveal

import "fmt"

// Observer receives the chunks of a reveal job in order, then one completion
// notice. Callbacks run while the scheduler holds its lock, so they must not
// call back into the same Scheduler.
type Observer interface {
	OnChunk(job JobInfo, index int, text string) error
	OnComplete(job JobInfo)
}

// CancelObserver is implemented by observers that want to hear about jobs
// that stop early, whether skipped or superseded.
type CancelObserver interface {
	OnCancel(job JobInfo)
}

// ObserverFuncs adapts plain functions to Observer and CancelObserver.
// Nil fields are ignored.
type ObserverFuncs struct {
	Chunk    func(job JobInfo, index int, text string) error
	Complete func(job JobInfo)
	Cancel   func(job JobInfo)
}

func (f ObserverFuncs) OnChunk(job JobInfo, index int, text string) error {
	if f.Chunk == nil {
		return nil
	}
	return f.Chunk(job, index, text)
}

func (f ObserverFuncs) OnComplete(job JobInfo) {
	if f.Complete != nil {
		f.Complete(job)
	}
}

func (f ObserverFuncs) OnCancel(job JobInfo) {
	if f.Cancel != nil {
		f.Cancel(job)
	}
}

// ObserverFailure reports a chunk the observer could not present. Emission
// continues with the next chunk.
type ObserverFailure struct {
	JobID string
	Index int
	Err   error
}

func (e *ObserverFailure) Error() string {
	return fmt.Sprintf("reveal observer failed on chunk %d of job %s: %v", e.Index, e.JobID, e.Err)
}

func (e *ObserverFailure) Unwrap() error { return e.Err }
