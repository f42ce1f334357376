package compose

// BatchReport summarizes one processed batch.
type BatchReport struct {
	Index     int
	Attempted int
	Succeeded int
	OK        bool
	Err       error
}

// Observer receives run progress. Calls are made from the orchestrator's
// goroutine, never from segment workers, and must not block for long.
type Observer interface {
	StateChanged(runID string, from, to State)
	BatchFinished(runID string, report BatchReport)
}

type nopObserver struct{}

func (nopObserver) StateChanged(string, State, State)  {}
func (nopObserver) BatchFinished(string, BatchReport) {}
