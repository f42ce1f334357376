package compose

// State is a pipeline run's position in its lifecycle.
type State string

const (
	StateInit          State = "init"
	StateBatching      State = "batching"
	StateFetching      State = "fetching"
	StateNormalizing   State = "normalizing"
	StateBatchConcat   State = "batch_concat"
	StateFinalAssembly State = "final_assembly"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// transitions lists the legal next states. Failed is only reachable from
// Init (nothing to do) and FinalAssembly (nothing survived); per-batch
// states loop back to Fetching for the next batch.
var transitions = map[State][]State{
	StateInit:          {StateBatching, StateFailed},
	StateBatching:      {StateFetching, StateFinalAssembly},
	StateFetching:      {StateNormalizing, StateFetching, StateFinalAssembly},
	StateNormalizing:   {StateBatchConcat, StateFetching, StateFinalAssembly},
	StateBatchConcat:   {StateFetching, StateFinalAssembly},
	StateFinalAssembly: {StateDone, StateFailed},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
