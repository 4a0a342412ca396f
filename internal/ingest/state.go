package ingest

import "sync/atomic"

// State is the pipeline lifecycle, exposed for health checks and stats.
type State int32

const (
	StateCatchingUp State = iota
	StateLive
	StateRollingBack
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCatchingUp:
		return "catching_up"
	case StateLive:
		return "live"
	case StateRollingBack:
		return "rolling_back"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type stateVar struct{ v atomic.Int32 }

func (s *stateVar) set(st State) { s.v.Store(int32(st)) }
func (s *stateVar) get() State   { return State(s.v.Load()) }
