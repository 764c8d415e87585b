package rpc

import (
	"fmt"
	"sync/atomic"
)

// CallState is the lifecycle position of a single call.
//
//	CREATED ──► IN_FLIGHT ──► COMPLETED
//	   │            │
//	   └────────────┴───────► FAILED
type CallState int32

const (
	CallCreated CallState = iota
	CallInFlight
	CallCompleted
	CallFailed
)

func (s CallState) String() string {
	switch s {
	case CallCreated:
		return "CREATED"
	case CallInFlight:
		return "IN_FLIGHT"
	case CallCompleted:
		return "COMPLETED"
	case CallFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("CallState(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s CallState) Terminal() bool {
	return s == CallCompleted || s == CallFailed
}

// callStateMachine moves a call through CallState with CAS so that competing completion
// sources (response, deadline timer, cancellation) elect exactly one winner.
type callStateMachine struct {
	state atomic.Int32
}

func (m *callStateMachine) Load() CallState {
	return CallState(m.state.Load())
}

func (m *callStateMachine) start() bool {
	return m.state.CompareAndSwap(int32(CallCreated), int32(CallInFlight))
}

// finish performs the terminal transition. Only the first caller gets true.
// A call may fail straight from CREATED (e.g. elapsed deadline), but can complete only
// while in flight.
func (m *callStateMachine) finish(failed bool) bool {
	target := CallCompleted
	if failed {
		target = CallFailed
	}
	for {
		current := m.Load()
		if current.Terminal() {
			return false
		}
		if current == CallCreated && !failed {
			return false
		}
		if m.state.CompareAndSwap(int32(current), int32(target)) {
			return true
		}
	}
}
