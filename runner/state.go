package runner

// ThreadState is the lifecycle of a StreamThread
type ThreadState int32

const (
	StateCreated ThreadState = iota
	StateStarting
	StatePartitionsAssigned
	StateRunning
	StatePartitionsRevoked
	StatePendingShutdown
	StateDead
)

func (s ThreadState) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarting:
		return "STARTING"
	case StatePartitionsAssigned:
		return "PARTITIONS_ASSIGNED"
	case StateRunning:
		return "RUNNING"
	case StatePartitionsRevoked:
		return "PARTITIONS_REVOKED"
	case StatePendingShutdown:
		return "PENDING_SHUTDOWN"
	case StateDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

var transitions = map[ThreadState][]ThreadState{
	StateCreated:            {StateStarting, StatePendingShutdown},
	StateStarting:           {StatePartitionsAssigned, StatePartitionsRevoked, StatePendingShutdown},
	StatePartitionsAssigned: {StatePartitionsAssigned, StatePartitionsRevoked, StateRunning, StatePendingShutdown},
	StateRunning:            {StatePartitionsAssigned, StatePartitionsRevoked, StatePendingShutdown},
	// a cooperative rebalance may only revoke, the thread then runs on with what it kept
	StatePartitionsRevoked: {StatePartitionsAssigned, StatePartitionsRevoked, StateRunning, StatePendingShutdown},
	StatePendingShutdown:   {StateDead},
}

// CanTransitionTo reports whether next may follow s
func (s ThreadState) CanTransitionTo(next ThreadState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsAlive is true until the thread starts shutting down
func (s ThreadState) IsAlive() bool {
	return s != StatePendingShutdown && s != StateDead
}

// StateListener is called on the thread's goroutine after every state change
type StateListener func(thread string, newState, oldState ThreadState)
