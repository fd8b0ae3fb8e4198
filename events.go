package bitgrind

// EventKind discriminates worker-to-coordinator messages.
type EventKind int

const (
	// EventProgress carries the number of candidates evaluated since the
	// worker's last report. Throughput accounting only, never correctness.
	EventProgress EventKind = iota

	// EventUpdate reports a new worker-local best below the ceiling.
	EventUpdate

	// EventFound reports a worker-local best at or above the ceiling. The
	// worker suspends after sending it and waits for instruction.
	EventFound

	// EventError reports a fatal worker-local failure. The worker is done
	// after sending it.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventUpdate:
		return "update"
	case EventFound:
		return "found"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is the single message type workers send to the coordinator. Every
// event is tagged with the epoch it was produced in, so results that raced
// past a pointer change are discarded by comparison rather than handled by
// extra synchronization.
type Event struct {
	Kind     EventKind
	WorkerID int
	Epoch    uint64

	// Update / Found payload.
	Nonce      string
	Hash       string
	Difficulty int

	// Progress payload.
	Count uint64

	// Error payload.
	Err error
}

// PointerChange is broadcast from the coordinator to every worker when an
// accepted block advances the chain.
type PointerChange struct {
	Epoch   uint64
	Pointer HashPointer
}
