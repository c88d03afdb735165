package transfer

type State int

const (
	StateIdle State = iota
	StateValidating
	StateAwaitingSignature
	StateAwaitingConfirmation
	StateReconciling
	StateRejected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateValidating:
		return "Validating"
	case StateAwaitingSignature:
		return "AwaitingSignature"
	case StateAwaitingConfirmation:
		return "AwaitingConfirmation"
	case StateReconciling:
		return "Reconciling"
	case StateRejected:
		return "Rejected"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition is reported on every state entry together with the loading flag at that moment.
type Transition struct {
	From    State
	To      State
	Loading bool
}
