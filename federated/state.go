package federated

// State is the position of the coordinator in a federated login.
type State int

const (
	Idle State = iota
	Initiating
	AwaitingCallback
	Verified
	Exchanging
	Complete
	Rejected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initiating:
		return "initiating"
	case AwaitingCallback:
		return "awaiting_callback"
	case Verified:
		return "verified"
	case Exchanging:
		return "exchanging"
	case Complete:
		return "complete"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}
