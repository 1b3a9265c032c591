package call

// Status tracks a call through its lifecycle. Transitions are monotonic;
// terminal states are absorbing.
type Status string

const (
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// Reason records why a call was terminated.
type Reason string

const (
	ReasonAgentComplete   Reason = "agent-complete"
	ReasonInactivity      Reason = "inactivity"
	ReasonPeerClosed      Reason = "peer-closed"
	ReasonProvider        Reason = "provider"
	ReasonOperator        Reason = "operator"
	ReasonCampaignStopped Reason = "campaign-stopped"
)

// rank orders the non-terminal states so transitions never regress.
var rank = map[Status]int{
	StatusInitiated:  0,
	StatusRinging:    1,
	StatusInProgress: 2,
}

// IsTerminal reports whether s is an absorbing state.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransition is the single authoritative transition rule: forward-only
// through initiated -> ringing -> in-progress, any live state may enter any
// terminal state, and terminal states accept nothing.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if IsTerminal(from) {
		return false
	}
	if IsTerminal(to) {
		return true
	}
	return rank[to] > rank[from]
}
